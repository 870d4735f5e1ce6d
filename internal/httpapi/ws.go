package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/protocol"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/voice"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsReadTimeout   = 120 * time.Second
	wsReadLimit     = 2 << 20
	wsLevelInterval = 200 * time.Millisecond
)

// handleSessionWS upgrades the connection and runs one orchestrator session
// over it: inbound client_audio_chunk messages feed the capture side, and
// pipeline events stream back as JSON messages. Closing the socket is the
// disconnect gesture.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	source := newWSAudioSource()
	sink := newWSSink(sessionID, outbound)

	var orch *voice.Orchestrator
	orch = voice.NewOrchestrator(voice.OrchestratorConfig{
		Source:        source,
		Recognizer:    s.pipeline.Recognizer,
		Synth:         s.pipeline.Synth,
		FallbackSynth: s.pipeline.FallbackSynth,
		Sink:          sink,
		Backend:       s.pipeline.Backend,
		SessionID:     sess.ID,
		Metrics:       s.metrics,
		Tuning: voice.Tuning{
			SampleRate:              s.cfg.SampleRate,
			ChunkInterval:           s.cfg.ChunkInterval,
			MeterInterval:           s.cfg.MeterInterval,
			NoiseFloor:              s.cfg.NoiseFloor,
			SuppressionWindow:       s.cfg.SuppressionWindow,
			CommitDebounce:          s.cfg.CommitDebounce,
			MinTranscriptChars:      s.cfg.MinTranscriptChars,
			SpeechChunkCeiling:      s.cfg.SpeechChunkCeiling,
			SynthesisRequestCeiling: s.cfg.SynthesisRequestCeiling,
			SynthesisConcurrency:    s.cfg.SynthesisConcurrency,
		},
		OnTranscript: func(text string) {
			s.queueOutbound(outbound, protocol.TranscriptEvent{
				Type:      protocol.TypeTranscriptEvent,
				SessionID: sess.ID,
				Text:      text,
				TSMs:      time.Now().UnixMilli(),
			})
			_ = s.sessions.Touch(sess.ID)
		},
		OnReply: func(turnID, text string) {
			s.queueOutbound(outbound, protocol.ReplyEvent{
				Type:      protocol.TypeReplyEvent,
				SessionID: sess.ID,
				TurnID:    turnID,
				Text:      text,
			})
			sink.setTurn(turnID)
			_ = s.sessions.StartTurn(sess.ID, turnID)
		},
		OnStateChange: func(state voice.State) {
			// orch is assigned before Connect, which is the first thing
			// that can fire this.
			if state == voice.StateListening {
				_ = s.sessions.EndTurn(sess.ID)
			}
			s.queueOutbound(outbound, protocol.StateEvent{
				Type:            protocol.TypeStateEvent,
				SessionID:       sess.ID,
				State:           string(state),
				Error:           orch.ErrorMessage(),
				DurationSeconds: orch.Duration().Seconds(),
			})
		},
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	// Level metering is polled; it keeps the client's mic indicator alive
	// without routing a callback through the capture graph.
	go func() {
		ticker := time.NewTicker(wsLevelInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if orch.State() == voice.StateListening {
					s.queueOutbound(outbound, protocol.LevelEvent{
						Type:      protocol.TypeLevelEvent,
						SessionID: sess.ID,
						Level:     orch.AudioLevel(),
					})
				}
			}
		}
	}()

	if err := orch.Connect(ctx); err != nil {
		s.queueOutbound(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      "capture_failed",
			Source:    "capture",
			Retryable: false,
			Detail:    orch.ErrorMessage(),
		})
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queueOutbound(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		switch msg := parsed.(type) {
		case protocol.ClientAudioChunk:
			if err := source.push(msg); err != nil {
				continue
			}
			s.sessions.Touch(sess.ID)
		case protocol.ClientControl:
			if msg.Action == "disconnect" {
				break readLoop
			}
		}
	}

	orch.Disconnect()
	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// queueOutbound enqueues without blocking; websocket writes stay
// single-threaded and a saturated queue drops rather than stalls the
// pipeline.
func (s *Server) queueOutbound(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.TranscriptEvent:
		return m.Type, true
	case protocol.ReplyEvent:
		return m.Type, true
	case protocol.AssistantAudioChunk:
		return m.Type, true
	case protocol.StateEvent:
		return m.Type, true
	case protocol.LevelEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

// wsAudioSource adapts inbound client_audio_chunk messages to the
// AudioSource interface, so a browser microphone drives the same capture
// graph a local device would.
type wsAudioSource struct {
	mu      sync.Mutex
	frames  chan voice.Frame
	started bool
	stopped bool
}

func newWSAudioSource() *wsAudioSource {
	return &wsAudioSource{frames: make(chan voice.Frame, 128)}
}

func (w *wsAudioSource) Start(_ context.Context) (<-chan voice.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil, fmt.Errorf("websocket source already started")
	}
	w.started = true
	return w.frames, nil
}

func (w *wsAudioSource) push(msg protocol.ClientAudioChunk) error {
	pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return nil
	}
	select {
	case w.frames <- voice.Frame{PCM: pcm, SampleRate: msg.SampleRate}:
	default:
		// Pipeline is behind; newest audio matters more than completeness.
	}
	return nil
}

func (w *wsAudioSource) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.started {
		close(w.frames)
	}
	return nil
}

// wsSink streams assistant audio to the client as assistant_audio_chunk
// messages. The client plays them in arrival order, which matches split
// order because the speaker serializes Play calls.
type wsSink struct {
	sessionID string
	outbound  chan<- any

	mu      sync.Mutex
	turnID  string
	seq     int
	stopped bool
}

func newWSSink(sessionID string, outbound chan<- any) *wsSink {
	return &wsSink{sessionID: sessionID, outbound: outbound}
}

func (w *wsSink) setTurn(turnID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turnID = turnID
	w.seq = 0
	w.stopped = false
}

func (w *wsSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	msg := protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudioChunk,
		SessionID:   w.sessionID,
		TurnID:      w.turnID,
		Seq:         w.seq,
		Format:      "pcm16",
		SampleRate:  sampleRate,
		AudioBase64: base64.StdEncoding.EncodeToString(pcm),
	}
	w.seq++
	w.mu.Unlock()

	select {
	case w.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *wsSink) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
}

func (w *wsSink) Close() error {
	w.Stop()
	return nil
}

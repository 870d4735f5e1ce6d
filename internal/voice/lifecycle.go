package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/dialogue"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/observability"
)

const defaultFallbackReply = "I'm having trouble reaching my knowledge service right now. Please try again in a moment."

// Tuning collects the pipeline constants. Zero values fall back to the
// package defaults.
type Tuning struct {
	SampleRate              int
	ChunkInterval           time.Duration
	MeterInterval           time.Duration
	NoiseFloor              float64
	SuppressionWindow       time.Duration
	CommitDebounce          time.Duration
	MinTranscriptChars      int
	SpeechChunkCeiling      int
	SynthesisRequestCeiling int
	SynthesisConcurrency    int
}

// OrchestratorConfig assembles one voice session. Handler, when set,
// overrides Backend as the dialogue path. Observability hooks are optional
// and are invoked from pipeline goroutines.
type OrchestratorConfig struct {
	Source        AudioSource
	Recognizer    Recognizer
	Synth         Synthesizer
	FallbackSynth Synthesizer
	Sink          AudioSink

	Backend dialogue.Backend
	Handler dialogue.TurnHandler

	SessionID     string
	Tuning        Tuning
	FallbackReply string

	OnTranscript  func(text string)
	OnReply       func(turnID, text string)
	OnStateChange func(state State)
	Metrics       *observability.Metrics
}

// Orchestrator owns the session state machine:
//
//	idle → connecting → listening ⇄ processing ⇄ speaking
//
// plus a terminal error state. Disconnect is legal from every state and is
// the only way back to idle. Components signal the orchestrator through
// callbacks; every state assignment happens here.
type Orchestrator struct {
	cfg OrchestratorConfig

	capture     *CaptureGraph
	transcriber *ChunkTranscriber
	dispatcher  *TurnDispatcher
	speaker     *Speaker

	mu           sync.Mutex
	state        State
	errMsg       string
	startedAt    time.Time
	activeTurnID string
	turnCancel   context.CancelFunc
	stateQueue   []State
	notifying    bool

	sessionCancel context.CancelFunc
	turnWG        sync.WaitGroup
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = defaultFallbackReply
	}
	o := &Orchestrator{cfg: cfg, state: StateIdle}

	o.transcriber = o.newTranscriber()
	o.dispatcher = NewTurnDispatcher(cfg.Backend, cfg.Handler, cfg.SessionID)
	o.speaker = NewSpeaker(SpeakerConfig{
		Synth:          cfg.Synth,
		Fallback:       cfg.FallbackSynth,
		Sink:           cfg.Sink,
		ChunkCeiling:   cfg.Tuning.SpeechChunkCeiling,
		RequestCeiling: cfg.Tuning.SynthesisRequestCeiling,
		Concurrency:    cfg.Tuning.SynthesisConcurrency,
		SampleRate:     cfg.Tuning.SampleRate,
		OnStage: func(stage string, d time.Duration) {
			if cfg.Metrics != nil {
				cfg.Metrics.ObserveTurnStage(stage, d)
			}
		},
		OnFallback: func(seq int, err error) {
			if cfg.Metrics != nil {
				cfg.Metrics.ProviderErrors.WithLabelValues("synthesizer", "chunk_fallback").Inc()
			}
		},
	})
	return o
}

func (o *Orchestrator) newTranscriber() *ChunkTranscriber {
	return NewChunkTranscriber(ChunkTranscriberConfig{
		Recognizer:         o.cfg.Recognizer,
		NoiseFloor:         o.cfg.Tuning.NoiseFloor,
		MinTranscriptChars: o.cfg.Tuning.MinTranscriptChars,
		SuppressionWindow:  o.cfg.Tuning.SuppressionWindow,
		CommitDebounce:     o.cfg.Tuning.CommitDebounce,
		OnCommit:           o.handleCommit,
		OnError: func(err error) {
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.ProviderErrors.WithLabelValues("recognizer", "transcribe_failed").Inc()
			}
		},
	})
}

// Connect acquires the capture device and starts listening. A capture setup
// failure is fatal: the session lands in the error state and the classified
// cause is returned.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("connect: session is %s", o.state)
	}
	o.setStateLocked(StateConnecting)
	o.startedAt = time.Now()
	o.mu.Unlock()

	sessionCtx, cancel := context.WithCancel(ctx)

	// A fresh transcriber per connection: Close is terminal.
	transcriber := o.newTranscriber()
	capture := NewCaptureGraph(CaptureGraphConfig{
		Source:        o.cfg.Source,
		ChunkInterval: o.cfg.Tuning.ChunkInterval,
		MeterInterval: o.cfg.Tuning.MeterInterval,
		OnChunk: func(pcm []byte, sampleRate int) {
			transcriber.SubmitChunk(sessionCtx, pcm, sampleRate)
		},
	})
	if err := capture.Start(sessionCtx); err != nil {
		cancel()
		transcriber.Close()
		o.mu.Lock()
		// A Disconnect racing the device acquisition already put the
		// session back to idle; leave it there.
		if o.state == StateConnecting {
			o.errMsg = captureErrorMessage(err)
			o.setStateLocked(StateError)
		}
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	if o.state != StateConnecting {
		// Disconnected while the device was being acquired. The capture
		// graph was never published, so it is released here.
		o.mu.Unlock()
		cancel()
		transcriber.Close()
		capture.Stop()
		return nil
	}
	o.transcriber = transcriber
	o.capture = capture
	o.sessionCancel = cancel
	o.setStateLocked(StateListening)
	o.mu.Unlock()
	return nil
}

// handleCommit receives a committed utterance from the transcriber. Commits
// are accepted only while listening; anything arriving in another state is
// dropped without side effects.
func (o *Orchestrator) handleCommit(text string) {
	o.mu.Lock()
	if o.state != StateListening {
		o.mu.Unlock()
		return
	}
	turnCtx, cancel := context.WithCancel(context.Background())
	o.turnCancel = cancel
	o.activeTurnID = uuid.NewString()
	turnID := o.activeTurnID
	o.setStateLocked(StateProcessing)
	o.turnWG.Add(1)
	o.mu.Unlock()

	if o.cfg.OnTranscript != nil {
		o.cfg.OnTranscript(text)
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.TurnEvents.WithLabelValues("committed").Inc()
	}

	go o.runTurn(turnCtx, turnID, text)
}

func (o *Orchestrator) runTurn(ctx context.Context, turnID, transcript string) {
	defer o.turnWG.Done()

	turnStart := time.Now()
	reply, err := o.dispatcher.Dispatch(ctx, transcript)
	if ctx.Err() != nil {
		// User cancelled; the disconnect path already moved the state.
		return
	}
	if err != nil {
		// Dialogue failure is recovered locally with a spoken fallback.
		reply = Reply{Text: o.cfg.FallbackReply, Source: "fallback"}
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.ProviderErrors.WithLabelValues("dialogue", "send_turn_failed").Inc()
		}
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ObserveTurnStage("commit_to_reply", time.Since(turnStart))
	}

	if !o.transition(turnID, StateProcessing, StateSpeaking) {
		return
	}
	if o.cfg.OnReply != nil {
		o.cfg.OnReply(turnID, reply.Text)
	}

	if err := o.speaker.Speak(ctx, reply.Text); err != nil && !errors.Is(err, context.Canceled) {
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.TurnEvents.WithLabelValues("playback_failed").Inc()
		}
	}
	if ctx.Err() != nil {
		return
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ObserveTurnStage("turn_total", time.Since(turnStart))
		o.cfg.Metrics.TurnEvents.WithLabelValues("completed").Inc()
	}

	o.transition(turnID, StateSpeaking, StateListening)
}

// transition moves from → to if the named turn is still the active one.
// A stale turn (superseded by disconnect) makes no state change.
func (o *Orchestrator) transition(turnID string, from, to State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != from || o.activeTurnID != turnID {
		return false
	}
	if to == StateListening {
		o.turnCancel = nil
		o.activeTurnID = ""
	}
	o.setStateLocked(to)
	return true
}

// Disconnect tears the session down from any state: the active turn is
// cancelled, playback stops, and the capture device is released exactly
// once. Idempotent; always lands on idle.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	if o.state == StateIdle {
		o.mu.Unlock()
		return
	}
	cancel := o.turnCancel
	o.turnCancel = nil
	o.activeTurnID = ""
	sessionCancel := o.sessionCancel
	o.sessionCancel = nil
	o.errMsg = ""
	transcriber := o.transcriber
	capture := o.capture
	o.setStateLocked(StateIdle)
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if o.cfg.Sink != nil {
		o.cfg.Sink.Stop()
	}
	transcriber.Close()
	if capture != nil {
		capture.Stop()
	}
	if sessionCancel != nil {
		sessionCancel()
	}
	o.turnWG.Wait()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ErrorMessage returns the classified capture failure while in the error
// state, empty otherwise.
func (o *Orchestrator) ErrorMessage() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

// AudioLevel returns the latest metered microphone level in [0,1].
func (o *Orchestrator) AudioLevel() float64 {
	o.mu.Lock()
	capture := o.capture
	state := o.state
	o.mu.Unlock()
	if capture == nil || state == StateIdle || state == StateError {
		return 0
	}
	return capture.Level()
}

// Duration reports how long the session has been connected.
func (o *Orchestrator) Duration() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateIdle || o.startedAt.IsZero() {
		return 0
	}
	return time.Since(o.startedAt)
}

func (o *Orchestrator) setStateLocked(s State) {
	if o.state == s {
		return
	}
	o.state = s
	if o.cfg.OnStateChange != nil {
		// Observers see transitions in the order they happened. A single
		// drainer empties the queue off the lock, so the callback may call
		// back into the orchestrator.
		o.stateQueue = append(o.stateQueue, s)
		if !o.notifying {
			o.notifying = true
			go o.notifyStates()
		}
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SessionEvents.WithLabelValues(string(s)).Inc()
	}
}

func (o *Orchestrator) notifyStates() {
	for {
		o.mu.Lock()
		if len(o.stateQueue) == 0 {
			o.notifying = false
			o.mu.Unlock()
			return
		}
		s := o.stateQueue[0]
		o.stateQueue = o.stateQueue[1:]
		o.mu.Unlock()
		o.cfg.OnStateChange(s)
	}
}

func captureErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone access was denied. Grant permission and reconnect."
	case errors.Is(err, ErrDeviceNotFound):
		return "No microphone was found on this device."
	case errors.Is(err, ErrDeviceBusy):
		return "The microphone is in use by another application."
	case errors.Is(err, ErrCaptureUnsupported):
		return "Audio capture is not supported in this environment."
	default:
		return "Could not start audio capture."
	}
}

package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/audio"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/dialogue"
)

// gatedBackend blocks SendTurn until released so tests can disconnect
// mid-dispatch.
type gatedBackend struct {
	called chan struct{}
	gate   chan string

	mu        sync.Mutex
	cancelled bool
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{called: make(chan struct{}, 8), gate: make(chan string)}
}

func (b *gatedBackend) SendTurn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnReply, error) {
	b.called <- struct{}{}
	select {
	case reply := <-b.gate:
		return dialogue.TurnReply{ReplyText: reply, SessionID: "conv-1"}, nil
	case <-ctx.Done():
		b.mu.Lock()
		b.cancelled = true
		b.mu.Unlock()
		return dialogue.TurnReply{}, ctx.Err()
	}
}

func (b *gatedBackend) wasCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

type orchestratorHarness struct {
	orch     *Orchestrator
	source   *MockSource
	sink     *MockSink
	backend  *gatedBackend
	stopEmit chan struct{}
}

func newOrchestratorHarness(t *testing.T, rec Recognizer, backend dialogue.Backend) *orchestratorHarness {
	t.Helper()
	source := NewMockSource()
	sink := NewMockSink()
	speech := NewMockSpeech()

	orch := NewOrchestrator(OrchestratorConfig{
		Source:     source,
		Recognizer: rec,
		Synth:      speech,
		Sink:       sink,
		Backend:    backend,
		Tuning: Tuning{
			ChunkInterval: 20 * time.Millisecond,
			MeterInterval: 10 * time.Millisecond,
			// zero CommitDebounce commits immediately
		},
	})
	h := &orchestratorHarness{orch: orch, source: source, sink: sink, stopEmit: make(chan struct{})}
	if gb, ok := backend.(*gatedBackend); ok {
		h.backend = gb
	}
	return h
}

// startEmitting feeds loud frames until the harness is torn down.
func (h *orchestratorHarness) startEmitting(t *testing.T) {
	t.Helper()
	frame := audio.AppendPCM16Tone(nil, 440, 0.5, 160, audio.DefaultSampleRate)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopEmit:
				return
			case <-ticker.C:
				h.source.Emit(Frame{PCM: frame, SampleRate: audio.DefaultSampleRate})
			}
		}
	}()
	t.Cleanup(func() { close(h.stopEmit) })
}

func TestOrchestratorFullTurn(t *testing.T) {
	rec := &scriptedRecognizer{texts: []string{"what is dolo 650"}}
	backend := newGatedBackend()
	h := newOrchestratorHarness(t, rec, backend)
	defer h.orch.Disconnect()

	var transcripts []string
	var mu sync.Mutex
	h.orch.cfg.OnTranscript = func(text string) {
		mu.Lock()
		transcripts = append(transcripts, text)
		mu.Unlock()
	}

	if got := h.orch.State(); got != StateIdle {
		t.Fatalf("initial state = %v, want idle", got)
	}
	if err := h.orch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := h.orch.State(); got != StateListening {
		t.Fatalf("state after Connect = %v, want listening", got)
	}

	h.startEmitting(t)

	select {
	case <-backend.called:
	case <-time.After(2 * time.Second):
		t.Fatalf("dialogue backend never called")
	}
	if got := h.orch.State(); got != StateProcessing {
		t.Fatalf("state during dispatch = %v, want processing", got)
	}

	backend.gate <- "Dolo 650 is a paracetamol brand used for fever and mild pain."

	waitFor(t, 2*time.Second, func() { return h.orch.State() == StateListening })

	played := h.sink.PlayedText()
	if len(played) == 0 {
		t.Fatalf("no audio played for the reply")
	}
	if !strings.Contains(strings.Join(played, " "), "paracetamol") {
		t.Fatalf("played audio does not carry the reply: %v", played)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transcripts) != 1 || transcripts[0] != "what is dolo 650" {
		t.Fatalf("transcripts = %v, want the committed utterance", transcripts)
	}
	if h.orch.Duration() <= 0 {
		t.Fatalf("Duration = %v, want > 0 while connected", h.orch.Duration())
	}
}

func TestOrchestratorDisconnectWhileProcessing(t *testing.T) {
	rec := &scriptedRecognizer{texts: []string{"tell me about aspirin"}}
	backend := newGatedBackend()
	h := newOrchestratorHarness(t, rec, backend)

	var replies []string
	var mu sync.Mutex
	h.orch.cfg.OnReply = func(_, text string) {
		mu.Lock()
		replies = append(replies, text)
		mu.Unlock()
	}

	if err := h.orch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.startEmitting(t)

	select {
	case <-backend.called:
	case <-time.After(2 * time.Second):
		t.Fatalf("dialogue backend never called")
	}

	h.orch.Disconnect()

	if got := h.orch.State(); got != StateIdle {
		t.Fatalf("state after Disconnect = %v, want idle", got)
	}
	if !backend.wasCancelled() {
		t.Fatalf("in-flight dispatch was not cancelled")
	}
	if got := len(h.sink.PlayedText()); got != 0 {
		t.Fatalf("played chunks after mid-turn disconnect = %d, want 0", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(replies) != 0 {
		t.Fatalf("replies observed after disconnect = %v, want none", replies)
	}
	if got := h.source.StopCount(); got != 1 {
		t.Fatalf("capture Stop calls = %d, want exactly 1", got)
	}
}

func TestOrchestratorDisconnectIdempotent(t *testing.T) {
	rec := &scriptedRecognizer{}
	h := newOrchestratorHarness(t, rec, newGatedBackend())

	if err := h.orch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for i := 0; i < 3; i++ {
		h.orch.Disconnect()
	}
	if got := h.orch.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	if got := h.source.StopCount(); got != 1 {
		t.Fatalf("capture Stop calls = %d, want exactly 1", got)
	}
}

func TestOrchestratorIgnoresCommitOutsideListening(t *testing.T) {
	rec := &scriptedRecognizer{}
	backend := newGatedBackend()
	h := newOrchestratorHarness(t, rec, backend)

	// Idle: not connected yet.
	h.orch.handleCommit("should be ignored")
	if got := h.orch.State(); got != StateIdle {
		t.Fatalf("state after idle commit = %v, want idle", got)
	}
	select {
	case <-backend.called:
		t.Fatalf("dispatch happened for a commit outside listening")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestOrchestratorDialogueFailureSpeaksFallback(t *testing.T) {
	rec := &scriptedRecognizer{texts: []string{"what is ibuprofen"}}
	failing := dialogue.HandlerBackend{Handler: func(context.Context, string) (string, error) {
		return "", errors.New("backend unreachable")
	}}
	h := newOrchestratorHarness(t, rec, failing)
	defer h.orch.Disconnect()

	if err := h.orch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.startEmitting(t)

	waitFor(t, 2*time.Second, func() { return len(h.sink.PlayedText()) > 0 })
	waitFor(t, 2*time.Second, func() { return h.orch.State() == StateListening })

	played := strings.Join(h.sink.PlayedText(), " ")
	if !strings.Contains(played, "trouble reaching") {
		t.Fatalf("fallback reply not spoken: %q", played)
	}
}

func TestOrchestratorCaptureFailureIsFatal(t *testing.T) {
	rec := &scriptedRecognizer{}
	h := newOrchestratorHarness(t, rec, newGatedBackend())
	h.source.FailStartWith(ErrDeviceBusy)

	err := h.orch.Connect(context.Background())
	if err == nil {
		t.Fatalf("Connect succeeded, want capture error")
	}
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("Connect error = %v, want ErrDeviceBusy", err)
	}
	if got := h.orch.State(); got != StateError {
		t.Fatalf("state = %v, want error", got)
	}
	if msg := h.orch.ErrorMessage(); !strings.Contains(msg, "in use") {
		t.Fatalf("ErrorMessage = %q, want busy-device message", msg)
	}

	// Error is terminal but disconnect still returns to idle.
	h.orch.Disconnect()
	if got := h.orch.State(); got != StateIdle {
		t.Fatalf("state after Disconnect = %v, want idle", got)
	}
}

// gatedStartSource blocks device acquisition until released so tests can
// disconnect mid-connect.
type gatedStartSource struct {
	*MockSource
	gate chan struct{}
}

func (s *gatedStartSource) Start(ctx context.Context) (<-chan Frame, error) {
	<-s.gate
	return s.MockSource.Start(ctx)
}

func TestOrchestratorDisconnectDuringConnect(t *testing.T) {
	source := &gatedStartSource{MockSource: NewMockSource(), gate: make(chan struct{})}
	speech := NewMockSpeech()
	orch := NewOrchestrator(OrchestratorConfig{
		Source:     source,
		Recognizer: speech,
		Synth:      speech,
		Sink:       NewMockSink(),
		Backend:    newGatedBackend(),
	})

	done := make(chan error, 1)
	go func() { done <- orch.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return orch.State() == StateConnecting })

	orch.Disconnect()
	if got := orch.State(); got != StateIdle {
		t.Fatalf("state after disconnect = %v, want %v", got, StateIdle)
	}

	close(source.gate)
	if err := <-done; err != nil {
		t.Fatalf("Connect returned %v after disconnect, want nil", err)
	}
	if got := orch.State(); got != StateIdle {
		t.Fatalf("state after late connect completion = %v, want %v", got, StateIdle)
	}
	if got := source.StopCount(); got != 1 {
		t.Fatalf("source stops = %d, want capture released exactly once", got)
	}
}

func TestOrchestratorStateChangesDeliveredInOrder(t *testing.T) {
	rec := &scriptedRecognizer{texts: []string{"what is dolo 650"}}
	backend := newGatedBackend()
	h := newOrchestratorHarness(t, rec, backend)
	defer h.orch.Disconnect()

	var mu sync.Mutex
	var seen []State
	h.orch.cfg.OnStateChange = func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}

	if err := h.orch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.startEmitting(t)

	select {
	case <-backend.called:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch never reached the backend")
	}
	backend.gate <- "Dolo 650 is paracetamol."

	waitFor(t, 2*time.Second, func() bool { return h.orch.State() == StateListening })
	h.orch.Disconnect()

	want := []State{StateConnecting, StateListening, StateProcessing, StateSpeaking, StateListening, StateIdle}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= len(want)
	})
	mu.Lock()
	got := append([]State(nil), seen...)
	mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("state changes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state change %d = %v, want %v (full sequence %v)", i, got[i], want[i], got)
		}
	}
}

package voice

import (
	"context"
	"fmt"
	"sync"
)

// MockSource is a scriptable AudioSource. Tests push frames through Emit;
// production use of the mock provider keeps the pipeline runnable with no
// audio hardware at all.
type MockSource struct {
	mu       sync.Mutex
	frames   chan Frame
	started  bool
	stopped  int
	startErr error
}

func NewMockSource() *MockSource {
	return &MockSource{frames: make(chan Frame, 256)}
}

// FailStartWith makes the next Start return err.
func (m *MockSource) FailStartWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockSource) Start(_ context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	if m.started {
		return nil, fmt.Errorf("mock source already started")
	}
	m.started = true
	return m.frames, nil
}

// Emit delivers one frame as if the device produced it.
func (m *MockSource) Emit(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped > 0 {
		return
	}
	m.frames <- f
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
	if m.stopped == 1 && m.started {
		close(m.frames)
	}
	return nil
}

// StopCount reports how many times Stop was called.
func (m *MockSource) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// MockSpeech is a deterministic Recognizer and Synthesizer. Transcripts are
// served from a script in order; synthesis returns the text bytes so tests
// can assert playback content and order.
type MockSpeech struct {
	mu          sync.Mutex
	transcripts []string
	nextIdx     int
	transcribeN int
	inFlight    int
	maxInFlight int

	synthErrs map[string]error
	synthN    int
}

func NewMockSpeech(transcripts ...string) *MockSpeech {
	return &MockSpeech{transcripts: transcripts, synthErrs: map[string]error{}}
}

// FailSynthesisFor makes Synthesize return err for the given exact text.
func (m *MockSpeech) FailSynthesisFor(text string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synthErrs[text] = err
}

func (m *MockSpeech) Transcribe(ctx context.Context, _ []byte, _ string) (string, error) {
	m.mu.Lock()
	m.transcribeN++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	var text string
	if m.nextIdx < len(m.transcripts) {
		text = m.transcripts[m.nextIdx]
		m.nextIdx++
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return text, nil
}

func (m *MockSpeech) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synthN++
	if err, ok := m.synthErrs[text]; ok {
		return nil, err
	}
	return []byte(text), nil
}

// TranscribeCalls reports how many recognition requests were made.
func (m *MockSpeech) TranscribeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcribeN
}

// MaxConcurrentTranscriptions reports the peak number of simultaneous
// recognition calls observed.
func (m *MockSpeech) MaxConcurrentTranscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// SynthesizeCalls reports how many synthesis requests were made.
func (m *MockSpeech) SynthesizeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synthN
}

// MockSink records played buffers and their sample rates in order.
type MockSink struct {
	mu      sync.Mutex
	played  [][]byte
	rates   []int
	stops   int
	closed  bool
	playErr error
}

func NewMockSink() *MockSink { return &MockSink{} }

func (m *MockSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playErr != nil {
		return m.playErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	m.played = append(m.played, buf)
	m.rates = append(m.rates, sampleRate)
	return nil
}

func (m *MockSink) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Played returns the buffers in playback order.
func (m *MockSink) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.played))
	copy(out, m.played)
	return out
}

// PlayedRates returns the sample rate handed in with each buffer, in order.
func (m *MockSink) PlayedRates() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.rates))
	copy(out, m.rates)
	return out
}

// PlayedText joins the played buffers as strings, in order.
func (m *MockSink) PlayedText() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.played))
	for i, b := range m.played {
		out[i] = string(b)
	}
	return out
}

package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/audio"
)

const (
	DefaultNoiseFloor         = 0.012
	DefaultMinTranscriptChars = 3
	DefaultSuppressionWindow  = 7 * time.Second
	DefaultCommitDebounce     = 2400 * time.Millisecond
)

// ChunkTranscriberConfig tunes the recognition front-end. OnCommit fires on
// the transcriber's goroutine once a candidate survives suppression and the
// commit hold; OnError reports transient recognition failures.
type ChunkTranscriberConfig struct {
	Recognizer         Recognizer
	NoiseFloor         float64
	MinTranscriptChars int
	SuppressionWindow  time.Duration
	CommitDebounce     time.Duration
	OnCommit           func(text string)
	OnError            func(err error)
}

// ChunkTranscriber feeds fixed-duration capture chunks through the
// Recognizer with a one-chunk overlap window, so words spanning a slice
// boundary are seen whole at least once. At most one recognition call is
// outstanding; while one runs, the newest waiting window occupies a single
// pending slot and older waiters are discarded.
//
// The overlap window plus periodic chunking means the same words are often
// recognized twice, so accepted text is deduplicated against the previous
// commit and debounced: a candidate is held for CommitDebounce, and a longer
// candidate containing it (the user kept talking) replaces the held one and
// restarts the hold.
type ChunkTranscriber struct {
	cfg ChunkTranscriberConfig

	mu        sync.Mutex
	prevChunk []byte
	inFlight  bool
	pending   []byte // overlap window waiting its turn, newest wins
	pendingSR int

	heldText  string
	heldNorm  string
	holdTimer *time.Timer

	lastCommitNorm string
	lastCommitAt   time.Time

	closed bool
}

func NewChunkTranscriber(cfg ChunkTranscriberConfig) *ChunkTranscriber {
	if cfg.NoiseFloor <= 0 {
		cfg.NoiseFloor = DefaultNoiseFloor
	}
	if cfg.MinTranscriptChars <= 0 {
		cfg.MinTranscriptChars = DefaultMinTranscriptChars
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = DefaultSuppressionWindow
	}
	return &ChunkTranscriber{cfg: cfg}
}

// SubmitChunk offers one capture slice. Chunks whose mean level sits below
// the noise floor are dropped without a recognition call; they still advance
// the overlap window so the next window stays contiguous.
func (t *ChunkTranscriber) SubmitChunk(ctx context.Context, pcm []byte, sampleRate int) {
	if len(pcm) == 0 {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	quiet := audio.LevelPCM16(pcm) < t.cfg.NoiseFloor
	window := make([]byte, 0, len(t.prevChunk)+len(pcm))
	window = append(window, t.prevChunk...)
	window = append(window, pcm...)
	t.prevChunk = pcm

	if quiet {
		t.mu.Unlock()
		return
	}

	if t.inFlight {
		t.pending = window
		t.pendingSR = sampleRate
		t.mu.Unlock()
		return
	}
	t.inFlight = true
	t.mu.Unlock()

	go t.recognize(ctx, window, sampleRate)
}

func (t *ChunkTranscriber) recognize(ctx context.Context, window []byte, sampleRate int) {
	for {
		wav := audio.EncodeWAVPCM16LE(window, sampleRate)
		text, err := t.cfg.Recognizer.Transcribe(ctx, wav, "audio/wav")

		if err != nil {
			// Transient by contract: count it, produce no utterance.
			if !errors.Is(err, context.Canceled) && t.cfg.OnError != nil {
				t.cfg.OnError(err)
			}
		} else {
			t.handleTranscript(text)
		}

		t.mu.Lock()
		if t.closed || t.pending == nil || ctx.Err() != nil {
			t.inFlight = false
			t.mu.Unlock()
			return
		}
		window = t.pending
		sampleRate = t.pendingSR
		t.pending = nil
		t.mu.Unlock()
	}
}

func (t *ChunkTranscriber) handleTranscript(text string) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < t.cfg.MinTranscriptChars {
		return
	}
	norm := normalizeTranscript(text)
	if norm == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if t.suppressedLocked(norm) {
		return
	}

	if t.cfg.CommitDebounce <= 0 {
		t.commitLocked(text, norm)
		return
	}

	if t.heldNorm != "" {
		switch {
		case norm == t.heldNorm || strings.Contains(t.heldNorm, norm):
			// Shorter or identical rendition of what we already hold.
			return
		default:
			// Longer or different text supersedes the held candidate.
		}
	}
	t.heldText = text
	t.heldNorm = norm
	if t.holdTimer != nil {
		t.holdTimer.Stop()
	}
	t.holdTimer = time.AfterFunc(t.cfg.CommitDebounce, t.flushHeld)
}

func (t *ChunkTranscriber) flushHeld() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.heldNorm == "" {
		return
	}
	text, norm := t.heldText, t.heldNorm
	t.heldText, t.heldNorm = "", ""
	if t.suppressedLocked(norm) {
		return
	}
	t.commitLocked(text, norm)
}

// suppressedLocked reports whether norm duplicates the previous commit:
// equal to it, containing it, or contained in it, within the window.
func (t *ChunkTranscriber) suppressedLocked(norm string) bool {
	if t.lastCommitNorm == "" || time.Since(t.lastCommitAt) > t.cfg.SuppressionWindow {
		return false
	}
	return norm == t.lastCommitNorm ||
		strings.Contains(norm, t.lastCommitNorm) ||
		strings.Contains(t.lastCommitNorm, norm)
}

func (t *ChunkTranscriber) commitLocked(text, norm string) {
	t.lastCommitNorm = norm
	t.lastCommitAt = time.Now()
	if t.cfg.OnCommit != nil {
		// Callback runs outside the lock so it may re-enter the transcriber.
		go t.cfg.OnCommit(text)
	}
}

// Close drops any held candidate and stops accepting chunks. An in-flight
// recognition call finishes on its own; its result is discarded.
func (t *ChunkTranscriber) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.pending = nil
	t.heldText, t.heldNorm = "", ""
	if t.holdTimer != nil {
		t.holdTimer.Stop()
		t.holdTimer = nil
	}
	t.mu.Unlock()
}

// normalizeTranscript lowercases, strips punctuation, and collapses runs of
// whitespace, so trivially different renditions of the same words compare
// equal.
func normalizeTranscript(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	prevSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

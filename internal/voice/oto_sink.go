package voice

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/audio"
)

// OtoSink plays PCM16 mono audio through the system speaker. Playback is
// blocking so the caller controls ordering; Stop aborts the current buffer
// immediately.
type OtoSink struct {
	sampleRate int

	mu      sync.Mutex
	otoCtx  *oto.Context
	player  *oto.Player
	stopped bool
	closed  bool
}

// NewOtoSink initializes the speaker context at the given sample rate and
// blocks until the audio device is ready.
func NewOtoSink(sampleRate int) (*OtoSink, error) {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms buffer keeps first-audio latency low without glitching.
		BufferSize: 100 * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &OtoSink{sampleRate: sampleRate, otoCtx: otoCtx}, nil
}

// Play blocks until pcm has finished playing, ctx is cancelled, or Stop is
// called. Audio at a different rate than the device context is resampled;
// the oto context's rate is fixed for the life of the process.
func (s *OtoSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}
	if sampleRate > 0 && sampleRate != s.sampleRate {
		pcm = audio.ResamplePCM16(pcm, sampleRate, s.sampleRate)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("speaker closed")
	}
	s.stopped = false
	player := s.otoCtx.NewPlayer(bytes.NewReader(pcm))
	s.player = player
	s.mu.Unlock()

	player.Play()
	defer func() {
		s.mu.Lock()
		if s.player == player {
			s.player = nil
		}
		s.mu.Unlock()
		player.Close()
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				player.Pause()
				return nil
			}
			if !player.IsPlaying() {
				return nil
			}
		}
	}
}

// Stop aborts in-progress playback without closing the device.
func (s *OtoSink) Stop() {
	s.mu.Lock()
	s.stopped = true
	player := s.player
	s.mu.Unlock()
	if player != nil {
		player.Pause()
	}
}

// Close releases the player. The oto context itself cannot be torn down; it
// lives for the process.
func (s *OtoSink) Close() error {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

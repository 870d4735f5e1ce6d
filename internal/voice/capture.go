package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/audio"
)

const (
	DefaultChunkInterval = 2200 * time.Millisecond
	DefaultMeterInterval = 100 * time.Millisecond
)

// CaptureGraphConfig wires an AudioSource into the chunking pipeline.
// OnChunk receives each fixed time slice of accumulated PCM; OnLevel receives
// the metering updates. Both are called from the capture goroutine and must
// not block.
type CaptureGraphConfig struct {
	Source        AudioSource
	ChunkInterval time.Duration
	MeterInterval time.Duration
	OnChunk       func(pcm []byte, sampleRate int)
	OnLevel       func(level float64)
}

// CaptureGraph owns the microphone for the lifetime of a session. It slices
// the frame stream into fixed-duration chunks for recognition and keeps a
// smoothed input level for UI metering. The device is released exactly once
// no matter how many times Stop is called.
type CaptureGraph struct {
	cfg CaptureGraphConfig

	mu      sync.Mutex
	level   float64
	started bool

	stopOnce sync.Once
	stopErr  error
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewCaptureGraph(cfg CaptureGraphConfig) *CaptureGraph {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultChunkInterval
	}
	if cfg.MeterInterval <= 0 {
		cfg.MeterInterval = DefaultMeterInterval
	}
	return &CaptureGraph{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start acquires the audio source and begins chunking. Errors from the
// source keep their classification (ErrPermissionDenied and friends) so the
// caller can surface them.
func (g *CaptureGraph) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return fmt.Errorf("capture already started")
	}
	g.started = true
	g.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	frames, err := g.cfg.Source.Start(runCtx)
	if err != nil {
		cancel()
		close(g.done)
		return fmt.Errorf("start capture: %w", err)
	}
	g.cancel = cancel

	go g.run(runCtx, frames)
	return nil
}

func (g *CaptureGraph) run(ctx context.Context, frames <-chan Frame) {
	defer close(g.done)

	chunkTicker := time.NewTicker(g.cfg.ChunkInterval)
	defer chunkTicker.Stop()
	meterTicker := time.NewTicker(g.cfg.MeterInterval)
	defer meterTicker.Stop()

	var (
		chunkBuf   []byte
		meterBuf   []byte
		sampleRate = audio.DefaultSampleRate
	)

	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-frames:
			if !ok {
				return
			}
			if f.SampleRate > 0 {
				sampleRate = f.SampleRate
			}
			chunkBuf = append(chunkBuf, f.PCM...)
			meterBuf = append(meterBuf, f.PCM...)

		case <-meterTicker.C:
			level := audio.LevelPCM16(meterBuf)
			meterBuf = meterBuf[:0]
			g.mu.Lock()
			g.level = level
			g.mu.Unlock()
			if g.cfg.OnLevel != nil {
				g.cfg.OnLevel(level)
			}

		case <-chunkTicker.C:
			if len(chunkBuf) == 0 {
				continue
			}
			chunk := make([]byte, len(chunkBuf))
			copy(chunk, chunkBuf)
			chunkBuf = chunkBuf[:0]
			if g.cfg.OnChunk != nil {
				g.cfg.OnChunk(chunk, sampleRate)
			}
		}
	}
}

// Level returns the most recent metered input level in [0,1].
func (g *CaptureGraph) Level() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// Stop releases the device. Safe to call any number of times; the source's
// Stop runs exactly once and the first result is returned thereafter.
func (g *CaptureGraph) Stop() error {
	g.stopOnce.Do(func() {
		if g.cancel != nil {
			g.cancel()
		}
		g.stopErr = g.cfg.Source.Stop()
		g.mu.Lock()
		started := g.started
		g.mu.Unlock()
		if started && g.cancel != nil {
			<-g.done
		}
	})
	return g.stopErr
}

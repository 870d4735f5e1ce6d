package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/audio"
)

// SpeakerConfig wires synthesis into playback. Fallback is the degraded
// local voice used when the primary synthesizer fails on a chunk; leaving it
// nil means a failed chunk is skipped. OnStage, when set, receives per-chunk
// synthesis timings.
type SpeakerConfig struct {
	Synth          Synthesizer
	Fallback       Synthesizer
	Sink           AudioSink
	ChunkCeiling   int
	RequestCeiling int
	Concurrency    int
	// SampleRate is assumed for synthesis payloads that arrive as bare PCM
	// with no container; WAV payloads carry their own rate.
	SampleRate int
	OnStage    func(stage string, d time.Duration)
	OnFallback func(seq int, err error)
}

// Speaker renders a reply out loud. The reply is sanitized, split into
// sentence-aligned chunks, synthesized concurrently, and played back in
// strict split order. A chunk whose synthesis fails switches to the fallback
// voice for that chunk only; the turn still completes.
type Speaker struct {
	cfg SpeakerConfig
}

func NewSpeaker(cfg SpeakerConfig) *Speaker {
	if cfg.ChunkCeiling <= 0 {
		cfg.ChunkCeiling = DefaultSpeechChunkCeiling
	}
	if cfg.RequestCeiling <= 0 {
		cfg.RequestCeiling = DefaultSynthesisRequestCeiling
	}
	if cfg.RequestCeiling > cfg.ChunkCeiling {
		cfg.RequestCeiling = cfg.ChunkCeiling
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSynthesisConcurrency
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	return &Speaker{cfg: cfg}
}

// synthTake is one chunk's rendered audio with the rate it was rendered at.
type synthTake struct {
	pcm  []byte
	rate int
}

// Speak blocks until the whole reply has been played or ctx is cancelled.
// Cancellation stops in-progress playback immediately and drops the
// remaining chunks.
func (s *Speaker) Speak(ctx context.Context, reply string) error {
	text := sanitizeSpeechText(reply)
	if text == "" {
		return nil
	}
	chunks := splitSpeechChunks(text, s.cfg.ChunkCeiling)
	if len(chunks) == 0 {
		return nil
	}

	results := make([]synthTake, len(chunks))
	ready := make([]chan struct{}, len(chunks))
	for i := range ready {
		ready[i] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			defer close(ready[i])
			if gctx.Err() != nil {
				return gctx.Err()
			}
			started := time.Now()
			take, err := s.synthesizeChunk(gctx, chunk)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				if s.cfg.OnFallback != nil {
					s.cfg.OnFallback(i, err)
				}
				take, err = s.fallbackChunk(gctx, chunk)
				if err != nil {
					// Both voices down: skip this chunk, keep the turn alive.
					return nil
				}
			}
			if s.cfg.OnStage != nil {
				s.cfg.OnStage("speech_chunk_synthesis", time.Since(started))
			}
			results[i] = take
			return nil
		})
	}

	// Playback is strictly sequential in split order, each chunk as soon as
	// it is ready but never before its predecessors finished playing.
	var playErr error
	for i := range chunks {
		select {
		case <-ctx.Done():
		case <-ready[i]:
		}
		if err := ctx.Err(); err != nil {
			playErr = err
			break
		}
		if len(results[i].pcm) == 0 {
			continue
		}
		if err := s.cfg.Sink.Play(ctx, results[i].pcm, results[i].rate); err != nil {
			playErr = err
			break
		}
	}
	if playErr != nil {
		s.cfg.Sink.Stop()
	}

	if err := g.Wait(); err != nil && playErr == nil && !errors.Is(err, context.Canceled) {
		playErr = err
	}
	return playErr
}

// synthesizeChunk renders one chunk through the primary voice, issuing one
// backend request per request-ceiling slice and concatenating the PCM in
// order. The chunk's rate is the first request's rate; a later request that
// answers at a different rate is resampled to match before concatenation.
func (s *Speaker) synthesizeChunk(ctx context.Context, chunk string) (synthTake, error) {
	var take synthTake
	for _, req := range splitSynthesisRequests(chunk, s.cfg.RequestCeiling) {
		raw, err := s.cfg.Synth.Synthesize(ctx, req, FormatWAV)
		if err != nil {
			return synthTake{}, fmt.Errorf("synthesize: %w", err)
		}
		part, err := s.decodeSynthAudio(raw)
		if err != nil {
			return synthTake{}, err
		}
		if len(part.pcm) == 0 {
			continue
		}
		if take.rate == 0 {
			take.rate = part.rate
		} else if part.rate != take.rate {
			part.pcm = audio.ResamplePCM16(part.pcm, part.rate, take.rate)
		}
		take.pcm = append(take.pcm, part.pcm...)
	}
	return take, nil
}

func (s *Speaker) fallbackChunk(ctx context.Context, chunk string) (synthTake, error) {
	if s.cfg.Fallback == nil {
		return synthTake{}, fmt.Errorf("no fallback voice configured")
	}
	raw, err := s.cfg.Fallback.Synthesize(ctx, chunk, FormatWAV)
	if err != nil {
		return synthTake{}, fmt.Errorf("fallback synthesize: %w", err)
	}
	return s.decodeSynthAudio(raw)
}

// decodeSynthAudio unwraps a WAV container to raw PCM16 and keeps the
// container's sample rate; payloads that are not WAV are assumed to already
// be raw PCM at the configured pipeline rate.
func (s *Speaker) decodeSynthAudio(raw []byte) (synthTake, error) {
	if len(raw) == 0 {
		return synthTake{rate: s.cfg.SampleRate}, nil
	}
	pcm, rate, err := audio.ParseWAVPCM16LE(raw)
	if err != nil {
		if errors.Is(err, audio.ErrNotWAV) {
			return synthTake{pcm: raw, rate: s.cfg.SampleRate}, nil
		}
		return synthTake{}, fmt.Errorf("decode synthesized audio: %w", err)
	}
	return synthTake{pcm: pcm, rate: rate}, nil
}

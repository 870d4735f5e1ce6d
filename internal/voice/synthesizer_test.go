package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/audio"
)

func TestSpeakerPlaysChunksInOrder(t *testing.T) {
	speech := NewMockSpeech()
	sink := NewMockSink()
	speaker := NewSpeaker(SpeakerConfig{
		Synth:        speech,
		Sink:         sink,
		ChunkCeiling: 40,
		Concurrency:  3,
	})

	reply := "First sentence here. Second sentence here. Third sentence here."
	if err := speaker.Speak(context.Background(), reply); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	played := sink.PlayedText()
	if len(played) != 3 {
		t.Fatalf("played chunks = %d, want 3: %v", len(played), played)
	}
	want := []string{"First sentence here.", "Second sentence here.", "Third sentence here."}
	for i := range want {
		if played[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, played[i], want[i])
		}
	}
}

func TestSpeakerFallbackOnChunkFailure(t *testing.T) {
	speech := NewMockSpeech()
	speech.FailSynthesisFor("Second sentence here.", errors.New("tts unavailable"))
	fallback := NewMockSpeech()
	sink := NewMockSink()

	var fallbackSeq []int
	var mu sync.Mutex
	speaker := NewSpeaker(SpeakerConfig{
		Synth:        speech,
		Fallback:     fallback,
		Sink:         sink,
		ChunkCeiling: 40,
		OnFallback: func(seq int, err error) {
			mu.Lock()
			fallbackSeq = append(fallbackSeq, seq)
			mu.Unlock()
		},
	})

	reply := "First sentence here. Second sentence here. Third sentence here."
	if err := speaker.Speak(context.Background(), reply); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	played := sink.PlayedText()
	if len(played) != 3 {
		t.Fatalf("played chunks = %d, want 3 (failed chunk replaced, not dropped)", len(played))
	}
	if played[1] != "Second sentence here." {
		t.Fatalf("chunk 1 = %q, want fallback rendering in original position", played[1])
	}
	if fallback.SynthesizeCalls() != 1 {
		t.Fatalf("fallback calls = %d, want 1", fallback.SynthesizeCalls())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(fallbackSeq) != 1 || fallbackSeq[0] != 1 {
		t.Fatalf("fallback seq = %v, want [1]", fallbackSeq)
	}
}

func TestSpeakerSkipsChunkWhenBothVoicesFail(t *testing.T) {
	speech := NewMockSpeech()
	speech.FailSynthesisFor("Second sentence here.", errors.New("tts down"))
	fallback := NewMockSpeech()
	fallback.FailSynthesisFor("Second sentence here.", errors.New("local down"))
	sink := NewMockSink()
	speaker := NewSpeaker(SpeakerConfig{
		Synth:        speech,
		Fallback:     fallback,
		Sink:         sink,
		ChunkCeiling: 40,
	})

	reply := "First sentence here. Second sentence here. Third sentence here."
	if err := speaker.Speak(context.Background(), reply); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	played := sink.PlayedText()
	if len(played) != 2 {
		t.Fatalf("played chunks = %d, want 2 (dead chunk skipped)", len(played))
	}
	if played[0] != "First sentence here." || played[1] != "Third sentence here." {
		t.Fatalf("played = %v, surviving order wrong", played)
	}
}

func TestSpeakerSplitsLongChunkIntoRequests(t *testing.T) {
	speech := NewMockSpeech()
	sink := NewMockSink()
	speaker := NewSpeaker(SpeakerConfig{
		Synth:          speech,
		Sink:           sink,
		ChunkCeiling:   200,
		RequestCeiling: 30,
	})

	reply := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota."
	if err := speaker.Speak(context.Background(), reply); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	// One playback chunk assembled from several sub-requests, in order.
	played := sink.PlayedText()
	if len(played) != 1 {
		t.Fatalf("played chunks = %d, want 1", len(played))
	}
	if speech.SynthesizeCalls() < 2 {
		t.Fatalf("synthesis requests = %d, want several under the request ceiling", speech.SynthesizeCalls())
	}
	joined := played[0]
	for _, word := range []string{"Alpha", "zeta.", "iota."} {
		if !strings.Contains(joined, word) {
			t.Fatalf("assembled audio missing %q: %q", word, joined)
		}
	}
	if strings.Index(joined, "Alpha") > strings.Index(joined, "iota.") {
		t.Fatalf("sub-request audio out of order: %q", joined)
	}
}

func TestSpeakerCancelledContextStopsPlayback(t *testing.T) {
	speech := NewMockSpeech()
	sink := NewMockSink()
	speaker := NewSpeaker(SpeakerConfig{Synth: speech, Sink: sink, ChunkCeiling: 40})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := speaker.Speak(ctx, "First sentence here. Second sentence here.")
	if err == nil {
		t.Fatalf("Speak with cancelled ctx succeeded, want error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Speak error = %v, want context.Canceled", err)
	}
	if got := len(sink.PlayedText()); got != 0 {
		t.Fatalf("played chunks after cancel = %d, want 0", got)
	}
}

func TestSpeakerEmptyReplyIsNoop(t *testing.T) {
	speech := NewMockSpeech()
	sink := NewMockSink()
	speaker := NewSpeaker(SpeakerConfig{Synth: speech, Sink: sink})

	if err := speaker.Speak(context.Background(), "  ```\n```  "); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if speech.SynthesizeCalls() != 0 {
		t.Fatalf("synthesis calls = %d, want 0", speech.SynthesizeCalls())
	}
}

func TestSpeakerOnStageTiming(t *testing.T) {
	speech := NewMockSpeech()
	sink := NewMockSink()
	var stages []string
	var mu sync.Mutex
	speaker := NewSpeaker(SpeakerConfig{
		Synth:        speech,
		Sink:         sink,
		ChunkCeiling: 40,
		OnStage: func(stage string, d time.Duration) {
			mu.Lock()
			stages = append(stages, stage)
			mu.Unlock()
		},
	})

	if err := speaker.Speak(context.Background(), "First sentence here. Second sentence here."); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(stages) != 2 {
		t.Fatalf("stage observations = %d, want 2", len(stages))
	}
	for _, s := range stages {
		if s != "speech_chunk_synthesis" {
			t.Fatalf("stage = %q, want speech_chunk_synthesis", s)
		}
	}
}

// wavRateSynth answers every request with a WAV tone at a fixed sample rate.
type wavRateSynth struct{ rate int }

func (s wavRateSynth) Synthesize(_ context.Context, _, _ string) ([]byte, error) {
	pcm := audio.AppendPCM16Tone(nil, 440, 0.5, 240, s.rate)
	return audio.EncodeWAVPCM16LE(pcm, s.rate), nil
}

func TestSpeakerCarriesWAVSampleRateToSink(t *testing.T) {
	sink := NewMockSink()
	speaker := NewSpeaker(SpeakerConfig{
		Synth: wavRateSynth{rate: 24000},
		Sink:  sink,
	})

	if err := speaker.Speak(context.Background(), "Dolo 650 is paracetamol."); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	rates := sink.PlayedRates()
	if len(rates) != 1 {
		t.Fatalf("played chunks = %d, want 1", len(rates))
	}
	if rates[0] != 24000 {
		t.Fatalf("sink rate = %d, want the WAV container's 24000", rates[0])
	}
	if got, want := len(sink.Played()[0]), 480; got != want {
		t.Fatalf("pcm bytes = %d, want %d (no resampling on the way to the sink)", got, want)
	}
}

func TestSpeakerDefaultsRawPayloadRate(t *testing.T) {
	sink := NewMockSink()
	speaker := NewSpeaker(SpeakerConfig{
		Synth:      NewMockSpeech(), // answers with bare PCM, no container
		Sink:       sink,
		SampleRate: 22050,
	})

	if err := speaker.Speak(context.Background(), "Take after food."); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	rates := sink.PlayedRates()
	if len(rates) != 1 || rates[0] != 22050 {
		t.Fatalf("sink rates = %v, want [22050]", rates)
	}
}

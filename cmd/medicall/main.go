// Command medicall runs the voice loop against the local microphone and
// speakers instead of a websocket client. It is the quickest way to talk to
// the assistant from a laptop.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/config"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/dialogue"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/observability"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/voice"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.OpenAIAPIKey == "" {
		log.Fatalf("OPENAI_API_KEY is required for a live call")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace + "_call")

	speech, err := voice.NewOpenAISpeech(voice.OpenAISpeechConfig{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		STTModel: cfg.OpenAISTTModel,
		TTSModel: cfg.OpenAITTSModel,
		TTSVoice: cfg.OpenAITTSVoice,
	})
	if err != nil {
		log.Fatalf("openai speech init failed: %v", err)
	}

	var backend dialogue.Backend
	if cfg.DialogueURL != "" {
		backend = dialogue.NewClient(cfg.DialogueURL, cfg.DialogueTimeout)
		log.Printf("dialogue backend: %s", cfg.DialogueURL)
	} else {
		backend = dialogue.HandlerBackend{Handler: func(_ context.Context, transcript string) (string, error) {
			return "I heard you say: " + transcript, nil
		}}
		log.Printf("dialogue backend: local echo (DIALOGUE_HTTP_URL not set)")
	}

	sink, err := voice.NewOtoSink(cfg.SampleRate)
	if err != nil {
		log.Fatalf("audio output init failed: %v", err)
	}
	defer sink.Close()

	orch := voice.NewOrchestrator(voice.OrchestratorConfig{
		Source:        voice.NewMalgoSource(cfg.SampleRate),
		Recognizer:    speech,
		Synth:         speech,
		FallbackSynth: voice.NewESpeakVoice(cfg.ESpeakBinary, cfg.ESpeakVoice, cfg.ESpeakWPM, cfg.SampleRate),
		Sink:          sink,
		Backend:       backend,
		Tuning: voice.Tuning{
			SampleRate:              cfg.SampleRate,
			ChunkInterval:           cfg.ChunkInterval,
			MeterInterval:           cfg.MeterInterval,
			NoiseFloor:              cfg.NoiseFloor,
			SuppressionWindow:       cfg.SuppressionWindow,
			CommitDebounce:          cfg.CommitDebounce,
			MinTranscriptChars:      cfg.MinTranscriptChars,
			SpeechChunkCeiling:      cfg.SpeechChunkCeiling,
			SynthesisRequestCeiling: cfg.SynthesisRequestCeiling,
			SynthesisConcurrency:    cfg.SynthesisConcurrency,
		},
		OnTranscript: func(text string) {
			log.Printf("you: %s", text)
		},
		OnReply: func(_, text string) {
			log.Printf("assistant: %s", text)
		},
		OnStateChange: func(state voice.State) {
			log.Printf("state: %s", state)
		},
		Metrics: metrics,
	})

	if err := orch.Connect(context.Background()); err != nil {
		log.Fatalf("microphone start failed: %v (%s)", err, orch.ErrorMessage())
	}
	log.Printf("listening; press Ctrl+C to hang up")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	elapsed := orch.Duration()
	orch.Disconnect()
	log.Printf("call ended after %s", elapsed.Round(100*time.Millisecond))
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/config"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/dialogue"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/httpapi"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/observability"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/session"
	"github.com/MitudruDutta/MediRep-AI-sub001/internal/voice"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	recognizer, synth, resolved := selectSpeechProvider(cfg)
	cfg.SpeechProvider = resolved

	fallbackSynth := voice.NewESpeakVoice(cfg.ESpeakBinary, cfg.ESpeakVoice, cfg.ESpeakWPM, cfg.SampleRate)

	var backend dialogue.Backend
	if cfg.DialogueURL != "" {
		backend = dialogue.NewClient(cfg.DialogueURL, cfg.DialogueTimeout)
		log.Printf("dialogue backend: %s", cfg.DialogueURL)
	} else {
		backend = dialogue.HandlerBackend{Handler: echoHandler}
		log.Printf("dialogue backend: local echo (DIALOGUE_HTTP_URL not set)")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, httpapi.SessionPipeline{
		Recognizer:    recognizer,
		Synth:         synth,
		FallbackSynth: fallbackSynth,
		Backend:       backend,
	}, metrics)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// selectSpeechProvider resolves SPEECH_PROVIDER (auto|openai|mock) into a
// recognizer/synthesizer pair and reports which one was chosen.
func selectSpeechProvider(cfg config.Config) (voice.Recognizer, voice.Synthesizer, string) {
	mode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if mode == "" {
		mode = "auto"
	}

	tryOpenAI := func(fatal bool) (voice.Recognizer, voice.Synthesizer, bool) {
		if cfg.OpenAIAPIKey == "" {
			if fatal {
				log.Fatalf("SPEECH_PROVIDER=openai but OPENAI_API_KEY is not set")
			}
			return nil, nil, false
		}
		p, err := voice.NewOpenAISpeech(voice.OpenAISpeechConfig{
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			STTModel: cfg.OpenAISTTModel,
			TTSModel: cfg.OpenAITTSModel,
			TTSVoice: cfg.OpenAITTSVoice,
		})
		if err != nil {
			log.Fatalf("openai speech init failed: %v", err)
		}
		log.Printf("speech provider: openai (%s / %s)", cfg.OpenAISTTModel, cfg.OpenAITTSModel)
		return p, p, true
	}

	switch mode {
	case "openai":
		r, s, _ := tryOpenAI(true)
		return r, s, "openai"
	case "mock":
		p := voice.NewMockSpeech()
		log.Printf("speech provider: mock")
		return p, p, "mock"
	case "auto":
		if r, s, ok := tryOpenAI(false); ok {
			return r, s, "openai"
		}
		p := voice.NewMockSpeech()
		log.Printf("speech provider: mock (no openai key)")
		return p, p, "mock"
	default:
		log.Fatalf("invalid SPEECH_PROVIDER: %q (expected auto|openai|mock)", cfg.SpeechProvider)
		return nil, nil, ""
	}
}

// echoHandler stands in for a dialogue service during local development.
func echoHandler(_ context.Context, transcript string) (string, error) {
	return "I heard you say: " + transcript, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice turn service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool

	// Capture and turn-taking tuning. These were inline literals in the first
	// prototype; every one of them is load-bearing for how conversational the
	// assistant feels, so they are all configurable.
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

	SpeechProvider string

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAISTTModel string
	OpenAITTSModel string
	OpenAITTSVoice string

	ESpeakBinary string
	ESpeakVoice  string
	ESpeakWPM    int

	DialogueURL     string
	DialogueTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "medirep"),
		AllowAnyOrigin:           false,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,

		SampleRate:    16000,
		ChunkInterval: 2200 * time.Millisecond,
		MeterInterval: 100 * time.Millisecond,
		// Normalized RMS below this is treated as room noise and never sent
		// to the recognizer.
		NoiseFloor:              0.012,
		SuppressionWindow:       7 * time.Second,
		CommitDebounce:          2400 * time.Millisecond,
		MinTranscriptChars:      3,
		SpeechChunkCeiling:      900,
		SynthesisRequestCeiling: 340,
		SynthesisConcurrency:    3,

		SpeechProvider: envOrDefault("SPEECH_PROVIDER", "auto"),

		OpenAIAPIKey:   trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:  trimmedEnv("OPENAI_BASE_URL"),
		OpenAISTTModel: envOrDefault("OPENAI_STT_MODEL", "whisper-1"),
		OpenAITTSModel: envOrDefault("OPENAI_TTS_MODEL", "tts-1"),
		OpenAITTSVoice: envOrDefault("OPENAI_TTS_VOICE", "alloy"),

		ESpeakBinary: envOrDefault("ESPEAK_BINARY", "espeak-ng"),
		ESpeakVoice:  envOrDefault("ESPEAK_VOICE", "en"),
		ESpeakWPM:    175,

		DialogueURL:     trimmedEnv("DIALOGUE_HTTP_URL"),
		DialogueTimeout: 60 * time.Second,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.SampleRate, err = intFromEnv("VOICE_SAMPLE_RATE", cfg.SampleRate); err != nil {
		return Config{}, err
	}
	if cfg.ChunkInterval, err = durationFromEnv("VOICE_CHUNK_INTERVAL", cfg.ChunkInterval); err != nil {
		return Config{}, err
	}
	if cfg.MeterInterval, err = durationFromEnv("VOICE_METER_INTERVAL", cfg.MeterInterval); err != nil {
		return Config{}, err
	}
	if cfg.NoiseFloor, err = floatFromEnv("VOICE_NOISE_FLOOR", cfg.NoiseFloor); err != nil {
		return Config{}, err
	}
	if cfg.SuppressionWindow, err = durationFromEnv("VOICE_SUPPRESSION_WINDOW", cfg.SuppressionWindow); err != nil {
		return Config{}, err
	}
	if cfg.CommitDebounce, err = durationFromEnv("VOICE_COMMIT_DEBOUNCE", cfg.CommitDebounce); err != nil {
		return Config{}, err
	}
	if cfg.MinTranscriptChars, err = intFromEnv("VOICE_MIN_TRANSCRIPT_CHARS", cfg.MinTranscriptChars); err != nil {
		return Config{}, err
	}
	if cfg.SpeechChunkCeiling, err = intFromEnv("VOICE_SPEECH_CHUNK_CEILING", cfg.SpeechChunkCeiling); err != nil {
		return Config{}, err
	}
	if cfg.SynthesisRequestCeiling, err = intFromEnv("VOICE_SYNTH_REQUEST_CEILING", cfg.SynthesisRequestCeiling); err != nil {
		return Config{}, err
	}
	if cfg.SynthesisConcurrency, err = intFromEnv("VOICE_SYNTH_CONCURRENCY", cfg.SynthesisConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.ESpeakWPM, err = intFromEnv("ESPEAK_WPM", cfg.ESpeakWPM); err != nil {
		return Config{}, err
	}
	if cfg.DialogueTimeout, err = durationFromEnv("DIALOGUE_TIMEOUT", cfg.DialogueTimeout); err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICE_SAMPLE_RATE must be positive")
	}
	if cfg.ChunkInterval < 200*time.Millisecond {
		return Config{}, fmt.Errorf("VOICE_CHUNK_INTERVAL must be at least 200ms")
	}
	if cfg.MeterInterval <= 0 {
		return Config{}, fmt.Errorf("VOICE_METER_INTERVAL must be positive")
	}
	if cfg.NoiseFloor < 0 || cfg.NoiseFloor >= 1 {
		return Config{}, fmt.Errorf("VOICE_NOISE_FLOOR must be in [0, 1)")
	}
	if cfg.SuppressionWindow < 0 {
		return Config{}, fmt.Errorf("VOICE_SUPPRESSION_WINDOW must not be negative")
	}
	if cfg.CommitDebounce < 0 {
		return Config{}, fmt.Errorf("VOICE_COMMIT_DEBOUNCE must not be negative")
	}
	if cfg.MinTranscriptChars < 1 {
		return Config{}, fmt.Errorf("VOICE_MIN_TRANSCRIPT_CHARS must be at least 1")
	}
	if cfg.SpeechChunkCeiling <= 0 {
		return Config{}, fmt.Errorf("VOICE_SPEECH_CHUNK_CEILING must be positive")
	}
	if cfg.SynthesisRequestCeiling <= 0 || cfg.SynthesisRequestCeiling > cfg.SpeechChunkCeiling {
		return Config{}, fmt.Errorf("VOICE_SYNTH_REQUEST_CEILING must be in (0, VOICE_SPEECH_CHUNK_CEILING]")
	}
	if cfg.SynthesisConcurrency < 1 {
		return Config{}, fmt.Errorf("VOICE_SYNTH_CONCURRENCY must be at least 1")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

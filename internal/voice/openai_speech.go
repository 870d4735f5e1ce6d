package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAISpeechConfig selects models for the hosted speech provider. Empty
// fields fall back to Whisper for recognition and tts-1 with the alloy voice
// for synthesis.
type OpenAISpeechConfig struct {
	APIKey   string
	BaseURL  string
	STTModel string
	TTSModel string
	TTSVoice string
}

// OpenAISpeech is both the Recognizer and the primary Synthesizer, backed by
// the OpenAI audio endpoints.
type OpenAISpeech struct {
	client   *openai.Client
	sttModel string
	ttsModel openai.SpeechModel
	ttsVoice openai.SpeechVoice
}

func NewOpenAISpeech(cfg OpenAISpeechConfig) (*OpenAISpeech, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai speech: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	sttModel := strings.TrimSpace(cfg.STTModel)
	if sttModel == "" {
		sttModel = openai.Whisper1
	}
	ttsModel := openai.SpeechModel(strings.TrimSpace(cfg.TTSModel))
	if ttsModel == "" {
		ttsModel = openai.TTSModel1
	}
	ttsVoice := openai.SpeechVoice(strings.TrimSpace(cfg.TTSVoice))
	if ttsVoice == "" {
		ttsVoice = openai.VoiceAlloy
	}

	return &OpenAISpeech{
		client:   openai.NewClientWithConfig(clientCfg),
		sttModel: sttModel,
		ttsModel: ttsModel,
		ttsVoice: ttsVoice,
	}, nil
}

func (p *OpenAISpeech) Transcribe(ctx context.Context, wav []byte, mimeHint string) (string, error) {
	if len(wav) == 0 {
		return "", nil
	}
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.sttModel,
		FilePath: fileNameForMime(mimeHint),
		Reader:   bytes.NewReader(wav),
	})
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (p *OpenAISpeech) Synthesize(ctx context.Context, text, format string) ([]byte, error) {
	respFormat := openai.SpeechResponseFormatWav
	if format != "" && format != FormatWAV {
		respFormat = openai.SpeechResponseFormat(format)
	}
	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          p.ttsModel,
		Input:          text,
		Voice:          p.ttsVoice,
		ResponseFormat: respFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	return audio, nil
}

// fileNameForMime gives the upload a filename whose extension matches the
// payload; the transcription endpoint sniffs the container from it.
func fileNameForMime(mimeHint string) string {
	switch strings.ToLower(strings.TrimSpace(mimeHint)) {
	case "audio/mpeg", "audio/mp3":
		return "chunk.mp3"
	case "audio/ogg":
		return "chunk.ogg"
	case "audio/webm":
		return "chunk.webm"
	default:
		return "chunk.wav"
	}
}

package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/audio"
)

// ESpeakVoice is the degraded local synthesizer used when the hosted voice
// fails on a chunk. It shells out to espeak-ng; if the binary is missing the
// turn is kept audible with a synthetic tone cue so the user knows a reply
// arrived.
type ESpeakVoice struct {
	binary     string
	voice      string
	wpm        int
	sampleRate int

	lookOnce sync.Once
	binPath  string
	lookErr  error
}

func NewESpeakVoice(binary, voice string, wpm, sampleRate int) *ESpeakVoice {
	if strings.TrimSpace(binary) == "" {
		binary = "espeak-ng"
	}
	if strings.TrimSpace(voice) == "" {
		voice = "en-US"
	}
	if wpm <= 0 {
		wpm = 170
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &ESpeakVoice{binary: binary, voice: voice, wpm: wpm, sampleRate: sampleRate}
}

// Synthesize renders text to WAV. Output is always a WAV container
// regardless of the requested format; that is what the playback path
// consumes.
func (v *ESpeakVoice) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	v.lookOnce.Do(func() {
		v.binPath, v.lookErr = exec.LookPath(v.binary)
	})
	if v.lookErr != nil {
		return v.toneCue(text), nil
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, v.binPath,
		"--stdout",
		"-v", v.voice,
		"-s", strconv.Itoa(v.wpm),
		text,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("espeak-ng failed: %s", detail)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("espeak-ng produced no audio")
	}
	return stdout.Bytes(), nil
}

// toneCue renders a short two-note pattern scaled to the text length. It is
// not speech, but it keeps the turn audible when no voice binary exists.
func (v *ESpeakVoice) toneCue(text string) []byte {
	noteSamples := v.sampleRate / 5 // 200ms per note
	gapSamples := v.sampleRate / 20

	notes := 2 + len(text)/120
	if notes > 5 {
		notes = 5
	}

	var pcm []byte
	freq := 440.0
	for i := 0; i < notes; i++ {
		pcm = audio.AppendPCM16Tone(pcm, freq, 0.25, noteSamples, v.sampleRate)
		pcm = audio.AppendPCM16Silence(pcm, gapSamples)
		if i%2 == 0 {
			freq = 554.37
		} else {
			freq = 440.0
		}
	}
	return audio.EncodeWAVPCM16LE(pcm, v.sampleRate)
}

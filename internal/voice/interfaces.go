// Package voice implements the realtime turn pipeline: microphone capture,
// chunked transcription, dialogue dispatch, and spoken playback, coordinated
// by a per-session orchestrator.
package voice

import (
	"context"
	"errors"
)

// Frame is a slice of little-endian 16-bit mono PCM delivered by an
// AudioSource. Frames are small (tens of milliseconds); the capture graph
// accumulates them into chunks.
type Frame struct {
	PCM        []byte
	SampleRate int
}

// AudioSource produces microphone audio. Start acquires the device and
// returns the frame stream; Stop releases the device and closes the stream.
// Stop must be safe to call more than once.
type AudioSource interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
}

// Recognizer turns a WAV payload into text. An empty transcript with a nil
// error means the audio contained no recognizable speech.
type Recognizer interface {
	Transcribe(ctx context.Context, wav []byte, mimeHint string) (string, error)
}

// Synthesizer renders text to audio bytes in the requested format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, format string) ([]byte, error)
}

// AudioSink plays PCM16 audio. The sample rate travels with each buffer
// because synthesis backends answer at their own rates; a sink bound to a
// fixed device rate resamples. Play blocks until the buffer has been handed
// to the device; Stop aborts any in-progress playback immediately.
type AudioSink interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
	Stop()
	Close() error
}

// Capture setup failures are classified so callers can show a useful message
// instead of a raw device-layer string. All of them are fatal to the session.
var (
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrDeviceNotFound     = errors.New("no capture device found")
	ErrDeviceBusy         = errors.New("capture device busy")
	ErrCaptureUnsupported = errors.New("audio capture unsupported on this host")
)

// State is the session lifecycle state. Only the orchestrator assigns it.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateError      State = "error"
)

// FormatWAV is the audio container the pipeline requests from synthesizers.
const FormatWAV = "wav"

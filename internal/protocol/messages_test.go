package protocol

import (
	"errors"
	"testing"
)

func TestParseClientAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":3,"pcm16_base64":"AAAA","sample_rate":16000,"ts_ms":12}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	chunk, ok := parsed.(ClientAudioChunk)
	if !ok {
		t.Fatalf("parsed type = %T, want ClientAudioChunk", parsed)
	}
	if chunk.SessionID != "s1" || chunk.Seq != 3 || chunk.SampleRate != 16000 {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}
}

func TestParseClientControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"disconnect"}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	ctl, ok := parsed.(ClientControl)
	if !ok {
		t.Fatalf("parsed type = %T, want ClientControl", parsed)
	}
	if ctl.Action != "disconnect" {
		t.Fatalf("Action = %q, want %q", ctl.Action, "disconnect")
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "missing session", raw: `{"type":"client_audio_chunk","pcm16_base64":"AAAA","sample_rate":16000}`},
		{name: "missing audio", raw: `{"type":"client_audio_chunk","session_id":"s1","sample_rate":16000}`},
		{name: "zero sample rate", raw: `{"type":"client_audio_chunk","session_id":"s1","pcm16_base64":"AAAA","sample_rate":0}`},
		{name: "control without action", raw: `{"type":"client_control","session_id":"s1"}`},
		{name: "broken json", raw: `{"type":`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("ParseClientMessage(%s) error = nil, want error", tc.raw)
			}
		})
	}
}

func TestParseClientMessageUnsupportedType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"transcript_event","session_id":"s1"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

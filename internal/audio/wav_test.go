package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := AppendPCM16Tone(nil, 440, 0.3, 160, 16000)
	wav := EncodeWAVPCM16LE(pcm, 16000)

	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers: %q %q", wav[0:4], wav[8:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("sample rate in header = %d, want 16000", rate)
	}
}

func TestParseWAVRecoversPayload(t *testing.T) {
	pcm := AppendPCM16Tone(nil, 300, 0.4, 800, 22050)
	wav := EncodeWAVPCM16LE(pcm, 22050)

	got, rate, err := ParseWAVPCM16LE(wav)
	if err != nil {
		t.Fatalf("ParseWAVPCM16LE() error = %v", err)
	}
	if rate != 22050 {
		t.Fatalf("rate = %d, want 22050", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("parsed payload differs from input (len %d vs %d)", len(got), len(pcm))
	}
}

func TestParseWAVSkipsExtraChunks(t *testing.T) {
	pcm := AppendPCM16Silence(nil, 100)
	wav := EncodeWAVPCM16LE(pcm, 16000)

	// Splice a LIST chunk between fmt and data, as espeak-ng does.
	list := append([]byte("LIST"), 0, 0, 0, 0)
	extended := append([]byte{}, wav[:36]...)
	extended = append(extended, list...)
	extended = append(extended, wav[36:]...)
	binary.LittleEndian.PutUint32(extended[4:8], uint32(len(extended)-8))

	got, _, err := ParseWAVPCM16LE(extended)
	if err != nil {
		t.Fatalf("ParseWAVPCM16LE() error = %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("parsed payload differs after extra chunk")
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	if _, _, err := ParseWAVPCM16LE([]byte("definitely not audio")); err == nil {
		t.Fatalf("ParseWAVPCM16LE(garbage) error = nil, want error")
	}
}

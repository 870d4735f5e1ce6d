package audio

import (
	"math"
	"testing"
)

func TestResamplePCM16SameRateIsIdentity(t *testing.T) {
	pcm := AppendPCM16Tone(nil, 440, 0.5, 800, 16000)
	got := ResamplePCM16(pcm, 16000, 16000)
	if len(got) != len(pcm) {
		t.Fatalf("len = %d, want %d", len(got), len(pcm))
	}
}

func TestResamplePCM16LengthScales(t *testing.T) {
	pcm := AppendPCM16Tone(nil, 440, 0.5, 2400, 24000) // 100ms at 24kHz

	down := ResamplePCM16(pcm, 24000, 16000)
	if got, want := len(down)/2, 1600; got != want {
		t.Fatalf("downsampled samples = %d, want %d", got, want)
	}

	up := ResamplePCM16(pcm, 24000, 48000)
	if got, want := len(up)/2, 4800; got != want {
		t.Fatalf("upsampled samples = %d, want %d", got, want)
	}
}

func TestResamplePCM16PreservesTone(t *testing.T) {
	pcm := AppendPCM16Tone(nil, 440, 0.5, 22050, 22050)
	out := ResamplePCM16(pcm, 22050, 16000)
	got := LevelPCM16(out)
	want := 0.5 / math.Sqrt2
	if math.Abs(got-want) > 0.02 {
		t.Fatalf("resampled level = %v, want ~%v", got, want)
	}
}

func TestResamplePCM16DegenerateInput(t *testing.T) {
	if got := ResamplePCM16(nil, 24000, 16000); len(got) != 0 {
		t.Fatalf("ResamplePCM16(nil) = %d bytes, want 0", len(got))
	}
	if got := ResamplePCM16([]byte{1, 0}, 0, 16000); len(got) != 2 {
		t.Fatalf("invalid source rate should pass audio through")
	}
}

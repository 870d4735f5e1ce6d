package audio

import (
	"encoding/binary"
	"math"
)

// LevelPCM16 computes the normalized RMS energy of a PCM16LE mono buffer.
// The result is in [0, 1]: 0 for silence, 1 for a full-scale square wave.
func LevelPCM16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// AppendPCM16Tone appends count samples of a sine tone at the given frequency
// and amplitude (0..1) to dst. Used by the offline fallback voice.
func AppendPCM16Tone(dst []byte, freqHz float64, amplitude float64, count, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > 1 {
		amplitude = 1
	}
	for i := 0; i < count; i++ {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		s := int16(v * 32767)
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// AppendPCM16Silence appends count zero samples to dst.
func AppendPCM16Silence(dst []byte, count int) []byte {
	for i := 0; i < count; i++ {
		dst = append(dst, 0, 0)
	}
	return dst
}

package audio

import "encoding/binary"

// ResamplePCM16 converts PCM16 little-endian mono audio between sample rates
// by linear interpolation. Good enough for speech; it keeps playback devices
// pinned to one fixed rate while synthesis backends answer in theirs.
func ResamplePCM16(pcm []byte, fromRate, toRate int) []byte {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	outN := int(int64(n) * int64(toRate) / int64(fromRate))
	if outN <= 0 {
		return nil
	}
	out := make([]byte, outN*2)
	step := float64(fromRate) / float64(toRate)
	for i := 0; i < outN; i++ {
		pos := float64(i) * step
		j := int(pos)
		if j >= n-1 {
			j = n - 1
		}
		s0 := float64(int16(binary.LittleEndian.Uint16(pcm[2*j:])))
		s1 := s0
		if j+1 < n {
			s1 = float64(int16(binary.LittleEndian.Uint16(pcm[2*(j+1):])))
		}
		v := s0 + (s1-s0)*(pos-float64(j))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

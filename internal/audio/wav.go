package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultSampleRate is the capture rate used across the pipeline.
const DefaultSampleRate = 16000

const wavHeaderSize = 44

var ErrNotWAV = errors.New("not a PCM16 WAV stream")

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	_ = WriteWAVPCM16LETo(&buf, pcm, sampleRate)
	return buf.Bytes()
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	dataSize := uint32(len(pcm))
	header := struct {
		RIFF       [4]byte
		RIFFSize   uint32
		WAVE       [4]byte
		Fmt        [4]byte
		FmtSize    uint32
		Format     uint16
		Channels   uint16
		SampleRate uint32
		ByteRate   uint32
		BlockAlign uint16
		BitDepth   uint16
		Data       [4]byte
		DataSize   uint32
	}{
		RIFF:       [4]byte{'R', 'I', 'F', 'F'},
		RIFFSize:   36 + dataSize,
		WAVE:       [4]byte{'W', 'A', 'V', 'E'},
		Fmt:        [4]byte{'f', 'm', 't', ' '},
		FmtSize:    16,
		Format:     audioFormat,
		Channels:   numChannels,
		SampleRate: uint32(sampleRate),
		ByteRate:   uint32(sampleRate * numChannels * bitsPerSample / 8),
		BlockAlign: numChannels * bitsPerSample / 8,
		BitDepth:   bitsPerSample,
		Data:       [4]byte{'d', 'a', 't', 'a'},
		DataSize:   dataSize,
	}
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// ParseWAVPCM16LE extracts the raw PCM payload and sample rate from a WAV
// stream produced by a PCM16 synthesizer. Chunks other than fmt/data are
// skipped so extra metadata chunks do not break playback.
func ParseWAVPCM16LE(wav []byte) (pcm []byte, sampleRate int, err error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}
	rest := wav[12:]
	for len(rest) >= 8 {
		id := string(rest[0:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		body := rest[8:]
		if size > len(body) {
			size = len(body)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("%w: format=%d bits=%d", ErrNotWAV, format, bits)
			}
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
		case "data":
			pcm = body[:size]
		}
		// Chunk bodies are padded to even byte counts.
		if size%2 == 1 {
			size++
		}
		if 8+size > len(rest) {
			break
		}
		rest = rest[8+size:]
	}
	if pcm == nil {
		return nil, 0, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return pcm, sampleRate, nil
}

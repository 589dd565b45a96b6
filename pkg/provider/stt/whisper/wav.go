package whisper

import (
	"bytes"
	"encoding/binary"
	"math"
)

// pcmFormat is the WAVE_FORMAT_PCM tag.
const pcmFormat = 1

// wavHeader is the canonical 44-byte RIFF header for uncompressed PCM.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// wavHeaderSize is binary.Size(wavHeader{}).
const wavHeaderSize = 44

// wrapPCM prefixes mono 16-bit little-endian PCM with a WAV header.
func wrapPCM(pcm []byte, sampleRate int) []byte {
	const (
		channels = 1
		bits     = 16
	)
	blockAlign := channels * bits / 8
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(wavHeaderSize - 8 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   pcmFormat,
		Channels:      channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bits,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, h)
	buf.Write(pcm)
	return buf.Bytes()
}

// loudness is the RMS level of 16-bit little-endian PCM in sample units
// (0 to 32767). A trailing odd byte is ignored.
func loudness(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var energy float64
	for off := 0; off+1 < len(pcm); off += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[off:])))
		energy += s * s
	}
	return math.Sqrt(energy / float64(samples))
}

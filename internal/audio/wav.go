package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedContainer reports audio bytes that could not be decoded.
// Callers are expected to fall back to uploading the original bytes.
var ErrUnsupportedContainer = errors.New("unsupported audio container")

// WAVHeaderSize is the size of the RIFF/fmt/data header preceding the
// PCM payload in files this package writes.
const WAVHeaderSize = 44

// PCMBuffer holds decoded per-channel float samples in [-1, 1].
type PCMBuffer struct {
	SampleRate int
	Channels   [][]float32
}

func (b PCMBuffer) NumChannels() int { return len(b.Channels) }

func (b PCMBuffer) NumFrames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// IsWAV reports whether raw bytes already carry a RIFF/WAVE container.
func IsWAV(raw []byte) bool {
	return len(raw) >= 12 &&
		bytes.Equal(raw[0:4], []byte("RIFF")) &&
		bytes.Equal(raw[8:12], []byte("WAVE"))
}

// QuantizePCM16 converts a float sample to signed 16-bit PCM. Input is
// clamped to [-1, 1]; negatives scale by 0x8000 and non-negatives by
// 0x7FFF so the full signed range is covered exactly.
func QuantizePCM16(s float32) int16 {
	if s < -1 {
		s = -1
	} else if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(float64(s) * 0x8000)
	}
	return int16(float64(s) * 0x7FFF)
}

// EncodeWAV serializes decoded float samples as an uncompressed PCM16LE
// WAV file: 44-byte header followed by channel-interleaved samples.
func EncodeWAV(buf PCMBuffer) ([]byte, error) {
	if buf.NumChannels() == 0 {
		return nil, fmt.Errorf("encode wav: no channels")
	}
	frames := buf.NumFrames()
	for i, ch := range buf.Channels {
		if len(ch) != frames {
			return nil, fmt.Errorf("encode wav: channel %d has %d frames, want %d", i, len(ch), frames)
		}
	}

	pcm := make([]byte, 0, frames*buf.NumChannels()*2)
	var scratch [2]byte
	for f := 0; f < frames; f++ {
		for _, ch := range buf.Channels {
			binary.LittleEndian.PutUint16(scratch[:], uint16(QuantizePCM16(ch[f])))
			pcm = append(pcm, scratch[0], scratch[1])
		}
	}
	return EncodeWAVPCM16LE(pcm, buf.SampleRate, buf.NumChannels())
}

// EncodeBytes is the best-effort encode step for captured audio: WAV
// input passes through untouched, decodable input is re-encoded as
// PCM16LE WAV, and anything else is returned as-is together with
// ErrUnsupportedContainer so the caller can upload the original bytes.
func EncodeBytes(raw []byte) ([]byte, error) {
	if IsWAV(raw) {
		return raw, nil
	}
	buf, err := Decode(raw)
	if err != nil {
		return raw, err
	}
	return EncodeWAV(buf)
}

// Decode parses a WAV container into per-channel float samples.
func Decode(raw []byte) (PCMBuffer, error) {
	d := wav.NewDecoder(bytes.NewReader(raw))
	if !d.IsValidFile() {
		return PCMBuffer{}, fmt.Errorf("decode: %w", ErrUnsupportedContainer)
	}
	ib, err := d.FullPCMBuffer()
	if err != nil {
		return PCMBuffer{}, fmt.Errorf("decode: %w", ErrUnsupportedContainer)
	}
	return fromIntBuffer(ib), nil
}

func fromIntBuffer(ib *gaudio.IntBuffer) PCMBuffer {
	numChans := 1
	sampleRate := 16000
	if ib.Format != nil {
		if ib.Format.NumChannels > 0 {
			numChans = ib.Format.NumChannels
		}
		if ib.Format.SampleRate > 0 {
			sampleRate = ib.Format.SampleRate
		}
	}
	bitDepth := ib.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := math.Pow(2, float64(bitDepth-1))

	frames := len(ib.Data) / numChans
	out := PCMBuffer{SampleRate: sampleRate, Channels: make([][]float32, numChans)}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < numChans; c++ {
			out.Channels[c][f] = float32(float64(ib.Data[f*numChans+c]) / scale)
		}
	}
	return out
}

// EncodeWAVPCM16LE wraps raw interleaved PCM16LE audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate, numChannels int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate, numChannels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw interleaved PCM16LE audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate, numChannels int) error {
	const (
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if numChannels <= 0 {
		numChannels = 1
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

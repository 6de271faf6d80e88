package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	wav "github.com/youpy/go-wav"
)

const (
	pcmFormat     = 1
	wavHeaderSize = 44
)

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// WAVDecoder decodes PCM WAV files in process
type WAVDecoder struct{}

// wavSource holds decoded PCM frames and the original format
type wavSource struct {
	format *wav.WavFormat
	pcm    []byte
	frames int
}

// Decode parses the WAV header and loads the PCM payload
func (WAVDecoder) Decode(ctx context.Context, f File) (Source, error) {
	if f.Size() == 0 {
		return nil, ErrEmptyFile
	}
	if !IsWAV(f.Data) {
		return nil, &DecodeError{Name: f.Name, Err: errors.New("not a RIFF/WAVE file")}
	}

	format, pcm, err := readWAV(f.Data)
	if err != nil {
		return nil, &DecodeError{Name: f.Name, Err: err}
	}
	if format.AudioFormat != pcmFormat {
		return nil, &DecodeError{Name: f.Name, Err: fmt.Errorf("unsupported WAV encoding %d", format.AudioFormat)}
	}

	frames := len(pcm) / int(format.BlockAlign)
	if frames == 0 {
		return nil, &DecodeError{Name: f.Name, Err: errors.New("no audio frames")}
	}

	return &wavSource{
		format: format,
		pcm:    pcm[:frames*int(format.BlockAlign)],
		frames: frames,
	}, nil
}

func readWAV(data []byte) (*wav.WavFormat, []byte, error) {
	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return nil, nil, fmt.Errorf("read format: %w", err)
	}
	if format.BlockAlign == 0 || format.SampleRate == 0 {
		return nil, nil, errors.New("invalid format chunk")
	}

	pcm, err := io.ReadAll(reader)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, nil, fmt.Errorf("read data: %w", err)
	}
	return format, pcm, nil
}

func (s *wavSource) Duration() float64 {
	return float64(s.frames) / float64(s.format.SampleRate)
}

func (s *wavSource) Extension() string { return ".wav" }

func (s *wavSource) Close() error { return nil }

// Cut slices on frame boundaries and re-encodes the slice as a standalone WAV
func (s *wavSource) Cut(ctx context.Context, start, end float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	first := s.frameAt(start)
	last := s.frameAt(end)
	if end >= s.Duration() {
		last = s.frames
	}
	if last < first {
		return nil, fmt.Errorf("invalid range %.3f-%.3f", start, end)
	}

	align := int(s.format.BlockAlign)
	frames := last - first

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + frames*align)
	w := wav.NewWriter(&buf, uint32(frames), s.format.NumChannels, s.format.SampleRate, s.format.BitsPerSample)
	if _, err := w.Write(s.pcm[first*align : last*align]); err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *wavSource) frameAt(sec float64) int {
	frame := int(math.Round(sec * float64(s.format.SampleRate)))
	if frame < 0 {
		return 0
	}
	if frame > s.frames {
		return s.frames
	}
	return frame
}

// PCM16Mono decodes a 16-bit PCM WAV into mono float32 samples in [-1, 1)
func PCM16Mono(data []byte) ([]float32, int, error) {
	if !IsWAV(data) {
		return nil, 0, &DecodeError{Name: "chunk", Err: errors.New("not a RIFF/WAVE file")}
	}
	format, pcm, err := readWAV(data)
	if err != nil {
		return nil, 0, &DecodeError{Name: "chunk", Err: err}
	}
	if format.AudioFormat != pcmFormat || format.BitsPerSample != 16 {
		return nil, 0, &DecodeError{Name: "chunk", Err: fmt.Errorf("need 16-bit PCM, got format %d/%d bits", format.AudioFormat, format.BitsPerSample)}
	}

	channels := int(format.NumChannels)
	if channels == 0 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768.0
		}
		samples[i] = sum / float32(channels)
	}
	return samples, int(format.SampleRate), nil
}

package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	wav "github.com/youpy/go-wav"
)

// makeWAV builds a 16-bit PCM WAV with a simple ramp signal
func makeWAV(t *testing.T, seconds float64, sampleRate uint32, channels uint16) []byte {
	t.Helper()
	frames := int(seconds * float64(sampleRate))

	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(frames), channels, sampleRate, 16)
	samples := make([]wav.Sample, frames)
	for i := range samples {
		samples[i].Values[0] = (i % 200) * 100
		samples[i].Values[1] = -(i % 200) * 100
	}
	if err := w.WriteSamples(samples); err != nil {
		t.Fatalf("write samples: %v", err)
	}
	return buf.Bytes()
}

// TestWAVDecoderDuration checks duration is derived from frames and sample rate
func TestWAVDecoderDuration(t *testing.T) {
	data := makeWAV(t, 3, 8000, 1)
	src, err := WAVDecoder{}.Decode(context.Background(), File{Name: "a.wav", Data: data})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	defer src.Close()

	if math.Abs(src.Duration()-3) > 1e-6 {
		t.Fatalf("duration = %f, want 3", src.Duration())
	}
	if src.Extension() != ".wav" {
		t.Fatalf("extension = %q", src.Extension())
	}
}

// TestWAVDecoderRejectsGarbage checks non-WAV input is a DecodeError
func TestWAVDecoderRejectsGarbage(t *testing.T) {
	_, err := WAVDecoder{}.Decode(context.Background(), File{Name: "x.wav", Data: []byte("definitely not audio")})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
}

// TestWAVSplitProducesValidChunks splits a real WAV and decodes every chunk again
func TestWAVSplitProducesValidChunks(t *testing.T) {
	data := makeWAV(t, 10, 8000, 2)
	threshold := int64(len(data)/3) + 1
	splitter := NewSplitter(WAVDecoder{}, threshold)

	result, err := splitter.Split(context.Background(), File{Name: "meeting.wav", Data: data})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(result.Chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(result.Chunks))
	}

	var total float64
	for i, chunk := range result.Chunks {
		src, err := WAVDecoder{}.Decode(context.Background(), File{Name: chunk.Name, Data: chunk.Data})
		if err != nil {
			t.Fatalf("chunk %d does not decode: %v", i, err)
		}
		total += src.Duration()
		// the re-encoded header is the only overhead on top of the proportional share
		if int64(len(chunk.Data)) > threshold+wavHeaderSize {
			t.Fatalf("chunk %d size %d exceeds threshold %d", i, len(chunk.Data), threshold)
		}
		if i > 0 && chunk.StartTime != result.Chunks[i-1].EndTime {
			t.Fatalf("chunk %d not contiguous", i)
		}
	}
	if math.Abs(total-10) > 1e-3 {
		t.Fatalf("decoded chunk durations = %f, want 10", total)
	}
}

// TestPCM16Mono checks stereo downmix and sample rate
func TestPCM16Mono(t *testing.T) {
	data := makeWAV(t, 1, 16000, 2)
	samples, rate, err := PCM16Mono(data)
	if err != nil {
		t.Fatalf("PCM16Mono() error = %v", err)
	}
	if rate != 16000 {
		t.Fatalf("rate = %d, want 16000", rate)
	}
	if len(samples) != 16000 {
		t.Fatalf("samples = %d, want 16000", len(samples))
	}
	// left and right channels are mirrored, so the downmix is silent
	for i, s := range samples[:50] {
		if s != 0 {
			t.Fatalf("sample %d = %f, want 0", i, s)
		}
	}
}

// TestAutoDecoderRoutesByMagic checks WAV bytes never reach the fallback
func TestAutoDecoderRoutesByMagic(t *testing.T) {
	fallback := &fakeDecoder{source: &fakeSource{duration: 7}}
	decoder := &AutoDecoder{WAV: WAVDecoder{}, Fallback: fallback}

	src, err := decoder.Decode(context.Background(), File{Name: "a.wav", Data: makeWAV(t, 2, 8000, 1)})
	if err != nil {
		t.Fatalf("Decode(wav) error = %v", err)
	}
	if math.Abs(src.Duration()-2) > 1e-6 {
		t.Fatalf("wav duration = %f", src.Duration())
	}

	src, err = decoder.Decode(context.Background(), File{Name: "a.mp3", Data: []byte("ID3....")})
	if err != nil {
		t.Fatalf("Decode(mp3) error = %v", err)
	}
	if src.Duration() != 7 {
		t.Fatalf("fallback duration = %f, want 7", src.Duration())
	}
}

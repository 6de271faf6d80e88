// Package local transcribes audio on this machine with a sherpa-onnx Whisper model.
package local

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"audiotricks/internal/audio"
	"audiotricks/internal/transcribe"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// Config holds configuration for the Whisper model
type Config struct {
	ModelDir   string
	Language   string // en, ja, zh, etc. or empty for auto-detect
	Task       string // transcribe or translate
	NumThreads int
	SampleRate int
	FFmpegPath string // used for non-WAV input
}

// DefaultConfig returns a configuration with auto-detected language
func DefaultConfig(modelDir string) Config {
	return Config{
		ModelDir:   modelDir,
		Task:       "transcribe",
		NumThreads: 4,
		SampleRate: 16000,
		FFmpegPath: "ffmpeg",
	}
}

// Transport runs Whisper offline and satisfies transcribe.Transport
type Transport struct {
	mu         sync.Mutex
	recognizer *sherpa.OfflineRecognizer
	config     Config
}

// New loads the model files found in cfg.ModelDir
func New(cfg Config) (*Transport, error) {
	if cfg.ModelDir == "" {
		return nil, errors.New("model directory is required")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.NumThreads == 0 {
		cfg.NumThreads = 4
	}
	if cfg.Task == "" {
		cfg.Task = "transcribe"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}

	encoderPath := findModelFile(cfg.ModelDir, []string{
		"encoder.int8.onnx",
		"encoder.onnx",
		"large-v3-encoder.int8.onnx",
		"turbo-encoder.int8.onnx",
		"small-encoder.int8.onnx",
		"base-encoder.int8.onnx",
	})
	decoderPath := findModelFile(cfg.ModelDir, []string{
		"decoder.int8.onnx",
		"decoder.onnx",
		"large-v3-decoder.int8.onnx",
		"turbo-decoder.int8.onnx",
		"small-decoder.int8.onnx",
		"base-decoder.int8.onnx",
	})
	tokensPath := findModelFile(cfg.ModelDir, []string{
		"tokens.txt",
		"large-v3-tokens.txt",
		"turbo-tokens.txt",
		"small-tokens.txt",
		"base-tokens.txt",
	})

	if encoderPath == "" {
		return nil, fmt.Errorf("encoder model not found in %s", cfg.ModelDir)
	}
	if decoderPath == "" {
		return nil, fmt.Errorf("decoder model not found in %s", cfg.ModelDir)
	}
	if tokensPath == "" {
		return nil, fmt.Errorf("tokens file not found in %s", cfg.ModelDir)
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: cfg.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Whisper: sherpa.OfflineWhisperModelConfig{
				Encoder:  encoderPath,
				Decoder:  decoderPath,
				Language: cfg.Language,
				Task:     cfg.Task,
			},
			Tokens:     tokensPath,
			NumThreads: cfg.NumThreads,
			Debug:      0,
		},
	}

	recognizer := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if recognizer == nil {
		return nil, errors.New("failed to create Whisper recognizer")
	}

	return &Transport{recognizer: recognizer, config: cfg}, nil
}

// Close releases the recognizer
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(t.recognizer)
		t.recognizer = nil
	}
	return nil
}

// Transcribe decodes a to mono samples and runs one recognition pass.
// Whisper returns no timestamps here, so the result has a single segment
// spanning the whole input.
func (t *Transport) Transcribe(ctx context.Context, a transcribe.Audio) (*transcribe.ChunkResult, error) {
	if len(a.Data) == 0 {
		return nil, audio.ErrEmptyFile
	}

	samples, rate, err := t.samples(ctx, a)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", transcribe.ErrCancelled, ctx.Err())
		}
		return nil, err
	}
	if len(samples) == 0 {
		return &transcribe.ChunkResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", transcribe.ErrCancelled, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recognizer == nil {
		return nil, errors.New("recognizer is closed")
	}

	stream := sherpa.NewOfflineStream(t.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(rate, samples)
	t.recognizer.Decode(stream)

	duration := float64(len(samples)) / float64(rate)
	result := stream.GetResult()
	if result == nil {
		return &transcribe.ChunkResult{Duration: duration}, nil
	}

	text := strings.TrimSpace(result.Text)
	out := &transcribe.ChunkResult{
		Text:     text,
		Language: t.config.Language,
		Duration: duration,
	}
	if text != "" {
		out.Segments = []transcribe.Segment{{Start: 0, End: duration, Text: text}}
	}
	return out, nil
}

func (t *Transport) samples(ctx context.Context, a transcribe.Audio) ([]float32, int, error) {
	if audio.IsWAV(a.Data) {
		samples, rate, err := audio.PCM16Mono(a.Data)
		if err == nil {
			return samples, rate, nil
		}
	}
	return t.convert(ctx, a.Data)
}

// convert pipes any ffmpeg-readable input to 16-bit mono PCM at the model rate
func (t *Transport) convert(ctx context.Context, data []byte) ([]float32, int, error) {
	cmd := exec.CommandContext(ctx, t.config.FFmpegPath,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", t.config.SampleRate),
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, 0, &audio.DecodeError{Name: "chunk", Err: fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))}
	}
	return bytesToFloat32(stdout.Bytes()), t.config.SampleRate, nil
}

// bytesToFloat32 converts little-endian 16-bit PCM to float32 samples
func bytesToFloat32(b []byte) []float32 {
	samples := make([]float32, len(b)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768.0
	}
	return samples
}

// findModelFile returns the first candidate present in dir or ""
func findModelFile(dir string, candidates []string) string {
	for _, candidate := range candidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var _ transcribe.Transport = (*Transport)(nil)

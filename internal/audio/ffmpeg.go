package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// commandResult is an internal process execution response
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpegDecoder probes duration with ffprobe and cuts with ffmpeg stream copy,
// so chunks keep the source codec and their size stays proportional to duration
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
	runner      commandRunner
}

// NewFFmpegDecoder creates a decoder using the given binaries (empty means PATH lookup)
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		runner:      &execRunner{},
	}
}

type ffmpegSource struct {
	decoder  *FFmpegDecoder
	tempDir  string
	input    string
	ext      string
	duration float64
	cuts     int
}

// Decode writes the file into a temporary workspace and probes its duration
func (d *FFmpegDecoder) Decode(ctx context.Context, f File) (Source, error) {
	if f.Size() == 0 {
		return nil, ErrEmptyFile
	}

	tempDir, err := os.MkdirTemp("", "audiotricks-split-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary workspace: %w", err)
	}

	ext := f.Ext()
	if ext == "" {
		ext = ".audio"
	}
	input := filepath.Join(tempDir, "source"+ext)
	if err := os.WriteFile(input, f.Data, 0o600); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to stage audio: %w", err)
	}

	duration, err := d.probeDuration(ctx, input)
	if err != nil {
		os.RemoveAll(tempDir)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &DecodeError{Name: f.Name, Err: err}
	}

	return &ffmpegSource{
		decoder:  d,
		tempDir:  tempDir,
		input:    input,
		ext:      ext,
		duration: duration,
	}, nil
}

func (d *FFmpegDecoder) probeDuration(ctx context.Context, path string) (float64, error) {
	result, err := d.runner.Run(ctx, d.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %s", strings.TrimSpace(result.Stderr))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q", strings.TrimSpace(result.Stdout))
	}
	if duration <= 0 {
		return 0, errors.New("audio has no duration")
	}
	return duration, nil
}

func (s *ffmpegSource) Duration() float64 { return s.duration }

func (s *ffmpegSource) Extension() string { return s.ext }

func (s *ffmpegSource) Close() error {
	return os.RemoveAll(s.tempDir)
}

func (s *ffmpegSource) Cut(ctx context.Context, start, end float64) ([]byte, error) {
	s.cuts++
	out := filepath.Join(s.tempDir, fmt.Sprintf("chunk_%03d%s", s.cuts, s.ext))
	args := buildCutArgs(s.input, out, start, end-start)

	result, err := s.decoder.runner.Run(ctx, s.decoder.FFmpegPath, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg cut failed (exit=%d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	defer os.Remove(out)

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg completed but chunk is missing: %w", err)
	}
	return data, nil
}

// buildCutArgs builds ffmpeg args for a stream-copy cut of [start, start+length)
func buildCutArgs(input, output string, start, length float64) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-i", input,
		"-t", strconv.FormatFloat(length, 'f', 3, 64),
		"-vn",
		"-c", "copy",
		output,
	}
}

// AutoDecoder decodes WAV in process and hands every other format to ffmpeg
type AutoDecoder struct {
	WAV      Decoder
	Fallback Decoder
}

// NewAutoDecoder creates the default decoder chain
func NewAutoDecoder(ffmpegPath, ffprobePath string) *AutoDecoder {
	return &AutoDecoder{
		WAV:      WAVDecoder{},
		Fallback: NewFFmpegDecoder(ffmpegPath, ffprobePath),
	}
}

func (d *AutoDecoder) Decode(ctx context.Context, f File) (Source, error) {
	if IsWAV(f.Data) {
		src, err := d.WAV.Decode(ctx, f)
		if err == nil || d.Fallback == nil {
			return src, err
		}
		// compressed or float WAV variants still decode through ffmpeg
		return d.Fallback.Decode(ctx, f)
	}
	if d.Fallback == nil {
		return nil, &DecodeError{Name: f.Name, Err: errors.New("no decoder for format")}
	}
	return d.Fallback.Decode(ctx, f)
}

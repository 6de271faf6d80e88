package audio

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrEmptyFile is returned when a zero-byte recording is submitted
var ErrEmptyFile = errors.New("audio file is empty")

// ErrDecode matches every DecodeError via errors.Is
var ErrDecode = errors.New("audio could not be decoded")

// DecodeError reports a recording that cannot be decoded (corrupt file or unsupported codec)
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot decode audio file %q: corrupt or unsupported format", e.Name)
	}
	return fmt.Sprintf("cannot decode audio file %q: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDecode) match any DecodeError
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// File is a recording held in memory
type File struct {
	Name string
	Data []byte
}

// Size returns the file size in bytes
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Ext returns the lower-cased file extension including the dot
func (f File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// Source is decoded audio that can be cut into time ranges
type Source interface {
	// Duration returns the total length in seconds
	Duration() float64
	// Cut returns an encoded, standalone audio file covering [start, end) seconds
	Cut(ctx context.Context, start, end float64) ([]byte, error)
	// Extension is the file extension of the bytes returned by Cut
	Extension() string
	Close() error
}

// Decoder turns raw file bytes into a Source
type Decoder interface {
	Decode(ctx context.Context, f File) (Source, error)
}

// SupportedFormats lists audio formats accepted for transcription
var SupportedFormats = []string{".mp3", ".mp4", ".mpeg", ".mpga", ".m4a", ".aac", ".ogg", ".flac", ".wav", ".webm", ".opus"}

// IsSupportedFormat checks if the file extension is a supported audio format
func IsSupportedFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range SupportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

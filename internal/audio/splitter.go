package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultThreshold stays 1 MiB under the 25 MiB upload limit of the speech API
// so container headers written per chunk never push a chunk over the limit
const DefaultThreshold int64 = 24 * 1024 * 1024

// Chunk is one contiguous slice of a larger recording
type Chunk struct {
	Index     int
	Name      string
	Data      []byte
	StartTime float64 // seconds into the source
	EndTime   float64 // seconds into the source
}

// Duration returns the length of this chunk in seconds
func (c Chunk) Duration() float64 {
	return c.EndTime - c.StartTime
}

// String returns a human-readable representation for logging
func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d: %.2fs-%.2fs (%s)", c.Index, c.StartTime, c.EndTime, humanize.Bytes(uint64(len(c.Data))))
}

// SplitResult is the ordered chunk sequence for one recording
type SplitResult struct {
	Chunks        []Chunk
	TotalDuration float64
}

// Splitter partitions oversized recordings into chunks no larger than a byte threshold
type Splitter struct {
	decoder   Decoder
	threshold int64
}

// NewSplitter creates a splitter; a non-positive threshold selects DefaultThreshold
func NewSplitter(decoder Decoder, threshold int64) *Splitter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Splitter{decoder: decoder, threshold: threshold}
}

// Threshold returns the byte limit per chunk
func (s *Splitter) Threshold() int64 {
	return s.threshold
}

// NeedsSplit reports whether f exceeds the threshold
func (s *Splitter) NeedsSplit(f File) bool {
	return f.Size() > s.threshold
}

// Split decodes f and cuts it into ceil(size/threshold) chunks of equal duration,
// the last chunk absorbing any rounding remainder
func (s *Splitter) Split(ctx context.Context, f File) (*SplitResult, error) {
	if f.Size() == 0 {
		return nil, ErrEmptyFile
	}

	src, err := s.decoder.Decode(ctx, f)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrDecode) || errors.Is(err, ErrEmptyFile) {
			return nil, err
		}
		return nil, &DecodeError{Name: f.Name, Err: err}
	}
	defer src.Close()

	total := src.Duration()
	bounds := Boundaries(total, f.Size(), s.threshold)
	count := len(bounds) - 1

	log.Printf("Splitting %s (%s, %.1fs) into %d chunks", f.Name, humanize.Bytes(uint64(f.Size())), total, count)

	base := strings.TrimSuffix(filepath.Base(f.Name), filepath.Ext(f.Name))
	if base == "" || base == "." {
		base = "audio"
	}

	result := &SplitResult{
		Chunks:        make([]Chunk, 0, count),
		TotalDuration: total,
	}
	for i := 0; i < count; i++ {
		data, err := src.Cut(ctx, bounds[i], bounds[i+1])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &DecodeError{Name: f.Name, Err: fmt.Errorf("chunk %d: %w", i, err)}
		}
		result.Chunks = append(result.Chunks, Chunk{
			Index:     i,
			Name:      fmt.Sprintf("%s_part%03d%s", base, i, src.Extension()),
			Data:      data,
			StartTime: bounds[i],
			EndTime:   bounds[i+1],
		})
	}

	return result, nil
}

// Boundaries returns count+1 chunk boundaries in seconds for a recording of
// total seconds and size bytes, where count = ceil(size/threshold).
// b[0] is 0 and b[count] is exactly total.
func Boundaries(total float64, size, threshold int64) []float64 {
	if size <= 0 || threshold <= 0 {
		return []float64{0, total}
	}

	count := int((size + threshold - 1) / threshold)
	if count < 1 {
		count = 1
	}
	chunkDuration := total * float64(threshold) / float64(size)

	bounds := make([]float64, count+1)
	for i := 1; i < count; i++ {
		bounds[i] = float64(i) * chunkDuration
	}
	bounds[count] = total
	return bounds
}

package transcribe

import (
	"fmt"
	"sort"
	"strings"
)

// ChunkOutcome pairs one chunk's time range with its transcription
type ChunkOutcome struct {
	Index     int
	StartTime float64
	EndTime   float64
	Result    *ChunkResult // nil or placeholder text when Failed
	Failed    bool
}

// Placeholder is the text substituted for a chunk that could not be transcribed.
// n is 0-based; the text counts from 1.
func Placeholder(n int) string {
	return fmt.Sprintf("[Chunk %d failed to process]", n+1)
}

// Merge combines chunk outcomes, given in split order, into one transcript.
// Segment times are shifted by the chunk start so they are relative to the
// whole recording. Chunks without segments contribute text only.
func Merge(outcomes []ChunkOutcome) *Transcript {
	t := &Transcript{Chunks: len(outcomes)}

	texts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Failed {
			t.FailedChunks = append(t.FailedChunks, o.Index)
		}

		if o.Result == nil {
			t.Duration += o.EndTime - o.StartTime
			if o.Failed {
				texts = append(texts, Placeholder(o.Index))
			}
			continue
		}

		if text := strings.TrimSpace(o.Result.Text); text != "" {
			texts = append(texts, text)
		}
		if t.Language == "" {
			t.Language = o.Result.Language
		}

		for _, seg := range o.Result.Segments {
			t.Segments = append(t.Segments, Segment{
				Start: seg.Start + o.StartTime,
				End:   seg.End + o.StartTime,
				Text:  seg.Text,
			})
		}

		// the chunk's own time range is authoritative when known
		if o.EndTime > o.StartTime {
			t.Duration += o.EndTime - o.StartTime
		} else {
			t.Duration += o.Result.Duration
		}
	}

	t.Text = strings.Join(texts, " ")

	// APIs occasionally return a segment slightly out of order within a chunk
	sort.SliceStable(t.Segments, func(i, j int) bool {
		return t.Segments[i].Start < t.Segments[j].Start
	})

	return t
}

// single wraps a passthrough result as a one-chunk transcript
func single(r *ChunkResult) *Transcript {
	return Merge([]ChunkOutcome{{Index: 0, StartTime: 0, EndTime: r.Duration, Result: r}})
}

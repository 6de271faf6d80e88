package transcribe

import (
	"strings"
	"testing"
)

// TestMergeRebasesSegments checks chunk-relative timestamps become global
func TestMergeRebasesSegments(t *testing.T) {
	merged := Merge([]ChunkOutcome{
		{Index: 0, StartTime: 0, EndTime: 10, Result: &ChunkResult{Text: "first", Segments: []Segment{{Start: 2, End: 4, Text: "first"}}}},
		{Index: 1, StartTime: 10, EndTime: 20, Result: &ChunkResult{Text: "second", Segments: []Segment{{Start: 2, End: 5, Text: "second"}}}},
	})

	if len(merged.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(merged.Segments))
	}
	if merged.Segments[0].Start != 2 || merged.Segments[1].Start != 12 || merged.Segments[1].End != 15 {
		t.Fatalf("segments = %+v", merged.Segments)
	}
	if merged.Duration != 20 {
		t.Fatalf("duration = %v, want 20", merged.Duration)
	}
}

// TestMergeTextOrderAndWhitespace checks texts are trimmed and joined with one space in order
func TestMergeTextOrderAndWhitespace(t *testing.T) {
	merged := Merge([]ChunkOutcome{
		{Index: 0, StartTime: 0, EndTime: 1, Result: &ChunkResult{Text: "  part0\n"}},
		{Index: 1, StartTime: 1, EndTime: 2, Result: &ChunkResult{Text: "   "}},
		{Index: 2, StartTime: 2, EndTime: 3, Result: &ChunkResult{Text: "part2  "}},
	})
	if merged.Text != "part0 part2" {
		t.Fatalf("text = %q", merged.Text)
	}
	if merged.Chunks != 3 {
		t.Fatalf("chunks = %d, want 3", merged.Chunks)
	}
}

// TestMergeWithoutSegments checks chunks lacking segments contribute text only
func TestMergeWithoutSegments(t *testing.T) {
	merged := Merge([]ChunkOutcome{
		{Index: 0, StartTime: 0, EndTime: 30, Result: &ChunkResult{Text: "a", Segments: []Segment{{Start: 1, End: 2, Text: "a"}}}},
		{Index: 1, StartTime: 30, EndTime: 60, Result: &ChunkResult{Text: "b"}},
	})
	if len(merged.Segments) != 1 || merged.Segments[0].Start != 1 {
		t.Fatalf("segments = %+v", merged.Segments)
	}
	if merged.Text != "a b" {
		t.Fatalf("text = %q", merged.Text)
	}
}

// TestMergePlaceholder checks failed chunks keep their position in the text
func TestMergePlaceholder(t *testing.T) {
	merged := Merge([]ChunkOutcome{
		{Index: 0, StartTime: 0, EndTime: 5, Result: &ChunkResult{Text: "before"}},
		{Index: 1, StartTime: 5, EndTime: 10, Failed: true},
		{Index: 2, StartTime: 10, EndTime: 15, Result: &ChunkResult{Text: "after"}},
	})
	want := "before [Chunk 2 failed to process] after"
	if merged.Text != want {
		t.Fatalf("text = %q, want %q", merged.Text, want)
	}
	if len(merged.FailedChunks) != 1 || merged.FailedChunks[0] != 1 {
		t.Fatalf("failed chunks = %v, want [1]", merged.FailedChunks)
	}
	if merged.Duration != 15 {
		t.Fatalf("duration = %v, want 15", merged.Duration)
	}
}

// TestMergeSegmentsMonotonic checks merged segment starts never decrease
func TestMergeSegmentsMonotonic(t *testing.T) {
	merged := Merge([]ChunkOutcome{
		{Index: 0, StartTime: 0, EndTime: 10, Result: &ChunkResult{Segments: []Segment{{Start: 5, End: 9}, {Start: 4.9, End: 5}}}},
		{Index: 1, StartTime: 10, EndTime: 20, Result: &ChunkResult{Segments: []Segment{{Start: 0, End: 3}}}},
	})
	for i := 1; i < len(merged.Segments); i++ {
		if merged.Segments[i].Start < merged.Segments[i-1].Start {
			t.Fatalf("segments not ordered: %+v", merged.Segments)
		}
	}
	if !strings.HasPrefix(merged.FormatAsSRT(), "1\n00:00:04,900 --> 00:00:05,000\n") {
		t.Fatalf("srt = %q", merged.FormatAsSRT())
	}
}

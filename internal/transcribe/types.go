// Package transcribe turns audio into text through a speech-to-text transport,
// splitting oversized recordings and merging the per-chunk results.
package transcribe

// Audio is one file or chunk handed to a transport
type Audio struct {
	Name string
	Data []byte
}

// Segment is a timestamped piece of text
type Segment struct {
	Start float64 `json:"start"` // in seconds
	End   float64 `json:"end"`   // in seconds
	Text  string  `json:"text"`
}

// ChunkResult is what a transport returns for a single upload.
// Segment times are relative to the start of the uploaded audio.
type ChunkResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Duration float64   `json:"duration"`
}

// Transcript is the merged result for a whole recording
type Transcript struct {
	Text         string    `json:"text"`
	Language     string    `json:"language,omitempty"`
	Segments     []Segment `json:"segments,omitempty"`
	Duration     float64   `json:"duration"`               // audio length in seconds
	Chunks       int       `json:"chunks"`                 // number of uploads made
	FailedChunks []int     `json:"failed_chunks,omitempty"` // 0-based indexes replaced by placeholders
}

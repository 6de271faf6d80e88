package transcribe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FormatAsText returns the transcription as plain text
func (t *Transcript) FormatAsText() string {
	return t.Text
}

// FormatAsJSON returns the transcription as formatted JSON
func (t *Transcript) FormatAsJSON() (string, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// FormatAsSRT returns the transcription as SRT subtitle format
func (t *Transcript) FormatAsSRT() string {
	if len(t.Segments) == 0 {
		// no timing information, one cue spanning the whole recording
		return formatSRTSegment(1, 0, t.Duration, t.Text)
	}

	var b strings.Builder
	for i, seg := range t.Segments {
		b.WriteString(formatSRTSegment(i+1, seg.Start, seg.End, strings.TrimSpace(seg.Text)))
		if i < len(t.Segments)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Format renders the transcript in one of text, json or srt
func (t *Transcript) Format(format string) (string, error) {
	switch format {
	case "", "text", "txt":
		return t.FormatAsText(), nil
	case "json":
		return t.FormatAsJSON()
	case "srt":
		return t.FormatAsSRT(), nil
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

// formatSRTSegment formats a single SRT subtitle entry
func formatSRTSegment(index int, startSec, endSec float64, text string) string {
	return fmt.Sprintf("%d\n%s --> %s\n%s\n",
		index,
		formatSRTTime(startSec),
		formatSRTTime(endSec),
		text,
	)
}

// formatSRTTime converts seconds to SRT time format (HH:MM:SS,mmm)
func formatSRTTime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Package subtitle renders timed segments as SubRip (SRT) text.
package subtitle

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"audioTranscriber/api/models"
)

// RenderSRT numbers each segment from 1 and writes it as index, time range
// and trimmed text. Blocks are separated by one blank line and the output has
// no trailing newline.
func RenderSRT(segments []models.Segment) string {
	var b strings.Builder

	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte('\n')
		b.WriteString(FormatTimestamp(seg.Start))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(seg.End))
		b.WriteByte('\n')
		b.WriteString(strings.TrimSpace(seg.Text))
	}

	return b.String()
}

// FormatTimestamp formats seconds as HH:MM:SS,mmm. Milliseconds are truncated
// and negative input is clamped to zero.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}

	// Round to microseconds first so 1.5 stored as 1.4999999 still reads 500ms.
	totalMs := int64(math.Floor(math.Round(seconds*1e6) / 1e3))

	hours := totalMs / 3_600_000
	minutes := (totalMs % 3_600_000) / 60_000
	secs := (totalMs % 60_000) / 1000
	ms := totalMs % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, ms)
}

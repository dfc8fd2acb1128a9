package subtitle

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/snarg/vidshelf/internal/transcribe"
)

// FormatClock renders seconds as mm:ss, the label shown next to each
// segment. Minutes are not wrapped at an hour.
func FormatClock(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	total := int(sec)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// FormatElapsed renders a running job's elapsed time, e.g. "2m05s".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	m, s := total/60, total%60
	if m == 0 {
		return fmt.Sprintf("%ds", s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// PlainText joins segment text one per line.
func PlainText(segments []transcribe.Segment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, strings.TrimSpace(s.Text))
	}
	return strings.Join(lines, "\n")
}

// WriteSRT writes segments as a SubRip file.
func WriteSRT(w io.Writer, segments []transcribe.Segment) error {
	for i, s := range segments {
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			i+1, cueTime(s.Start, ","), cueTime(s.End, ","), strings.TrimSpace(s.Text))
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteVTT writes segments as a WebVTT file.
func WriteVTT(w io.Writer, segments []transcribe.Segment) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for _, s := range segments {
		_, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n",
			cueTime(s.Start, "."), cueTime(s.End, "."), strings.TrimSpace(s.Text))
		if err != nil {
			return err
		}
	}
	return nil
}

func cueTime(sec float64, msSep string) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	ms := int64(math.Round(sec * 1000))
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, msSep, ms)
}

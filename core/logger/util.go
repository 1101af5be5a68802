package logger

import (
	"strings"
	"time"
)

// Status collapses an error into the status value log lines carry.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Took measures elapsed time since start, rounded for logging.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// RoundMS clamps negatives to zero and rounds to whole milliseconds so
// duration fields stay short and comparable.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// SummarizeStrings renders at most limit values as a comma-joined preview.
// The second result reports whether values had to be cut.
func SummarizeStrings(values []string, limit int) (string, bool) {
	if limit <= 0 {
		return "", len(values) > 0
	}
	shown := values
	cut := false
	if len(shown) > limit {
		shown = shown[:limit]
		cut = true
	}
	return strings.Join(shown, ", "), cut
}

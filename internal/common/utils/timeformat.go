// internal/common/utils/timeformat.go
// Time helpers shared by the chat engine and the gateway

package utils

import (
	"fmt"
	"time"
)

// RelativeTime formats a timestamp relative to now ("just now", "5m ago").
// Future timestamps (clock skew between client and server) collapse to
// "just now" rather than producing a negative duration.
func RelativeTime(t time.Time) string {
	return RelativeTimeSince(t, time.Now())
}

// RelativeTimeSince is RelativeTime against an explicit reference time.
func RelativeTimeSince(t, now time.Time) string {
	diff := now.Sub(t)
	if diff < 0 {
		diff = 0
	}

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}

// ParseTimestamp parses a timestamp string, trying RFC3339 with and without
// sub-second precision. A value that cannot be parsed falls back to now so a
// malformed row never breaks ordering of the surrounding sequence.
func ParseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}

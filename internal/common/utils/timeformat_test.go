package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRelativeTimeSince(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		t    time.Time
		want string
	}{
		{"seconds ago", now.Add(-30 * time.Second), "just now"},
		{"minutes ago", now.Add(-5 * time.Minute), "5m ago"},
		{"hours ago", now.Add(-3 * time.Hour), "3h ago"},
		{"days ago", now.Add(-2 * 24 * time.Hour), "2d ago"},
		{"older than a week", now.Add(-10 * 24 * time.Hour), "Mar 4, 2026"},
		{"future clock skew", now.Add(time.Minute), "just now"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RelativeTimeSince(tc.t, now))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

	assert.Equal(t, want, ParseTimestamp("2026-03-14T09:30:00Z").UTC())
	assert.Equal(t, want, ParseTimestamp("2026-03-14T09:30:00.000Z").UTC())
	assert.Equal(t, want, ParseTimestamp("2026-03-14 09:30:00"))
}

func TestParseTimestampMalformedFallsBackToNow(t *testing.T) {
	before := time.Now()
	got := ParseTimestamp("not a timestamp")
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

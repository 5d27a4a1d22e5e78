package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mustParse(t *testing.T, layout, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(layout, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return parsed
}

func TestCalendar_BoundaryBehaviors(t *testing.T) {
	cal := New(DefaultSchedule())

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"09:14:59 closed", mustParse(t, "2006-01-02 15:04:05", "2026-01-05 09:14:59"), false},
		{"09:15:00 open", mustParse(t, "2006-01-02 15:04:05", "2026-01-05 09:15:00"), true},
		{"15:29:59 open", mustParse(t, "2006-01-02 15:04:05", "2026-01-05 15:29:59"), true},
		{"15:30:00 closed", mustParse(t, "2006-01-02 15:04:05", "2026-01-05 15:30:00"), false},
		{"saturday closed", mustParse(t, "2006-01-02 15:04:05", "2026-01-03 10:00:00"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cal.IsOpen(tc.t))
		})
	}
}

func TestCalendar_StatusClassification(t *testing.T) {
	cal := New(DefaultSchedule())

	assert.Equal(t, ClosedWeekend, cal.Status(mustParse(t, "2006-01-02 15:04:05", "2026-01-03 10:00:00")))
	assert.Equal(t, ClosedPre, cal.Status(mustParse(t, "2006-01-02 15:04:05", "2026-01-05 08:00:00")))
	assert.Equal(t, Open, cal.Status(mustParse(t, "2006-01-02 15:04:05", "2026-01-05 12:00:00")))
	assert.Equal(t, ClosedPost, cal.Status(mustParse(t, "2006-01-02 15:04:05", "2026-01-05 16:00:00")))
}

func TestCalendar_AlwaysOpenSchedule(t *testing.T) {
	cal := New(AlwaysOpenSchedule())
	assert.True(t, cal.IsOpen(mustParse(t, "2006-01-02 15:04:05", "2026-01-03 03:00:00")))
}

func TestCalendar_SuggestedMode(t *testing.T) {
	cal := New(DefaultSchedule())
	assert.Equal(t, ModeSimOpen, cal.SuggestedMode(mustParse(t, "2006-01-02 15:04:05", "2026-01-05 10:00:00")))
	assert.Equal(t, ModeSimClosed, cal.SuggestedMode(mustParse(t, "2006-01-02 15:04:05", "2026-01-03 10:00:00")))
}

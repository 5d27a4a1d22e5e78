// Package calendar implements MarketCalendar, a pure function over time
// answering whether a configured market is open and what trading mode it
// suggests.
package calendar

import (
	"time"
)

// Status is the market status at a given instant.
type Status string

const (
	Open         Status = "OPEN"
	ClosedWeekend Status = "CLOSED_WEEKEND"
	ClosedPre    Status = "CLOSED_PRE"
	ClosedPost   Status = "CLOSED_POST"
)

// Mode mirrors modecontrol.Mode without importing it, keeping calendar a
// leaf package with no dependency on the mode FSM.
type Mode string

const (
	ModeSimClosed Mode = "SIM_CLOSED"
	ModeSimOpen   Mode = "SIM_OPEN"
)

// Schedule configures the weekly open window. OpenDays holds the weekdays
// the market trades; the window is closed-open: the close instant itself
// is already closed. A 24-hour market is expressed with OpenTime=00:00,
// CloseTime=24:00 equivalent (handled via AlwaysOpen).
type Schedule struct {
	Location   *time.Location
	OpenDays   map[time.Weekday]bool
	OpenTime   time.Duration // offset from midnight
	CloseTime  time.Duration // offset from midnight
	AlwaysOpen bool          // true for 24-hour markets (e.g. crypto)
}

// DefaultSchedule is Monday-Friday 09:15 (inclusive) to 15:30 (exclusive), UTC.
func DefaultSchedule() Schedule {
	return Schedule{
		Location: time.UTC,
		OpenDays: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		OpenTime:  9*time.Hour + 15*time.Minute,
		CloseTime: 15*time.Hour + 30*time.Minute,
	}
}

// AlwaysOpenSchedule returns a schedule for 24-hour markets.
func AlwaysOpenSchedule() Schedule {
	return Schedule{Location: time.UTC, AlwaysOpen: true}
}

// Calendar evaluates a Schedule against instants in time.
type Calendar struct {
	schedule Schedule
}

// New builds a Calendar from a Schedule.
func New(schedule Schedule) *Calendar {
	if schedule.Location == nil {
		schedule.Location = time.UTC
	}
	return &Calendar{schedule: schedule}
}

// IsOpen reports whether the market is open at t.
func (c *Calendar) IsOpen(t time.Time) bool {
	return c.Status(t) == Open
}

// Status classifies t against the schedule. The window is closed-open:
// the instant exactly at CloseTime is already closed.
func (c *Calendar) Status(t time.Time) Status {
	if c.schedule.AlwaysOpen {
		return Open
	}

	local := t.In(c.schedule.Location)
	if !c.schedule.OpenDays[local.Weekday()] {
		return ClosedWeekend
	}

	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())

	switch {
	case sinceMidnight < c.schedule.OpenTime:
		return ClosedPre
	case sinceMidnight >= c.schedule.CloseTime:
		return ClosedPost
	default:
		return Open
	}
}

// SuggestedMode maps market status to the mode ModeController should
// auto-switch toward absent a manual override.
func (c *Calendar) SuggestedMode(t time.Time) Mode {
	if c.IsOpen(t) {
		return ModeSimOpen
	}
	return ModeSimClosed
}

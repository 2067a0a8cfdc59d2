// Package clock provides the engine's Clock & Scheduler (spec §4.1):
// it abstracts wall time in two modes — real (monotonic OS clock) and
// simulated (driven by the highest tick timestamp consumed) — and
// fires periodic and daily wall-clock jobs in a documented order.
package clock

import (
	"sync"
	"time"
)

// Mode selects how the clock advances.
type Mode int

const (
	// ModeReal drives the clock from the OS monotonic/wall clock.
	ModeReal Mode = iota
	// ModeSimulated drives the clock from the highest-timestamp tick consumed.
	ModeSimulated
)

// JobPriority fixes the total order jobs run in for a shared instant,
// per spec §4.1: Layer-1 before Layer-2 before Layer-3 before daily jobs.
type JobPriority int

const (
	PriorityLayer1 JobPriority = iota
	PriorityLayer2
	PriorityLayer3
	PriorityDaily
)

// Job is a unit of scheduled work. Panics/errors are caught by the
// Scheduler and recorded; they never stop sibling jobs from running.
type Job struct {
	Name     string
	Priority JobPriority
	Period   time.Duration // zero for daily/HHMM jobs
	Phase    time.Duration
	HHMM     string // broker-local HH:MM, for daily jobs; empty for periodic jobs
	Run      func(now time.Time)

	lastFiredPeriod int64
	firedOnce       bool
	lastFiredDate   string
}

// Clock tracks current time and broker-local date/time derivation.
type Clock struct {
	mu       sync.Mutex
	mode     Mode
	location *time.Location
	now      time.Time
}

// New creates a Clock in the given mode anchored at the broker
// timezone loc; for ModeReal, now is immediately refreshed from the OS
// clock on every call to Now().
func New(mode Mode, loc *time.Location, start time.Time) *Clock {
	return &Clock{mode: mode, location: loc, now: start}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeReal {
		c.now = time.Now().UTC()
	}
	return c.now
}

// Advance moves a simulated clock forward to t; a no-op in real mode.
// It never moves time backwards.
func (c *Clock) Advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeSimulated {
		return
	}
	if t.After(c.now) {
		c.now = t
	}
}

// TodayLocal returns the broker-local calendar date for the current instant.
func (c *Clock) TodayLocal() time.Time {
	now := c.Now()
	local := now.In(c.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.location)
}

// LocalHHMM returns the broker-local "HH:MM" for the current instant.
func (c *Clock) LocalHHMM() string {
	return c.Now().In(c.location).Format("15:04")
}

// LocalWeekday returns the broker-local weekday for the current instant.
func (c *Clock) LocalWeekday() time.Weekday {
	return c.Now().In(c.location).Weekday()
}

// Location returns the broker timezone.
func (c *Clock) Location() *time.Location {
	return c.location
}

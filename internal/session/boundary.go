package session

import (
	"fmt"
	"time"

	"riskguard/pkg/exception"
)

// Boundary is the wall-clock time at which a trading session rolls over.
type Boundary struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// ParseBoundary parses "HH:MM" in the named IANA time zone. An empty zone
// means UTC.
func ParseBoundary(clock, zone string) (Boundary, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return Boundary{}, fmt.Errorf("%w: session reset time %q: %v", exception.ErrConfig, clock, err)
	}
	loc := time.UTC
	if zone != "" {
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return Boundary{}, fmt.Errorf("%w: session timezone %q: %v", exception.ErrConfig, zone, err)
		}
	}
	return Boundary{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

// Validate checks the boundary fields.
func (b Boundary) Validate() error {
	if b.Hour < 0 || b.Hour > 23 || b.Minute < 0 || b.Minute > 59 {
		return fmt.Errorf("%w: session reset time %02d:%02d out of range", exception.ErrConfig, b.Hour, b.Minute)
	}
	return nil
}

func (b Boundary) location() *time.Location {
	if b.Location == nil {
		return time.UTC
	}
	return b.Location
}

func (b Boundary) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), b.Hour, b.Minute, 0, 0, b.location())
}

// Next returns the first boundary strictly after t.
func (b Boundary) Next(t time.Time) time.Time {
	local := t.In(b.location())
	next := b.on(local)
	if !next.After(t) {
		next = b.on(local.AddDate(0, 0, 1))
	}
	return next
}

// SessionStart returns the latest boundary at or before t.
func (b Boundary) SessionStart(t time.Time) time.Time {
	local := t.In(b.location())
	start := b.on(local)
	if start.After(t) {
		start = b.on(local.AddDate(0, 0, -1))
	}
	return start
}

func (b Boundary) String() string {
	return fmt.Sprintf("%02d:%02d %s", b.Hour, b.Minute, b.location())
}

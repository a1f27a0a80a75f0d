package calendar

import (
	"fmt"
	"time"
)

// dayKeyLayout matches the format used for dedup keys and daily meters.
const dayKeyLayout = "2006-01-02"

// Clock resolves business-calendar day boundaries in a fixed business
// timezone. The evaluation host may run in a different timezone than the
// business, so every day-boundary computation in the core must go through
// this type instead of truncating in host-local or UTC time.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New constructs a Clock pinned to the named IANA timezone.
func New(tzName string) (*Clock, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load business timezone %q: %w", tzName, err)
	}
	return NewInLocation(loc), nil
}

// NewInLocation constructs a Clock for an already-resolved location.
func NewInLocation(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: time.Now}
}

// SetNow overrides the time source. Intended for tests.
func (c *Clock) SetNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Location exposes the business timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant in the business timezone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// StartOfBusinessDay projects the instant into the business timezone,
// truncates to midnight there, and returns the resulting instant.
func (c *Clock) StartOfBusinessDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// StartOfNextBusinessDay returns the first instant of the business day
// following the one containing t.
func (c *Clock) StartOfNextBusinessDay(t time.Time) time.Time {
	return c.StartOfBusinessDay(t).AddDate(0, 0, 1)
}

// DaysAgo returns the start of the business day n days before the current
// one. Anchoring on projected day boundaries keeps rolling windows stable
// across DST transitions in the business timezone.
func (c *Clock) DaysAgo(n int) time.Time {
	return c.StartOfBusinessDay(c.Now()).AddDate(0, 0, -n)
}

// DayKey renders the business-calendar day containing t, e.g. "2026-03-01".
func (c *Clock) DayKey(t time.Time) string {
	return t.In(c.loc).Format(dayKeyLayout)
}

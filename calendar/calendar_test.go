package calendar

import (
	"testing"
	"time"
)

func mustClock(t *testing.T, tz string) *Clock {
	t.Helper()
	c, err := New(tz)
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	return c
}

func TestStartOfBusinessDayCrossesUTCBoundary(t *testing.T) {
	c := mustClock(t, "Asia/Seoul")

	// 2026-03-01 23:30 UTC is already 2026-03-02 08:30 in Seoul, so the
	// business day must start at Seoul midnight, not UTC midnight.
	instant := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	start := c.StartOfBusinessDay(instant)

	want := time.Date(2026, 3, 2, 0, 0, 0, 0, c.Location())
	if !start.Equal(want) {
		t.Fatalf("start of business day = %v, want %v", start, want)
	}
	if got := c.DayKey(instant); got != "2026-03-02" {
		t.Fatalf("day key = %q, want 2026-03-02", got)
	}
}

func TestStartOfNextBusinessDay(t *testing.T) {
	c := mustClock(t, "Asia/Seoul")

	instant := time.Date(2026, 3, 2, 11, 0, 0, 0, c.Location())
	next := c.StartOfNextBusinessDay(instant)

	want := time.Date(2026, 3, 3, 0, 0, 0, 0, c.Location())
	if !next.Equal(want) {
		t.Fatalf("start of next business day = %v, want %v", next, want)
	}
	if !next.After(c.StartOfBusinessDay(instant)) {
		t.Fatal("next business day must follow current start")
	}
}

func TestDaysAgoUsesInjectedNow(t *testing.T) {
	c := mustClock(t, "America/New_York")
	// 09:00 UTC is 05:00 in New York, so the current business day started at
	// New York midnight of the same date.
	fixed := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	c.SetNow(func() time.Time { return fixed })

	got := c.DaysAgo(30)
	want := time.Date(2026, 5, 16, 0, 0, 0, 0, c.Location())
	if !got.Equal(want) {
		t.Fatalf("days ago = %v, want %v", got, want)
	}
}

func TestDaysAgoStableAcrossDSTTransition(t *testing.T) {
	c := mustClock(t, "America/New_York")
	// 2026-03-20 is after the spring-forward on 2026-03-08; a 30-day window
	// reaches back across the transition and must still land on a midnight
	// boundary rather than drifting by the skipped hour.
	fixed := time.Date(2026, 3, 20, 12, 0, 0, 0, c.Location())
	c.SetNow(func() time.Time { return fixed })

	got := c.DaysAgo(30)
	want := time.Date(2026, 2, 18, 0, 0, 0, 0, c.Location())
	if !got.Equal(want) {
		t.Fatalf("days ago = %v, want %v", got, want)
	}
	if got.Hour() != 0 || got.Minute() != 0 {
		t.Fatalf("window start must sit on a day boundary, got %v", got)
	}
}

func TestNewRejectsUnknownZone(t *testing.T) {
	if _, err := New("Not/AZone"); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

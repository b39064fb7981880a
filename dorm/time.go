package dorm

import (
	"fmt"
	"time"
)

// =============================================================================
// DATES - Day granular, always UTC
// =============================================================================

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string  { return t.UTC().Format(DateLayout) }
func FormatMonth(t time.Time) string { return t.UTC().Format(MonthLayout) }

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, Invalid("date", "expected YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

// ParseMonth accepts YYYY-MM or any YYYY-MM-DD inside the month and returns
// the first of the month.
func ParseMonth(s string) (time.Time, error) {
	if t, err := time.Parse(MonthLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return MonthStart(t), nil
	}
	return time.Time{}, Invalid("month", "expected YYYY-MM, got %q", s)
}

// ReceiptNumber is the printed identifier of a room's bill for a month.
func ReceiptNumber(month time.Time, roomNumber string) string {
	return fmt.Sprintf("INV-%s-%s", month.UTC().Format("200601"), roomNumber)
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock abstracts "now" so workflows can be tested at fixed dates.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// Today is the clock's current day.
func Today(c Clock) time.Time { return Day(c.Now()) }

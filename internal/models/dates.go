package models

import (
	"fmt"
	"time"
)

// DateLayout is the storage and wire format for calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders the calendar day of t.
func FormatDate(t time.Time) string {
	return DateOf(t).Format(DateLayout)
}

// DateOf drops the time of day, keeping the calendar day of t in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysInclusive counts calendar days from start to end, both included.
// A single-day rental (start == end) is one day.
func DaysInclusive(start, end time.Time) int {
	s, e := DateOf(start), DateOf(end)
	return int(e.Sub(s).Hours()/24) + 1
}

// DatesInRange lists every calendar day from start to end inclusive.
func DatesInRange(start, end time.Time) []time.Time {
	s, e := DateOf(start), DateOf(end)
	if e.Before(s) {
		return nil
	}
	dates := make([]time.Time, 0, DaysInclusive(s, e))
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

package core

import (
	"fmt"
	"time"
)

// MonthKeyLayout is the "YYYY-MM" layout used for month buckets and filters.
const MonthKeyLayout = "2006-01"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// MonthKey returns the "YYYY-MM" bucket of t.
func MonthKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// SameMonth reports whether t falls in the calendar month of ref,
// evaluated in ref's location.
func SameMonth(t, ref time.Time) bool {
	t = t.In(ref.Location())
	return t.Year() == ref.Year() && t.Month() == ref.Month()
}

// MonthStart returns midnight on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// AddMonths shifts t by n calendar months, anchored on the first of the month
// so that Jan 31 + 1 never skips February.
func AddMonths(t time.Time, n int) time.Time {
	return MonthStart(t).AddDate(0, n, 0)
}

// ParseMonthKey parses "YYYY-MM".
func ParseMonthKey(s string) (time.Time, error) {
	t, err := time.Parse(MonthKeyLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: expected YYYY-MM", s)
	}
	return t, nil
}

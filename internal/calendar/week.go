// Package calendar computes the digest's week window and the localized
// labels used for day headers and the subject line.
package calendar

import "time"

// DateKeyLayout is the format of feed date keys.
const DateKeyLayout = "2006-01-02"

// WindowDays is the number of days in a digest window.
const WindowDays = 7

// Window holds the date keys of one Sunday-to-Saturday week in ascending
// order.
type Window [WindowDays]string

// WeekOf returns the window for the week containing now, as observed in loc.
// A nil loc is treated as UTC.
func WeekOf(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	// Noon keeps the arithmetic clear of DST transitions at midnight.
	sunday := time.Date(local.Year(), local.Month(), local.Day()-int(local.Weekday()), 12, 0, 0, 0, loc)

	var w Window
	for i := range w {
		w[i] = sunday.AddDate(0, 0, i).Format(DateKeyLayout)
	}
	return w
}

// Start returns the first (Sunday) key.
func (w Window) Start() string { return w[0] }

// End returns the last (Saturday) key.
func (w Window) End() string { return w[WindowDays-1] }

// Keys returns the keys as a slice.
func (w Window) Keys() []string { return w[:] }

// Contains reports whether key is one of the window's dates.
func (w Window) Contains(key string) bool {
	for _, k := range w {
		if k == key {
			return true
		}
	}
	return false
}

// ParseKey parses a YYYY-MM-DD key into its calendar fields. The returned
// time is midnight UTC and only its date fields are meaningful.
func ParseKey(key string) (time.Time, error) {
	return time.Parse(DateKeyLayout, key)
}

package calendar

import (
	"fmt"
	"time"
)

// Locale holds the fixed weekday and month names used for labels.
type Locale struct {
	// Weekdays are abbreviated names indexed by time.Weekday (Sunday = 0).
	Weekdays [7]string
	// Months are full names indexed by time.Month - 1.
	Months [12]string
}

// Spanish is the Lima locale used by the digest.
var Spanish = Locale{
	Weekdays: [7]string{"Dom", "Lun", "Mar", "Mié", "Jue", "Vie", "Sáb"},
	Months: [12]string{
		"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
		"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
	},
}

// DayLabel formats a date key as "<weekday> <day> <month>", for example
// "Mar 12 Marzo" for 2024-03-12. The label depends only on the key's
// calendar date. Keys that do not parse are returned unchanged.
func (l Locale) DayLabel(key string) string {
	d, err := ParseKey(key)
	if err != nil {
		return key
	}
	return l.label(d)
}

func (l Locale) label(d time.Time) string {
	return fmt.Sprintf("%s %d %s", l.Weekdays[d.Weekday()], d.Day(), l.Months[d.Month()-1])
}

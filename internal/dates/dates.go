// Package dates provides calendar range math and the string formats used
// between the calendar and the data layer. All functions are pure and work in
// the location of their time arguments.
package dates

import (
	"fmt"
	"math"
	"time"

	"teamcal/internal/model"
)

const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04"
	DateTimeLayout = "2006-01-02 15:04"
)

// ParseError reports a malformed date or time-of-day string.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dates: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last nanosecond of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

// DayRange covers the calendar day containing d.
func DayRange(d time.Time) model.DateRange {
	return model.DateRange{Start: StartOfDay(d), End: EndOfDay(d)}
}

// WeekRange covers the Monday-to-Sunday week containing d.
func WeekRange(d time.Time) model.DateRange {
	return WeekRangeFrom(d, time.Monday)
}

// WeekRangeFrom covers the seven-day week containing d that begins on weekStart.
func WeekRangeFrom(d time.Time, weekStart time.Weekday) model.DateRange {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	start := StartOfDay(d).AddDate(0, 0, -offset)
	return model.DateRange{Start: start, End: EndOfDay(start.AddDate(0, 0, 6))}
}

// MonthRange covers the calendar month containing d.
func MonthRange(d time.Time) model.DateRange {
	y, m, _ := d.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, d.Location())
	last := start.AddDate(0, 1, -1)
	return model.DateRange{Start: start, End: EndOfDay(last)}
}

// AddMonths moves d by n months, clamping the day to the target month's
// length (Jan 31 + 1 month is Feb 28/29, not Mar 2/3).
func AddMonths(d time.Time, n int) time.Time {
	y, m, day := d.Date()
	firstOfTarget := time.Date(y, m+time.Month(n), 1, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), d.Location())
	lastDay := daysIn(firstOfTarget)
	if day > lastDay {
		day = lastDay
	}
	return firstOfTarget.AddDate(0, 0, day-1)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

// Duration returns end-start in minutes, rounded to the nearest minute. The
// result is negative when end is before start.
func Duration(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}

// ParseDate parses a "yyyy-MM-dd" string as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, &ParseError{Field: "date", Value: s, Err: err}
	}
	return t, nil
}

// ParseDateTime combines a "yyyy-MM-dd" date and an "HH:mm" time of day into
// one instant in loc.
func ParseDateTime(dateStr, timeStr string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(dateStr, loc)
	if err != nil {
		return time.Time{}, err
	}
	tod, err := time.Parse(TimeLayout, timeStr)
	if err != nil {
		return time.Time{}, &ParseError{Field: "time", Value: timeStr, Err: err}
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), 0, 0, day.Location()), nil
}

// RangesOverlap reports whether a and b share at least one instant. Touching
// endpoints count as overlap.
func RangesOverlap(a, b model.DateRange) bool {
	return !a.Start.After(b.End) && !b.Start.After(a.End)
}

// Contains reports whether t lies within r, inclusive.
func Contains(r model.DateRange, t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// FormatDate renders t as "yyyy-MM-dd" from its local calendar components.
func FormatDate(t time.Time) string {
	y, m, d := t.Date()
	return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
}

// FormatTime renders t as "HH:mm".
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// FormatDateTime renders t as "yyyy-MM-dd HH:mm".
func FormatDateTime(t time.Time) string {
	return FormatDate(t) + " " + FormatTime(t)
}

// FormatRange renders r as "yyyy-MM-dd – yyyy-MM-dd", collapsing single days.
func FormatRange(r model.DateRange) string {
	if SameDay(r.Start, r.End) {
		return FormatDate(r.Start)
	}
	return FormatDate(r.Start) + " – " + FormatDate(r.End)
}

// DayKey maps t's calendar day to a sortable integer (yyyymmdd). Two times
// share a key iff they fall on the same calendar day in their own locations.
func DayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return DayKey(a) == DayKey(b)
}

// Days lists the start of every calendar day touched by r, in order.
func Days(r model.DateRange) []time.Time {
	if r.End.Before(r.Start) {
		return nil
	}
	var out []time.Time
	last := DayKey(r.End)
	for d := StartOfDay(r.Start); DayKey(d) <= last; d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

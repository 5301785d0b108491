// Package season answers in-season and in-break questions for calendar days.
//
// Every comparison is made on calendar days (the time of day is ignored) and
// both interval ends are inclusive. Breaks are scanned linearly in slice
// order; nothing assumes they are sorted or disjoint.
package season

import (
	"time"

	"teamcal/internal/dates"
	"teamcal/internal/model"
)

// InSeason reports whether d falls on or between the season's start and end days.
func InSeason(d time.Time, s model.Season) bool {
	k := dates.DayKey(d)
	return dates.DayKey(s.StartDate) <= k && k <= dates.DayKey(s.EndDate)
}

// OutsideSeason is the negation of InSeason.
func OutsideSeason(d time.Time, s model.Season) bool {
	return !InSeason(d, s)
}

// InBreak reports whether any break contains d.
func InBreak(d time.Time, breaks []model.SeasonBreak) bool {
	_, ok := BreakContaining(d, breaks)
	return ok
}

// BreakContaining returns the first break, in slice order, that contains d.
// ok is false when no break matches.
func BreakContaining(d time.Time, breaks []model.SeasonBreak) (b model.SeasonBreak, ok bool) {
	k := dates.DayKey(d)
	for _, br := range breaks {
		if dates.DayKey(br.From) <= k && k <= dates.DayKey(br.To) {
			return br, true
		}
	}
	return model.SeasonBreak{}, false
}

// IsBreakStart reports whether d is the first day of any break.
func IsBreakStart(d time.Time, breaks []model.SeasonBreak) bool {
	for _, br := range breaks {
		if dates.SameDay(d, br.From) {
			return true
		}
	}
	return false
}

// IsBreakEnd reports whether d is the last day of any break.
func IsBreakEnd(d time.Time, breaks []model.SeasonBreak) bool {
	for _, br := range breaks {
		if dates.SameDay(d, br.To) {
			return true
		}
	}
	return false
}

// DayStatus is the classification of one calendar day, used to decorate
// calendar cells.
type DayStatus struct {
	Date          string             `json:"date"`
	InSeason      bool               `json:"in_season"`
	InBreak       bool               `json:"in_break"`
	IsBreakStart  bool               `json:"is_break_start"`
	IsBreakEnd    bool               `json:"is_break_end"`
	Break         *model.SeasonBreak `json:"break,omitempty"`
	IsSeasonStart bool               `json:"is_season_start"`
	IsSeasonEnd   bool               `json:"is_season_end"`
}

// Classify computes the full status of day d within s.
func Classify(d time.Time, s model.Season) DayStatus {
	st := DayStatus{
		Date:          dates.FormatDate(d),
		InSeason:      InSeason(d, s),
		IsBreakStart:  IsBreakStart(d, s.Breaks),
		IsBreakEnd:    IsBreakEnd(d, s.Breaks),
		IsSeasonStart: dates.SameDay(d, s.StartDate),
		IsSeasonEnd:   dates.SameDay(d, s.EndDate),
	}
	if br, ok := BreakContaining(d, s.Breaks); ok {
		st.InBreak = true
		st.Break = &br
	}
	return st
}

// Annotate classifies every calendar day of r.
func Annotate(r model.DateRange, s model.Season) []DayStatus {
	days := dates.Days(r)
	out := make([]DayStatus, 0, len(days))
	for _, d := range days {
		out = append(out, Classify(d, s))
	}
	return out
}

// SessionDay reports whether sessions may be scheduled on d: inside the
// season and outside every break.
func SessionDay(d time.Time, s model.Season) bool {
	return InSeason(d, s) && !InBreak(d, s.Breaks)
}

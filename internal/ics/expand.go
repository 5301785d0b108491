package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"teamcal/internal/dates"
	"teamcal/internal/log"
	"teamcal/internal/model"
)

const defaultMaxOccurrences = 5000

// ExpandConfig bounds holiday expansion.
type ExpandConfig struct {
	// Window is the inclusive day span breaks are clipped to, usually the season.
	Window   model.DateRange
	Location *time.Location
	// MaxOccurrences caps one recurring event. Zero means 5000.
	MaxOccurrences int
}

// ExpandResult is the outcome of ToBreaks.
type ExpandResult struct {
	Breaks []model.SeasonBreak
	// Truncated lists UIDs that hit MaxOccurrences.
	Truncated []string
}

// ToBreaks expands holidays (including RRULE and EXDATE) into day spans
// inside the window, merged so that no two breaks overlap or touch.
func ToBreaks(holidays []Holiday, cfg ExpandConfig) (ExpandResult, error) {
	var res ExpandResult
	if cfg.Window.End.Before(cfg.Window.Start) {
		return res, errors.New("expand: window end is before start")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	var spans []model.SeasonBreak
	for _, h := range holidays {
		occs, capped := occurrences(h, cfg)
		if capped {
			res.Truncated = append(res.Truncated, h.UID)
			log.Warn("holiday expansion truncated", "uid", h.UID, "cap", cfg.MaxOccurrences)
		}
		for _, o := range occs {
			if b, ok := clip(o, cfg); ok {
				spans = append(spans, b)
			}
		}
	}
	res.Breaks = MergeBreaks(spans)
	return res, nil
}

type span struct {
	start, end time.Time
	allDay     bool
}

func occurrences(h Holiday, cfg ExpandConfig) ([]span, bool) {
	if h.RawRRule == "" {
		return []span{{h.Start, h.End, h.AllDay}}, false
	}

	r, err := rrule.StrToRRule(h.RawRRule)
	if err != nil {
		log.Warn("skipping holiday with bad RRULE", "uid", h.UID, "rrule", h.RawRRule, "err", err)
		return nil, false
	}
	r.DTStart(h.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range h.ExDates {
		set.ExDate(ex.In(h.Start.Location()))
	}

	dur := h.End.Sub(h.Start)
	from := cfg.Window.Start.In(h.Start.Location()).Add(-dur)
	to := dates.EndOfDay(cfg.Window.End.In(h.Start.Location()))

	starts := set.Between(from, to, true)
	capped := false
	if len(starts) > cfg.MaxOccurrences {
		starts = starts[:cfg.MaxOccurrences]
		capped = true
	}

	out := make([]span, 0, len(starts))
	for _, s := range starts {
		if h.AllDay {
			s = dates.StartOfDay(s)
			n := daysBetween(h.Start, h.End)
			if n < 1 {
				n = 1
			}
			out = append(out, span{s, s.AddDate(0, 0, n), true})
			continue
		}
		out = append(out, span{s, s.Add(dur), false})
	}
	return out, capped
}

func daysBetween(a, b time.Time) int {
	n := 0
	for d := dates.StartOfDay(a); dates.DayKey(d) < dates.DayKey(b); d = d.AddDate(0, 0, 1) {
		n++
	}
	return n
}

// clip turns an occurrence into an inclusive day span inside the window.
func clip(o span, cfg ExpandConfig) (model.SeasonBreak, bool) {
	loc := cfg.Location
	var first, last time.Time
	if o.allDay {
		// DTEND of an all-day event is exclusive.
		first = civilDay(o.start, loc)
		last = civilDay(o.end, loc).AddDate(0, 0, -1)
	} else {
		end := o.end.In(loc)
		first = dates.StartOfDay(o.start.In(loc))
		last = dates.StartOfDay(end)
		if end.Equal(last) && end.After(o.start) {
			last = last.AddDate(0, 0, -1)
		}
	}
	if dates.DayKey(last) < dates.DayKey(first) {
		last = first
	}

	winStart := civilDay(cfg.Window.Start, loc)
	winEnd := civilDay(cfg.Window.End, loc)
	if dates.DayKey(last) < dates.DayKey(winStart) || dates.DayKey(first) > dates.DayKey(winEnd) {
		return model.SeasonBreak{}, false
	}
	if dates.DayKey(first) < dates.DayKey(winStart) {
		first = winStart
	}
	if dates.DayKey(last) > dates.DayKey(winEnd) {
		last = winEnd
	}
	return model.SeasonBreak{From: first, To: last}, true
}

// civilDay keeps t's calendar date and moves it to midnight in loc.
func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// MergeBreaks sorts breaks by start day and joins spans that overlap or are
// on consecutive days.
func MergeBreaks(breaks []model.SeasonBreak) []model.SeasonBreak {
	if len(breaks) == 0 {
		return []model.SeasonBreak{}
	}
	sorted := make([]model.SeasonBreak, len(breaks))
	copy(sorted, breaks)
	sort.Slice(sorted, func(i, j int) bool {
		return dates.DayKey(sorted[i].From) < dates.DayKey(sorted[j].From)
	})

	out := []model.SeasonBreak{sorted[0]}
	for _, b := range sorted[1:] {
		cur := &out[len(out)-1]
		if dates.DayKey(b.From) <= dates.DayKey(cur.To.AddDate(0, 0, 1)) {
			if dates.DayKey(b.To) > dates.DayKey(cur.To) {
				cur.To = b.To
			}
			continue
		}
		out = append(out, b)
	}
	return out
}

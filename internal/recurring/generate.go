// Package recurring expands a weekly training pattern into dated session
// records for one season.
package recurring

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"teamcal/internal/dates"
	"teamcal/internal/model"
	"teamcal/internal/season"
)

// Template holds the fields copied onto every generated session.
type Template struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Location  string `json:"location,omitempty"`
	GroupID   int64  `json:"group_id"`
}

// Result is the outcome of Generate. An invalid result always has an empty
// Sessions slice and a message explaining why.
type Result struct {
	Sessions          []model.SessionRecord `json:"sessions"`
	IsStartDateValid  bool                  `json:"is_start_date_valid"`
	ValidationMessage string                `json:"validation_message"`
}

var byWeekday = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// Generate emits one session per selected weekday (0=Sunday..6=Saturday)
// from startDate through the season's last day, skipping break days.
// Dates are written from the local calendar components of startDate's
// location, so no UTC conversion can shift a session onto another day.
func Generate(startDate time.Time, s model.Season, tmpl Template, weekdays []int) Result {
	if !season.InSeason(startDate, s) {
		return Result{
			Sessions:         []model.SessionRecord{},
			IsStartDateValid: false,
			ValidationMessage: fmt.Sprintf("Start date %s is outside the season range (%s to %s).",
				dates.FormatDate(startDate), dates.FormatDate(s.StartDate), dates.FormatDate(s.EndDate)),
		}
	}

	days, err := candidateDays(startDate, s.EndDate, weekdays)
	if err != nil {
		return Result{
			Sessions:          []model.SessionRecord{},
			ValidationMessage: fmt.Sprintf("Could not expand the weekly pattern: %v", err),
		}
	}

	seasonStart := dates.DayKey(s.StartDate)
	sessions := make([]model.SessionRecord, 0, len(days))
	for _, d := range days {
		if dates.DayKey(d) < seasonStart || season.InBreak(d, s.Breaks) {
			continue
		}
		sessions = append(sessions, model.SessionRecord{
			Date:      dates.FormatDate(d),
			StartTime: tmpl.StartTime,
			EndTime:   tmpl.EndTime,
			Location:  tmpl.Location,
			GroupID:   tmpl.GroupID,
			SeasonID:  s.ID,
		})
	}

	if len(sessions) == 0 {
		return Result{
			Sessions:          []model.SessionRecord{},
			IsStartDateValid:  false,
			ValidationMessage: "No sessions can be generated: the selected weekdays do not fall on any non-break day before the season ends.",
		}
	}

	return Result{
		Sessions:          sessions,
		IsStartDateValid:  true,
		ValidationMessage: fmt.Sprintf("%d sessions will be generated.", len(sessions)),
	}
}

// candidateDays lists every day from start to end (inclusive) whose weekday
// is selected. Unknown weekday numbers are ignored.
func candidateDays(start, end time.Time, weekdays []int) ([]time.Time, error) {
	selected := make([]rrule.Weekday, 0, len(weekdays))
	seen := make(map[int]bool, len(weekdays))
	for _, wd := range weekdays {
		rw, ok := byWeekday[time.Weekday(wd)]
		if !ok || seen[wd] {
			continue
		}
		seen[wd] = true
		selected = append(selected, rw)
	}
	// An empty BYDAY would make the daily rule match every day.
	if len(selected) == 0 {
		return nil, nil
	}

	loc := start.Location()
	ey, em, ed := end.Date()
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.DAILY,
		Dtstart:   dates.StartOfDay(start),
		Until:     time.Date(ey, em, ed, 23, 59, 59, 0, loc),
		Byweekday: selected,
	})
	if err != nil {
		return nil, err
	}
	return r.All(), nil
}

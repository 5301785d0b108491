package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"teamcal/internal/model"
)

// ExportOptions names the exported calendar.
type ExportOptions struct {
	Name string
	// Domain is appended to event ids to form globally unique UIDs.
	Domain string
	// Stamp is written as DTSTAMP. Zero means now.
	Stamp time.Time
}

// Export serializes events as an iCalendar document. Session events carry
// their location and group color.
func Export(events []model.Event, opts ExportOptions) string {
	if opts.Domain == "" {
		opts.Domain = "teamcal"
	}
	if opts.Stamp.IsZero() {
		opts.Stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//teamcal//calendar export//EN")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID + "@" + opts.Domain)
		ve.SetDtStampTime(opts.Stamp.UTC())
		if ev.AllDay {
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(ev.End)
		} else {
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}
		ve.SetSummary(ev.Title)
		if ev.Metadata.Category != "" {
			ve.SetProperty(ical.ComponentPropertyCategories, ev.Metadata.Category)
		}
		if ev.Metadata.Color != "" {
			ve.SetProperty(ical.ComponentProperty("COLOR"), ev.Metadata.Color)
		}
		if sd, ok := ev.Session(); ok && sd.LocationName != "" {
			ve.SetLocation(sd.LocationName)
		}
		if ev.Metadata.Description != "" {
			ve.SetDescription(ev.Metadata.Description)
		}
	}
	return cal.Serialize()
}

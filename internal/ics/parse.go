package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"teamcal/internal/log"
)

// Holiday is one VEVENT of a holiday feed. For all-day events End is the
// exclusive DTEND day, as in the feed.
type Holiday struct {
	SourceID string
	UID      string
	Summary  string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
}

// Parse decodes a feed body. Floating and all-day times are read in loc.
// Events that cannot be decoded are logged and skipped.
func Parse(src Source, body []byte, loc *time.Location) ([]Holiday, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ics body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.ID, err)
	}

	out := make([]Holiday, 0)
	for _, ve := range cal.Events() {
		h, err := parseEvent(ve, loc)
		if err != nil {
			log.Warn("skipping feed event", "id", src.ID, "err", err)
			continue
		}
		h.SourceID = src.ID
		out = append(out, h)
	}
	log.Debug("feed parsed", "id", src.ID, "events", len(out))
	return out, nil
}

func parseEvent(ve *ical.VEvent, loc *time.Location) (Holiday, error) {
	var h Holiday

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return h, errors.New("missing UID")
	}
	h.UID = uid.Value
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		h.Summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return h, fmt.Errorf("event %s: missing DTSTART", h.UID)
	}
	h.AllDay = isDateValue(dtStart)

	if h.AllDay {
		start, err := parseICSTime(dtStart.Value, loc)
		if err != nil {
			return h, fmt.Errorf("event %s DTSTART: %w", h.UID, err)
		}
		h.Start = start
		h.End = start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := parseICSTime(dtEnd.Value, loc); err == nil && end.After(start) {
				h.End = end
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return h, fmt.Errorf("event %s DTSTART: %w", h.UID, err)
		}
		end, err := ve.GetEndAt()
		if err != nil || end.Before(start) {
			end = start
		}
		h.Start, h.End = start, end
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		h.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				h.ExDates = append(h.ExDates, t)
			}
		}
	}
	return h, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime reads DATE, floating DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

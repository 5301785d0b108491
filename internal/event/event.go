// Package event adapts stored domain records into calendar events.
package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"teamcal/internal/dates"
	"teamcal/internal/model"
)

// DefaultColor is used when a group has no appearance color configured.
const DefaultColor = "#3B82F6"

// CategoryTraining is the metadata category of session events.
const CategoryTraining = "training"

var defaultFormat = []string{
	model.GroupFieldAgeGroup,
	model.GroupFieldGender,
	model.GroupFieldSkillLevel,
	model.GroupFieldName,
}

// GroupDisplayName composes the display name of g. With a nil cfg the
// default composition is used: age group, gender, skill level and name,
// joined by spaces, skipping empty parts.
func GroupDisplayName(g model.Group, cfg *model.GroupsDisplayConfig) string {
	format := defaultFormat
	sep := " "
	if cfg != nil {
		if name, ok := cfg.Overrides[g.ID]; ok && strings.TrimSpace(name) != "" {
			return name
		}
		if len(cfg.Format) > 0 {
			format = cfg.Format
		}
		if cfg.Separator != "" {
			sep = cfg.Separator
		}
	}

	parts := make([]string, 0, len(format))
	for _, field := range format {
		var v string
		switch field {
		case model.GroupFieldAgeGroup:
			v = g.AgeGroup
		case model.GroupFieldGender:
			v = g.Gender
		case model.GroupFieldSkillLevel:
			v = g.SkillLevel
		case model.GroupFieldName:
			v = g.Name
		}
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		if g.ID != 0 {
			return "Group " + strconv.FormatInt(g.ID, 10)
		}
		return "Group"
	}
	return strings.Join(parts, sep)
}

// Transform builds the session event for raw. Times are interpreted in loc.
// A malformed date or time string yields a *dates.ParseError.
func Transform(raw model.SessionRecord, cfg *model.GroupsDisplayConfig, loc *time.Location) (model.Event, error) {
	start, err := dates.ParseDateTime(raw.Date, raw.StartTime, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("session %d start: %w", raw.ID, err)
	}
	end, err := dates.ParseDateTime(raw.Date, raw.EndTime, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("session %d end: %w", raw.ID, err)
	}

	group := model.Group{ID: raw.GroupID}
	if raw.Group != nil {
		group = *raw.Group
	}
	name := GroupDisplayName(group, cfg)

	color := group.Appearance.Color
	if color == "" {
		color = DefaultColor
	}

	return model.Event{
		ID:    "session-" + strconv.FormatInt(raw.ID, 10),
		Title: name,
		Start: start,
		End:   end,
		Data: model.SessionData{
			GroupName:    name,
			LocationName: raw.Location,
			Duration:     dates.Duration(start, end),
			Session:      raw,
		},
		Metadata: model.EventMetadata{
			Color:       color,
			Category:    CategoryTraining,
			Description: raw.Location,
		},
		GroupsConfig: cfg,
	}, nil
}

// Failure records a session that could not be adapted.
type Failure struct {
	SessionID int64
	Err       error
}

// TransformAll adapts every record, collecting the ones that fail instead of
// aborting the batch.
func TransformAll(raws []model.SessionRecord, cfg *model.GroupsDisplayConfig, loc *time.Location) ([]model.Event, []Failure) {
	events := make([]model.Event, 0, len(raws))
	var failures []Failure
	for _, raw := range raws {
		ev, err := Transform(raw, cfg, loc)
		if err != nil {
			failures = append(failures, Failure{SessionID: raw.ID, Err: err})
			continue
		}
		events = append(events, ev)
	}
	return events, failures
}

package model

import "time"

// DateRange is an inclusive [Start, End] span. Start must not be after End.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SeasonBreak is an inclusive day span inside a season during which no
// sessions take place. A season's breaks are not guaranteed to be sorted or
// disjoint.
type SeasonBreak struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Season is the persisted season of one tenant. Dates are calendar days at
// midnight in the tenant's display timezone.
type Season struct {
	ID         int64         `json:"id"`
	TenantID   int64         `json:"tenant_id"`
	StartDate  time.Time     `json:"start_date"`
	EndDate    time.Time     `json:"end_date"`
	Breaks     []SeasonBreak `json:"breaks"`
	CustomName string        `json:"custom_name,omitempty"`
}

// Appearance holds the display settings of a group.
type Appearance struct {
	Color string `json:"color,omitempty"`
}

// Group is a team or training group a session belongs to.
type Group struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	Name       string     `json:"name,omitempty"`
	AgeGroup   string     `json:"age_group,omitempty"`
	Gender     string     `json:"gender,omitempty"`
	SkillLevel string     `json:"skill_level,omitempty"`
	Appearance Appearance `json:"appearance"`
}

// Group name tokens understood by GroupsDisplayConfig.Format.
const (
	GroupFieldAgeGroup   = "age_group"
	GroupFieldGender     = "gender"
	GroupFieldSkillLevel = "skill_level"
	GroupFieldName       = "name"
)

// GroupsDisplayConfig is a tenant-level naming convention for groups.
type GroupsDisplayConfig struct {
	// Format lists group fields in display order (see GroupField* constants).
	Format []string `json:"format" yaml:"format"`
	// Separator joins the non-empty fields. Defaults to a single space.
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty"`
	// Overrides replaces the composed name for specific group IDs.
	Overrides map[int64]string `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// SessionRecord is a scheduled training session as stored by the data layer.
// Date is "yyyy-MM-dd"; StartTime and EndTime are "HH:mm".
type SessionRecord struct {
	ID           int64  `json:"id,omitempty"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Location     string `json:"location,omitempty"`
	TenantID     int64  `json:"tenant_id,omitempty"`
	GroupID      int64  `json:"group_id"`
	SeasonID     int64  `json:"season_id"`
	IsAggregated bool   `json:"is_aggregated"`
	// State is assigned by the store; generated records leave it empty.
	State SessionState `json:"state,omitempty"`
	Group *Group       `json:"group,omitempty"`
}

// SessionQuery scopes a session fetch to one tenant and date range.
type SessionQuery struct {
	TenantID int64
	SeasonID int64
	// GroupID of zero means all groups of the tenant.
	GroupID int64
	Range   DateRange
}

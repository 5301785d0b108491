package model

import (
	"encoding/json"
	"time"
)

// EventKind tags the payload carried by an Event.
type EventKind string

const (
	KindSession EventKind = "session"
)

// EventData is the kind-specific payload of an Event. The set of
// implementations is closed to this package.
type EventData interface {
	Kind() EventKind
	isEventData()
}

// EventMetadata holds display hints for an event.
type EventMetadata struct {
	Color       string `json:"color,omitempty"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Description string `json:"description,omitempty"`
}

// Event is a display-ready calendar entry built from a domain record. It is
// never persisted.
type Event struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	Start        time.Time            `json:"start"`
	End          time.Time            `json:"end"`
	AllDay       bool                 `json:"all_day,omitempty"`
	Data         EventData            `json:"data"`
	Metadata     EventMetadata        `json:"metadata"`
	GroupsConfig *GroupsDisplayConfig `json:"-"`
}

// MarshalJSON adds the payload kind as "type" so clients can tell the
// variants apart.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		ID   string    `json:"id"`
		Type EventKind `json:"type"`
		plain
	}{ID: e.ID, Type: e.Kind(), plain: plain(e)})
}

// Kind returns the kind of the payload, or "" if the event has none.
func (e Event) Kind() EventKind {
	if e.Data == nil {
		return ""
	}
	return e.Data.Kind()
}

// Session returns the session payload when the event is a session event.
func (e Event) Session() (SessionData, bool) {
	sd, ok := e.Data.(SessionData)
	return sd, ok
}

// SessionData is the payload of a session event.
type SessionData struct {
	GroupName    string `json:"group_name"`
	LocationName string `json:"location_name,omitempty"`
	// Duration is End minus Start in whole minutes.
	Duration int           `json:"duration"`
	Session  SessionRecord `json:"session"`
}

func (SessionData) Kind() EventKind { return KindSession }
func (SessionData) isEventData()    {}

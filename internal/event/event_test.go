package event

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"teamcal/internal/dates"
	"teamcal/internal/model"
)

func rawSession() model.SessionRecord {
	return model.SessionRecord{
		ID:        42,
		Date:      "2024-09-02",
		StartTime: "18:00",
		EndTime:   "19:30",
		Location:  "North Gym",
		TenantID:  3,
		GroupID:   9,
		SeasonID:  1,
		Group: &model.Group{
			ID:         9,
			Name:       "Tigers",
			AgeGroup:   "U12",
			Gender:     "Girls",
			Appearance: model.Appearance{Color: "#FF8800"},
		},
	}
}

func TestTransform(t *testing.T) {
	ev, err := Transform(rawSession(), nil, time.UTC)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if ev.Kind() != model.KindSession {
		t.Fatalf("kind = %q", ev.Kind())
	}
	if ev.ID != "session-42" {
		t.Errorf("ID = %q", ev.ID)
	}
	if ev.Title != "U12 Girls Tigers" {
		t.Errorf("Title = %q", ev.Title)
	}
	if dates.FormatDateTime(ev.Start) != "2024-09-02 18:00" || dates.FormatDateTime(ev.End) != "2024-09-02 19:30" {
		t.Errorf("span = %s .. %s", ev.Start, ev.End)
	}
	if ev.Metadata.Color != "#FF8800" {
		t.Errorf("Color = %q", ev.Metadata.Color)
	}
	if ev.Metadata.Description != "North Gym" {
		t.Errorf("Description = %q", ev.Metadata.Description)
	}

	sd, ok := ev.Session()
	if !ok {
		t.Fatal("expected session payload")
	}
	if sd.Duration != 90 {
		t.Errorf("Duration = %d, want 90", sd.Duration)
	}
	if sd.GroupName != ev.Title || sd.LocationName != "North Gym" {
		t.Errorf("payload = %+v", sd)
	}
}

func TestTransformDefaultsAndNoLocation(t *testing.T) {
	raw := rawSession()
	raw.Location = ""
	raw.Group.Appearance.Color = ""

	ev, err := Transform(raw, nil, time.UTC)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if ev.Metadata.Color != DefaultColor {
		t.Errorf("Color = %q, want default", ev.Metadata.Color)
	}
	if ev.Metadata.Description != "" {
		t.Errorf("Description = %q, want empty", ev.Metadata.Description)
	}

	raw.Group = nil
	ev, err = Transform(raw, nil, time.UTC)
	if err != nil {
		t.Fatalf("Transform without group: %v", err)
	}
	if ev.Title != "Group 9" {
		t.Errorf("Title without group = %q", ev.Title)
	}
}

func TestTransformIsPure(t *testing.T) {
	cfg := &model.GroupsDisplayConfig{Format: []string{model.GroupFieldName}}
	a, errA := Transform(rawSession(), cfg, time.UTC)
	b, errB := Transform(rawSession(), cfg, time.UTC)
	if errA != nil || errB != nil {
		t.Fatalf("Transform errors: %v, %v", errA, errB)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("two calls differ:\n%+v\n%+v", a, b)
	}
}

func TestTransformMalformed(t *testing.T) {
	raw := rawSession()
	raw.EndTime = "7pm"
	_, err := Transform(raw, nil, time.UTC)
	var pe *dates.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *dates.ParseError", err)
	}
	if pe.Field != "time" {
		t.Errorf("field = %s", pe.Field)
	}
}

func TestGroupDisplayName(t *testing.T) {
	g := model.Group{ID: 5, Name: "Sharks", AgeGroup: "U16", Gender: "Boys", SkillLevel: "A"}
	cases := []struct {
		name string
		cfg  *model.GroupsDisplayConfig
		want string
	}{
		{"default", nil, "U16 Boys A Sharks"},
		{"custom order", &model.GroupsDisplayConfig{Format: []string{"name", "age_group"}, Separator: " · "}, "Sharks · U16"},
		{"override", &model.GroupsDisplayConfig{Overrides: map[int64]string{5: "First Team"}}, "First Team"},
		{"blank override ignored", &model.GroupsDisplayConfig{Overrides: map[int64]string{5: "  "}}, "U16 Boys A Sharks"},
		{"unknown fields", &model.GroupsDisplayConfig{Format: []string{"coach"}}, "Group 5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GroupDisplayName(g, tc.cfg); got != tc.want {
				t.Fatalf("GroupDisplayName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTransformAll(t *testing.T) {
	good := rawSession()
	bad := rawSession()
	bad.ID = 43
	bad.Date = "2024-02-30"

	events, failures := TransformAll([]model.SessionRecord{good, bad}, nil, time.UTC)
	if len(events) != 1 || events[0].ID != "session-42" {
		t.Fatalf("events = %+v", events)
	}
	if len(failures) != 1 || failures[0].SessionID != 43 {
		t.Fatalf("failures = %+v", failures)
	}
}

func TestEventJSONCarriesType(t *testing.T) {
	ev, err := Transform(rawSession(), nil, time.UTC)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			GroupName string `json:"group_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != ev.ID || got.Type != "session" || got.Data.GroupName == "" {
		t.Errorf("json = %s", b)
	}
}

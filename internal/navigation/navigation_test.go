package navigation

import (
	"testing"
	"time"

	"teamcal/internal/dates"
	"teamcal/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewStartsToday(t *testing.T) {
	now := time.Date(2024, time.September, 18, 15, 4, 0, 0, time.UTC)
	calls := 0
	n := New(Options{Now: fixedClock(now), OnRangeChange: func(model.DateRange) { calls++ }})

	if n.View() != ViewMonth {
		t.Errorf("default view = %q", n.View())
	}
	if dates.FormatDate(n.CurrentDate()) != "2024-09-18" {
		t.Errorf("current = %s", n.CurrentDate())
	}
	if got := dates.FormatRange(n.DateRange()); got != "2024-09-01 – 2024-09-30" {
		t.Errorf("range = %s", got)
	}
	if calls != 0 {
		t.Errorf("initial state fired %d callbacks", calls)
	}
}

func TestChangeViewFiresBothCallbacks(t *testing.T) {
	now := time.Date(2024, time.September, 18, 0, 0, 0, 0, time.UTC)
	var ranges []model.DateRange
	var views []View
	n := New(Options{
		Now:           fixedClock(now),
		OnRangeChange: func(r model.DateRange) { ranges = append(ranges, r) },
		OnViewChange:  func(v View) { views = append(views, v) },
	})

	n.ChangeView(ViewWeek)
	if len(views) != 1 || views[0] != ViewWeek {
		t.Fatalf("views = %v", views)
	}
	if len(ranges) != 1 {
		t.Fatalf("ranges = %v", ranges)
	}
	// 2024-09-18 is a Wednesday.
	if got := dates.FormatRange(ranges[0]); got != "2024-09-16 – 2024-09-22" {
		t.Errorf("week range = %s", got)
	}

	n.GoToDate(time.Date(2024, time.October, 3, 0, 0, 0, 0, time.UTC))
	if len(views) != 1 {
		t.Error("GoToDate must not fire the view callback")
	}
	if len(ranges) != 2 {
		t.Fatalf("GoToDate fired %d range callbacks", len(ranges)-1)
	}
}

func TestStepByView(t *testing.T) {
	start := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		view     View
		next     string
		previous string
	}{
		{ViewMonth, "2024-02-29", "2023-12-31"},
		{ViewWeek, "2024-02-07", "2024-01-24"},
		{ViewDay, "2024-02-01", "2024-01-30"},
	}
	for _, tc := range cases {
		t.Run(string(tc.view), func(t *testing.T) {
			n := New(Options{DefaultView: tc.view, Now: fixedClock(start)})
			n.GoToNext()
			if got := dates.FormatDate(n.CurrentDate()); got != tc.next {
				t.Errorf("next = %s, want %s", got, tc.next)
			}
			n.GoToDate(start)
			n.GoToPrevious()
			if got := dates.FormatDate(n.CurrentDate()); got != tc.previous {
				t.Errorf("previous = %s, want %s", got, tc.previous)
			}
		})
	}
}

func TestDefaultWeekStartsMonday(t *testing.T) {
	now := time.Date(2024, time.September, 18, 0, 0, 0, 0, time.UTC)
	n := New(Options{DefaultView: ViewWeek, Now: fixedClock(now)})
	rng := n.DateRange()
	if rng.Start.Weekday() != time.Monday {
		t.Fatalf("week starts on %s", rng.Start.Weekday())
	}
	if got := dates.FormatRange(rng); got != "2024-09-16 – 2024-09-22" {
		t.Errorf("week range = %s", got)
	}
}

func TestGoToTodayAndWeekStart(t *testing.T) {
	now := time.Date(2024, time.September, 18, 0, 0, 0, 0, time.UTC)
	n := New(Options{DefaultView: ViewWeek, SundayFirst: true, Now: fixedClock(now)})
	n.GoToNext()
	n.GoToNext()
	n.GoToToday()
	if !dates.SameDay(n.CurrentDate(), now) {
		t.Fatalf("current = %s", n.CurrentDate())
	}
	if got := dates.FormatRange(n.DateRange()); got != "2024-09-15 – 2024-09-21" {
		t.Errorf("sunday week = %s", got)
	}
}

func TestCurrentDateUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 20:00 UTC on the 18th is already the 19th at UTC+10.
	now := time.Date(2024, time.September, 18, 20, 0, 0, 0, time.UTC)
	n := New(Options{DefaultView: ViewDay, Now: fixedClock(now), Location: loc})
	if got := dates.FormatDate(n.CurrentDate()); got != "2024-09-19" {
		t.Errorf("current = %s", got)
	}
}

func TestParseView(t *testing.T) {
	for in, want := range map[string]View{"month": ViewMonth, " Week ": ViewWeek, "DAY": ViewDay} {
		got, err := ParseView(in)
		if err != nil || got != want {
			t.Errorf("ParseView(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseView("year"); err == nil {
		t.Error("ParseView(year) should fail")
	}
}

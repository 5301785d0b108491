// Package navigation holds the current date and view of one calendar and
// computes the date range it shows.
package navigation

import (
	"fmt"
	"strings"
	"time"

	"teamcal/internal/dates"
	"teamcal/internal/model"
)

// View is the granularity of the calendar.
type View string

const (
	ViewMonth View = "month"
	ViewWeek  View = "week"
	ViewDay   View = "day"
)

// ParseView accepts "month", "week" or "day" in any case.
func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case ViewMonth, ViewWeek, ViewDay:
		return v, nil
	default:
		return "", fmt.Errorf("unknown calendar view %q", s)
	}
}

// Options configures a Navigator. Zero values fall back to month view, the
// wall clock, UTC and Monday-start weeks.
type Options struct {
	DefaultView View
	Now         func() time.Time
	Location    *time.Location
	// SundayFirst starts weeks on Sunday instead of Monday.
	SundayFirst   bool
	OnRangeChange func(model.DateRange)
	OnViewChange  func(View)
}

// Navigator is the month/week/day navigation state of one calendar.
// It is not safe for concurrent use.
type Navigator struct {
	current time.Time
	view    View
	rng     model.DateRange

	now           func() time.Time
	loc           *time.Location
	weekStart     time.Weekday
	onRangeChange func(model.DateRange)
	onViewChange  func(View)
}

// New returns a Navigator positioned on today. No callback fires for the
// initial state.
func New(opts Options) *Navigator {
	n := &Navigator{
		view:          opts.DefaultView,
		now:           opts.Now,
		loc:           opts.Location,
		weekStart:     time.Monday,
		onRangeChange: opts.OnRangeChange,
		onViewChange:  opts.OnViewChange,
	}
	if opts.SundayFirst {
		n.weekStart = time.Sunday
	}
	if n.view == "" {
		n.view = ViewMonth
	}
	if n.now == nil {
		n.now = time.Now
	}
	if n.loc == nil {
		n.loc = time.UTC
	}
	n.current = n.today()
	n.rng = n.rangeFor(n.current, n.view)
	return n
}

func (n *Navigator) today() time.Time {
	return dates.StartOfDay(n.now().In(n.loc))
}

func (n *Navigator) rangeFor(d time.Time, v View) model.DateRange {
	switch v {
	case ViewWeek:
		return dates.WeekRangeFrom(d, n.weekStart)
	case ViewDay:
		return dates.DayRange(d)
	default:
		return dates.MonthRange(d)
	}
}

// CurrentDate is the day the calendar is focused on.
func (n *Navigator) CurrentDate() time.Time { return n.current }

// View is the active view.
func (n *Navigator) View() View { return n.view }

// DateRange is the range shown for the current date and view.
func (n *Navigator) DateRange() model.DateRange { return n.rng }

// GoToDate focuses d and notifies the range listener.
func (n *Navigator) GoToDate(d time.Time) {
	n.current = dates.StartOfDay(d.In(n.loc))
	n.rng = n.rangeFor(n.current, n.view)
	if n.onRangeChange != nil {
		n.onRangeChange(n.rng)
	}
}

// GoToToday focuses the current day.
func (n *Navigator) GoToToday() {
	n.GoToDate(n.today())
}

// ChangeView switches to v, keeping the current date, and notifies both the
// view and range listeners.
func (n *Navigator) ChangeView(v View) {
	n.view = v
	n.rng = n.rangeFor(n.current, v)
	if n.onViewChange != nil {
		n.onViewChange(v)
	}
	if n.onRangeChange != nil {
		n.onRangeChange(n.rng)
	}
}

// GoToPrevious steps back one unit of the current view.
func (n *Navigator) GoToPrevious() {
	n.GoToDate(n.step(-1))
}

// GoToNext steps forward one unit of the current view.
func (n *Navigator) GoToNext() {
	n.GoToDate(n.step(1))
}

func (n *Navigator) step(dir int) time.Time {
	switch n.view {
	case ViewWeek:
		return n.current.AddDate(0, 0, 7*dir)
	case ViewDay:
		return n.current.AddDate(0, 0, dir)
	default:
		return dates.AddMonths(n.current, dir)
	}
}

package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"teamcal/internal/apperror"
	"teamcal/internal/cache"
	"teamcal/internal/dates"
	"teamcal/internal/event"
	"teamcal/internal/ics"
	appLog "teamcal/internal/log"
	"teamcal/internal/model"
	"teamcal/internal/navigation"
	"teamcal/internal/season"
)

// calendarResponse is the JSON response shape for /api/calendar.
type calendarResponse struct {
	View           navigation.View    `json:"view"`
	CurrentDate    string             `json:"current_date"`
	Range          model.DateRange    `json:"range"`
	Label          string             `json:"label"`
	Season         model.Season       `json:"season"`
	Events         []model.Event      `json:"events"`
	Days           []season.DayStatus `json:"days"`
	FailedSessions []int64            `json:"failed_sessions,omitempty"`
}

// handleCalendar returns the sessions and day annotations of one view.
//
// GET /api/calendar?tenant=1&season=2&group=3&view=week&date=2024-09-18&nav=next
//   - view: month (default from config), week or day
//   - date: anchor day, today when absent
//   - nav:  prev, next or today, applied after the anchor
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	tenantID, err := tenantParam(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	seasonID, err := requiredID(q.Get("season"), "season")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	groupID, err := optionalID(q.Get("group"), "group")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	nav, err := s.navigator(q.Get("view"), q.Get("date"), q.Get("nav"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	rng := nav.DateRange()

	key := cache.Key(tenantID, "cal",
		strconv.FormatInt(seasonID, 10), strconv.FormatInt(groupID, 10),
		string(nav.View()), dates.FormatDate(rng.Start), dates.FormatDate(nav.CurrentDate()))
	if s.deps.Cache != nil {
		if body, ok, err := s.deps.Cache.Get(ctx, key); err != nil {
			appLog.Warn("calendar cache read failed", "key", key, "err", err)
		} else if ok {
			writeRaw(w, body)
			return
		}
	}

	appLog.Debug("api calendar request",
		"tenant_id", tenantID,
		"season_id", seasonID,
		"view", nav.View(),
		"range", dates.FormatRange(rng),
	)

	se, err := s.deps.Store.GetSeason(ctx, tenantID, seasonID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	events, failed, err := s.events(r, model.SessionQuery{TenantID: tenantID, SeasonID: seasonID, GroupID: groupID, Range: rng})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	body, err := json.Marshal(calendarResponse{
		View:           nav.View(),
		CurrentDate:    dates.FormatDate(nav.CurrentDate()),
		Range:          rng,
		Label:          dates.FormatRange(rng),
		Season:         se,
		Events:         events,
		Days:           season.Annotate(rng, se),
		FailedSessions: failed,
	})
	if err != nil {
		writeAppError(w, r, apperror.NewInternal(err))
		return
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, key, body); err != nil {
			appLog.Warn("calendar cache write failed", "key", key, "err", err)
		}
	}
	writeRaw(w, body)
}

// navigator positions a fresh Navigator from request parameters.
func (s *Server) navigator(viewParam, dateParam, navParam string) (*navigation.Navigator, error) {
	view := navigation.View(s.cfg.DefaultView)
	if viewParam != "" {
		v, err := navigation.ParseView(viewParam)
		if err != nil {
			return nil, apperror.NewBadRequest(err.Error())
		}
		view = v
	}

	nav := navigation.New(navigation.Options{
		DefaultView: view,
		Now:         s.deps.Now,
		Location:    s.deps.Location,
		SundayFirst: s.cfg.FirstWeekday() == time.Sunday,
	})
	if dateParam != "" {
		d, err := dates.ParseDate(dateParam, s.deps.Location)
		if err != nil {
			return nil, apperror.NewBadRequest(err.Error())
		}
		nav.GoToDate(d)
	}
	switch navParam {
	case "":
	case "prev":
		nav.GoToPrevious()
	case "next":
		nav.GoToNext()
	case "today":
		nav.GoToToday()
	default:
		return nil, apperror.NewBadRequest("nav must be prev, next or today")
	}
	return nav, nil
}

// events loads and adapts the sessions matching q. Records that cannot be
// adapted are logged and reported by id.
func (s *Server) events(r *http.Request, q model.SessionQuery) ([]model.Event, []int64, error) {
	ctx := r.Context()
	raws, err := s.deps.Store.ListSessions(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	display, err := s.deps.Store.GroupsDisplayConfig(ctx, q.TenantID)
	if err != nil {
		return nil, nil, err
	}
	if display == nil {
		display = s.cfg.GroupsDisplay
	}

	events, failures := event.TransformAll(raws, display, s.deps.Location)
	var failed []int64
	for _, f := range failures {
		appLog.Warn("skipping malformed session", "session_id", f.SessionID, "tenant_id", q.TenantID, "err", f.Err)
		failed = append(failed, f.SessionID)
	}
	return events, failed, nil
}

// handleCalendarICS exports sessions as an iCalendar document.
//
// GET /api/calendar.ics?tenant=1&season=2&group=3&from=2024-09-01&to=2025-06-30
// Without from/to the current month is exported.
func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tenantID, err := tenantParam(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	seasonID, err := optionalID(q.Get("season"), "season")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	groupID, err := optionalID(q.Get("group"), "group")
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	rng := dates.MonthRange(s.deps.Now().In(s.deps.Location))
	if from := q.Get("from"); from != "" {
		d, err := dates.ParseDate(from, s.deps.Location)
		if err != nil {
			writeAppError(w, r, apperror.NewBadRequest(err.Error()))
			return
		}
		rng.Start = d
	}
	if to := q.Get("to"); to != "" {
		d, err := dates.ParseDate(to, s.deps.Location)
		if err != nil {
			writeAppError(w, r, apperror.NewBadRequest(err.Error()))
			return
		}
		rng.End = dates.EndOfDay(d)
	}
	if rng.End.Before(rng.Start) {
		writeAppError(w, r, apperror.NewBadRequest("to is before from"))
		return
	}

	events, _, err := s.events(r, model.SessionQuery{TenantID: tenantID, SeasonID: seasonID, GroupID: groupID, Range: rng})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	body := ics.Export(events, ics.ExportOptions{
		Name:  "teamcal " + dates.FormatRange(rng),
		Stamp: s.deps.Now(),
	})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="teamcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

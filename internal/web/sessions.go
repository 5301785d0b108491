package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"teamcal/internal/apperror"
	"teamcal/internal/attendance"
	"teamcal/internal/breaksync"
	"teamcal/internal/dates"
	appLog "teamcal/internal/log"
	"teamcal/internal/model"
	"teamcal/internal/recurring"
)

const maxBodyBytes = 1 << 20

// generateRequest is the body of POST /api/sessions/generate.
type generateRequest struct {
	TenantID  int64              `json:"tenant_id"`
	SeasonID  int64              `json:"season_id"`
	StartDate string             `json:"start_date"`
	Weekdays  []int              `json:"weekdays"`
	Template  recurring.Template `json:"template"`
	// DryRun previews the sessions without storing them.
	DryRun bool `json:"dry_run"`
}

// handleGenerate expands a weekly pattern into sessions and stores them.
// An invalid start date or an empty result is answered with 422 and the
// generator's message.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeAppError(w, r, apperror.NewBadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.TenantID <= 0 || req.SeasonID <= 0 {
		writeAppError(w, r, apperror.NewBadRequest("tenant_id and season_id are required"))
		return
	}
	start, err := dates.ParseDate(req.StartDate, s.deps.Location)
	if err != nil {
		writeAppError(w, r, apperror.NewBadRequest(err.Error()))
		return
	}
	if err := validateTemplate(req.Template, req.StartDate, s); err != nil {
		writeAppError(w, r, err)
		return
	}

	se, err := s.deps.Store.GetSeason(ctx, req.TenantID, req.SeasonID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	res := recurring.Generate(start, se, req.Template, req.Weekdays)
	if !res.IsStartDateValid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	if req.DryRun {
		writeJSON(w, http.StatusOK, res)
		return
	}

	stored, err := s.deps.Store.InsertSessions(ctx, req.TenantID, res.Sessions)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res.Sessions = stored
	s.invalidate(ctx, req.TenantID)

	appLog.Info("sessions generated",
		"tenant_id", req.TenantID,
		"season_id", req.SeasonID,
		"group_id", req.Template.GroupID,
		"count", len(stored),
	)
	writeJSON(w, http.StatusCreated, res)
}

func validateTemplate(t recurring.Template, day string, s *Server) error {
	if t.GroupID <= 0 {
		return apperror.NewValidation("template.group_id is required")
	}
	start, err := dates.ParseDateTime(day, t.StartTime, s.deps.Location)
	if err != nil {
		return apperror.NewValidation(err.Error())
	}
	end, err := dates.ParseDateTime(day, t.EndTime, s.deps.Location)
	if err != nil {
		return apperror.NewValidation(err.Error())
	}
	if !end.After(start) {
		return apperror.NewValidation("template.end_time must be after start_time")
	}
	return nil
}

// attendanceResponse is the JSON response shape for the attendance sheet.
type attendanceResponse struct {
	Session      model.SessionRecord   `json:"session"`
	Rows         []model.AttendanceRow `json:"rows"`
	Stats        model.AttendanceStats `json:"stats"`
	NotCheckedIn []int64               `json:"not_checked_in"`
}

// attendanceSheet loads one session with its performer rows.
func (s *Server) attendanceSheet(r *http.Request, tenantID, sessionID int64) (model.SessionRecord, []model.AttendanceRow, error) {
	ctx := r.Context()
	sess, err := s.deps.Store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return sess, nil, err
	}
	roster, err := s.deps.Store.ListRoster(ctx, tenantID, sess.GroupID)
	if err != nil {
		return sess, nil, err
	}
	records, err := s.deps.Store.ListAttendance(ctx, tenantID, sessionID)
	if err != nil {
		return sess, nil, err
	}
	return sess, attendance.ToRows(roster, records), nil
}

func (s *Server) handleAttendance(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	sessionID, err := pathID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	sess, rows, err := s.attendanceSheet(r, tenantID, sessionID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attendanceResponse{
		Session:      sess,
		Rows:         rows,
		Stats:        attendance.Stats(rows),
		NotCheckedIn: attendance.NotCheckedIn(rows),
	})
}

// closeResponse is the JSON response shape for a session close.
type closeResponse struct {
	Payload model.ClosePayload   `json:"payload"`
	Summary model.SessionSummary `json:"summary"`
}

// handleClose marks every performer without a check-in absent and stores the
// session summary. A repeated Idempotency-Key returns the first summary.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenantParam(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	sessionID, err := pathID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	_, rows, err := s.attendanceSheet(r, tenantID, sessionID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	payload := attendance.NewClosePayload(sessionID, rows)
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		payload.IdempotencyKey = key
	}
	stats := attendance.Stats(attendance.Finalize(rows, model.StatusAbsent))

	summary, err := s.deps.Store.CloseSession(ctx, tenantID, payload, model.StatusAbsent, stats)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.invalidate(ctx, tenantID)

	appLog.Info("session closed",
		"tenant_id", tenantID,
		"session_id", sessionID,
		"absent", summary.Stats.Absent,
		"idempotency_key", payload.IdempotencyKey,
	)
	w.Header().Set("Idempotency-Key", payload.IdempotencyKey)
	writeJSON(w, http.StatusOK, closeResponse{Payload: payload, Summary: summary})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenantParam(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	sessionID, err := pathID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := s.deps.Store.DeleteSession(ctx, tenantID, sessionID); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.invalidate(ctx, tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// breakSyncResponse is the JSON response shape for an on-demand import.
type breakSyncResponse struct {
	Results []breaksync.FeedResult `json:"results"`
	Error   string                 `json:"error,omitempty"`
}

// handleBreakSync imports the holiday feeds of one season now instead of
// waiting for the refresh schedule.
func (s *Server) handleBreakSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "holiday import is not configured")
		return
	}
	tenantID, err := tenantParam(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	seasonID, err := pathID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	results, err := s.deps.Syncer.SyncSeason(r.Context(), tenantID, seasonID)
	switch {
	case errors.Is(err, breaksync.ErrNoFeeds):
		writeAppError(w, r, apperror.NewNotFound(err.Error()))
	case err != nil && len(results) == 0:
		writeAppError(w, r, err)
	case err != nil:
		writeJSON(w, http.StatusBadGateway, breakSyncResponse{Results: results, Error: "one or more feeds failed"})
	default:
		writeJSON(w, http.StatusOK, breakSyncResponse{Results: results})
	}
}

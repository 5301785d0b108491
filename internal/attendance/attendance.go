// Package attendance joins a session roster with its check-ins, summarizes
// them and drives the session close lifecycle.
package attendance

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"teamcal/internal/model"
)

// ToRows left-joins the performers of roster against records by member id.
// Members without a record get nil status, check-in time and type.
// Roster order is preserved.
func ToRows(roster []model.RosterEntry, records []model.AttendanceRecord) []model.AttendanceRow {
	byMember := make(map[int64]model.AttendanceRecord, len(records))
	for _, r := range records {
		if _, dup := byMember[r.MemberID]; !dup {
			byMember[r.MemberID] = r
		}
	}

	rows := make([]model.AttendanceRow, 0, len(roster))
	for _, e := range roster {
		if e.Role != model.RolePerformer {
			continue
		}
		row := model.AttendanceRow{
			ID:          e.ID,
			PerformerID: e.MemberID,
			TenantID:    e.TenantID,
			Performer:   e.Member,
		}
		if rec, ok := byMember[e.MemberID]; ok {
			id := rec.ID
			row.AttendanceRecordID = &id
			row.CheckInTime = rec.CheckInTime
			row.Status = rec.Status
			row.CheckInType = rec.CheckInType
		}
		rows = append(rows, row)
	}
	return rows
}

// NotCheckedIn returns the member ids of rows without a status.
func NotCheckedIn(rows []model.AttendanceRow) []int64 {
	ids := make([]int64, 0)
	for _, r := range rows {
		if r.Status == nil {
			ids = append(ids, r.PerformerID)
		}
	}
	return ids
}

// Stats summarizes rows. Rates are whole percentages of the total and are
// zero when there are no rows.
func Stats(rows []model.AttendanceRow) model.AttendanceStats {
	var st model.AttendanceStats
	st.Total = len(rows)
	for _, r := range rows {
		if r.Status == nil {
			st.NotCheckedIn++
			continue
		}
		switch *r.Status {
		case model.StatusPresent:
			st.Present++
		case model.StatusLate:
			st.Late++
		case model.StatusAbsent:
			st.Absent++
		}
	}
	st.CheckedIn = st.Present + st.Late
	if st.Total > 0 {
		st.AttendanceRate = percent(st.CheckedIn, st.Total)
		st.OnTimeRate = percent(st.Present, st.Total)
	}
	return st
}

func percent(n, total int) int {
	return int(math.Round(float64(n) / float64(total) * 100))
}

// Finalize returns a copy of rows in which every row without a status gets
// terminal. The input is not modified.
func Finalize(rows []model.AttendanceRow, terminal model.AttendanceStatus) []model.AttendanceRow {
	out := make([]model.AttendanceRow, len(rows))
	copy(out, rows)
	for i := range out {
		if out[i].Status == nil {
			st := terminal
			out[i].Status = &st
		}
	}
	return out
}

// NewClosePayload builds the close request for sessionID with a fresh
// idempotency key. Retries of the same close must resend the returned value.
func NewClosePayload(sessionID int64, rows []model.AttendanceRow) model.ClosePayload {
	return model.ClosePayload{
		SessionID:             sessionID,
		NotCheckedInMemberIDs: NotCheckedIn(rows),
		IdempotencyKey:        uuid.NewString(),
	}
}

// ErrInvalidTransition is returned for lifecycle moves the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid session state transition")

var transitions = map[model.SessionState][]model.SessionState{
	model.SessionActive:  {model.SessionClosing, model.SessionDeleted},
	model.SessionClosing: {model.SessionClosed},
}

// Transition validates a lifecycle move and returns the new state.
// Closed and Deleted are terminal.
func Transition(from, to model.SessionState) (model.SessionState, error) {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

package model

import "time"

// AttendanceStatus is the check-in outcome of one member for one session.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
	StatusAbsent  AttendanceStatus = "absent"
)

// Valid reports whether s is a known status.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	default:
		return false
	}
}

// RolePerformer is the roster role whose members are tracked for attendance.
const RolePerformer = "performer"

// Member is the person behind a roster entry.
type Member struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Pin       *string `json:"pin,omitempty"`
}

// RosterEntry is one membership of a person in a group.
type RosterEntry struct {
	ID       int64  `json:"id"`
	MemberID int64  `json:"member_id"`
	TenantID int64  `json:"tenant_id"`
	Role     string `json:"role"`
	Member   Member `json:"member"`
}

// AttendanceRecord is a stored check-in for one session.
type AttendanceRecord struct {
	ID          int64             `json:"id"`
	SessionID   int64             `json:"session_id"`
	MemberID    int64             `json:"member_id"`
	CheckInTime *time.Time        `json:"check_in_time,omitempty"`
	Status      *AttendanceStatus `json:"status,omitempty"`
	CheckInType *string           `json:"check_in_type,omitempty"`
	TenantID    int64             `json:"tenant_id"`
}

// AttendanceRow joins a roster entry with its (optional) attendance record.
// A nil Status means the member has not checked in.
type AttendanceRow struct {
	ID                 int64             `json:"id"`
	AttendanceRecordID *int64            `json:"attendance_record_id"`
	PerformerID        int64             `json:"performer_id"`
	TenantID           int64             `json:"tenant_id"`
	CheckInTime        *time.Time        `json:"check_in_time"`
	Status             *AttendanceStatus `json:"status"`
	CheckInType        *string           `json:"check_in_type"`
	Performer          Member            `json:"performer"`
}

// AttendanceStats summarizes the rows of one session.
type AttendanceStats struct {
	Total          int `json:"total"`
	Present        int `json:"present"`
	Late           int `json:"late"`
	Absent         int `json:"absent"`
	NotCheckedIn   int `json:"not_checked_in"`
	CheckedIn      int `json:"checked_in"`
	AttendanceRate int `json:"attendance_rate"`
	OnTimeRate     int `json:"on_time_rate"`
}

// ClosePayload is handed to the aggregate-and-cleanup operation when a
// session is closed. Retries must reuse the same IdempotencyKey.
type ClosePayload struct {
	SessionID             int64   `json:"session_id"`
	NotCheckedInMemberIDs []int64 `json:"not_checked_in_member_ids"`
	IdempotencyKey        string  `json:"idempotency_key"`
}

// SessionState is the lifecycle state of a session's attendance.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionClosing SessionState = "closing"
	SessionClosed  SessionState = "closed"
	SessionDeleted SessionState = "deleted"
)

// SessionSummary is the persisted result of closing a session.
type SessionSummary struct {
	SessionID      int64           `json:"session_id"`
	TenantID       int64           `json:"tenant_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Stats          AttendanceStats `json:"stats"`
	ClosedAt       time.Time       `json:"closed_at"`
}

// Package store persists seasons, sessions, rosters and attendance for all
// tenants. Every read and write is scoped by an explicit tenant id.
package store

import (
	"context"
	"time"

	"teamcal/internal/apperror"
	"teamcal/internal/model"
)

// BreakSourceManual tags breaks entered by hand. Imported breaks carry the
// id of the holiday feed they came from.
const BreakSourceManual = "manual"

// Store is the persistence boundary of the calendar service.
type Store interface {
	// GetSeason returns the season with all its breaks, in storage order.
	GetSeason(ctx context.Context, tenantID, seasonID int64) (model.Season, error)
	// ReplaceBreaks swaps every break of season that came from source.
	ReplaceBreaks(ctx context.Context, tenantID, seasonID int64, source string, breaks []model.SeasonBreak) error

	// ListSessions returns sessions whose date lies in q.Range, ordered by
	// date and start time, with their group attached.
	ListSessions(ctx context.Context, q model.SessionQuery) ([]model.SessionRecord, error)
	GetSession(ctx context.Context, tenantID, sessionID int64) (model.SessionRecord, error)
	// InsertSessions stores all records or none and returns them with ids
	// and tenant assigned.
	InsertSessions(ctx context.Context, tenantID int64, sessions []model.SessionRecord) ([]model.SessionRecord, error)
	// DeleteSession discards an active session without aggregation.
	DeleteSession(ctx context.Context, tenantID, sessionID int64) error

	ListRoster(ctx context.Context, tenantID, groupID int64) ([]model.RosterEntry, error)
	ListAttendance(ctx context.Context, tenantID, sessionID int64) ([]model.AttendanceRecord, error)

	// CloseSession marks the payload's stragglers with terminal, stores the
	// summary and moves the session to closed. Replaying a payload with an
	// already-used idempotency key returns the stored summary.
	CloseSession(ctx context.Context, tenantID int64, p model.ClosePayload, terminal model.AttendanceStatus, stats model.AttendanceStats) (model.SessionSummary, error)

	// GroupsDisplayConfig returns the tenant's group naming, or nil if unset.
	GroupsDisplayConfig(ctx context.Context, tenantID int64) (*model.GroupsDisplayConfig, error)

	Close() error
}

var nowFunc = time.Now

var (
	_ Store = (*Memory)(nil)
	_ Store = (*MySQL)(nil)
)

// replayClose returns the stored summary of an earlier close with the same
// idempotency key. The key only replays for the session and tenant it was
// first used with.
func replayClose(prev model.SessionSummary, tenantID, sessionID int64) (model.SessionSummary, error) {
	if prev.SessionID != sessionID || prev.TenantID != tenantID {
		return model.SessionSummary{}, apperror.NewConflict("idempotency key was used for another session")
	}
	return prev, nil
}

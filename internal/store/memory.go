package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"teamcal/internal/apperror"
	"teamcal/internal/attendance"
	"teamcal/internal/dates"
	"teamcal/internal/model"
)

type taggedBreak struct {
	source string
	model.SeasonBreak
}

type memSeason struct {
	season model.Season
	breaks []taggedBreak
}

// Memory is an in-process Store guarded by a RWMutex. It backs tests and
// single-node deployments without a database.
type Memory struct {
	mu  sync.RWMutex
	loc *time.Location

	nextID     int64
	seasons    map[int64]*memSeason
	groups     map[int64]model.Group
	sessions   map[int64]model.SessionRecord
	roster     map[int64][]model.RosterEntry // by group id
	attendance map[int64][]model.AttendanceRecord
	summaries  map[int64]model.SessionSummary
	closeKeys  map[string]int64
	display    map[int64]*model.GroupsDisplayConfig
}

// NewMemory returns an empty store whose calendar days live in loc.
func NewMemory(loc *time.Location) *Memory {
	if loc == nil {
		loc = time.UTC
	}
	return &Memory{
		loc:        loc,
		seasons:    make(map[int64]*memSeason),
		groups:     make(map[int64]model.Group),
		sessions:   make(map[int64]model.SessionRecord),
		roster:     make(map[int64][]model.RosterEntry),
		attendance: make(map[int64][]model.AttendanceRecord),
		summaries:  make(map[int64]model.SessionSummary),
		closeKeys:  make(map[string]int64),
		display:    make(map[int64]*model.GroupsDisplayConfig),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) day(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, m.loc)
}

// PutSeason stores s. Its breaks are tagged as manual.
func (m *Memory) PutSeason(s model.Season) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.StartDate, s.EndDate = m.day(s.StartDate), m.day(s.EndDate)
	ms := &memSeason{season: s}
	for _, b := range s.Breaks {
		ms.breaks = append(ms.breaks, taggedBreak{BreakSourceManual, model.SeasonBreak{From: m.day(b.From), To: m.day(b.To)}})
	}
	ms.season.Breaks = nil
	m.seasons[s.ID] = ms
}

// PutGroup stores g.
func (m *Memory) PutGroup(g model.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g
}

// PutRoster appends entries to the roster of groupID.
func (m *Memory) PutRoster(groupID int64, entries ...model.RosterEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roster[groupID] = append(m.roster[groupID], entries...)
}

// PutAttendance stores check-ins, replacing an earlier record of the same
// member for the same session.
func (m *Memory) PutAttendance(records ...model.AttendanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.upsertAttendance(r)
	}
}

func (m *Memory) upsertAttendance(r model.AttendanceRecord) {
	list := m.attendance[r.SessionID]
	for i := range list {
		if list[i].MemberID == r.MemberID {
			r.ID = list[i].ID
			list[i] = r
			return
		}
	}
	if r.ID == 0 {
		r.ID = m.id()
	}
	m.attendance[r.SessionID] = append(list, r)
}

// SetGroupsDisplayConfig stores the group naming of tenantID.
func (m *Memory) SetGroupsDisplayConfig(tenantID int64, cfg *model.GroupsDisplayConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.display[tenantID] = cfg
}

func (m *Memory) GetSeason(ctx context.Context, tenantID, seasonID int64) (model.Season, error) {
	if err := ctx.Err(); err != nil {
		return model.Season{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.seasons[seasonID]
	if !ok || ms.season.TenantID != tenantID {
		return model.Season{}, apperror.NewNotFound(fmt.Sprintf("season %d not found", seasonID))
	}
	s := ms.season
	s.Breaks = make([]model.SeasonBreak, 0, len(ms.breaks))
	for _, b := range ms.breaks {
		s.Breaks = append(s.Breaks, b.SeasonBreak)
	}
	return s, nil
}

func (m *Memory) ReplaceBreaks(ctx context.Context, tenantID, seasonID int64, source string, breaks []model.SeasonBreak) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.seasons[seasonID]
	if !ok || ms.season.TenantID != tenantID {
		return apperror.NewNotFound(fmt.Sprintf("season %d not found", seasonID))
	}
	kept := ms.breaks[:0:0]
	for _, b := range ms.breaks {
		if b.source != source {
			kept = append(kept, b)
		}
	}
	for _, b := range breaks {
		kept = append(kept, taggedBreak{source, model.SeasonBreak{From: m.day(b.From), To: m.day(b.To)}})
	}
	ms.breaks = kept
	return nil
}

func (m *Memory) withGroup(s model.SessionRecord) model.SessionRecord {
	if g, ok := m.groups[s.GroupID]; ok && g.TenantID == s.TenantID {
		s.Group = &g
	}
	return s
}

func (m *Memory) ListSessions(ctx context.Context, q model.SessionQuery) ([]model.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, to := dates.FormatDate(q.Range.Start), dates.FormatDate(q.Range.End)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.SessionRecord, 0)
	for _, s := range m.sessions {
		if s.TenantID != q.TenantID || s.State == model.SessionDeleted {
			continue
		}
		if q.SeasonID != 0 && s.SeasonID != q.SeasonID {
			continue
		}
		if q.GroupID != 0 && s.GroupID != q.GroupID {
			continue
		}
		if s.Date < from || s.Date > to {
			continue
		}
		out = append(out, m.withGroup(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetSession(ctx context.Context, tenantID, sessionID int64) (model.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.SessionRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != tenantID || s.State == model.SessionDeleted {
		return model.SessionRecord{}, apperror.NewNotFound(fmt.Sprintf("session %d not found", sessionID))
	}
	return m.withGroup(s), nil
}

func (m *Memory) InsertSessions(ctx context.Context, tenantID int64, sessions []model.SessionRecord) ([]model.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range sessions {
		if _, err := dates.ParseDate(s.Date, m.loc); err != nil {
			return nil, apperror.NewValidation(err.Error())
		}
		if g, ok := m.groups[s.GroupID]; ok && g.TenantID != tenantID {
			return nil, apperror.NewNotFound(fmt.Sprintf("group %d not found", s.GroupID))
		}
	}

	out := make([]model.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		s.ID = m.id()
		s.TenantID = tenantID
		s.State = model.SessionActive
		s.IsAggregated = false
		s.Group = nil
		m.sessions[s.ID] = s
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) DeleteSession(ctx context.Context, tenantID, sessionID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != tenantID {
		return apperror.NewNotFound(fmt.Sprintf("session %d not found", sessionID))
	}
	next, err := attendance.Transition(s.State, model.SessionDeleted)
	if err != nil {
		return apperror.NewConflict(err.Error())
	}
	s.State = next
	m.sessions[sessionID] = s
	delete(m.attendance, sessionID)
	return nil
}

func (m *Memory) ListRoster(ctx context.Context, tenantID, groupID int64) ([]model.RosterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.RosterEntry, 0, len(m.roster[groupID]))
	for _, e := range m.roster[groupID] {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListAttendance(ctx context.Context, tenantID, sessionID int64) ([]model.AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.AttendanceRecord, 0, len(m.attendance[sessionID]))
	for _, r := range m.attendance[sessionID] {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) CloseSession(ctx context.Context, tenantID int64, p model.ClosePayload, terminal model.AttendanceStatus, stats model.AttendanceStats) (model.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return model.SessionSummary{}, err
	}
	if p.IdempotencyKey == "" {
		return model.SessionSummary{}, apperror.NewBadRequest("idempotency key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.closeKeys[p.IdempotencyKey]; ok {
		return replayClose(m.summaries[id], tenantID, p.SessionID)
	}

	s, ok := m.sessions[p.SessionID]
	if !ok || s.TenantID != tenantID {
		return model.SessionSummary{}, apperror.NewNotFound(fmt.Sprintf("session %d not found", p.SessionID))
	}
	closing, err := attendance.Transition(s.State, model.SessionClosing)
	if err != nil {
		return model.SessionSummary{}, apperror.NewConflict(err.Error())
	}
	closed, err := attendance.Transition(closing, model.SessionClosed)
	if err != nil {
		return model.SessionSummary{}, apperror.NewConflict(err.Error())
	}

	for _, memberID := range p.NotCheckedInMemberIDs {
		st := terminal
		m.upsertAttendance(model.AttendanceRecord{SessionID: p.SessionID, MemberID: memberID, Status: &st, TenantID: tenantID})
	}

	sum := model.SessionSummary{
		SessionID:      p.SessionID,
		TenantID:       tenantID,
		IdempotencyKey: p.IdempotencyKey,
		Stats:          stats,
		ClosedAt:       nowFunc().UTC(),
	}
	m.summaries[p.SessionID] = sum
	m.closeKeys[p.IdempotencyKey] = p.SessionID
	s.State = closed
	s.IsAggregated = true
	m.sessions[p.SessionID] = s
	return sum, nil
}

func (m *Memory) GroupsDisplayConfig(ctx context.Context, tenantID int64) (*model.GroupsDisplayConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.display[tenantID], nil
}

func (m *Memory) Close() error { return nil }

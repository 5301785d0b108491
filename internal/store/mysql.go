package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"teamcal/internal/apperror"
	"teamcal/internal/attendance"
	"teamcal/internal/config"
	"teamcal/internal/log"
	"teamcal/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const errDuplicateEntry = 1062

// MySQL is a Store backed by MariaDB/MySQL.
type MySQL struct {
	db  *sql.DB
	loc *time.Location
}

// OpenMySQL connects to the configured server, waiting for it to come up,
// and applies pending migrations. Calendar days are returned in loc.
func OpenMySQL(ctx context.Context, cfg config.DatabaseConfig, loc *time.Location) (*MySQL, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mariadb: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pingWithRetry(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MySQL{db: db, loc: loc}, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB) error {
	const maxRetries = 10
	backoff := time.Second
	var pingErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr = db.PingContext(pctx)
		cancel()
		if pingErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		log.Warn("mariadb not ready, retrying", "attempt", attempt, "backoff", backoff, "err", pingErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
	return fmt.Errorf("ping mariadb after %d attempts: %w", maxRetries, pingErr)
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	log.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

// mapError turns driver errors into apperror values. notFound is used for
// sql.ErrNoRows.
func mapError(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NewNotFound(notFound)
	}
	var me *gomysql.MySQLError
	if errors.As(err, &me) && me.Number == errDuplicateEntry {
		return apperror.NewConflict("record already exists")
	}
	return err
}

func (s *MySQL) day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func sqlDate(t time.Time) string {
	y, m, d := t.Date()
	return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
}

func (s *MySQL) GetSeason(ctx context.Context, tenantID, seasonID int64) (model.Season, error) {
	var season model.Season
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, start_date, end_date, custom_name FROM seasons WHERE id = ? AND tenant_id = ?`,
		seasonID, tenantID,
	).Scan(&season.ID, &season.TenantID, &season.StartDate, &season.EndDate, &season.CustomName)
	if err != nil {
		return model.Season{}, mapError(err, fmt.Sprintf("season %d not found", seasonID))
	}
	season.StartDate, season.EndDate = s.day(season.StartDate), s.day(season.EndDate)

	rows, err := s.db.QueryContext(ctx,
		`SELECT from_date, to_date FROM season_breaks WHERE season_id = ? AND tenant_id = ? ORDER BY id`,
		seasonID, tenantID)
	if err != nil {
		return model.Season{}, fmt.Errorf("query breaks: %w", err)
	}
	defer rows.Close()

	season.Breaks = []model.SeasonBreak{}
	for rows.Next() {
		var b model.SeasonBreak
		if err := rows.Scan(&b.From, &b.To); err != nil {
			return model.Season{}, fmt.Errorf("scan break: %w", err)
		}
		season.Breaks = append(season.Breaks, model.SeasonBreak{From: s.day(b.From), To: s.day(b.To)})
	}
	return season, rows.Err()
}

func (s *MySQL) ReplaceBreaks(ctx context.Context, tenantID, seasonID int64, source string, breaks []model.SeasonBreak) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM seasons WHERE id = ? AND tenant_id = ? FOR UPDATE`, seasonID, tenantID,
	).Scan(&id); err != nil {
		return mapError(err, fmt.Sprintf("season %d not found", seasonID))
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM season_breaks WHERE season_id = ? AND source = ?`, seasonID, source); err != nil {
		return fmt.Errorf("delete breaks: %w", err)
	}
	for _, b := range breaks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO season_breaks (tenant_id, season_id, from_date, to_date, source) VALUES (?, ?, ?, ?, ?)`,
			tenantID, seasonID, sqlDate(b.From), sqlDate(b.To), source); err != nil {
			return fmt.Errorf("insert break: %w", err)
		}
	}
	return tx.Commit()
}

const sessionColumns = `s.id, DATE_FORMAT(s.date, '%Y-%m-%d'), s.start_time, s.end_time, s.location,
	s.tenant_id, s.group_id, s.season_id, s.is_aggregated, s.state,
	g.id, g.tenant_id, g.name, g.age_group, g.gender, g.skill_level, g.color`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.SessionRecord, error) {
	var r model.SessionRecord
	var g model.Group
	err := row.Scan(&r.ID, &r.Date, &r.StartTime, &r.EndTime, &r.Location,
		&r.TenantID, &r.GroupID, &r.SeasonID, &r.IsAggregated, &r.State,
		&g.ID, &g.TenantID, &g.Name, &g.AgeGroup, &g.Gender, &g.SkillLevel, &g.Appearance.Color)
	if err != nil {
		return model.SessionRecord{}, err
	}
	r.Group = &g
	return r, nil
}

func (s *MySQL) ListSessions(ctx context.Context, q model.SessionQuery) ([]model.SessionRecord, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + sessionColumns + `
		FROM sessions s JOIN ` + "`groups`" + ` g ON g.id = s.group_id AND g.tenant_id = s.tenant_id
		WHERE s.tenant_id = ? AND s.state <> 'deleted' AND s.date BETWEEN ? AND ?`)
	args := []any{q.TenantID, sqlDate(q.Range.Start), sqlDate(q.Range.End)}
	if q.SeasonID != 0 {
		b.WriteString(` AND s.season_id = ?`)
		args = append(args, q.SeasonID)
	}
	if q.GroupID != 0 {
		b.WriteString(` AND s.group_id = ?`)
		args = append(args, q.GroupID)
	}
	b.WriteString(` ORDER BY s.date, s.start_time, s.id`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := make([]model.SessionRecord, 0)
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *MySQL) GetSession(ctx context.Context, tenantID, sessionID int64) (model.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM sessions s JOIN `+"`groups`"+` g ON g.id = s.group_id AND g.tenant_id = s.tenant_id
		WHERE s.id = ? AND s.tenant_id = ? AND s.state <> 'deleted'`, sessionID, tenantID)
	r, err := scanSession(row)
	if err != nil {
		return model.SessionRecord{}, mapError(err, fmt.Sprintf("session %d not found", sessionID))
	}
	return r, nil
}

func (s *MySQL) InsertSessions(ctx context.Context, tenantID int64, sessions []model.SessionRecord) ([]model.SessionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sessions (tenant_id, group_id, season_id, date, start_time, end_time, location, state)
		 SELECT ?, g.id, ?, ?, ?, ?, ?, 'active' FROM `+"`groups`"+` g WHERE g.id = ? AND g.tenant_id = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]model.SessionRecord, 0, len(sessions))
	for _, r := range sessions {
		res, err := stmt.ExecContext(ctx, tenantID, r.SeasonID, r.Date, r.StartTime, r.EndTime, r.Location, r.GroupID, tenantID)
		if err != nil {
			return nil, mapError(err, "")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, apperror.NewNotFound(fmt.Sprintf("group %d not found", r.GroupID))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		r.ID, r.TenantID, r.State, r.IsAggregated, r.Group = id, tenantID, model.SessionActive, false, nil
		out = append(out, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sessions: %w", err)
	}
	return out, nil
}

// lockState reads and locks the session row inside tx.
func lockState(ctx context.Context, tx *sql.Tx, tenantID, sessionID int64) (model.SessionState, error) {
	var state model.SessionState
	err := tx.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE id = ? AND tenant_id = ? FOR UPDATE`, sessionID, tenantID,
	).Scan(&state)
	return state, mapError(err, fmt.Sprintf("session %d not found", sessionID))
}

func (s *MySQL) DeleteSession(ctx context.Context, tenantID, sessionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	state, err := lockState(ctx, tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	next, err := attendance.Transition(state, model.SessionDeleted)
	if err != nil {
		return apperror.NewConflict(err.Error())
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET state = ? WHERE id = ?`, next, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	return tx.Commit()
}

func (s *MySQL) ListRoster(ctx context.Context, tenantID, groupID int64) ([]model.RosterEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.member_id, r.tenant_id, r.role, m.first_name, m.last_name, m.pin
		 FROM roster_entries r JOIN members m ON m.id = r.member_id AND m.tenant_id = r.tenant_id
		 WHERE r.tenant_id = ? AND r.group_id = ?
		 ORDER BY m.last_name, m.first_name, r.id`, tenantID, groupID)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	out := make([]model.RosterEntry, 0)
	for rows.Next() {
		var e model.RosterEntry
		var pin sql.NullString
		if err := rows.Scan(&e.ID, &e.MemberID, &e.TenantID, &e.Role, &e.Member.FirstName, &e.Member.LastName, &pin); err != nil {
			return nil, fmt.Errorf("scan roster: %w", err)
		}
		if pin.Valid {
			e.Member.Pin = &pin.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *MySQL) ListAttendance(ctx context.Context, tenantID, sessionID int64) ([]model.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, member_id, check_in_time, status, check_in_type, tenant_id
		 FROM attendance_records WHERE tenant_id = ? AND session_id = ? ORDER BY id`, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	out := make([]model.AttendanceRecord, 0)
	for rows.Next() {
		var r model.AttendanceRecord
		var at sql.NullTime
		var status, kind sql.NullString
		if err := rows.Scan(&r.ID, &r.SessionID, &r.MemberID, &at, &status, &kind, &r.TenantID); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		if at.Valid {
			r.CheckInTime = &at.Time
		}
		if status.Valid {
			st := model.AttendanceStatus(status.String)
			r.Status = &st
		}
		if kind.Valid {
			r.CheckInType = &kind.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *MySQL) summaryByKey(ctx context.Context, key string) (model.SessionSummary, error) {
	var sum model.SessionSummary
	st := &sum.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, tenant_id, idempotency_key, total, present, late, absent,
		        not_checked_in, checked_in, attendance_rate, on_time_rate, closed_at
		 FROM session_summaries WHERE idempotency_key = ?`, key,
	).Scan(&sum.SessionID, &sum.TenantID, &sum.IdempotencyKey, &st.Total, &st.Present, &st.Late, &st.Absent,
		&st.NotCheckedIn, &st.CheckedIn, &st.AttendanceRate, &st.OnTimeRate, &sum.ClosedAt)
	return sum, err
}

func (s *MySQL) CloseSession(ctx context.Context, tenantID int64, p model.ClosePayload, terminal model.AttendanceStatus, stats model.AttendanceStats) (model.SessionSummary, error) {
	if p.IdempotencyKey == "" {
		return model.SessionSummary{}, apperror.NewBadRequest("idempotency key is required")
	}
	prev, err := s.summaryByKey(ctx, p.IdempotencyKey)
	switch {
	case err == nil:
		return replayClose(prev, tenantID, p.SessionID)
	case !errors.Is(err, sql.ErrNoRows):
		return model.SessionSummary{}, fmt.Errorf("lookup close key: %w", err)
	}

	sum, err := s.closeTx(ctx, tenantID, p, terminal, stats)
	return afterCloseConflict(ctx, sum, err, tenantID, p, s.summaryByKey)
}

// afterCloseConflict resolves a close that lost a race with a concurrent
// retry of the same key: the winner's summary is replayed instead of the
// conflict.
func afterCloseConflict(ctx context.Context, sum model.SessionSummary, err error, tenantID int64, p model.ClosePayload,
	lookup func(context.Context, string) (model.SessionSummary, error)) (model.SessionSummary, error) {
	if err == nil || apperror.SafeCode(err) != http.StatusConflict {
		return sum, err
	}
	prev, lerr := lookup(ctx, p.IdempotencyKey)
	if lerr != nil {
		return model.SessionSummary{}, err
	}
	return replayClose(prev, tenantID, p.SessionID)
}

func (s *MySQL) closeTx(ctx context.Context, tenantID int64, p model.ClosePayload, terminal model.AttendanceStatus, stats model.AttendanceStats) (model.SessionSummary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SessionSummary{}, err
	}
	defer tx.Rollback()

	state, err := lockState(ctx, tx, tenantID, p.SessionID)
	if err != nil {
		return model.SessionSummary{}, err
	}
	closing, err := attendance.Transition(state, model.SessionClosing)
	if err != nil {
		return model.SessionSummary{}, apperror.NewConflict(err.Error())
	}
	closed, err := attendance.Transition(closing, model.SessionClosed)
	if err != nil {
		return model.SessionSummary{}, apperror.NewConflict(err.Error())
	}

	for _, memberID := range p.NotCheckedInMemberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attendance_records (tenant_id, session_id, member_id, status) VALUES (?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE status = COALESCE(status, VALUES(status))`,
			tenantID, p.SessionID, memberID, string(terminal)); err != nil {
			return model.SessionSummary{}, fmt.Errorf("mark member %d: %w", memberID, err)
		}
	}

	sum := model.SessionSummary{
		SessionID:      p.SessionID,
		TenantID:       tenantID,
		IdempotencyKey: p.IdempotencyKey,
		Stats:          stats,
		ClosedAt:       nowFunc().UTC().Truncate(time.Second),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_summaries (session_id, tenant_id, idempotency_key, total, present, late, absent,
		   not_checked_in, checked_in, attendance_rate, on_time_rate, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, tenantID, sum.IdempotencyKey, stats.Total, stats.Present, stats.Late, stats.Absent,
		stats.NotCheckedIn, stats.CheckedIn, stats.AttendanceRate, stats.OnTimeRate, sum.ClosedAt); err != nil {
		return model.SessionSummary{}, mapError(err, "")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, is_aggregated = TRUE WHERE id = ?`, closed, p.SessionID); err != nil {
		return model.SessionSummary{}, fmt.Errorf("update session state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.SessionSummary{}, fmt.Errorf("commit close: %w", err)
	}
	return sum, nil
}

func (s *MySQL) GroupsDisplayConfig(ctx context.Context, tenantID int64) (*model.GroupsDisplayConfig, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT groups_display FROM tenant_settings WHERE tenant_id = ?`, tenantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(raw) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant settings: %w", err)
	}
	var cfg model.GroupsDisplayConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode groups display of tenant %d: %w", tenantID, err)
	}
	return &cfg, nil
}

func (s *MySQL) Close() error {
	return s.db.Close()
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	logx "raidbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// mapErr folds driver errors into the storage sentinel kinds so callers can
// distinguish "retry later" from "this write is wrong".
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "busy"),
		strings.Contains(msg, "interrupted"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}

// ---- Raids ----

func (s *sqliteStore) CreateRaid(ctx context.Context, r Raid, roles map[string]int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if r.Status == "" {
		r.Status = RaidScheduled
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO raids(chat_id, message_id, name, starts_at, comment, status, created_by, created_at, reminder_offsets)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ChatID, r.MessageID, r.Name, r.StartsAt.Unix(), r.Comment, string(r.Status), r.CreatedBy, r.CreatedAt.Unix(),
		encodeOffsets(r.ReminderOffsets),
	)
	if err != nil {
		return 0, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for role, capacity := range roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO raid_roles(raid_id, role, capacity) VALUES(?,?,?)`,
			id, role, capacity,
		); err != nil {
			return 0, mapErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

func (s *sqliteStore) Raid(ctx context.Context, id int64) (Raid, error) {
	var (
		r        Raid
		startsAt int64
		created  int64
		status   string
		offsets  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, message_id, name, starts_at, comment, status, created_by, created_at, reminder_offsets
		 FROM raids WHERE id = ?`, id,
	).Scan(&r.ID, &r.ChatID, &r.MessageID, &r.Name, &startsAt, &r.Comment, &status, &r.CreatedBy, &created, &offsets)
	if errors.Is(err, sql.ErrNoRows) {
		return Raid{}, ErrNotFound
	}
	if err != nil {
		return Raid{}, mapErr(err)
	}
	r.StartsAt = time.Unix(startsAt, 0)
	r.CreatedAt = time.Unix(created, 0)
	r.Status = RaidStatus(status)
	r.ReminderOffsets = decodeOffsets(offsets)
	return r, nil
}

func (s *sqliteStore) SetRaidStart(ctx context.Context, id int64, startsAt time.Time) error {
	return s.updateRaidField(ctx, id, "starts_at", startsAt.Unix())
}

func (s *sqliteStore) SetRaidStatus(ctx context.Context, id int64, status RaidStatus) error {
	return s.updateRaidField(ctx, id, "status", string(status))
}

func (s *sqliteStore) SetRaidMessage(ctx context.Context, id int64, messageID int) error {
	return s.updateRaidField(ctx, id, "message_id", messageID)
}

func (s *sqliteStore) updateRaidField(ctx context.Context, id int64, field string, v any) error {
	res, err := s.db.ExecContext(ctx, `UPDATE raids SET `+field+` = ? WHERE id = ?`, v, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteRaid(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM raid_roles WHERE raid_id = ?`,
		`DELETE FROM raid_roster WHERE raid_id = ?`,
		`DELETE FROM raid_reminders WHERE raid_id = ?`,
		`DELETE FROM raids WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit())
}

func (s *sqliteStore) UpcomingRaids(ctx context.Context, chatID int64, now time.Time, limit int) ([]Raid, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, message_id, name, starts_at, comment, status, created_by, created_at, reminder_offsets
		 FROM raids
		 WHERE chat_id = ? AND status = ? AND starts_at >= ?
		 ORDER BY starts_at
		 LIMIT ?`,
		chatID, string(RaidScheduled), now.Unix(), limit,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []Raid
	for rows.Next() {
		var (
			r        Raid
			startsAt int64
			created  int64
			status   string
			offsets  string
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &r.MessageID, &r.Name, &startsAt, &r.Comment, &status, &r.CreatedBy, &created, &offsets); err != nil {
			return nil, err
		}
		r.StartsAt = time.Unix(startsAt, 0)
		r.CreatedAt = time.Unix(created, 0)
		r.Status = RaidStatus(status)
		r.ReminderOffsets = decodeOffsets(offsets)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- Role capacities ----

func (s *sqliteStore) RoleCapacities(ctx context.Context, raidID int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, capacity FROM raid_roles WHERE raid_id = ? ORDER BY role`, raidID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			role     string
			capacity int
		)
		if err := rows.Scan(&role, &capacity); err != nil {
			return nil, err
		}
		out[role] = capacity
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetRoleCapacity(ctx context.Context, raidID int64, role string, capacity int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raid_roles(raid_id, role, capacity) VALUES(?,?,?)
		 ON CONFLICT(raid_id, role) DO UPDATE SET capacity = excluded.capacity`,
		raidID, role, capacity,
	)
	return mapErr(err)
}

// ---- Roster ----

func (s *sqliteStore) AddRosterEntry(ctx context.Context, raidID, userID int64, role string, state EntryState) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Claim the next raid-scoped position under the same transaction.
	var pos int64
	err = tx.QueryRowContext(ctx, `SELECT next_position FROM raids WHERE id = ?`, raidID).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE raids SET next_position = ? WHERE id = ?`, pos+1, raidID); err != nil {
		return 0, mapErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO raid_roster(raid_id, user_id, role, position, state) VALUES(?,?,?,?,?)`,
		raidID, userID, role, pos, string(state),
	); err != nil {
		return 0, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, mapErr(err)
	}
	return pos, nil
}

func (s *sqliteStore) RosterEntry(ctx context.Context, raidID, userID int64) (RosterEntry, error) {
	var (
		e     RosterEntry
		state string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT raid_id, user_id, role, position, state FROM raid_roster
		 WHERE raid_id = ? AND user_id = ?`, raidID, userID,
	).Scan(&e.RaidID, &e.UserID, &e.Role, &e.Position, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return RosterEntry{}, ErrNotFound
	}
	if err != nil {
		return RosterEntry{}, mapErr(err)
	}
	e.State = EntryState(state)
	return e, nil
}

func (s *sqliteStore) RosterEntries(ctx context.Context, raidID int64) ([]RosterEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT raid_id, user_id, role, position, state FROM raid_roster
		 WHERE raid_id = ? ORDER BY position`, raidID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []RosterEntry
	for rows.Next() {
		var (
			e     RosterEntry
			state string
		)
		if err := rows.Scan(&e.RaidID, &e.UserID, &e.Role, &e.Position, &state); err != nil {
			return nil, err
		}
		e.State = EntryState(state)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetRosterState(ctx context.Context, raidID, userID int64, from, to EntryState) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raid_roster SET state = ? WHERE raid_id = ? AND user_id = ? AND state = ?`,
		string(to), raidID, userID, string(from),
	)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) SetRosterRole(ctx context.Context, raidID, userID int64, role string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raid_roster SET role = ? WHERE raid_id = ? AND user_id = ?`,
		role, raidID, userID,
	)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) RemoveRosterEntry(ctx context.Context, raidID, userID int64) (RosterEntry, error) {
	e, err := s.RosterEntry(ctx, raidID, userID)
	if err != nil {
		return RosterEntry{}, err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM raid_roster WHERE raid_id = ? AND user_id = ?`, raidID, userID,
	); err != nil {
		return RosterEntry{}, mapErr(err)
	}
	return e, nil
}

// ---- Reminders ----

func (s *sqliteStore) ReplaceReminder(ctx context.Context, job ReminderJob) error {
	if job.State == "" {
		job.State = JobPending
	}
	// Upsert keyed by (raid, offset); a fired job is never overwritten, so
	// rescheduling cannot resurrect an already-sent notification.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raid_reminders(raid_id, offset_minutes, fire_at, state) VALUES(?,?,?,?)
		 ON CONFLICT(raid_id, offset_minutes) DO UPDATE
		 SET fire_at = excluded.fire_at, state = excluded.state
		 WHERE raid_reminders.state != 'fired'`,
		job.RaidID, job.OffsetMinutes, job.FireAt.Unix(), string(job.State),
	)
	return mapErr(err)
}

func (s *sqliteStore) MarkReminderFired(ctx context.Context, raidID int64, offsetMinutes int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raid_reminders SET state = 'fired'
		 WHERE raid_id = ? AND offset_minutes = ? AND state = 'pending'`,
		raidID, offsetMinutes,
	)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) CancelReminder(ctx context.Context, raidID int64, offsetMinutes int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raid_reminders SET state = 'cancelled'
		 WHERE raid_id = ? AND offset_minutes = ? AND state = 'pending'`,
		raidID, offsetMinutes,
	)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) CancelPendingReminders(ctx context.Context, raidID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raid_reminders SET state = 'cancelled'
		 WHERE raid_id = ? AND state = 'pending'`, raidID,
	)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) DueReminders(ctx context.Context, now time.Time) ([]ReminderJob, error) {
	return s.queryReminders(ctx,
		`SELECT raid_id, offset_minutes, fire_at, state FROM raid_reminders
		 WHERE state = 'pending' AND fire_at <= ?
		 ORDER BY fire_at, offset_minutes DESC`, now.Unix())
}

func (s *sqliteStore) NextReminder(ctx context.Context) (ReminderJob, bool, error) {
	jobs, err := s.queryReminders(ctx,
		`SELECT raid_id, offset_minutes, fire_at, state FROM raid_reminders
		 WHERE state = 'pending'
		 ORDER BY fire_at, offset_minutes DESC
		 LIMIT 1`)
	if err != nil {
		return ReminderJob{}, false, err
	}
	if len(jobs) == 0 {
		return ReminderJob{}, false, nil
	}
	return jobs[0], true, nil
}

func (s *sqliteStore) RemindersForRaid(ctx context.Context, raidID int64) ([]ReminderJob, error) {
	return s.queryReminders(ctx,
		`SELECT raid_id, offset_minutes, fire_at, state FROM raid_reminders
		 WHERE raid_id = ? ORDER BY fire_at`, raidID)
}

func (s *sqliteStore) queryReminders(ctx context.Context, q string, args ...any) ([]ReminderJob, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []ReminderJob
	for rows.Next() {
		var (
			j      ReminderJob
			fireAt int64
			state  string
		)
		if err := rows.Scan(&j.RaidID, &j.OffsetMinutes, &fireAt, &state); err != nil {
			return nil, err
		}
		j.FireAt = time.Unix(fireAt, 0)
		j.State = JobState(state)
		out = append(out, j)
	}
	return out, rows.Err()
}

// ---- Attendance ----

func (s *sqliteStore) AppendAttendance(ctx context.Context, rec AttendanceRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Skip when the latest row for this (raid, user) already says the same.
	var (
		lastRole   string
		lastStatus string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT role, status FROM attendance_log
		 WHERE raid_id = ? AND user_id = ?
		 ORDER BY id DESC LIMIT 1`, rec.RaidID, rec.UserID,
	).Scan(&lastRole, &lastStatus)
	if err == nil && lastRole == rec.Role && lastStatus == string(rec.Status) {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return mapErr(err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO attendance_log(raid_id, user_id, role, status, recorded_at) VALUES(?,?,?,?,?)`,
		rec.RaidID, rec.UserID, rec.Role, string(rec.Status), rec.RecordedAt.Unix(),
	); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}

func (s *sqliteStore) AttendanceHistory(ctx context.Context, userID int64, limit int) ([]AttendanceRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, raid_id, user_id, role, status, recorded_at FROM attendance_log
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []AttendanceRecord
	for rows.Next() {
		var (
			r        AttendanceRecord
			status   string
			recorded int64
		)
		if err := rows.Scan(&r.ID, &r.RaidID, &r.UserID, &r.Role, &status, &recorded); err != nil {
			return nil, err
		}
		r.Status = AttendanceStatus(status)
		r.RecordedAt = time.Unix(recorded, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- Templates ----

func (s *sqliteStore) SaveTemplate(ctx context.Context, t Template) (int64, error) {
	rolesJSON, err := json.Marshal(t.Roles)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO raid_templates(name, roles_json, comment, reminder_offsets)
		 VALUES(?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   roles_json = excluded.roles_json,
		   comment = excluded.comment,
		   reminder_offsets = excluded.reminder_offsets`,
		t.Name, string(rolesJSON), t.Comment, encodeOffsets(t.ReminderOffset),
	)
	if err != nil {
		return 0, mapErr(err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM raid_templates WHERE name = ?`, t.Name,
	).Scan(&id); err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

func (s *sqliteStore) Template(ctx context.Context, name string) (Template, error) {
	var (
		t         Template
		rolesJSON string
		offsets   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, roles_json, comment, reminder_offsets FROM raid_templates WHERE name = ?`, name,
	).Scan(&t.ID, &t.Name, &rolesJSON, &t.Comment, &offsets)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, mapErr(err)
	}
	if err := json.Unmarshal([]byte(rolesJSON), &t.Roles); err != nil {
		return Template{}, err
	}
	t.ReminderOffset = decodeOffsets(offsets)
	return t, nil
}

func (s *sqliteStore) Templates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, roles_json, comment, reminder_offsets FROM raid_templates ORDER BY name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var (
			t         Template
			rolesJSON string
			offsets   string
		)
		if err := rows.Scan(&t.ID, &t.Name, &rolesJSON, &t.Comment, &offsets); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rolesJSON), &t.Roles); err != nil {
			return nil, err
		}
		t.ReminderOffset = decodeOffsets(offsets)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteTemplate(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM raid_templates WHERE name = ?`, name)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---- Schedules ----

func (s *sqliteStore) CreateSchedule(ctx context.Context, sc Schedule) (int64, error) {
	rolesJSON, err := json.Marshal(sc.Roles)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO raid_schedules(chat_id, template_id, name_pattern, spec, lead_time_sec, roles_json, comment, reminder_offsets, created_by)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		sc.ChatID, sc.TemplateID, sc.NamePattern, sc.Spec, int64(sc.LeadTime/time.Second),
		string(rolesJSON), sc.Comment, encodeOffsets(sc.ReminderOffset), sc.CreatedBy,
	)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) Schedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, template_id, name_pattern, spec, lead_time_sec, roles_json, comment, reminder_offsets, created_by
		 FROM raid_schedules ORDER BY id`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var (
			sc        Schedule
			leadSec   int64
			rolesJSON string
			offsets   string
		)
		if err := rows.Scan(&sc.ID, &sc.ChatID, &sc.TemplateID, &sc.NamePattern, &sc.Spec,
			&leadSec, &rolesJSON, &sc.Comment, &offsets, &sc.CreatedBy); err != nil {
			return nil, err
		}
		sc.LeadTime = time.Duration(leadSec) * time.Second
		if err := json.Unmarshal([]byte(rolesJSON), &sc.Roles); err != nil {
			return nil, err
		}
		sc.ReminderOffset = decodeOffsets(offsets)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM raid_schedules WHERE id = ?`, id)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// encodeOffsets stores reminder offsets as a comma-joined minutes list.
func encodeOffsets(offsets []int) string {
	if len(offsets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(offsets))
	for _, o := range offsets {
		if o <= 0 {
			continue
		}
		parts = append(parts, strconv.Itoa(o))
	}
	return strings.Join(parts, ",")
}

func decodeOffsets(raw string) []int {
	if raw == "" {
		return nil
	}
	var out []int
	for _, chunk := range strings.Split(raw, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		v, err := strconv.Atoi(chunk)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

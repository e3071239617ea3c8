package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "raidbot/pkg/logx"
)

// Store is the persistence API used by the roster engine, the reminder
// scheduler and the recurring-raid generator.
//
// All state-changing methods persist synchronously before returning. The
// conditional methods (MarkReminderFired, SetRosterState, ...) only apply
// when the record is still in the expected state and report whether they
// did; that compare-and-swap is what keeps concurrent mutations and
// crash-recovery races from double-applying a transition.
type Store interface {
	// Raids
	CreateRaid(ctx context.Context, r Raid, roles map[string]int) (int64, error)
	Raid(ctx context.Context, id int64) (Raid, error)
	SetRaidStart(ctx context.Context, id int64, startsAt time.Time) error
	SetRaidStatus(ctx context.Context, id int64, status RaidStatus) error
	SetRaidMessage(ctx context.Context, id int64, messageID int) error
	DeleteRaid(ctx context.Context, id int64) error
	UpcomingRaids(ctx context.Context, chatID int64, now time.Time, limit int) ([]Raid, error)

	// Role capacities
	RoleCapacities(ctx context.Context, raidID int64) (map[string]int, error)
	SetRoleCapacity(ctx context.Context, raidID int64, role string, capacity int) error

	// Roster. AddRosterEntry assigns the next raid-scoped position
	// atomically and fails with ErrConflict when the user already holds an
	// entry for the raid.
	AddRosterEntry(ctx context.Context, raidID, userID int64, role string, state EntryState) (position int64, err error)
	RosterEntry(ctx context.Context, raidID, userID int64) (RosterEntry, error)
	RosterEntries(ctx context.Context, raidID int64) ([]RosterEntry, error)
	SetRosterState(ctx context.Context, raidID, userID int64, from, to EntryState) (bool, error)
	SetRosterRole(ctx context.Context, raidID, userID int64, role string) error
	RemoveRosterEntry(ctx context.Context, raidID, userID int64) (RosterEntry, error)

	// Reminders. ReplaceReminder upserts a pending job but never touches a
	// fired one; MarkReminderFired transitions pending->fired exactly once.
	ReplaceReminder(ctx context.Context, job ReminderJob) error
	MarkReminderFired(ctx context.Context, raidID int64, offsetMinutes int) (bool, error)
	CancelReminder(ctx context.Context, raidID int64, offsetMinutes int) (bool, error)
	CancelPendingReminders(ctx context.Context, raidID int64) (int, error)
	DueReminders(ctx context.Context, now time.Time) ([]ReminderJob, error)
	NextReminder(ctx context.Context) (ReminderJob, bool, error)
	RemindersForRaid(ctx context.Context, raidID int64) ([]ReminderJob, error)

	// Attendance history (append-only; consecutive duplicates per
	// (raid, user) are suppressed).
	AppendAttendance(ctx context.Context, rec AttendanceRecord) error
	AttendanceHistory(ctx context.Context, userID int64, limit int) ([]AttendanceRecord, error)

	// Templates
	SaveTemplate(ctx context.Context, t Template) (int64, error)
	Template(ctx context.Context, name string) (Template, error)
	Templates(ctx context.Context) ([]Template, error)
	DeleteTemplate(ctx context.Context, name string) (bool, error)

	// Recurring schedules
	CreateSchedule(ctx context.Context, s Schedule) (int64, error)
	Schedules(ctx context.Context) ([]Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) (bool, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

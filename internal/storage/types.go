package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write
	// (e.g. a second roster entry for the same (raid, user)).
	ErrConflict = errors.New("storage: conflict")
	// ErrUnavailable wraps transient I/O failures (locked database, busy
	// timeout). Callers may retry; see errors.Is.
	ErrUnavailable = errors.New("storage: unavailable")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (production)
//   - "memory": in-process store with the same conditional-update semantics
//     (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type RaidStatus string

const (
	RaidScheduled RaidStatus = "scheduled"
	RaidStarted   RaidStatus = "started"
	RaidCancelled RaidStatus = "cancelled"
)

// Raid is the event being coordinated. The core reads StartsAt and Status;
// everything else is carried for rendering and announcements.
type Raid struct {
	ID        int64
	ChatID    int64
	MessageID int // announcement message (0 until posted)
	Name      string
	StartsAt  time.Time
	Comment   string
	Status    RaidStatus
	CreatedBy int64
	CreatedAt time.Time

	// ReminderOffsets is the configured reminder set in minutes before
	// start. Rescheduling re-arms from this set, so an offset whose fire
	// time was past at creation is not lost.
	ReminderOffsets []int
}

type EntryState string

const (
	EntryConfirmed  EntryState = "confirmed"
	EntryWaitlisted EntryState = "waitlisted"
)

// RosterEntry is one user's place in a raid. Position is a raid-scoped
// strictly increasing sequence assigned at signup; it is the only ordering
// ever used for waitlist promotion.
type RosterEntry struct {
	RaidID   int64
	UserID   int64
	Role     string
	Position int64
	State    EntryState
}

type JobState string

const (
	JobPending   JobState = "pending"
	JobFired     JobState = "fired"
	JobCancelled JobState = "cancelled"
)

// ReminderJob is one pending notification for a raid. At most one job ever
// exists per (raid, offset), and a fired job never reverts to pending.
type ReminderJob struct {
	RaidID        int64
	OffsetMinutes int
	FireAt        time.Time
	State         JobState
}

type AttendanceStatus string

const (
	AttendanceConfirmed  AttendanceStatus = "confirmed"
	AttendanceWaitlisted AttendanceStatus = "waitlisted"
	AttendanceRemoved    AttendanceStatus = "removed"
)

// AttendanceRecord is one row of the append-only signup history.
type AttendanceRecord struct {
	ID         int64
	RaidID     int64
	UserID     int64
	Role       string
	Status     AttendanceStatus
	RecordedAt time.Time
}

// Template is a reusable raid preset.
type Template struct {
	ID             int64
	Name           string
	Roles          map[string]int
	Comment        string
	ReminderOffset []int // minutes
}

// Schedule defines recurring raid generation: when the cron spec fires, a
// raid starting LeadTime later is created from the stored preset.
type Schedule struct {
	ID             int64
	ChatID         int64
	TemplateID     int64 // 0 when roles are stored inline
	NamePattern    string
	Spec           string // cron spec, scheduler timezone
	LeadTime       time.Duration
	Roles          map[string]int
	Comment        string
	ReminderOffset []int // minutes
	CreatedBy      int64
}

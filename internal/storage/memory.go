package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps everything in process memory. It exists for tests and
// throwaway runs; the conditional-update semantics match the sqlite driver
// exactly so engine tests exercise the same state machine.
type memoryStore struct {
	mu sync.Mutex

	nextRaidID     int64
	nextLogID      int64
	nextTemplateID int64
	nextSchedID    int64

	raids     map[int64]*Raid
	nextPos   map[int64]int64
	roles     map[int64]map[string]int
	roster    map[int64]map[int64]*RosterEntry // raid -> user -> entry
	reminders map[int64]map[int]*ReminderJob   // raid -> offset -> job
	log       []AttendanceRecord
	templates map[string]*Template
	schedules map[int64]*Schedule
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		raids:     map[int64]*Raid{},
		nextPos:   map[int64]int64{},
		roles:     map[int64]map[string]int{},
		roster:    map[int64]map[int64]*RosterEntry{},
		reminders: map[int64]map[int]*ReminderJob{},
		templates: map[string]*Template{},
		schedules: map[int64]*Schedule{},
	}
}

func (m *memoryStore) Close() error { return nil }

// ---- Raids ----

func (m *memoryStore) CreateRaid(_ context.Context, r Raid, roles map[string]int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRaidID++
	r.ID = m.nextRaidID
	if r.Status == "" {
		r.Status = RaidScheduled
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.ReminderOffsets = append([]int(nil), r.ReminderOffsets...)
	m.raids[r.ID] = &r
	m.nextPos[r.ID] = 1
	cp := make(map[string]int, len(roles))
	for k, v := range roles {
		cp[k] = v
	}
	m.roles[r.ID] = cp
	m.roster[r.ID] = map[int64]*RosterEntry{}
	m.reminders[r.ID] = map[int]*ReminderJob{}
	return r.ID, nil
}

func (m *memoryStore) Raid(_ context.Context, id int64) (Raid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.raids[id]
	if !ok {
		return Raid{}, ErrNotFound
	}
	return *r, nil
}

func (m *memoryStore) SetRaidStart(_ context.Context, id int64, startsAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.raids[id]
	if !ok {
		return ErrNotFound
	}
	r.StartsAt = startsAt
	return nil
}

func (m *memoryStore) SetRaidStatus(_ context.Context, id int64, status RaidStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.raids[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

func (m *memoryStore) SetRaidMessage(_ context.Context, id int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.raids[id]
	if !ok {
		return ErrNotFound
	}
	r.MessageID = messageID
	return nil
}

func (m *memoryStore) DeleteRaid(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.raids, id)
	delete(m.nextPos, id)
	delete(m.roles, id)
	delete(m.roster, id)
	delete(m.reminders, id)
	return nil
}

func (m *memoryStore) UpcomingRaids(_ context.Context, chatID int64, now time.Time, limit int) ([]Raid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Raid
	for _, r := range m.raids {
		if r.ChatID == chatID && r.Status == RaidScheduled && !r.StartsAt.Before(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- Role capacities ----

func (m *memoryStore) RoleCapacities(_ context.Context, raidID int64) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.roles[raidID]
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) SetRoleCapacity(_ context.Context, raidID int64, role string, capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roles[raidID] == nil {
		m.roles[raidID] = map[string]int{}
	}
	m.roles[raidID][role] = capacity
	return nil
}

// ---- Roster ----

func (m *memoryStore) AddRosterEntry(_ context.Context, raidID, userID int64, role string, state EntryState) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.raids[raidID]; !ok {
		return 0, ErrNotFound
	}
	entries := m.roster[raidID]
	if entries == nil {
		entries = map[int64]*RosterEntry{}
		m.roster[raidID] = entries
	}
	if _, ok := entries[userID]; ok {
		return 0, ErrConflict
	}
	pos := m.nextPos[raidID]
	if pos == 0 {
		pos = 1
	}
	m.nextPos[raidID] = pos + 1
	entries[userID] = &RosterEntry{RaidID: raidID, UserID: userID, Role: role, Position: pos, State: state}
	return pos, nil
}

func (m *memoryStore) RosterEntry(_ context.Context, raidID, userID int64) (RosterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.roster[raidID][userID]
	if !ok {
		return RosterEntry{}, ErrNotFound
	}
	return *e, nil
}

func (m *memoryStore) RosterEntries(_ context.Context, raidID int64) ([]RosterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RosterEntry
	for _, e := range m.roster[raidID] {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memoryStore) SetRosterState(_ context.Context, raidID, userID int64, from, to EntryState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.roster[raidID][userID]
	if !ok || e.State != from {
		return false, nil
	}
	e.State = to
	return true, nil
}

func (m *memoryStore) SetRosterRole(_ context.Context, raidID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.roster[raidID][userID]
	if !ok {
		return ErrNotFound
	}
	e.Role = role
	return nil
}

func (m *memoryStore) RemoveRosterEntry(_ context.Context, raidID, userID int64) (RosterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.roster[raidID][userID]
	if !ok {
		return RosterEntry{}, ErrNotFound
	}
	delete(m.roster[raidID], userID)
	return *e, nil
}

// ---- Reminders ----

func (m *memoryStore) ReplaceReminder(_ context.Context, job ReminderJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.State == "" {
		job.State = JobPending
	}
	jobs := m.reminders[job.RaidID]
	if jobs == nil {
		jobs = map[int]*ReminderJob{}
		m.reminders[job.RaidID] = jobs
	}
	if cur, ok := jobs[job.OffsetMinutes]; ok && cur.State == JobFired {
		return nil
	}
	cp := job
	jobs[job.OffsetMinutes] = &cp
	return nil
}

func (m *memoryStore) MarkReminderFired(_ context.Context, raidID int64, offsetMinutes int) (bool, error) {
	return m.transition(raidID, offsetMinutes, JobPending, JobFired)
}

func (m *memoryStore) CancelReminder(_ context.Context, raidID int64, offsetMinutes int) (bool, error) {
	return m.transition(raidID, offsetMinutes, JobPending, JobCancelled)
}

func (m *memoryStore) transition(raidID int64, offsetMinutes int, from, to JobState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.reminders[raidID][offsetMinutes]
	if !ok || j.State != from {
		return false, nil
	}
	j.State = to
	return true, nil
}

func (m *memoryStore) CancelPendingReminders(_ context.Context, raidID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.reminders[raidID] {
		if j.State == JobPending {
			j.State = JobCancelled
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) DueReminders(_ context.Context, now time.Time) ([]ReminderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ReminderJob
	for _, jobs := range m.reminders {
		for _, j := range jobs {
			if j.State == JobPending && !j.FireAt.After(now) {
				out = append(out, *j)
			}
		}
	}
	sortJobs(out)
	return out, nil
}

func (m *memoryStore) NextReminder(_ context.Context) (ReminderJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  ReminderJob
		found bool
	)
	for _, jobs := range m.reminders {
		for _, j := range jobs {
			if j.State != JobPending {
				continue
			}
			// Same ordering as the sqlite query: fire_at ascending,
			// larger offset first on ties.
			if !found || j.FireAt.Before(best.FireAt) ||
				(j.FireAt.Equal(best.FireAt) && j.OffsetMinutes > best.OffsetMinutes) {
				best = *j
				found = true
			}
		}
	}
	return best, found, nil
}

func (m *memoryStore) RemindersForRaid(_ context.Context, raidID int64) ([]ReminderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ReminderJob
	for _, j := range m.reminders[raidID] {
		out = append(out, *j)
	}
	sortJobs(out)
	return out, nil
}

func sortJobs(jobs []ReminderJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].FireAt.Equal(jobs[j].FireAt) {
			return jobs[i].FireAt.Before(jobs[j].FireAt)
		}
		return jobs[i].OffsetMinutes > jobs[j].OffsetMinutes
	})
}

// ---- Attendance ----

func (m *memoryStore) AppendAttendance(_ context.Context, rec AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	// Suppress consecutive duplicates per (raid, user).
	for i := len(m.log) - 1; i >= 0; i-- {
		last := m.log[i]
		if last.RaidID != rec.RaidID || last.UserID != rec.UserID {
			continue
		}
		if last.Role == rec.Role && last.Status == rec.Status {
			return nil
		}
		break
	}
	m.nextLogID++
	rec.ID = m.nextLogID
	m.log = append(m.log, rec)
	return nil
}

func (m *memoryStore) AttendanceHistory(_ context.Context, userID int64, limit int) ([]AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	var out []AttendanceRecord
	for i := len(m.log) - 1; i >= 0 && len(out) < limit; i-- {
		if m.log[i].UserID == userID {
			out = append(out, m.log[i])
		}
	}
	return out, nil
}

// ---- Templates ----

func (m *memoryStore) SaveTemplate(_ context.Context, t Template) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.templates[t.Name]; ok {
		t.ID = cur.ID
	} else {
		m.nextTemplateID++
		t.ID = m.nextTemplateID
	}
	cp := t
	m.templates[t.Name] = &cp
	return t.ID, nil
}

func (m *memoryStore) Template(_ context.Context, name string) (Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[name]
	if !ok {
		return Template{}, ErrNotFound
	}
	return *t, nil
}

func (m *memoryStore) Templates(_ context.Context) ([]Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Template
	for _, t := range m.templates {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryStore) DeleteTemplate(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[name]; !ok {
		return false, nil
	}
	delete(m.templates, name)
	return true, nil
}

// ---- Schedules ----

func (m *memoryStore) CreateSchedule(_ context.Context, s Schedule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSchedID++
	s.ID = m.nextSchedID
	cp := s
	m.schedules[s.ID] = &cp
	return s.ID, nil
}

func (m *memoryStore) Schedules(_ context.Context) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Schedule
	for _, s := range m.schedules {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) DeleteSchedule(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return false, nil
	}
	delete(m.schedules, id)
	return true, nil
}

// Package roster owns seat assignment for raids: per-role capacity,
// position-ordered waitlists, and deterministic FIFO promotion.
package roster

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"raidbot/internal/eventbus"
	"raidbot/internal/storage"
	logx "raidbot/pkg/logx"
)

var (
	// ErrAlreadySignedUp is returned when the user already holds an entry
	// for the raid. Use ChangeRole to move between roles.
	ErrAlreadySignedUp = errors.New("already signed up")
	// ErrRaidClosed is returned when the raid is not in the scheduled state.
	ErrRaidClosed = errors.New("raid is closed for signup")
	// ErrNotSignedUp is returned by Cancel/ChangeRole for absent entries.
	ErrNotSignedUp = errors.New("not signed up")
	// ErrUnknownRole is returned for roles the raid does not offer.
	ErrUnknownRole = errors.New("unknown role")
	// ErrRoleFull is returned by ChangeRole when the target role has no
	// free seat for a currently confirmed user.
	ErrRoleFull = errors.New("role is full")
)

// SlotOpened is published when a waitlisted user takes a freed seat.
type SlotOpened struct {
	RaidID int64  `json:"raid_id"`
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// Demoted is published when a capacity cut pushes a confirmed user back
// onto the waitlist.
type Demoted struct {
	RaidID int64  `json:"raid_id"`
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// SignupResult reports where a signup landed.
type SignupResult struct {
	State    storage.EntryState
	Position int64
}

// CancelResult reports the removed entry and the user promoted into the
// freed seat, if any.
type CancelResult struct {
	Removed  storage.RosterEntry
	Promoted *SlotOpened
}

// Engine serializes all roster mutations for the process and persists each
// change synchronously before returning. Promotion always picks the
// lowest-position waitlisted entry of the vacated role; positions are
// unique per raid, so there is never a tie to break.
type Engine struct {
	mu    sync.Mutex
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func New(store storage.Store, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: store, bus: bus, log: log}
}

// Signup places the user in the raid: confirmed while the role has free
// seats, waitlisted at the tail otherwise. The position comes from the
// raid-scoped counter, so signup order is the only ordering that exists.
func (e *Engine) Signup(ctx context.Context, raidID, userID int64, role string) (SignupResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raid, err := e.store.Raid(ctx, raidID)
	if err != nil {
		return SignupResult{}, err
	}
	if raid.Status != storage.RaidScheduled {
		return SignupResult{}, ErrRaidClosed
	}
	caps, err := e.store.RoleCapacities(ctx, raidID)
	if err != nil {
		return SignupResult{}, err
	}
	capacity, ok := caps[role]
	if !ok {
		return SignupResult{}, ErrUnknownRole
	}

	entries, err := e.store.RosterEntries(ctx, raidID)
	if err != nil {
		return SignupResult{}, err
	}
	state := storage.EntryWaitlisted
	if countConfirmed(entries, role) < capacity {
		state = storage.EntryConfirmed
	}

	pos, err := e.store.AddRosterEntry(ctx, raidID, userID, role, state)
	if errors.Is(err, storage.ErrConflict) {
		return SignupResult{}, ErrAlreadySignedUp
	}
	if err != nil {
		return SignupResult{}, err
	}

	e.recordAttendance(ctx, raidID, userID, role, state)
	e.log.Debug("signup",
		logx.Int64("raid", raidID), logx.Int64("user", userID),
		logx.String("role", role), logx.String("state", string(state)))
	return SignupResult{State: state, Position: pos}, nil
}

// Cancel removes the user's entry. A freed confirmed seat promotes at most
// one waitlisted user of the same role.
func (e *Engine) Cancel(ctx context.Context, raidID, userID int64) (CancelResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed, err := e.store.RemoveRosterEntry(ctx, raidID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return CancelResult{}, ErrNotSignedUp
	}
	if err != nil {
		return CancelResult{}, err
	}
	e.recordAttendance(ctx, raidID, userID, removed.Role, "")
	e.log.Debug("cancel",
		logx.Int64("raid", raidID), logx.Int64("user", userID),
		logx.String("role", removed.Role), logx.String("was", string(removed.State)))

	res := CancelResult{Removed: removed}
	if removed.State == storage.EntryConfirmed {
		promoted, err := e.promoteOne(ctx, raidID, removed.Role)
		if err != nil {
			return res, err
		}
		res.Promoted = promoted
	}
	return res, nil
}

// ChangeRole moves an existing entry to another role.
//
// A confirmed user only moves if the target role has a free seat; the
// vacated seat then promotes from the old role's waitlist. A waitlisted
// user just changes their requested role (keeping their position) and a
// promotion pass runs on the new role, which may or may not pick them.
func (e *Engine) ChangeRole(ctx context.Context, raidID, userID int64, newRole string) (SignupResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raid, err := e.store.Raid(ctx, raidID)
	if err != nil {
		return SignupResult{}, err
	}
	if raid.Status != storage.RaidScheduled {
		return SignupResult{}, ErrRaidClosed
	}
	entry, err := e.store.RosterEntry(ctx, raidID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return SignupResult{}, ErrNotSignedUp
	}
	if err != nil {
		return SignupResult{}, err
	}
	if entry.Role == newRole {
		return SignupResult{State: entry.State, Position: entry.Position}, nil
	}
	caps, err := e.store.RoleCapacities(ctx, raidID)
	if err != nil {
		return SignupResult{}, err
	}
	capacity, ok := caps[newRole]
	if !ok {
		return SignupResult{}, ErrUnknownRole
	}

	entries, err := e.store.RosterEntries(ctx, raidID)
	if err != nil {
		return SignupResult{}, err
	}

	if entry.State == storage.EntryConfirmed {
		if countConfirmed(entries, newRole) >= capacity {
			return SignupResult{}, ErrRoleFull
		}
		if err := e.store.SetRosterRole(ctx, raidID, userID, newRole); err != nil {
			return SignupResult{}, err
		}
		e.recordAttendance(ctx, raidID, userID, newRole, storage.EntryConfirmed)
		if _, err := e.promoteOne(ctx, raidID, entry.Role); err != nil {
			return SignupResult{}, err
		}
		return SignupResult{State: storage.EntryConfirmed, Position: entry.Position}, nil
	}

	// Waitlisted: update the requested role, then let FIFO decide.
	if err := e.store.SetRosterRole(ctx, raidID, userID, newRole); err != nil {
		return SignupResult{}, err
	}
	e.recordAttendance(ctx, raidID, userID, newRole, storage.EntryWaitlisted)
	if _, err := e.promoteOne(ctx, raidID, newRole); err != nil {
		return SignupResult{}, err
	}
	cur, err := e.store.RosterEntry(ctx, raidID, userID)
	if err != nil {
		return SignupResult{}, err
	}
	return SignupResult{State: cur.State, Position: cur.Position}, nil
}

// ChangeCapacity resizes one role. Growing promotes FIFO until the seats
// are filled or the waitlist runs dry. Shrinking below the confirmed count
// demotes the highest-position confirmed entries back to the waitlist,
// where their original position keeps their seniority.
func (e *Engine) ChangeCapacity(ctx context.Context, raidID int64, role string, newCap int) ([]SlotOpened, []Demoted, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.SetRoleCapacity(ctx, raidID, role, newCap); err != nil {
		return nil, nil, err
	}

	entries, err := e.store.RosterEntries(ctx, raidID)
	if err != nil {
		return nil, nil, err
	}
	confirmed := filterEntries(entries, role, storage.EntryConfirmed)

	var demoted []Demoted
	if excess := len(confirmed) - newCap; excess > 0 {
		// Highest positions lose their seat first.
		sort.Slice(confirmed, func(i, j int) bool { return confirmed[i].Position > confirmed[j].Position })
		for _, entry := range confirmed[:excess] {
			ok, err := e.store.SetRosterState(ctx, raidID, entry.UserID, storage.EntryConfirmed, storage.EntryWaitlisted)
			if err != nil {
				return nil, demoted, err
			}
			if !ok {
				continue
			}
			e.recordAttendance(ctx, raidID, entry.UserID, role, storage.EntryWaitlisted)
			d := Demoted{RaidID: raidID, UserID: entry.UserID, Role: role}
			demoted = append(demoted, d)
			e.publish(eventbus.TypeDemoted, d)
		}
		return nil, demoted, nil
	}

	var promoted []SlotOpened
	for {
		p, err := e.promoteOne(ctx, raidID, role)
		if err != nil {
			return promoted, nil, err
		}
		if p == nil {
			break
		}
		promoted = append(promoted, *p)
	}
	return promoted, nil, nil
}

// promoteOne fills one free seat in the role with the lowest-position
// waitlisted entry. Returns nil when there is no seat or no candidate.
// Caller holds e.mu.
func (e *Engine) promoteOne(ctx context.Context, raidID int64, role string) (*SlotOpened, error) {
	caps, err := e.store.RoleCapacities(ctx, raidID)
	if err != nil {
		return nil, err
	}
	capacity, ok := caps[role]
	if !ok {
		return nil, nil
	}
	entries, err := e.store.RosterEntries(ctx, raidID)
	if err != nil {
		return nil, err
	}
	if countConfirmed(entries, role) >= capacity {
		return nil, nil
	}

	// RosterEntries is position-ordered, so the first waitlisted match is
	// the FIFO head.
	for _, entry := range entries {
		if entry.Role != role || entry.State != storage.EntryWaitlisted {
			continue
		}
		ok, err := e.store.SetRosterState(ctx, raidID, entry.UserID, storage.EntryWaitlisted, storage.EntryConfirmed)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		e.recordAttendance(ctx, raidID, entry.UserID, role, storage.EntryConfirmed)
		s := SlotOpened{RaidID: raidID, UserID: entry.UserID, Role: role}
		e.publish(eventbus.TypeSlotOpened, s)
		e.log.Info("waitlist promotion",
			logx.Int64("raid", raidID), logx.Int64("user", entry.UserID), logx.String("role", role))
		return &s, nil
	}
	return nil, nil
}

func (e *Engine) publish(typ string, data any) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}

// recordAttendance appends to the signup history; an empty state means the
// user was removed. History failures never fail the mutation itself.
func (e *Engine) recordAttendance(ctx context.Context, raidID, userID int64, role string, state storage.EntryState) {
	status := storage.AttendanceRemoved
	switch state {
	case storage.EntryConfirmed:
		status = storage.AttendanceConfirmed
	case storage.EntryWaitlisted:
		status = storage.AttendanceWaitlisted
	}
	err := e.store.AppendAttendance(ctx, storage.AttendanceRecord{
		RaidID: raidID, UserID: userID, Role: role, Status: status,
	})
	if err != nil {
		e.log.Warn("attendance append failed", logx.Err(err), logx.Int64("raid", raidID))
	}
}

func countConfirmed(entries []storage.RosterEntry, role string) int {
	n := 0
	for _, e := range entries {
		if e.Role == role && e.State == storage.EntryConfirmed {
			n++
		}
	}
	return n
}

func filterEntries(entries []storage.RosterEntry, role string, state storage.EntryState) []storage.RosterEntry {
	var out []storage.RosterEntry
	for _, e := range entries {
		if e.Role == role && e.State == state {
			out = append(out, e)
		}
	}
	return out
}

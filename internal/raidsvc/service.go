// Package raidsvc is the application facade over the roster engine, the
// reminder scheduler and the store. Transports call it; it never talks to
// a chat platform itself.
package raidsvc

import (
	"context"
	"errors"
	"sort"
	"time"

	"raidbot/internal/eventbus"
	"raidbot/internal/reminder"
	"raidbot/internal/roster"
	"raidbot/internal/storage"
	logx "raidbot/pkg/logx"
	"raidbot/pkg/token"
)

var (
	ErrInvalidName      = errors.New("raid name must not be empty")
	ErrNoRoles          = errors.New("raid needs at least one role")
	ErrPastStart        = errors.New("raid start must be in the future")
	ErrUnknownToken     = errors.New("unknown signup token")
	ErrRaidNotScheduled = errors.New("raid is not scheduled")
)

// RaidCreated is the payload of a raid.created event.
type RaidCreated struct {
	RaidID   int64     `json:"raid_id"`
	ChatID   int64     `json:"chat_id"`
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
}

// RaidCancelled is the payload of a raid.cancelled event.
type RaidCancelled struct {
	RaidID int64  `json:"raid_id"`
	ChatID int64  `json:"chat_id"`
	Name   string `json:"name"`
}

// CreateRaidParams collects everything needed to announce a new raid.
type CreateRaidParams struct {
	ChatID          int64
	Name            string
	StartsAt        time.Time
	Comment         string
	Roles           map[string]int
	ReminderOffsets []int
	CreatedBy       int64
}

// RoleView is one role block of a roster snapshot, position-ordered.
type RoleView struct {
	Name      string
	Capacity  int
	Confirmed []storage.RosterEntry
	Waitlist  []storage.RosterEntry
}

// RosterView is a read-only snapshot for rendering.
type RosterView struct {
	Raid  storage.Raid
	Roles []RoleView
}

type Service struct {
	store  storage.Store
	roster *roster.Engine
	sched  *reminder.Scheduler
	bus    eventbus.Bus
	log    logx.Logger
}

func New(store storage.Store, eng *roster.Engine, sched *reminder.Scheduler, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, roster: eng, sched: sched, bus: bus, log: log}
}

// CreateRaid persists the raid, schedules its reminders and announces it on
// the bus.
func (s *Service) CreateRaid(ctx context.Context, p CreateRaidParams) (storage.Raid, error) {
	if p.Name == "" {
		return storage.Raid{}, ErrInvalidName
	}
	if len(p.Roles) == 0 {
		return storage.Raid{}, ErrNoRoles
	}
	if !p.StartsAt.After(time.Now()) {
		return storage.Raid{}, ErrPastStart
	}

	r := storage.Raid{
		ChatID:          p.ChatID,
		Name:            p.Name,
		StartsAt:        p.StartsAt,
		Comment:         p.Comment,
		Status:          storage.RaidScheduled,
		CreatedBy:       p.CreatedBy,
		ReminderOffsets: p.ReminderOffsets,
	}
	id, err := s.store.CreateRaid(ctx, r, p.Roles)
	if err != nil {
		return storage.Raid{}, err
	}
	r.ID = id

	if len(p.ReminderOffsets) > 0 {
		if err := s.sched.ScheduleRaid(ctx, id, p.StartsAt, p.ReminderOffsets); err != nil {
			return storage.Raid{}, err
		}
	}
	s.publish(eventbus.TypeRaidCreated, RaidCreated{RaidID: id, ChatID: p.ChatID, Name: p.Name, StartsAt: p.StartsAt})
	s.log.Info("raid created",
		logx.Int64("raid", id), logx.String("name", p.Name), logx.Time("starts_at", p.StartsAt))
	return r, nil
}

// CreateFromTemplate expands a stored preset into CreateRaid.
func (s *Service) CreateFromTemplate(ctx context.Context, chatID int64, templateName, raidName string, startsAt time.Time, createdBy int64) (storage.Raid, error) {
	tpl, err := s.store.Template(ctx, templateName)
	if err != nil {
		return storage.Raid{}, err
	}
	if raidName == "" {
		raidName = tpl.Name
	}
	return s.CreateRaid(ctx, CreateRaidParams{
		ChatID:          chatID,
		Name:            raidName,
		StartsAt:        startsAt,
		Comment:         tpl.Comment,
		Roles:           tpl.Roles,
		ReminderOffsets: tpl.ReminderOffset,
		CreatedBy:       createdBy,
	})
}

func (s *Service) Signup(ctx context.Context, raidID, userID int64, role string) (roster.SignupResult, error) {
	return s.roster.Signup(ctx, raidID, userID, role)
}

func (s *Service) Cancel(ctx context.Context, raidID, userID int64) (roster.CancelResult, error) {
	return s.roster.Cancel(ctx, raidID, userID)
}

func (s *Service) ChangeRole(ctx context.Context, raidID, userID int64, role string) (roster.SignupResult, error) {
	return s.roster.ChangeRole(ctx, raidID, userID, role)
}

func (s *Service) ChangeCapacity(ctx context.Context, raidID int64, role string, newCap int) ([]roster.SlotOpened, []roster.Demoted, error) {
	return s.roster.ChangeCapacity(ctx, raidID, role, newCap)
}

// RescheduleRaid moves the start time and re-arms the reminders. Only a
// scheduled raid can move; rescheduling a cancelled one would resurrect
// its reminders.
func (s *Service) RescheduleRaid(ctx context.Context, raidID int64, newStart time.Time) error {
	if !newStart.After(time.Now()) {
		return ErrPastStart
	}
	raid, err := s.store.Raid(ctx, raidID)
	if err != nil {
		return err
	}
	if raid.Status != storage.RaidScheduled {
		return ErrRaidNotScheduled
	}
	if err := s.store.SetRaidStart(ctx, raidID, newStart); err != nil {
		return err
	}
	return s.sched.Reschedule(ctx, raidID, newStart)
}

// CancelRaid marks the raid cancelled and drops its pending reminders.
// Fired reminders and the roster stay behind as history.
func (s *Service) CancelRaid(ctx context.Context, raidID int64) error {
	raid, err := s.store.Raid(ctx, raidID)
	if err != nil {
		return err
	}
	if err := s.store.SetRaidStatus(ctx, raidID, storage.RaidCancelled); err != nil {
		return err
	}
	if err := s.sched.CancelRaid(ctx, raidID); err != nil {
		return err
	}
	s.publish(eventbus.TypeRaidCancelled, RaidCancelled{RaidID: raidID, ChatID: raid.ChatID, Name: raid.Name})
	s.log.Info("raid cancelled", logx.Int64("raid", raidID))
	return nil
}

// TokenOutcome is what a resolved callback token did.
type TokenOutcome struct {
	Action token.Action
	Raid   storage.Raid
	Signup roster.SignupResult
	Cancel roster.CancelResult
}

// ResolveToken decodes inline-button callback data and applies it for the
// pressing user. Tokens are self-contained, so any process can resolve a
// token minted by another.
func (s *Service) ResolveToken(ctx context.Context, userID int64, data string) (TokenOutcome, error) {
	tok, err := token.Decode(data)
	if err != nil {
		return TokenOutcome{}, err
	}
	raid, err := s.store.Raid(ctx, tok.RaidID)
	if err != nil {
		return TokenOutcome{}, err
	}
	out := TokenOutcome{Action: tok.Action, Raid: raid}
	switch tok.Action {
	case token.ActionSignup:
		res, err := s.roster.Signup(ctx, tok.RaidID, userID, tok.Role)
		if errors.Is(err, roster.ErrAlreadySignedUp) {
			// Pressing another role button while signed up means "move me".
			res, err = s.roster.ChangeRole(ctx, tok.RaidID, userID, tok.Role)
		}
		if err != nil {
			return out, err
		}
		out.Signup = res
	case token.ActionLeave:
		res, err := s.roster.Cancel(ctx, tok.RaidID, userID)
		if err != nil {
			return out, err
		}
		out.Cancel = res
	default:
		return out, ErrUnknownToken
	}
	return out, nil
}

// Snapshot builds a position-ordered view of the raid for rendering.
func (s *Service) Snapshot(ctx context.Context, raidID int64) (RosterView, error) {
	raid, err := s.store.Raid(ctx, raidID)
	if err != nil {
		return RosterView{}, err
	}
	caps, err := s.store.RoleCapacities(ctx, raidID)
	if err != nil {
		return RosterView{}, err
	}
	entries, err := s.store.RosterEntries(ctx, raidID)
	if err != nil {
		return RosterView{}, err
	}

	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)

	view := RosterView{Raid: raid, Roles: make([]RoleView, 0, len(names))}
	for _, name := range names {
		rv := RoleView{Name: name, Capacity: caps[name]}
		for _, e := range entries {
			if e.Role != name {
				continue
			}
			if e.State == storage.EntryConfirmed {
				rv.Confirmed = append(rv.Confirmed, e)
			} else {
				rv.Waitlist = append(rv.Waitlist, e)
			}
		}
		view.Roles = append(view.Roles, rv)
	}
	return view, nil
}

func (s *Service) UpcomingRaids(ctx context.Context, chatID int64, limit int) ([]storage.Raid, error) {
	return s.store.UpcomingRaids(ctx, chatID, time.Now(), limit)
}

func (s *Service) AttendanceHistory(ctx context.Context, userID int64, limit int) ([]storage.AttendanceRecord, error) {
	return s.store.AttendanceHistory(ctx, userID, limit)
}

// SaveTemplate upserts a preset by name.
func (s *Service) SaveTemplate(ctx context.Context, t storage.Template) (int64, error) {
	if t.Name == "" {
		return 0, ErrInvalidName
	}
	if len(t.Roles) == 0 {
		return 0, ErrNoRoles
	}
	return s.store.SaveTemplate(ctx, t)
}

func (s *Service) Templates(ctx context.Context) ([]storage.Template, error) {
	return s.store.Templates(ctx)
}

func (s *Service) DeleteTemplate(ctx context.Context, name string) (bool, error) {
	return s.store.DeleteTemplate(ctx, name)
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}

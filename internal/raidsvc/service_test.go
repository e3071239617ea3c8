package raidsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"raidbot/internal/eventbus"
	"raidbot/internal/reminder"
	"raidbot/internal/roster"
	"raidbot/internal/storage"
	logx "raidbot/pkg/logx"
	"raidbot/pkg/token"
)

func newTestService(t *testing.T) (*Service, storage.Store, <-chan eventbus.Event) {
	t.Helper()
	store := storage.NewMemory()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64, eventbus.TypeRaidCreated, eventbus.TypeRaidCancelled)
	t.Cleanup(unsub)
	clock := reminder.NewFakeClock(time.Now())
	sched := reminder.New(store, bus, clock, logx.Nop(), reminder.Options{})
	eng := roster.New(store, bus, logx.Nop())
	return New(store, eng, sched, bus, logx.Nop()), store, events
}

func drain(ch <-chan eventbus.Event) []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestCreateRaidSchedulesAndAnnounces(t *testing.T) {
	svc, store, events := newTestService(t)
	ctx := context.Background()

	raid, err := svc.CreateRaid(ctx, CreateRaidParams{
		ChatID:          -100,
		Name:            "weekly clear",
		StartsAt:        time.Now().Add(3 * time.Hour),
		Roles:           map[string]int{"tank": 2, "dps": 6},
		ReminderOffsets: []int{60, 15},
		CreatedBy:       7,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	jobs, err := store.RemindersForRaid(ctx, raid.ID)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %+v, want 2 pending", jobs)
	}

	got := drain(events)
	if len(got) != 1 || got[0].Type != eventbus.TypeRaidCreated {
		t.Fatalf("events = %+v, want one raid.created", got)
	}
	if p, ok := got[0].Data.(RaidCreated); !ok || p.RaidID != raid.ID {
		t.Fatalf("payload = %+v", got[0].Data)
	}
}

func TestCreateRaidValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	roles := map[string]int{"dps": 4}

	if _, err := svc.CreateRaid(ctx, CreateRaidParams{StartsAt: future, Roles: roles}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("empty name: err = %v", err)
	}
	if _, err := svc.CreateRaid(ctx, CreateRaidParams{Name: "x", StartsAt: future}); !errors.Is(err, ErrNoRoles) {
		t.Fatalf("no roles: err = %v", err)
	}
	if _, err := svc.CreateRaid(ctx, CreateRaidParams{Name: "x", StartsAt: time.Now().Add(-time.Minute), Roles: roles}); !errors.Is(err, ErrPastStart) {
		t.Fatalf("past start: err = %v", err)
	}
}

func TestResolveToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	raid, err := svc.CreateRaid(ctx, CreateRaidParams{
		ChatID:   -1,
		Name:     "hm run",
		StartsAt: time.Now().Add(time.Hour),
		Roles:    map[string]int{"tank": 1, "heal": 1},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := svc.ResolveToken(ctx, 42, token.Encode(raid.ID, token.ActionSignup, "tank"))
	if err != nil {
		t.Fatalf("signup token: %v", err)
	}
	if out.Signup.State != storage.EntryConfirmed {
		t.Fatalf("state = %s, want confirmed", out.Signup.State)
	}

	// A second role button moves the user instead of failing.
	out, err = svc.ResolveToken(ctx, 42, token.Encode(raid.ID, token.ActionSignup, "heal"))
	if err != nil {
		t.Fatalf("change token: %v", err)
	}
	if out.Signup.State != storage.EntryConfirmed {
		t.Fatalf("state after move = %s, want confirmed", out.Signup.State)
	}

	out, err = svc.ResolveToken(ctx, 42, token.Encode(raid.ID, token.ActionLeave, ""))
	if err != nil {
		t.Fatalf("leave token: %v", err)
	}
	if out.Cancel.Removed.Role != "heal" {
		t.Fatalf("removed = %+v, want heal entry", out.Cancel.Removed)
	}

	if _, err := svc.ResolveToken(ctx, 42, "raid:nonsense"); !errors.Is(err, token.ErrMalformed) {
		t.Fatalf("garbage: err = %v, want ErrMalformed", err)
	}
}

func TestCancelRaidClosesSignupAndReminders(t *testing.T) {
	svc, store, events := newTestService(t)
	ctx := context.Background()

	raid, err := svc.CreateRaid(ctx, CreateRaidParams{
		ChatID:          -1,
		Name:            "doomed",
		StartsAt:        time.Now().Add(2 * time.Hour),
		Roles:           map[string]int{"dps": 4},
		ReminderOffsets: []int{30},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	drain(events)

	if err := svc.CancelRaid(ctx, raid.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Signup(ctx, raid.ID, 1, "dps"); !errors.Is(err, roster.ErrRaidClosed) {
		t.Fatalf("signup after cancel: err = %v", err)
	}
	jobs, err := store.RemindersForRaid(ctx, raid.ID)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	for _, j := range jobs {
		if j.State == storage.JobPending {
			t.Fatalf("job still pending: %+v", j)
		}
	}
	got := drain(events)
	if len(got) != 1 || got[0].Type != eventbus.TypeRaidCancelled {
		t.Fatalf("events = %+v, want one raid.cancelled", got)
	}
}

func TestRescheduleCancelledRaidRejected(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	raid, err := svc.CreateRaid(ctx, CreateRaidParams{
		ChatID:          -1,
		Name:            "moved",
		StartsAt:        time.Now().Add(time.Hour),
		Roles:           map[string]int{"dps": 4},
		ReminderOffsets: []int{30},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.CancelRaid(ctx, raid.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err = svc.RescheduleRaid(ctx, raid.ID, time.Now().Add(5*time.Hour))
	if !errors.Is(err, ErrRaidNotScheduled) {
		t.Fatalf("err = %v, want ErrRaidNotScheduled", err)
	}

	// The move must not bring cancelled reminders back to life.
	jobs, err := store.RemindersForRaid(ctx, raid.ID)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	for _, j := range jobs {
		if j.State == storage.JobPending {
			t.Fatalf("job resurrected: %+v", j)
		}
	}
	got, err := store.Raid(ctx, raid.ID)
	if err != nil {
		t.Fatalf("raid: %v", err)
	}
	if !got.StartsAt.Equal(raid.StartsAt) {
		t.Fatalf("start moved to %v, want %v", got.StartsAt, raid.StartsAt)
	}
}

func TestSnapshotGroupsByRoleAndPosition(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	raid, err := svc.CreateRaid(ctx, CreateRaidParams{
		ChatID:   -1,
		Name:     "snapshot",
		StartsAt: time.Now().Add(time.Hour),
		Roles:    map[string]int{"tank": 1, "dps": 2},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	signups := []struct {
		uid  int64
		role string
	}{{1, "tank"}, {2, "tank"}, {3, "dps"}}
	for _, s := range signups {
		if _, err := svc.Signup(ctx, raid.ID, s.uid, s.role); err != nil {
			t.Fatalf("signup %d: %v", s.uid, err)
		}
	}

	view, err := svc.Snapshot(ctx, raid.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(view.Roles) != 2 || view.Roles[0].Name != "dps" || view.Roles[1].Name != "tank" {
		t.Fatalf("roles = %+v, want dps then tank", view.Roles)
	}
	tank := view.Roles[1]
	if len(tank.Confirmed) != 1 || len(tank.Waitlist) != 1 {
		t.Fatalf("tank view = %+v, want 1 confirmed 1 waitlisted", tank)
	}
	if tank.Confirmed[0].UserID != 1 || tank.Waitlist[0].UserID != 2 {
		t.Fatalf("tank order = %+v", tank)
	}
}

func TestTemplateRoundtrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveTemplate(ctx, storage.Template{Name: "hm", Roles: nil}); !errors.Is(err, ErrNoRoles) {
		t.Fatalf("no roles: err = %v", err)
	}
	_, err := svc.SaveTemplate(ctx, storage.Template{
		Name:           "hm",
		Roles:          map[string]int{"tank": 2, "heal": 2, "dps": 6},
		Comment:        "bring flasks",
		ReminderOffset: []int{60, 15},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	raid, err := svc.CreateFromTemplate(ctx, -1, "hm", "", time.Now().Add(4*time.Hour), 7)
	if err != nil {
		t.Fatalf("from template: %v", err)
	}
	if raid.Name != "hm" || raid.Comment != "bring flasks" {
		t.Fatalf("raid = %+v", raid)
	}

	view, err := svc.Snapshot(ctx, raid.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(view.Roles) != 3 {
		t.Fatalf("roles = %+v, want 3", view.Roles)
	}

	ok, err := svc.DeleteTemplate(ctx, "hm")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
}

package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"raidbot/internal/eventbus"
	"raidbot/internal/raidsvc"
	"raidbot/internal/reminder"
	"raidbot/internal/roster"
	"raidbot/internal/storage"
	logx "raidbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	edits []string
}

func (f *fakeSender) SendText(_ context.Context, _ int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return len(f.sent), nil
}

func (f *fakeSender) EditText(_ context.Context, _ int64, _ int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeSender) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...), append([]string(nil), f.edits...)
}

func (f *fakeSender) waitSent(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sent, _ := f.snapshot()
		if len(sent) >= n {
			return sent
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent, _ := f.snapshot()
	t.Fatalf("sent = %v, want %d messages", sent, n)
	return nil
}

type fixture struct {
	notifier *Service
	svc      *raidsvc.Service
	store    storage.Store
	bus      eventbus.Bus
	sender   *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	bus := eventbus.New()
	sched := reminder.New(store, bus, reminder.NewFakeClock(time.Now()), logx.Nop(), reminder.Options{})
	eng := roster.New(store, bus, logx.Nop())
	svc := raidsvc.New(store, eng, sched, bus, logx.Nop())
	sender := &fakeSender{}
	n := New(Config{Enabled: true, RatePerSec: 1000}, sender, svc, store, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	n.Start(ctx)
	t.Cleanup(func() {
		n.Stop()
		cancel()
	})
	return &fixture{notifier: n, svc: svc, store: store, bus: bus, sender: sender}
}

func TestRaidCreatedAnnounced(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateRaid(context.Background(), raidsvc.CreateRaidParams{
		ChatID:   -5,
		Name:     "weekly clear",
		StartsAt: time.Now().Add(time.Hour),
		Roles:    map[string]int{"dps": 4},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sent := f.sender.waitSent(t, 1)
	if !strings.Contains(sent[0], "weekly clear") {
		t.Fatalf("announcement = %q", sent[0])
	}
}

func TestPromotionMessageAndAnnouncementRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raid, err := f.svc.CreateRaid(ctx, raidsvc.CreateRaidParams{
		ChatID:   -5,
		Name:     "hm run",
		StartsAt: time.Now().Add(time.Hour),
		Roles:    map[string]int{"tank": 1},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.store.SetRaidMessage(ctx, raid.ID, 77); err != nil {
		t.Fatalf("set message: %v", err)
	}
	for _, uid := range []int64{1, 2} {
		if _, err := f.svc.Signup(ctx, raid.ID, uid, "tank"); err != nil {
			t.Fatalf("signup %d: %v", uid, err)
		}
	}
	if _, err := f.svc.Cancel(ctx, raid.ID, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// raid.created announcement plus the promotion line.
	sent := f.sender.waitSent(t, 2)
	var promo string
	for _, m := range sent {
		if strings.Contains(m, "slot opened") {
			promo = m
		}
	}
	if !strings.Contains(promo, "user 2") || !strings.Contains(promo, "tank") {
		t.Fatalf("promotion = %q", promo)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, edits := f.sender.snapshot()
		if len(edits) > 0 {
			if !strings.Contains(edits[0], "tank [1/1]") {
				t.Fatalf("edit = %q", edits[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("announcement was not refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifyAfterStop(t *testing.T) {
	f := newFixture(t)
	f.notifier.Stop()
	if err := f.notifier.Notify(Notification{ChatID: 1, Text: "x"}); err != ErrStopped {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestRosterRendering(t *testing.T) {
	r := NewRenderer(nil)
	view := raidsvc.RosterView{
		Raid: storage.Raid{Name: "weekly clear", StartsAt: time.Date(2026, 9, 2, 19, 0, 0, 0, time.UTC), Comment: "bring flasks"},
		Roles: []raidsvc.RoleView{
			{
				Name: "tank", Capacity: 2,
				Confirmed: []storage.RosterEntry{{UserID: 1, Position: 1}},
				Waitlist:  []storage.RosterEntry{{UserID: 3, Position: 3}},
			},
			{Name: "dps", Capacity: 4},
		},
	}
	text := r.Roster(view)
	for _, want := range []string{"weekly clear", "bring flasks", "tank [1/2]", "1. user 1", "dps [0/4]", "waitlist:", "user 3 (tank)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("roster %q missing %q", text, want)
		}
	}
}

func TestReminderRendering(t *testing.T) {
	r := NewRenderer(nil)
	due := reminder.ReminderDue{RaidID: 1, OffsetMinutes: 60, StartsAt: time.Date(2026, 9, 2, 19, 0, 0, 0, time.UTC)}
	text := r.Reminder(due, "weekly clear")
	if !strings.Contains(text, "weekly clear") || !strings.Contains(text, "1 hour") {
		t.Fatalf("reminder = %q", text)
	}
	due.OffsetMinutes = 15
	if text := r.Reminder(due, "weekly clear"); !strings.Contains(text, "15 minutes") {
		t.Fatalf("reminder = %q", text)
	}
}

package roster

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"raidbot/internal/eventbus"
	"raidbot/internal/storage"
	logx "raidbot/pkg/logx"
)

func newTestEngine(t *testing.T, roles map[string]int) (*Engine, storage.Store, int64, <-chan eventbus.Event) {
	t.Helper()
	store := storage.NewMemory()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64, eventbus.TypeSlotOpened, eventbus.TypeDemoted)
	t.Cleanup(unsub)
	raidID, err := store.CreateRaid(context.Background(), storage.Raid{
		ChatID:   -100,
		Name:     "weekly clear",
		StartsAt: time.Now().Add(2 * time.Hour),
	}, roles)
	if err != nil {
		t.Fatalf("create raid: %v", err)
	}
	return New(store, bus, logx.Nop()), store, raidID, events
}

func drainEvents(ch <-chan eventbus.Event) []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestSignupFillsThenWaitlists(t *testing.T) {
	eng, _, raid, _ := newTestEngine(t, map[string]int{"tank": 2})
	ctx := context.Background()

	for i, want := range []storage.EntryState{storage.EntryConfirmed, storage.EntryConfirmed, storage.EntryWaitlisted} {
		res, err := eng.Signup(ctx, raid, int64(i+1), "tank")
		if err != nil {
			t.Fatalf("signup %d: %v", i+1, err)
		}
		if res.State != want {
			t.Fatalf("signup %d: state = %s, want %s", i+1, res.State, want)
		}
		if res.Position != int64(i+1) {
			t.Fatalf("signup %d: position = %d, want %d", i+1, res.Position, i+1)
		}
	}
}

func TestSignupErrors(t *testing.T) {
	eng, store, raid, _ := newTestEngine(t, map[string]int{"tank": 1})
	ctx := context.Background()

	if _, err := eng.Signup(ctx, raid, 1, "bard"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("unknown role: err = %v, want ErrUnknownRole", err)
	}
	if _, err := eng.Signup(ctx, raid, 1, "tank"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := eng.Signup(ctx, raid, 1, "tank"); !errors.Is(err, ErrAlreadySignedUp) {
		t.Fatalf("duplicate: err = %v, want ErrAlreadySignedUp", err)
	}

	if err := store.SetRaidStatus(ctx, raid, storage.RaidCancelled); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := eng.Signup(ctx, raid, 2, "tank"); !errors.Is(err, ErrRaidClosed) {
		t.Fatalf("cancelled raid: err = %v, want ErrRaidClosed", err)
	}
}

func TestCancelPromotesFIFO(t *testing.T) {
	eng, store, raid, events := newTestEngine(t, map[string]int{"tank": 2})
	ctx := context.Background()

	// A and B confirmed, C waitlisted.
	for _, uid := range []int64{1, 2, 3} {
		if _, err := eng.Signup(ctx, raid, uid, "tank"); err != nil {
			t.Fatalf("signup %d: %v", uid, err)
		}
	}

	res, err := eng.Cancel(ctx, raid, 1)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Promoted == nil || res.Promoted.UserID != 3 {
		t.Fatalf("promoted = %+v, want user 3", res.Promoted)
	}

	entry, err := store.RosterEntry(ctx, raid, 3)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.State != storage.EntryConfirmed {
		t.Fatalf("user 3 state = %s, want confirmed", entry.State)
	}

	got := drainEvents(events)
	if len(got) != 1 || got[0].Type != eventbus.TypeSlotOpened {
		t.Fatalf("events = %+v, want one slot_opened", got)
	}
	if s, ok := got[0].Data.(SlotOpened); !ok || s.UserID != 3 || s.Role != "tank" {
		t.Fatalf("slot_opened payload = %+v", got[0].Data)
	}
}

func TestCancelWaitlistedNoPromotion(t *testing.T) {
	eng, _, raid, events := newTestEngine(t, map[string]int{"tank": 1})
	ctx := context.Background()

	for _, uid := range []int64{1, 2, 3} {
		if _, err := eng.Signup(ctx, raid, uid, "tank"); err != nil {
			t.Fatalf("signup %d: %v", uid, err)
		}
	}
	res, err := eng.Cancel(ctx, raid, 2)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Promoted != nil {
		t.Fatalf("promoted = %+v, want nil", res.Promoted)
	}
	if got := drainEvents(events); len(got) != 0 {
		t.Fatalf("events = %+v, want none", got)
	}
	if _, err := eng.Cancel(ctx, raid, 2); !errors.Is(err, ErrNotSignedUp) {
		t.Fatalf("repeat cancel: err = %v, want ErrNotSignedUp", err)
	}
}

func TestCapacityGrowthPromotesInOrder(t *testing.T) {
	eng, _, raid, _ := newTestEngine(t, map[string]int{"dps": 1})
	ctx := context.Background()

	for _, uid := range []int64{10, 11, 12, 13} {
		if _, err := eng.Signup(ctx, raid, uid, "dps"); err != nil {
			t.Fatalf("signup %d: %v", uid, err)
		}
	}

	promoted, demoted, err := eng.ChangeCapacity(ctx, raid, "dps", 3)
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if len(demoted) != 0 {
		t.Fatalf("demoted = %+v, want none", demoted)
	}
	if len(promoted) != 2 || promoted[0].UserID != 11 || promoted[1].UserID != 12 {
		t.Fatalf("promoted = %+v, want users 11 then 12", promoted)
	}
}

func TestCapacityCutDemotesNewestKeepsSeniority(t *testing.T) {
	eng, store, raid, _ := newTestEngine(t, map[string]int{"dps": 3})
	ctx := context.Background()

	for _, uid := range []int64{1, 2, 3} {
		if _, err := eng.Signup(ctx, raid, uid, "dps"); err != nil {
			t.Fatalf("signup %d: %v", uid, err)
		}
	}

	_, demoted, err := eng.ChangeCapacity(ctx, raid, "dps", 1)
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if len(demoted) != 2 || demoted[0].UserID != 3 || demoted[1].UserID != 2 {
		t.Fatalf("demoted = %+v, want users 3 then 2", demoted)
	}

	// Growing back must restore the original signup order, not demotion order.
	promoted, _, err := eng.ChangeCapacity(ctx, raid, "dps", 2)
	if err != nil {
		t.Fatalf("regrow: %v", err)
	}
	if len(promoted) != 1 || promoted[0].UserID != 2 {
		t.Fatalf("promoted = %+v, want user 2", promoted)
	}
	entry, err := store.RosterEntry(ctx, raid, 3)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.State != storage.EntryWaitlisted {
		t.Fatalf("user 3 state = %s, want waitlisted", entry.State)
	}
}

func TestChangeRoleConfirmedVacatesSeat(t *testing.T) {
	eng, _, raid, _ := newTestEngine(t, map[string]int{"tank": 1, "heal": 1})
	ctx := context.Background()

	if _, err := eng.Signup(ctx, raid, 1, "tank"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := eng.Signup(ctx, raid, 2, "tank"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	res, err := eng.ChangeRole(ctx, raid, 1, "heal")
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if res.State != storage.EntryConfirmed {
		t.Fatalf("state = %s, want confirmed", res.State)
	}

	// The vacated tank seat goes to the waitlisted user.
	entries, err := eng.store.RosterEntries(ctx, raid)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	for _, e := range entries {
		if e.UserID == 2 && (e.State != storage.EntryConfirmed || e.Role != "tank") {
			t.Fatalf("user 2 = %+v, want confirmed tank", e)
		}
	}
}

func TestChangeRoleFull(t *testing.T) {
	eng, _, raid, _ := newTestEngine(t, map[string]int{"tank": 1, "heal": 1})
	ctx := context.Background()

	if _, err := eng.Signup(ctx, raid, 1, "tank"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := eng.Signup(ctx, raid, 2, "heal"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := eng.ChangeRole(ctx, raid, 1, "heal"); !errors.Is(err, ErrRoleFull) {
		t.Fatalf("err = %v, want ErrRoleFull", err)
	}
	if _, err := eng.ChangeRole(ctx, raid, 9, "heal"); !errors.Is(err, ErrNotSignedUp) {
		t.Fatalf("err = %v, want ErrNotSignedUp", err)
	}
}

func TestChangeRoleWaitlistedFollowsFIFO(t *testing.T) {
	eng, store, raid, _ := newTestEngine(t, map[string]int{"tank": 1, "heal": 1})
	ctx := context.Background()

	if _, err := eng.Signup(ctx, raid, 1, "tank"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := eng.Signup(ctx, raid, 2, "tank"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	// Heal is empty, so the waitlisted user gets the seat immediately.
	res, err := eng.ChangeRole(ctx, raid, 2, "heal")
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if res.State != storage.EntryConfirmed {
		t.Fatalf("state = %s, want confirmed", res.State)
	}
	entry, err := store.RosterEntry(ctx, raid, 2)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.Role != "heal" || entry.State != storage.EntryConfirmed {
		t.Fatalf("entry = %+v, want confirmed heal", entry)
	}
}

// TestRandomizedInterleaving hammers the engine with random signups and
// cancels and checks the capacity invariant and FIFO promotion after every
// step.
func TestRandomizedInterleaving(t *testing.T) {
	roles := map[string]int{"tank": 2, "heal": 1, "dps": 4}
	eng, store, raid, _ := newTestEngine(t, roles)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	roleNames := []string{"tank", "heal", "dps"}

	signedUp := map[int64]bool{}
	for step := 0; step < 500; step++ {
		uid := int64(rng.Intn(20) + 1)
		if signedUp[uid] && rng.Intn(2) == 0 {
			if _, err := eng.Cancel(ctx, raid, uid); err != nil {
				t.Fatalf("step %d cancel(%d): %v", step, uid, err)
			}
			delete(signedUp, uid)
		} else if !signedUp[uid] {
			role := roleNames[rng.Intn(len(roleNames))]
			if _, err := eng.Signup(ctx, raid, uid, role); err != nil {
				t.Fatalf("step %d signup(%d, %s): %v", step, uid, role, err)
			}
			signedUp[uid] = true
		}

		entries, err := store.RosterEntries(ctx, raid)
		if err != nil {
			t.Fatalf("step %d entries: %v", step, err)
		}
		for role, capacity := range roles {
			if n := countConfirmed(entries, role); n > capacity {
				t.Fatalf("step %d: %s has %d confirmed, capacity %d", step, role, n, capacity)
			}
		}
		// Nobody may wait while their role has a free seat.
		for _, e := range entries {
			if e.State != storage.EntryWaitlisted {
				continue
			}
			if countConfirmed(entries, e.Role) < roles[e.Role] {
				t.Fatalf("step %d: user %d waits for %s with a free seat", step, e.UserID, e.Role)
			}
		}
	}
}

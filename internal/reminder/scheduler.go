// Package reminder runs the persistent notification schedule for raids.
//
// Jobs live in the store as (raid, offset) rows; the scheduler keeps a
// single wake loop that sleeps until the earliest pending job, fires due
// jobs through a conditional pending->fired transition, and emits a
// reminder.due event per fired job. Because firing is state-conditional,
// a job survives restarts and still fires at most once.
package reminder

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"raidbot/internal/eventbus"
	"raidbot/internal/storage"
	logx "raidbot/pkg/logx"
)

// ErrInvalidOffset is returned for zero or negative reminder offsets.
var ErrInvalidOffset = errors.New("reminder offset must be positive minutes")

// ReminderDue is the payload of an eventbus reminder.due event.
type ReminderDue struct {
	RaidID        int64     `json:"raid_id"`
	OffsetMinutes int       `json:"offset_minutes"`
	StartsAt      time.Time `json:"starts_at"`
}

// Options tune retry behavior for transient store failures.
type Options struct {
	RetryBase   time.Duration // default 500ms
	RetryMax    time.Duration // backoff cap, default 15s
	MaxAttempts int           // attempts before retries log at error level, default 5
}

// Scheduler owns the wake loop. All mutating methods are safe for
// concurrent use; they persist first and then nudge the loop through a
// non-blocking kick channel.
type Scheduler struct {
	store storage.Store
	bus   eventbus.Bus
	clock Clock
	log   logx.Logger
	opt   Options

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once
}

func New(store storage.Store, bus eventbus.Bus, clock Clock, log logx.Logger, opt Options) *Scheduler {
	if clock == nil {
		clock = NewClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.RetryBase <= 0 {
		opt.RetryBase = 500 * time.Millisecond
	}
	if opt.RetryMax <= 0 {
		opt.RetryMax = 15 * time.Second
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = 5
	}
	return &Scheduler{
		store: store,
		bus:   bus,
		clock: clock,
		log:   log,
		opt:   opt,
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// ScheduleRaid creates one pending job per offset whose fire time is still
// in the future. Offsets already in the past for this start time are
// skipped, not errors.
func (s *Scheduler) ScheduleRaid(ctx context.Context, raidID int64, startsAt time.Time, offsets []int) error {
	seen := make(map[int]struct{}, len(offsets))
	now := s.clock.Now()
	for _, off := range offsets {
		if off <= 0 {
			return ErrInvalidOffset
		}
		if _, dup := seen[off]; dup {
			continue
		}
		seen[off] = struct{}{}

		fireAt := startsAt.Add(-time.Duration(off) * time.Minute)
		if !fireAt.After(now) {
			continue
		}
		err := s.store.ReplaceReminder(ctx, storage.ReminderJob{
			RaidID:        raidID,
			OffsetMinutes: off,
			FireAt:        fireAt,
			State:         storage.JobPending,
		})
		if err != nil {
			return err
		}
	}
	s.wake()
	return nil
}

// Reschedule re-arms the raid's configured offsets against the new start
// time. Jobs that already fired stay fired and their offsets are not
// recreated; offsets now in the past are skipped. An offset skipped at
// creation comes back when the new start leaves room for it.
func (s *Scheduler) Reschedule(ctx context.Context, raidID int64, newStart time.Time) error {
	jobs, err := s.store.RemindersForRaid(ctx, raidID)
	if err != nil {
		return err
	}
	raid, err := s.store.Raid(ctx, raidID)
	if err != nil {
		return err
	}
	offsets := raid.ReminderOffsets
	if len(offsets) == 0 {
		// Raids from before offsets were stored on the raid row fall
		// back to whatever job rows survive.
		for _, job := range jobs {
			offsets = append(offsets, job.OffsetMinutes)
		}
	}
	fired := make(map[int]bool, len(jobs))
	for _, job := range jobs {
		if job.State == storage.JobFired {
			fired[job.OffsetMinutes] = true
		}
	}
	if _, err := s.store.CancelPendingReminders(ctx, raidID); err != nil {
		return err
	}
	now := s.clock.Now()
	seen := make(map[int]struct{}, len(offsets))
	for _, off := range offsets {
		if off <= 0 || fired[off] {
			continue
		}
		if _, dup := seen[off]; dup {
			continue
		}
		seen[off] = struct{}{}

		fireAt := newStart.Add(-time.Duration(off) * time.Minute)
		if !fireAt.After(now) {
			continue
		}
		err := s.store.ReplaceReminder(ctx, storage.ReminderJob{
			RaidID:        raidID,
			OffsetMinutes: off,
			FireAt:        fireAt,
			State:         storage.JobPending,
		})
		if err != nil {
			return err
		}
	}
	s.wake()
	return nil
}

// CancelRaid cancels the raid's pending jobs. Fired jobs remain as history.
func (s *Scheduler) CancelRaid(ctx context.Context, raidID int64) error {
	n, err := s.store.CancelPendingReminders(ctx, raidID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Debug("reminders cancelled", logx.Int64("raid", raidID), logx.Int("count", n))
	}
	s.wake()
	return nil
}

// Start runs the recovery scan and launches the wake loop. The loop exits
// when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.fireDue(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop terminates the wake loop and waits for it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		job, ok, err := s.store.NextReminder(ctx)
		if err != nil {
			s.log.Warn("next reminder read failed", logx.Err(err))
			if !s.sleep(ctx, s.backoff(1)) {
				return
			}
			continue
		}
		if !ok {
			// Nothing pending; block until a mutation or shutdown.
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-s.kick:
			}
			continue
		}

		if delay := job.FireAt.Sub(s.clock.Now()); delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-s.kick:
				continue
			case <-s.clock.After(delay):
			}
		}

		if err := s.fireDue(ctx); err != nil {
			s.log.Warn("firing pass failed", logx.Err(err))
			if !s.sleep(ctx, s.backoff(1)) {
				return
			}
		}
	}
}

// fireDue fires every job whose time has come, in fire-time order with the
// largest offset first on ties.
func (s *Scheduler) fireDue(ctx context.Context) error {
	due, err := s.store.DueReminders(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	for _, job := range due {
		if err := s.fire(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// fire performs the conditional pending->fired transition and, only after
// the transition committed, emits reminder.due. A crash between the two
// loses at most that one notification and never duplicates it.
func (s *Scheduler) fire(ctx context.Context, job storage.ReminderJob) error {
	var fired bool
	var err error
	for attempt := 1; ; attempt++ {
		fired, err = s.store.MarkReminderFired(ctx, job.RaidID, job.OffsetMinutes)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrUnavailable) {
			if ctx.Err() != nil {
				return err
			}
			// A row the store refuses outright can never make progress;
			// quarantine it so one bad row cannot wedge the loop.
			if _, cerr := s.store.CancelReminder(ctx, job.RaidID, job.OffsetMinutes); cerr != nil {
				return cerr
			}
			s.log.Error("reminder quarantined",
				logx.Int64("raid", job.RaidID), logx.Int("offset", job.OffsetMinutes), logx.Err(err))
			return nil
		}
		// An unavailable store is retried until it answers; dropping the
		// job here would lose the reminder for good.
		logf := s.log.Warn
		if attempt >= s.opt.MaxAttempts {
			logf = s.log.Error
		}
		logf("mark fired retry",
			logx.Int64("raid", job.RaidID), logx.Int("offset", job.OffsetMinutes),
			logx.Int("attempt", attempt), logx.Err(err))
		if !s.sleep(ctx, s.backoff(attempt)) {
			return ctx.Err()
		}
	}
	if !fired {
		// Lost the race to another firing pass or a cancellation.
		return nil
	}

	due := ReminderDue{RaidID: job.RaidID, OffsetMinutes: job.OffsetMinutes}
	if raid, err := s.store.Raid(ctx, job.RaidID); err == nil {
		due.StartsAt = raid.StartsAt
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderDue, Time: s.clock.Now(), Data: due})
	}
	s.log.Info("reminder fired",
		logx.Int64("raid", job.RaidID), logx.Int("offset", job.OffsetMinutes))
	return nil
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	case <-s.clock.After(d):
		return true
	}
}

// backoff grows exponentially from RetryBase to RetryMax with +/-20% jitter.
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.opt.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > s.opt.RetryMax {
			d = s.opt.RetryMax
			break
		}
	}
	r := (randFloat64()*2 - 1) * 0.2
	d = time.Duration(float64(d) * (1 + r))
	if d < 0 {
		d = 0
	}
	if d > s.opt.RetryMax {
		d = s.opt.RetryMax
	}
	return d
}

var rngMu sync.Mutex

func randFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rand.Float64()
}

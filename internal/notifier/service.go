// Package notifier turns core events into chat messages: an async queue,
// a small worker pool, a token-bucket rate limit and bounded retries, so
// a slow or flapping chat API never backpressures the roster or the
// reminder loop.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"raidbot/internal/eventbus"
	"raidbot/internal/raidsvc"
	"raidbot/internal/reminder"
	"raidbot/internal/roster"
	"raidbot/internal/storage"
	"raidbot/internal/transport"
	logx "raidbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Enabled       bool          `json:"enabled"`
	Workers       int           `json:"workers"`
	QueueSize     int           `json:"queue_size"`
	RatePerSec    int           `json:"rate_per_sec"`
	RetryMax      int           `json:"retry_max"`
	RetryBase     time.Duration `json:"-"`
	RetryMaxDelay time.Duration `json:"-"`
}

// Notification is one outbound message.
type Notification struct {
	ChatID int64
	Text   string
}

type Service struct {
	cfg     Config
	sender  transport.Sender
	svc     *raidsvc.Service
	store   storage.Store
	render  *Renderer
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     chan Notification
	accepting bool

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, sender transport.Sender, svc *raidsvc.Service, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var name NameFunc
	if m, ok := sender.(transport.Mentioner); ok {
		name = m.Mention
	}
	return &Service{
		cfg:    cfg,
		sender: sender,
		svc:    svc,
		store:  store,
		render: NewRenderer(name),
		bus:    bus,
		log:    log,
		// Burst equals the per-second rate so short spikes drain quickly.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		stop:    make(chan struct{}),
	}
}

// Start launches the workers and the event loop.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	queue := s.queue
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, queue)
	}

	events, unsub := s.bus.Subscribe(s.cfg.QueueSize,
		eventbus.TypeReminderDue,
		eventbus.TypeSlotOpened,
		eventbus.TypeDemoted,
		eventbus.TypeRaidCreated,
		eventbus.TypeRaidCancelled,
	)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				s.handleEvent(ctx, e)
			}
		}
	}()
}

// Stop halts intake and waits for workers to finish the queued sends.
func (s *Service) Stop() {
	s.mu.Lock()
	s.accepting = false
	if s.queue != nil {
		close(s.queue)
		s.queue = nil
	}
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Notify enqueues one message without blocking the caller. Enqueue happens
// under the intake lock so Stop cannot close the queue mid-send.
func (s *Service) Notify(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil || !s.accepting {
		return ErrStopped
	}
	select {
	case s.queue <- n:
		return nil
	default:
		s.log.Warn("notification dropped", logx.Int64("chat", n.ChatID))
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan Notification) {
	defer s.wg.Done()
	for n := range queue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.sendWithRetry(ctx, n)
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n Notification) {
	if n.Text == "" {
		return
	}
	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.sender.SendText(callCtx, n.ChatID, n.Text)
		cancel()
		if err == nil {
			return
		}
		if attempt >= s.cfg.RetryMax {
			s.log.Error("send failed", logx.Int64("chat", n.ChatID), logx.Err(err))
			return
		}
		delay := s.cfg.RetryBase << attempt
		if delay > s.cfg.RetryMaxDelay {
			delay = s.cfg.RetryMaxDelay
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, e eventbus.Event) {
	switch p := e.Data.(type) {
	case reminder.ReminderDue:
		raid, err := s.store.Raid(ctx, p.RaidID)
		if err != nil {
			s.log.Warn("reminder for unknown raid", logx.Int64("raid", p.RaidID), logx.Err(err))
			return
		}
		_ = s.Notify(Notification{ChatID: raid.ChatID, Text: s.render.Reminder(p, raid.Name)})
	case roster.SlotOpened:
		raid, err := s.store.Raid(ctx, p.RaidID)
		if err != nil {
			return
		}
		_ = s.Notify(Notification{ChatID: raid.ChatID, Text: s.render.Promotion(raid.Name, p.Role, p.UserID)})
		s.refreshAnnouncement(ctx, raid)
	case roster.Demoted:
		raid, err := s.store.Raid(ctx, p.RaidID)
		if err != nil {
			return
		}
		_ = s.Notify(Notification{ChatID: raid.ChatID, Text: s.render.Demotion(raid.Name, p.Role, p.UserID)})
		s.refreshAnnouncement(ctx, raid)
	case raidsvc.RaidCreated:
		_ = s.Notify(Notification{ChatID: p.ChatID, Text: s.render.Created(p)})
	case raidsvc.RaidCancelled:
		_ = s.Notify(Notification{ChatID: p.ChatID, Text: s.render.Cancelled(p)})
		if raid, err := s.store.Raid(ctx, p.RaidID); err == nil {
			s.refreshAnnouncement(ctx, raid)
		}
	}
}

// refreshAnnouncement re-renders the pinned roster message in place. Raids
// without a recorded message are skipped.
func (s *Service) refreshAnnouncement(ctx context.Context, raid storage.Raid) {
	if raid.MessageID == 0 {
		return
	}
	view, err := s.svc.Snapshot(ctx, raid.ID)
	if err != nil {
		return
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	if err := s.sender.EditText(ctx, raid.ChatID, raid.MessageID, s.render.Roster(view)); err != nil {
		s.log.Warn("announcement edit failed", logx.Int64("raid", raid.ID), logx.Err(err))
	}
}

// Package schedule turns stored cron definitions into raids. When a cron
// entry fires, a raid starting LeadTime later is created through the
// facade, which also arms its reminders and announces it.
package schedule

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"raidbot/internal/raidsvc"
	"raidbot/internal/storage"
	logx "raidbot/pkg/logx"
)

type Config struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone"` // IANA TZ, e.g. "Europe/Berlin"
}

// Service mirrors one cron entry per stored schedule. Definitions live in
// the store; the cron runtime is rebuilt from them on Start and whenever a
// schedule is added or removed.
type Service struct {
	mu sync.Mutex

	cfg    Config
	store  storage.Store
	svc    *raidsvc.Service
	log    logx.Logger
	parser cron.Parser

	c       *cron.Cron
	entries map[int64]cron.EntryID
	ctx     context.Context
}

func New(cfg Config, store storage.Store, svc *raidsvc.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		svc:     svc,
		log:     log,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[int64]cron.EntryID{},
	}
}

// Start loads every stored schedule and begins firing. Invalid specs are
// logged and skipped so one bad row cannot keep the rest from running.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	defs, err := s.store.Schedules(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := s.registerLocked(def); err != nil {
			s.log.Warn("schedule skipped", logx.Int64("schedule", def.ID), logx.Err(err))
		}
	}

	s.c.Start()
	s.log.Info("recurring schedules started",
		logx.Int("count", len(s.entries)), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.entries = map[int64]cron.EntryID{}
}

// Add validates the spec, persists the schedule and registers it with the
// running cron.
func (s *Service) Add(ctx context.Context, def storage.Schedule) (int64, error) {
	if _, err := s.parser.Parse(def.Spec); err != nil {
		return 0, err
	}
	id, err := s.store.CreateSchedule(ctx, def)
	if err != nil {
		return 0, err
	}
	def.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		if err := s.registerLocked(def); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Remove deletes the schedule and unregisters its cron entry.
func (s *Service) Remove(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.DeleteSchedule(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, registered := s.entries[id]; registered && s.c != nil {
		s.c.Remove(entry)
		delete(s.entries, id)
	}
	return true, nil
}

func (s *Service) List(ctx context.Context) ([]storage.Schedule, error) {
	return s.store.Schedules(ctx)
}

func (s *Service) registerLocked(def storage.Schedule) error {
	entry, err := s.c.AddFunc(def.Spec, func() { s.generate(def) })
	if err != nil {
		return err
	}
	s.entries[def.ID] = entry
	return nil
}

// generate creates one raid instance from the schedule definition.
func (s *Service) generate(def storage.Schedule) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	startsAt := time.Now().Add(def.LeadTime)

	roles, comment, offsets := def.Roles, def.Comment, def.ReminderOffset
	if len(roles) == 0 && def.TemplateID != 0 {
		tpl, err := s.templateByID(ctx, def.TemplateID)
		if err != nil {
			s.log.Error("schedule template lookup failed",
				logx.Int64("schedule", def.ID), logx.Err(err))
			return
		}
		roles = tpl.Roles
		if comment == "" {
			comment = tpl.Comment
		}
		if len(offsets) == 0 {
			offsets = tpl.ReminderOffset
		}
	}

	name := strings.TrimSpace(def.NamePattern)
	if name == "" {
		name = "raid"
	}
	name = strings.ReplaceAll(name, "{date}", startsAt.Format("02.01"))
	name = strings.ReplaceAll(name, "{time}", startsAt.Format("15:04"))

	raid, err := s.svc.CreateRaid(ctx, raidsvc.CreateRaidParams{
		ChatID:          def.ChatID,
		Name:            name,
		StartsAt:        startsAt,
		Comment:         comment,
		Roles:           roles,
		ReminderOffsets: offsets,
		CreatedBy:       def.CreatedBy,
	})
	if err != nil {
		s.log.Error("scheduled raid creation failed",
			logx.Int64("schedule", def.ID), logx.Err(err))
		return
	}
	s.log.Info("raid generated from schedule",
		logx.Int64("schedule", def.ID), logx.Int64("raid", raid.ID),
		logx.Time("starts_at", startsAt))
}

func (s *Service) templateByID(ctx context.Context, id int64) (storage.Template, error) {
	tpls, err := s.store.Templates(ctx)
	if err != nil {
		return storage.Template{}, err
	}
	for _, t := range tpls {
		if t.ID == id {
			return t, nil
		}
	}
	return storage.Template{}, storage.ErrNotFound
}

// Package app wires the bot together: config, logging, storage, the
// roster engine, the reminder scheduler, recurring schedules, the
// notifier and the Telegram adapter.
package app

import (
	"context"

	"github.com/coreos/go-systemd/v22/daemon"

	"raidbot/internal/config"
	"raidbot/internal/eventbus"
	"raidbot/internal/notifier"
	"raidbot/internal/raidsvc"
	"raidbot/internal/reminder"
	"raidbot/internal/roster"
	"raidbot/internal/schedule"
	"raidbot/internal/storage"
	telegram "raidbot/internal/transport/telegram"
	logx "raidbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store storage.Store

	engine  *roster.Engine
	sched   *reminder.Scheduler
	svc     *raidsvc.Service
	recur   *schedule.Service
	notif   *notifier.Service
	adapter *telegram.Adapter

	cancel context.CancelFunc
	cfgCh  chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logCfg(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	engine := roster.New(store, bus, log.With(logx.String("comp", "roster")))

	remOpts, err := mapReminderOptions(cfg)
	if err != nil {
		return nil, err
	}
	sched := reminder.New(store, bus, reminder.NewClock(), log.With(logx.String("comp", "reminder")), remOpts)
	svc := raidsvc.New(store, engine, sched, bus, log.With(logx.String("comp", "raid")))
	recur := schedule.New(schedule.Config{
		Enabled:  cfg.Schedules.Enabled,
		Timezone: cfg.Schedules.Timezone,
	}, store, svc, log.With(logx.String("comp", "schedule")))

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		AdminIDs:       cfg.Telegram.AdminIDs,
		PollTimeout:    pollTimeout,
		DefaultOffsets: cfg.Reminders.DefaultOffsets,
	}, svc, store, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	notifCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(notifCfg, adapter, svc, store, bus, log.With(logx.String("comp", "notifier")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  engine,
		sched:   sched,
		svc:     svc,
		recur:   recur,
		notif:   notif,
		adapter: adapter,
	}, nil
}

// Start brings services up in dependency order. The reminder scheduler
// starts last among the core pieces so its recovery scan already has the
// notifier listening.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.notif.Start(ctx)
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if err := a.recur.Start(ctx); err != nil {
		return err
	}
	if err := a.adapter.Start(ctx); err != nil {
		return err
	}

	a.cfgCh = a.cfgm.Subscribe(1)
	go a.watchConfig(ctx)
	go func() { _ = a.cfgm.Watch(ctx) }()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
	}

	_ = a.adapter.Stop(ctx)
	a.recur.Stop()
	a.sched.Stop()
	a.notif.Stop()
	if a.cfgCh != nil {
		a.cfgm.Unsubscribe(a.cfgCh)
	}

	err := a.store.Close()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// watchConfig applies hot-reloadable settings. Only logging is dynamic;
// everything else needs a restart.
func (a *App) watchConfig(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			a.logs.Apply(logCfg(cfg))
			a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
		}
	}
}

func mapReminderOptions(cfg *config.Config) (reminder.Options, error) {
	base, err := config.ParseDuration("reminders.retry_base", cfg.Reminders.RetryBase)
	if err != nil {
		return reminder.Options{}, err
	}
	maxDelay, err := config.ParseDuration("reminders.retry_max_delay", cfg.Reminders.RetryMaxDelay)
	if err != nil {
		return reminder.Options{}, err
	}
	return reminder.Options{
		RetryBase:   base,
		RetryMax:    maxDelay,
		MaxAttempts: cfg.Reminders.MaxAttempts,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	base, err := config.ParseDuration("notifier.retry_base", cfg.Notifier.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDuration("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       cfg.NotifierEnabled(),
		Workers:       cfg.Notifier.Workers,
		QueueSize:     cfg.Notifier.QueueSize,
		RatePerSec:    cfg.Notifier.RatePerSec,
		RetryMax:      cfg.Notifier.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	}
}

package config

// Config is the root of the bot configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
	Reminders RemindersConfig `json:"reminders,omitempty"`
	Schedules SchedulesConfig `json:"schedules,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminIDs may create raids, change capacities and manage templates.
	// Empty means everyone.
	AdminIDs []int64 `json:"admin_ids,omitempty"`
	// PollTimeout is the long-poll duration, default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`   // trace|debug|info|warn|error
	Console bool   `json:"console,omitempty"` // pretty console output instead of JSON
	File    string `json:"file,omitempty"`    // optional log file path
}

type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // sqlite (default) or memory
	Path   string `json:"path,omitempty"`   // sqlite database file
	// BusyTimeout bounds how long a locked database is retried, default "5s".
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotifierConfig controls the outbound message pipeline.
//
// Enabled is a pointer so an omitted field defaults to true while an
// explicit false turns the pipeline off.
type NotifierConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type RemindersConfig struct {
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	// DefaultOffsets are the reminder minutes applied when a raid is
	// created without explicit offsets, default [60, 15].
	DefaultOffsets []int `json:"default_offsets,omitempty"`
}

type SchedulesConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ name
}

// NotifierEnabled resolves the tri-state enabled flag.
func (c *Config) NotifierEnabled() bool {
	if c.Notifier.Enabled == nil {
		return true
	}
	return *c.Notifier.Enabled
}

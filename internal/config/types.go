package config

// Config is the on-disk configuration (JSON or YAML). Durations are strings
// ("10s", "1m") and are parsed during validation.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
	Bot      BotConfig      `json:"bot"`

	// Omitted means enabled with defaults.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
	// Empty allows every chat.
	AllowedChats []int64 `json:"allowed_chats,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
	Chat    LoggingChatConfig `json:"chat"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChatConfig mirrors warnings into an admin chat.
type LoggingChatConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	// "file" (default) or "sqlite".
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
	// Watch re-arms a user's reminders when its file changes on disk. File
	// driver only.
	Watch bool `json:"watch"`
}

type ReminderConfig struct {
	// Resync is "every:10m", "cron:*/5 * * * *" or any robfig/cron spec.
	Resync         string `json:"resync"`
	RecoverOnStart *bool  `json:"recover_on_start,omitempty"`
}

type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

type BotConfig struct {
	Prefix         string `json:"prefix"`
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
	CommandTimeout string `json:"command_timeout"`
}

// RecoverOnStart defaults to true.
func (c *Config) RecoverOnStart() bool {
	if c == nil || c.Reminder.RecoverOnStart == nil {
		return true
	}
	return *c.Reminder.RecoverOnStart
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

const (
	defaultPollTimeout    = 10 * time.Second
	defaultCommandTimeout = 15 * time.Second
	defaultBusyTimeout    = time.Second
	defaultDataDir        = "./data"
	defaultSQLitePath     = "./remindbot.db"
)

// Validate checks every section. All problems are reported at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %sTELEGRAM_TOKEN)", EnvPrefix))
	}
	if _, err := c.PollTimeout(); err != nil {
		errs = append(errs, err)
	}
	if lv := c.Logging.Level; lv != "" && !logx.ValidLevel(lv) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if ch := c.Logging.Chat; ch.Enabled {
		if ch.ChatID == 0 {
			errs = append(errs, errors.New("logging.chat.chat_id is required when logging.chat.enabled"))
		}
		if ch.MinLevel != "" && !logx.ValidLevel(ch.MinLevel) {
			errs = append(errs, fmt.Errorf("logging.chat.min_level: unknown level %q", ch.MinLevel))
		}
	}
	if sc, err := c.StorageConfig(); err != nil {
		errs = append(errs, err)
	} else if c.Storage.Watch && sc.Driver != "file" {
		errs = append(errs, errors.New("storage.watch needs storage.driver=file"))
	}
	if _, err := reminder.ParseSchedule(c.Reminder.Resync); err != nil {
		errs = append(errs, fmt.Errorf("reminder.resync: %w", err))
	}
	if _, err := c.NotifierConfig(); err != nil {
		errs = append(errs, err)
	}
	if p := c.Bot.Prefix; p != "" && strings.ContainsAny(p, " \t\n") {
		errs = append(errs, fmt.Errorf("bot.prefix must be a single word, got %q", p))
	}
	if c.Bot.Workers < 0 || c.Bot.QueueSize < 0 {
		errs = append(errs, errors.New("bot.workers and bot.queue_size must be >= 0"))
	}
	if _, err := c.CommandTimeout(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return durationOr("telegram.poll_timeout", c.Telegram.PollTimeout, defaultPollTimeout)
}

func (c *Config) CommandTimeout() (time.Duration, error) {
	return durationOr("bot.command_timeout", c.Bot.CommandTimeout, defaultCommandTimeout)
}

func (c *Config) LogConfig() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

// StorageConfig maps the storage section, filling default paths.
func (c *Config) StorageConfig() (storage.Config, error) {
	sc := c.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = defaultDataDir
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultSQLitePath
		}
		busy, err := durationOr("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// NotifierConfig maps the notifier section. An omitted section means enabled
// with defaults.
func (c *Config) NotifierConfig() (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      20,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     30 * time.Second,
		DedupMaxEntries: 2000,
	}
	n := c.Notifier
	if n == nil {
		return out, nil
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, errors.New("notifier: counts must be >= 0")
	}
	out.Enabled = n.Enabled
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = durationOr("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = durationOr("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if strings.TrimSpace(n.DedupWindow) != "" {
		// "0s" turns dedup off
		if out.DedupWindow, err = parseDuration("notifier.dedup_window", n.DedupWindow); err != nil {
			return notifier.Config{}, err
		}
	}
	if out.RetryMaxDelay < out.RetryBase {
		return notifier.Config{}, errors.New("notifier.retry_max_delay must be >= notifier.retry_base")
	}
	return out, nil
}

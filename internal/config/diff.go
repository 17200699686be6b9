package config

import (
	"reflect"
	"strings"

	"remindbot/pkg/logx"
)

// Change lists which hot-reloadable sections differ between two configs.
type Change struct {
	Sections []string
	// Fields are safe to log; secrets (the bot token) never appear.
	Fields []logx.Field

	Logging  bool
	Notifier bool
	Resync   bool
	Chats    bool
	// Restart is set when a field that is only read at startup changed.
	Restart bool
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares old and new. A nil side is treated as the zero config.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Telegram.AllowedChats, newCfg.Telegram.AllowedChats) {
		ch.Chats = true
		mark("telegram.allowed_chats", logx.Int("telegram.allowed_chats", len(newCfg.Telegram.AllowedChats)))
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		ch.Restart = true
		mark("telegram", logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token))
	}
	if oldCfg.Logging != newCfg.Logging {
		ch.Logging = true
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		ch.Restart = true
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if strings.TrimSpace(oldCfg.Reminder.Resync) != strings.TrimSpace(newCfg.Reminder.Resync) {
		ch.Resync = true
		mark("reminder.resync", logx.String("reminder.resync", newCfg.Reminder.Resync))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		ch.Notifier = true
		fields := []logx.Field{logx.Bool("notifier.configured", newCfg.Notifier != nil)}
		if n := newCfg.Notifier; n != nil {
			fields = append(fields, logx.Bool("notifier.enabled", n.Enabled), logx.Int("notifier.rate_per_sec", n.RatePerSec))
		}
		mark("notifier", fields...)
	}
	if oldCfg.Bot != newCfg.Bot {
		ch.Restart = true
		mark("bot", logx.String("bot.prefix", newCfg.Bot.Prefix))
	}
	return ch
}

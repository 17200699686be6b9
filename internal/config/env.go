package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file values, e.g.
// REMINDBOT_TELEGRAM_TOKEN or REMINDBOT_STORAGE_PATH.
const EnvPrefix = "REMINDBOT_"

// envOverlay lists the keys that may come from the environment. A nil field
// was not set.
type envOverlay struct {
	Telegram struct {
		Token       *string `koanf:"token"`
		PollTimeout *string `koanf:"poll_timeout"`
	} `koanf:"telegram"`
	Logging struct {
		Level *string `koanf:"level"`
	} `koanf:"logging"`
	Storage struct {
		Driver *string `koanf:"driver"`
		Path   *string `koanf:"path"`
	} `koanf:"storage"`
	Bot struct {
		Prefix *string `koanf:"prefix"`
	} `koanf:"bot"`
}

// envKey maps REMINDBOT_STORAGE_BUSY_TIMEOUT to storage.busy_timeout: the
// first segment is the section, the rest is the field.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + field
}

func applyEnv(cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	var ov envOverlay
	if err := k.Unmarshal("", &ov); err != nil {
		return fmt.Errorf("decode env: %w", err)
	}
	override(&cfg.Telegram.Token, ov.Telegram.Token)
	override(&cfg.Telegram.PollTimeout, ov.Telegram.PollTimeout)
	override(&cfg.Logging.Level, ov.Logging.Level)
	override(&cfg.Storage.Driver, ov.Storage.Driver)
	override(&cfg.Storage.Path, ov.Storage.Path)
	override(&cfg.Bot.Prefix, ov.Bot.Prefix)
	return nil
}

func override(dst, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: 5s
  allowed_chats: [-1001, 42]
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: /tmp/remind.db
reminder:
  resync: every:5m
notifier:
  enabled: true
  rate_per_sec: 5
  retry_base: 1s
bot:
  prefix: "!remind"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, []int64{-1001, 42}, cfg.Telegram.AllowedChats)
	pt, err := cfg.PollTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, pt)

	sc, err := cfg.StorageConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	nc, err := cfg.NotifierConfig()
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, 5, nc.RatePerSec)
	assert.Equal(t, time.Second, nc.RetryBase)
	assert.Equal(t, 2, nc.Workers)

	assert.True(t, cfg.RecoverOnStart())
	assert.Equal(t, "!remind", cfg.Bot.Prefix)
}

func TestLoadJSONDefaults(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":"t"}}`))
	cfg, err := m.Load()
	require.NoError(t, err)

	sc, err := cfg.StorageConfig()
	require.NoError(t, err)
	assert.Equal(t, "file", sc.Driver)
	assert.Equal(t, defaultDataDir, sc.Path)

	nc, err := cfg.NotifierConfig()
	require.NoError(t, err)
	assert.True(t, nc.Enabled, "omitted notifier section means enabled")
	assert.Equal(t, 30*time.Second, nc.DedupWindow)

	ct, err := cfg.CommandTimeout()
	require.NoError(t, err)
	assert.Equal(t, defaultCommandTimeout, ct)
}

func TestDecodeStrict(t *testing.T) {
	tests := []struct {
		name, path, body string
	}{
		{name: "unknown json field", path: "c.json", body: `{"telegram":{"token":"t"},"pprof":{}}`},
		{name: "unknown yaml field", path: "c.yml", body: "telegram:\n  token: t\n  owner: 1\n"},
		{name: "trailing json", path: "c.json", body: `{"telegram":{"token":"t"}} {}`},
		{name: "wrong type", path: "c.json", body: `{"telegram":{"allowed_chats":"x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.path, []byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestValidate(t *testing.T) {
	ok := func() *Config { return &Config{Telegram: TelegramConfig{Token: "t"}} }
	off := false
	tests := []struct {
		name   string
		mutate func(*Config)
		bad    bool
	}{
		{name: "minimal", mutate: func(*Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = " " }, bad: true},
		{name: "bad poll timeout", mutate: func(c *Config) { c.Telegram.PollTimeout = "soon" }, bad: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, bad: true},
		{name: "chat log without chat", mutate: func(c *Config) { c.Logging.Chat.Enabled = true }, bad: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, bad: true},
		{name: "watch on sqlite", mutate: func(c *Config) { c.Storage.Driver = "sqlite"; c.Storage.Watch = true }, bad: true},
		{name: "watch on file", mutate: func(c *Config) { c.Storage.Watch = true }},
		{name: "bad resync", mutate: func(c *Config) { c.Reminder.Resync = "cron:" }, bad: true},
		{name: "cron resync", mutate: func(c *Config) { c.Reminder.Resync = "cron:*/5 * * * *" }},
		{name: "negative notifier", mutate: func(c *Config) { c.Notifier = &NotifierConfig{Workers: -1} }, bad: true},
		{name: "retry cap below base", mutate: func(c *Config) {
			c.Notifier = &NotifierConfig{RetryBase: "5s", RetryMaxDelay: "1s"}
		}, bad: true},
		{name: "prefix with space", mutate: func(c *Config) { c.Bot.Prefix = "/remind me" }, bad: true},
		{name: "recover off", mutate: func(c *Config) { c.Reminder.RecoverOnStart = &off }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ok()
			tt.mutate(c)
			err := c.Validate()
			if tt.bad {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDedupWindowZeroDisables(t *testing.T) {
	c := &Config{Notifier: &NotifierConfig{Enabled: true, DedupWindow: "0s"}}
	nc, err := c.NotifierConfig()
	require.NoError(t, err)
	assert.Zero(t, nc.DedupWindow)
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("REMINDBOT_TELEGRAM_TOKEN", "from-env")
	t.Setenv("REMINDBOT_STORAGE_PATH", "/var/lib/remindbot")
	t.Setenv("REMINDBOT_LOGGING_LEVEL", "warn")
	t.Setenv("REMINDBOT_BOT_PREFIX", "")

	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":"file"},"bot":{"prefix":"/r"}}`))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "/var/lib/remindbot", cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/r", cfg.Bot.Prefix, "empty env value keeps the file value")
}

func TestEnvSuppliesMissingToken(t *testing.T) {
	t.Setenv("REMINDBOT_TELEGRAM_TOKEN", "secret")
	_, err := NewManager(writeFile(t, "config.yaml", "logging:\n  level: info\n")).Load()
	require.NoError(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "storage.busy_timeout", envKey("REMINDBOT_STORAGE_BUSY_TIMEOUT"))
	assert.Equal(t, "telegram.token", envKey("REMINDBOT_TELEGRAM_TOKEN"))
	assert.Equal(t, "debug", envKey("REMINDBOT_DEBUG"))
}

func TestDiff(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "t"}}
	b := *a
	assert.True(t, Diff(a, &b).Empty())

	b.Logging.Level = "debug"
	b.Reminder.Resync = "every:1m"
	b.Telegram.AllowedChats = []int64{1}
	ch := Diff(a, &b)
	assert.True(t, ch.Logging)
	assert.True(t, ch.Resync)
	assert.True(t, ch.Chats)
	assert.False(t, ch.Restart)
	assert.False(t, ch.Notifier)

	b.Storage.Path = "/elsewhere"
	assert.True(t, Diff(a, &b).Restart)
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"telegram":{"token":"t"},"logging":{"level":"info"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)

	// invalid edits are rejected and not published
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"bogus":1}`), 0o600))
	time.Sleep(600 * time.Millisecond)
	select {
	case c := <-sub:
		t.Fatalf("invalid config published: %+v", c)
	default:
	}
	assert.Equal(t, "info", m.Get().Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"logging":{"level":"debug"}}`), 0o600))
	select {
	case c := <-sub:
		assert.Equal(t, "debug", c.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatalf("no config published")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	assert.Same(t, second, <-ch)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

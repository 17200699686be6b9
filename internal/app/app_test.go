package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/bot"
	"remindbot/internal/calendar"
	"remindbot/internal/config"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type nullSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *nullSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t"},
		Storage:  config.StorageConfig{Driver: "file", Path: dir},
		Reminder: config.ReminderConfig{Resync: "every:1h"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	comps, err := buildComponents(cfg, &nullSender{}, logx.Nop())
	require.NoError(t, err)
	a := &App{log: logx.Nop(), components: comps}
	a.sup = supervisor.New(context.Background(), supervisor.WithLogger(a.log))
	return a
}

func TestRemindersSurviveRestart(t *testing.T) {
	cfg := testConfig(t.TempDir())

	first := newTestApp(t, cfg)
	require.NoError(t, first.startCore(first.sup.Context(), cfg))
	user, err := calendar.IdentifierFromInt64(1001)
	require.NoError(t, err)
	caller := bot.Caller{ID: user, Chat: transport.ChatTarget{ChatID: 1001}}
	ctx := context.Background()

	_, err = first.svc.Execute(ctx, caller, bot.RegisterCmd{Offset: "+02:00"})
	require.NoError(t, err)
	_, err = first.svc.Execute(ctx, caller, bot.CreateEventCmd{Options: bot.EventOptions{
		Title: "Dentist", Date: "2099-03-04", Time: "09:15",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, first.sched.Pending())
	require.NoError(t, first.Stop(ctx, StopSignal))

	second := newTestApp(t, cfg)
	assert.Zero(t, second.sched.Pending())
	require.NoError(t, second.startCore(second.sup.Context(), cfg))
	assert.Equal(t, 1, second.sched.Pending(), "stored event re-armed on start")
	require.NoError(t, second.Stop(ctx, StopSignal))
}

func TestRecoverOnStartDisabled(t *testing.T) {
	cfg := testConfig(t.TempDir())
	a := newTestApp(t, cfg)
	user, _ := calendar.IdentifierFromInt64(7)
	caller := bot.Caller{ID: user, Chat: transport.ChatTarget{ChatID: 7}}
	_, err := a.svc.Execute(context.Background(), caller, bot.RegisterCmd{Offset: "+00:00"})
	require.NoError(t, err)
	_, err = a.svc.Execute(context.Background(), caller, bot.CreateEventCmd{Options: bot.EventOptions{
		Title: "x", Date: "2099-01-01", Time: "10:00",
	}})
	require.NoError(t, err)
	a.sched.CancelUser(user)

	off := false
	cfg.Reminder.RecoverOnStart = &off
	require.NoError(t, a.startCore(a.sup.Context(), cfg))
	assert.Zero(t, a.sched.Pending())
	require.NoError(t, a.Stop(context.Background(), StopUnknown))
}

func TestStartCoreRejectsBadResync(t *testing.T) {
	cfg := testConfig(t.TempDir())
	a := newTestApp(t, cfg)
	cfg.Reminder.Resync = "cron:not a cron"
	assert.Error(t, a.startCore(a.sup.Context(), cfg))
	_ = a.Stop(context.Background(), StopFatal)
}

func TestApplyConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	a := newTestApp(t, cfg)
	require.NoError(t, a.startCore(a.sup.Context(), cfg))
	require.True(t, a.notif.Enabled())

	next := *cfg
	next.Notifier = &config.NotifierConfig{Enabled: false}
	next.Reminder.Resync = "every:5m"
	next.Telegram.AllowedChats = []int64{1}
	a.applyConfig(a.sup.Context(), cfg, &next)
	assert.False(t, a.notif.Enabled())

	again := next
	again.Notifier = &config.NotifierConfig{Enabled: true}
	a.applyConfig(a.sup.Context(), &next, &again)
	assert.True(t, a.notif.Enabled())

	require.NoError(t, a.Stop(context.Background(), StopSignal))
	require.NoError(t, a.Stop(context.Background(), StopSignal), "second Stop is a no-op")
}

func TestRunStep(t *testing.T) {
	log := logx.Nop()
	err := runStep(context.Background(), log, "ok", time.Second, func(context.Context) error { return nil })
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = runStep(context.Background(), log, "fail", time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	start := time.Now()
	err = runStep(context.Background(), log, "stuck", 20*time.Millisecond, func(c context.Context) error {
		<-c.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "overrunning step is not waited for")

	err = runStep(context.Background(), log, "panic", time.Second, func(context.Context) error { panic("x") })
	assert.Error(t, err)

	expired, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	assert.ErrorIs(t, runStep(expired, log, "late", time.Second, func(context.Context) error { return nil }), context.DeadlineExceeded)
}

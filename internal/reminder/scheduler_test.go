package reminder

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/calendar"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

var (
	utc, _ = calendar.ParseUtcOffset("+00:00")
	fireAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	alice  = mustUser(1)
	bob    = mustUser(2)
)

func mustUser(n int64) calendar.Identifier {
	id, err := calendar.IdentifierFromInt64(n)
	if err != nil {
		panic(err)
	}
	return id
}

func event(t *testing.T, id int64, date, clock string) calendar.Event {
	t.Helper()
	ev, err := calendar.NewEvent(calendar.EventFields{ID: id, Title: "t", Date: date, Time: clock})
	require.NoError(t, err)
	return ev
}

// clockBefore makes fireAt be d away.
func clockBefore(d time.Duration) Option {
	return WithClock(func() time.Time { return fireAt.Add(-d) })
}

func waitFor(t *testing.T, ch <-chan calendar.Event) calendar.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("reminder did not fire")
	}
	return calendar.Event{}
}

func TestArmFiresOnce(t *testing.T) {
	s := New(logx.Nop(), clockBefore(30*time.Millisecond))
	defer s.Stop()

	fired := make(chan calendar.Event, 2)
	ev := event(t, 1, "2030-01-01", "00:00")
	require.NoError(t, s.Arm(alice, ev, utc, func(u calendar.Identifier, ev calendar.Event) {
		assert.Equal(t, alice, u)
		fired <- ev
	}))
	assert.True(t, s.Has(EventKey(alice, 1)))

	got := waitFor(t, fired)
	assert.Equal(t, ev, got)
	assert.Eventually(t, func() bool { return !s.Has(EventKey(alice, 1)) }, time.Second, 5*time.Millisecond)

	select {
	case <-fired:
		t.Fatalf("fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestArmRejectsPast(t *testing.T) {
	s := New(logx.Nop(), WithClock(func() time.Time { return fireAt.Add(time.Millisecond) }))
	defer s.Stop()
	err := s.Arm(alice, event(t, 1, "2030-01-01", "00:00"), utc, nil)
	assert.ErrorIs(t, err, calendar.ErrPastEvent)
	assert.Equal(t, 0, s.Pending())
}

func TestArmZeroDelayFiresImmediately(t *testing.T) {
	s := New(logx.Nop(), clockBefore(0))
	defer s.Stop()
	fired := make(chan calendar.Event, 1)
	require.NoError(t, s.Arm(alice, event(t, 1, "2030-01-01", "00:00"), utc, func(_ calendar.Identifier, ev calendar.Event) { fired <- ev }))
	waitFor(t, fired)
}

func TestCancelPreventsFire(t *testing.T) {
	s := New(logx.Nop(), clockBefore(40*time.Millisecond))
	defer s.Stop()

	var calls atomic.Int32
	require.NoError(t, s.Arm(alice, event(t, 1, "2030-01-01", "00:00"), utc, func(calendar.Identifier, calendar.Event) { calls.Add(1) }))

	assert.True(t, s.Cancel(EventKey(alice, 1)))
	assert.False(t, s.Cancel(EventKey(alice, 1)))
	assert.Equal(t, 0, s.Pending())

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRearmUsesNewInstant(t *testing.T) {
	// now is one hour before fireAt: the original event sits an hour out and
	// the updated one 30ms out.
	now := fireAt.Add(-time.Hour)
	s := New(logx.Nop(), WithClock(func() time.Time { return now }))
	defer s.Stop()

	fired := make(chan calendar.Event, 2)
	onFire := func(_ calendar.Identifier, ev calendar.Event) { fired <- ev }

	orig := event(t, 5, "2030-01-01", "00:00")
	require.NoError(t, s.Arm(alice, orig, utc, onFire))
	at, ok := s.FireTime(EventKey(alice, 5))
	require.True(t, ok)
	assert.True(t, at.Equal(fireAt))

	moved := event(t, 5, "2029-12-31", "23:01")
	now = fireAt.Add(-59*time.Minute - 30*time.Millisecond)
	require.NoError(t, s.Arm(alice, moved, utc, onFire))
	assert.Equal(t, 1, s.Pending())

	got := waitFor(t, fired)
	assert.Equal(t, "23:01", got.Time().String())

	select {
	case ev := <-fired:
		t.Fatalf("stale timer fired for %s", ev.Time())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestKeysAreScopedPerUser(t *testing.T) {
	s := New(logx.Nop(), clockBefore(time.Hour))
	defer s.Stop()
	ev := event(t, 9, "2030-01-01", "00:00")
	require.NoError(t, s.Arm(alice, ev, utc, nil))
	require.NoError(t, s.Arm(bob, ev, utc, nil))
	assert.Equal(t, 2, s.Pending())

	assert.Equal(t, 1, s.CancelUser(alice))
	assert.False(t, s.Has(EventKey(alice, 9)))
	assert.True(t, s.Has(EventKey(bob, 9)))
}

func TestArmAfter(t *testing.T) {
	s := New(logx.Nop())
	defer s.Stop()

	done := make(chan struct{}, 1)
	k1, err := s.ArmAfter(alice, 20*time.Millisecond, func() { done <- struct{}{} })
	require.NoError(t, err)
	k2, err := s.ArmAfter(alice, time.Hour, func() {})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.True(t, k1.IsQuick())

	// Quick reminders survive CancelUser.
	s.CancelUser(alice)
	assert.True(t, s.Has(k2))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("quick reminder did not fire")
	}

	_, err = s.ArmAfter(alice, -time.Second, func() {})
	assert.ErrorIs(t, err, calendar.ErrPastEvent)
}

func TestStopDropsTimers(t *testing.T) {
	s := New(logx.Nop(), clockBefore(30*time.Millisecond))
	var calls atomic.Int32
	require.NoError(t, s.Arm(alice, event(t, 1, "2030-01-01", "00:00"), utc, func(calendar.Identifier, calendar.Event) { calls.Add(1) }))
	s.Stop()
	assert.Equal(t, 0, s.Pending())
	assert.ErrorIs(t, s.Arm(alice, event(t, 2, "2030-01-01", "00:00"), utc, nil), ErrStopped)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRecoverAndSync(t *testing.T) {
	ctx := context.Background()
	now := func() time.Time { return time.Date(2029, 6, 1, 0, 0, 0, 0, time.UTC) }
	be, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	store := storage.NewUserStore(be, storage.WithClock(now))

	ua, err := store.Register(ctx, alice, "+02:00")
	require.NoError(t, err)
	require.NoError(t, store.AddEvent(ctx, ua, event(t, 1, "2029-07-01", "10:00")))
	require.NoError(t, store.AddEvent(ctx, ua, event(t, 2, "2029-08-01", "10:00")))
	ub, err := store.Register(ctx, bob, "-05:00")
	require.NoError(t, err)
	require.NoError(t, store.AddEvent(ctx, ub, event(t, 1, "2029-09-01", "10:00")))

	s := New(logx.Nop(), WithClock(now))
	defer s.Stop()
	n, err := s.Recover(ctx, store, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, s.Pending())

	// A second pass finds nothing new.
	n, err = s.Recover(ctx, store, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Another process deletes one event and moves the other.
	_, err = store.DeleteEvent(ctx, ua, 1)
	require.NoError(t, err)
	_, err = store.UpdateEvent(ctx, ua, 2, event(t, 2, "2029-08-02", "11:00"))
	require.NoError(t, err)

	n, err = s.SyncUser(ctx, store, alice, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, s.Has(EventKey(alice, 1)))
	at, ok := s.FireTime(EventKey(alice, 2))
	require.True(t, ok)
	assert.True(t, at.Equal(time.Date(2029, 8, 2, 9, 0, 0, 0, time.UTC)))
	assert.True(t, s.Has(EventKey(bob, 1)))
}

// racingSource runs a delete for the loaded user while SyncUser is between
// its Load and its Arm calls.
type racingSource struct {
	*storage.UserStore
	t     *testing.T
	sched *Scheduler
	del   calendar.EventID
	done  chan struct{}
}

func (r *racingSource) Load(ctx context.Context, id calendar.Identifier) (*storage.User, error) {
	u, err := r.UserStore.Load(ctx, id)
	if err != nil || r.done != nil {
		return u, err
	}
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		defer r.sched.LockUser(id)()
		cur, err := r.UserStore.Load(context.Background(), id)
		if !assert.NoError(r.t, err) {
			return
		}
		_, err = r.UserStore.DeleteEvent(context.Background(), cur, r.del)
		assert.NoError(r.t, err)
		r.sched.Cancel(EventKey(id, r.del))
	}()
	// Give an unsynchronized delete the chance to finish first.
	select {
	case <-r.done:
	case <-time.After(50 * time.Millisecond):
	}
	return u, nil
}

func TestSyncUserDoesNotRearmConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	now := func() time.Time { return time.Date(2029, 6, 1, 0, 0, 0, 0, time.UTC) }
	be, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	store := storage.NewUserStore(be, storage.WithClock(now))
	u, err := store.Register(ctx, alice, "+00:00")
	require.NoError(t, err)
	require.NoError(t, store.AddEvent(ctx, u, event(t, 7, "2029-07-01", "10:00")))

	s := New(logx.Nop(), WithClock(now))
	defer s.Stop()
	src := &racingSource{UserStore: store, t: t, sched: s, del: 7}

	_, err = s.SyncUser(ctx, src, alice, nil)
	require.NoError(t, err)
	require.NotNil(t, src.done)
	select {
	case <-src.done:
	case <-time.After(3 * time.Second):
		t.Fatal("delete never ran")
	}
	assert.False(t, s.Has(EventKey(alice, 7)), "timer outlived its stored event")
	assert.Zero(t, s.Pending())
}

func TestLockUserReleases(t *testing.T) {
	s := New(logx.Nop())
	defer s.Stop()

	unlock := s.LockUser(alice)
	acquired := make(chan struct{})
	go func() {
		defer s.LockUser(alice)()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("second holder got the lock early")
	case <-time.After(20 * time.Millisecond):
	}
	// other users are not blocked
	s.LockUser(bob)()
	unlock()
	select {
	case <-acquired:
	case <-time.After(3 * time.Second):
		t.Fatal("lock never released")
	}
	// wait for the goroutine's deferred unlock
	require.Eventually(t, func() bool {
		s.usersMu.Lock()
		defer s.usersMu.Unlock()
		return len(s.users) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStartResyncRejectsBadSchedule(t *testing.T) {
	s := New(logx.Nop())
	defer s.Stop()
	err := s.StartResync(context.Background(), "* * *", nil, nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.StartResync(ctx, "10m", nil, nil))
	require.NoError(t, s.StartResync(ctx, "", nil, nil))
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		kind ScheduleKind
		expr string
	}{
		{raw: "", kind: ScheduleCron, expr: "@every 10m"},
		{raw: "*/5 * * * *", kind: ScheduleCron, expr: "*/5 * * * *"},
		{raw: "cron:@hourly", kind: ScheduleCron, expr: "@hourly"},
		{raw: "15m", kind: ScheduleInterval, expr: "@every 15m0s"},
		{raw: "every:01:30", kind: ScheduleInterval, expr: "@every 1h30m0s"},
		{raw: "00:10", kind: ScheduleInterval, expr: "@every 10m0s"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.CronExpr() != tt.expr {
				t.Fatalf("ParseSchedule(%q) = %v %q, want %v %q", tt.raw, got.Kind, got.CronExpr(), tt.kind, tt.expr)
			}
		})
	}

	for _, bad := range []string{"soon", "0s", "00:75", "every:"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

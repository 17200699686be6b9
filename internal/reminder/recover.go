package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/calendar"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

// DefaultResync is used when no resync schedule is configured.
const DefaultResync = "@every 10m"

// Source is the read side of the user store.
type Source interface {
	Users(ctx context.Context) ([]calendar.Identifier, error)
	Load(ctx context.Context, id calendar.Identifier) (*storage.User, error)
}

// SyncUser makes the armed timers of one user match its stored active events:
// timers for events that are gone (or past) are cancelled, new or moved
// events are armed. Timers that already match are left alone. It holds the
// user's lock (see LockUser) for the whole pass.
func (s *Scheduler) SyncUser(ctx context.Context, src Source, id calendar.Identifier, onFire FireFunc) (int, error) {
	defer s.LockUser(id)()

	u, err := src.Load(ctx, id)
	if errors.Is(err, calendar.ErrNotFound) {
		if n := s.CancelUser(id); n > 0 {
			s.log.Info("user record gone; timers cancelled", logx.String("user", id.String()), logx.Int("cancelled", n))
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	now := s.now()
	armed := s.armedEvents(id)
	want := map[calendar.EventID]bool{}
	n := 0
	for _, ev := range u.Events {
		if ev.MillisUntil(u.Offset, now) <= 0 {
			continue
		}
		want[ev.ID()] = true
		if cur, ok := armed[ev.ID()]; ok && cur.at.Equal(ev.Instant(u.Offset)) && equalEvent(cur.event, ev) {
			continue
		}
		if err := s.Arm(id, ev, u.Offset, onFire); err != nil {
			return n, err
		}
		n++
	}
	for evID := range armed {
		if !want[evID] {
			s.Cancel(EventKey(id, evID))
		}
	}
	return n, nil
}

func equalEvent(a, b calendar.Event) bool {
	fa, fb := a.Fields(), b.Fields()
	if fa.ID != fb.ID || fa.Title != fb.Title || fa.Date != fb.Date || fa.Time != fb.Time ||
		fa.Description != fb.Description || fa.Location != fb.Location || fa.ChatID != fb.ChatID ||
		len(fa.Tags) != len(fb.Tags) {
		return false
	}
	for i := range fa.Tags {
		if fa.Tags[i] != fb.Tags[i] {
			return false
		}
	}
	return true
}

// Recover scans every stored user and arms its active events. Failures for
// one user do not stop the scan; they are joined into the returned error.
func (s *Scheduler) Recover(ctx context.Context, src Source, onFire FireFunc) (int, error) {
	start := time.Now()
	ids, err := src.Users(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	var (
		total int
		errs  []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := s.SyncUser(ctx, src, id, onFire)
		total += n
		if err != nil {
			s.log.Warn("resync user failed", logx.String("user", id.String()), logx.Err(err))
			errs = append(errs, fmt.Errorf("user %s: %w", id, err))
		}
	}
	s.log.Debug("resync done",
		logx.Int("users", len(ids)),
		logx.Int("armed", total),
		logx.Int("pending", s.Pending()),
		logx.Duration("took", time.Since(start)),
	)
	return total, errors.Join(errs...)
}

// StartResync runs Recover on a schedule until ctx is done or Stop is called.
// Calling it again replaces the previous schedule.
func (s *Scheduler) StartResync(ctx context.Context, schedule string, src Source, onFire FireFunc) error {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	expr := spec.CronExpr()
	if _, err := s.parser.Parse(expr); err != nil {
		return fmt.Errorf("resync schedule %q: %w", schedule, err)
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(expr, func() {
		if ctx.Err() != nil {
			return
		}
		_, _ = s.Recover(ctx, src, onFire)
	}); err != nil {
		return err
	}

	s.stopResync()
	s.resyncMu.Lock()
	s.resync = c
	s.resyncMu.Unlock()
	c.Start()
	s.log.Info("resync scheduled", logx.String("schedule", expr))

	go func() {
		<-ctx.Done()
		s.resyncMu.Lock()
		same := s.resync == c
		s.resyncMu.Unlock()
		if same {
			s.stopResync()
		}
	}()
	return nil
}

func (s *Scheduler) stopResync() {
	s.resyncMu.Lock()
	c := s.resync
	s.resync = nil
	s.resyncMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

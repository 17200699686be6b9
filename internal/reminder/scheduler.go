package reminder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/calendar"
	"remindbot/pkg/logx"
)

var ErrStopped = errors.New("reminder: scheduler stopped")

// Key names one timer. Event ids are only unique per user, so the user is part
// of the key. Quick reminders have no event; they get a private sequence number.
type Key struct {
	User  calendar.Identifier
	Event calendar.EventID
	quick uint64
}

func EventKey(user calendar.Identifier, id calendar.EventID) Key {
	return Key{User: user, Event: id}
}

// IsQuick reports whether k belongs to an in-memory quick reminder.
func (k Key) IsQuick() bool { return k.quick != 0 }

func (k Key) String() string {
	if k.quick != 0 {
		return fmt.Sprintf("%s/quick-%d", k.User, k.quick)
	}
	return fmt.Sprintf("%s/%s", k.User, k.Event)
}

// FireFunc is called once when an event's reminder is due.
type FireFunc func(user calendar.Identifier, ev calendar.Event)

type entry struct {
	ver   uint64
	timer *time.Timer
	at    time.Time
	event calendar.Event // zero for quick reminders
}

type Scheduler struct {
	log logx.Logger
	now func() time.Time

	mu      sync.Mutex
	entries map[Key]*entry
	seq     uint64 // version source; never reused
	quick   uint64
	stopped bool

	parser   cron.Parser
	resyncMu sync.Mutex
	resync   *cron.Cron

	usersMu sync.Mutex
	users   map[calendar.Identifier]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Scheduler)

// WithClock replaces time.Now when computing delays.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		log:     log.With(logx.String("comp", "reminder")),
		now:     time.Now,
		entries: map[Key]*entry{},
		users:   map[calendar.Identifier]*userLock{},
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// LockUser serializes work on one user's timers. A store write and the
// Cancel or Arm that follows it must happen under the same lock, because
// SyncUser holds it from Load until its timers match what it read. Call the
// returned func to release.
func (s *Scheduler) LockUser(id calendar.Identifier) (unlock func()) {
	s.usersMu.Lock()
	l, ok := s.users[id]
	if !ok {
		l = &userLock{}
		s.users[id] = l
	}
	l.refs++
	s.usersMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.usersMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.users, id)
		}
		s.usersMu.Unlock()
	}
}

// Arm schedules onFire for ev, replacing any timer already armed for the same
// key. The delay is computed now from ev and offset; a negative delay is
// rejected, zero fires immediately.
func (s *Scheduler) Arm(user calendar.Identifier, ev calendar.Event, offset calendar.UtcOffset, onFire FireFunc) error {
	delay := ev.MillisUntil(offset, s.now())
	if delay < 0 {
		return calendar.PastEvent()
	}
	key := EventKey(user, ev.ID())
	at := ev.Instant(offset)
	err := s.arm(key, time.Duration(delay)*time.Millisecond, at, ev, func() {
		if onFire != nil {
			onFire(user, ev)
		}
	})
	if err != nil {
		return err
	}
	s.log.Debug("reminder armed",
		logx.String("key", key.String()),
		logx.Time("at", at),
		logx.Int64("delay_ms", delay),
	)
	return nil
}

// ArmAfter schedules fn after d with no stored event behind it.
func (s *Scheduler) ArmAfter(user calendar.Identifier, d time.Duration, fn func()) (Key, error) {
	if d < 0 {
		return Key{}, calendar.PastEvent()
	}
	s.mu.Lock()
	s.quick++
	key := Key{User: user, quick: s.quick}
	s.mu.Unlock()

	if err := s.arm(key, d, s.now().Add(d), calendar.Event{}, fn); err != nil {
		return Key{}, err
	}
	s.log.Debug("quick reminder armed", logx.String("key", key.String()), logx.Duration("delay", d))
	return key, nil
}

func (s *Scheduler) arm(key Key, delay time.Duration, at time.Time, ev calendar.Event, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	// upsert: stop the existing timer with the same key
	if old, ok := s.entries[key]; ok {
		old.timer.Stop()
	}
	s.seq++
	ver := s.seq
	e := &entry{ver: ver, at: at, event: ev}
	s.entries[key] = e
	e.timer = time.AfterFunc(delay, func() { s.fire(key, ver, fn) })
	return nil
}

func (s *Scheduler) fire(key Key, ver uint64, fn func()) {
	// If the timer was cancelled or replaced, ignore this callback.
	s.mu.Lock()
	cur, ok := s.entries[key]
	if !ok || cur.ver != ver {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("reminder callback panic", logx.String("key", key.String()), logx.Any("panic", r))
		}
	}()
	s.log.Debug("reminder fired", logx.String("key", key.String()))
	if fn != nil {
		fn()
	}
}

// Cancel stops and forgets the timer for key. It reports whether one existed;
// cancelling twice is a no-op.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

// CancelUser cancels every event timer of user. Quick reminders stay.
func (s *Scheduler) CancelUser(user calendar.Identifier) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if k.User != user || k.IsQuick() {
			continue
		}
		e.timer.Stop()
		delete(s.entries, k)
		n++
	}
	return n
}

func (s *Scheduler) Has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Pending is the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// FireTime returns when key is due.
func (s *Scheduler) FireTime(key Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// armedEvents returns the event timers currently armed for user.
func (s *Scheduler) armedEvents(user calendar.Identifier) map[calendar.EventID]*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[calendar.EventID]*entry{}
	for k, e := range s.entries {
		if k.User == user && !k.IsQuick() {
			cp := *e
			out[k.Event] = &cp
		}
	}
	return out
}

// Stop cancels every timer and the resync schedule. Arm fails afterwards.
func (s *Scheduler) Stop() {
	s.stopResync()

	s.mu.Lock()
	n := len(s.entries)
	for k, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, k)
	}
	s.stopped = true
	s.mu.Unlock()
	s.log.Info("scheduler stopped", logx.Int("dropped", n))
}

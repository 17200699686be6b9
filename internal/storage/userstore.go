package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"remindbot/internal/calendar"
	"remindbot/pkg/logx"
)

// maxAttempts bounds the refresh→mutate→persist retries on ErrConflict.
const maxAttempts = 3

// User is the in-memory view of one stored record.
type User struct {
	ID       calendar.Identifier
	Offset   calendar.UtcOffset
	Tags     []string
	Events   []calendar.Event
	Revision uint64
}

func (u *User) clone() *User {
	cp := *u
	cp.Tags = append([]string(nil), u.Tags...)
	cp.Events = append([]calendar.Event(nil), u.Events...)
	return &cp
}

func (u *User) indexOf(id calendar.EventID) int {
	for i, ev := range u.Events {
		if ev.ID() == id {
			return i
		}
	}
	return -1
}

// UserStore owns load/merge/save of user records.
//
// Every mutation re-reads the durable record first, so changes made by another
// process are merged instead of overwritten. Within this process, mutations of
// one user are serialized by a per-user mutex.
type UserStore struct {
	be  Backend
	log logx.Logger
	now func() time.Time

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

type Option func(*UserStore)

func WithLogger(log logx.Logger) Option { return func(s *UserStore) { s.log = log } }

// WithClock replaces time.Now for past/active checks.
func WithClock(now func() time.Time) Option { return func(s *UserStore) { s.now = now } }

func NewUserStore(be Backend, opts ...Option) *UserStore {
	s := &UserStore{be: be, log: logx.Nop(), now: time.Now, locks: map[uint64]*sync.Mutex{}}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.log = s.log.With(logx.String("comp", "userstore"))
	return s
}

// Backend exposes the underlying backend (the app closes it on shutdown).
func (s *UserStore) Backend() Backend { return s.be }

func (s *UserStore) lock(id calendar.Identifier) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id.Uint64()]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id.Uint64()] = l
	}
	return l
}

// Load reads the record for id. A missing record is a calendar NotFound error.
func (s *UserStore) Load(ctx context.Context, id calendar.Identifier) (*User, error) {
	doc, err := s.be.Read(ctx, id.String())
	if errors.Is(err, ErrNoRecord) {
		return nil, calendar.NotFound("user", id.String())
	}
	if err != nil {
		return nil, err
	}
	return decodeUser(doc)
}

// Users lists every stored identifier. Unparseable keys are skipped.
func (s *UserStore) Users(ctx context.Context) ([]calendar.Identifier, error) {
	keys, err := s.be.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]calendar.Identifier, 0, len(keys))
	for _, k := range keys {
		id, err := calendar.ParseIdentifier(k)
		if err != nil {
			s.log.Warn("skipping stored record with invalid id", logx.String("key", k))
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Register creates the record for id or, if it already exists, replaces its
// offset and tags while keeping its events.
func (s *UserStore) Register(ctx context.Context, id calendar.Identifier, offset string, tags ...string) (*User, error) {
	off, err := calendar.ParseUtcOffset(offset)
	if err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, calendar.Invalid("id", "Value must be positive")
	}

	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	for attempt := 1; ; attempt++ {
		u, err := s.Load(ctx, id)
		if errors.Is(err, calendar.ErrNotFound) {
			u, err = &User{ID: id}, nil
		}
		if err != nil {
			return nil, err
		}
		u.Offset = off
		u.Tags = append([]string(nil), tags...)
		err = s.persistLocked(ctx, u)
		if err == nil {
			s.log.Info("user registered", logx.String("user", id.String()), logx.String("tz", off.String()))
			return u, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= maxAttempts {
			return nil, err
		}
		s.log.Warn("register conflict, retrying", logx.String("user", id.String()), logx.Int("attempt", attempt))
	}
}

// Refresh re-reads the durable record into u, discarding unsaved changes.
func (s *UserStore) Refresh(ctx context.Context, u *User) error {
	l := s.lock(u.ID)
	l.Lock()
	defer l.Unlock()
	return s.refreshLocked(ctx, u)
}

func (s *UserStore) refreshLocked(ctx context.Context, u *User) error {
	fresh, err := s.Load(ctx, u.ID)
	if err != nil {
		return err
	}
	*u = *fresh
	return nil
}

// Persist writes u as a whole, guarded by u.Revision.
func (s *UserStore) Persist(ctx context.Context, u *User) error {
	l := s.lock(u.ID)
	l.Lock()
	defer l.Unlock()
	return s.persistLocked(ctx, u)
}

func (s *UserStore) persistLocked(ctx context.Context, u *User) error {
	rev, err := s.be.Write(ctx, encodeUser(u), u.Revision)
	if err != nil {
		return err
	}
	u.Revision = rev
	return nil
}

// mutate runs refresh→fn→persist under the user's lock, retrying on
// ErrConflict. fn works on a copy; u only changes when the write succeeds (or
// to the refreshed state when fn fails).
func (s *UserStore) mutate(ctx context.Context, u *User, op string, fn func(*User) error) error {
	l := s.lock(u.ID)
	l.Lock()
	defer l.Unlock()

	for attempt := 1; ; attempt++ {
		if err := s.refreshLocked(ctx, u); err != nil {
			return err
		}
		next := u.clone()
		if err := fn(next); err != nil {
			return err
		}
		err := s.persistLocked(ctx, next)
		if err == nil {
			*u = *next
			return nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= maxAttempts {
			return err
		}
		s.log.Warn("revision conflict, retrying",
			logx.String("op", op),
			logx.String("user", u.ID.String()),
			logx.Int("attempt", attempt),
		)
	}
}

// AddEvent appends ev. A past event is rejected before anything is read or
// written.
func (s *UserStore) AddEvent(ctx context.Context, u *User, ev calendar.Event) error {
	if ev.IsPast(u.Offset, s.now()) {
		return calendar.PastEvent()
	}
	return s.mutate(ctx, u, "add", func(u *User) error {
		if ev.IsPast(u.Offset, s.now()) {
			return calendar.PastEvent()
		}
		if u.indexOf(ev.ID()) >= 0 {
			return calendar.DuplicateID(ev.ID())
		}
		u.Events = append(u.Events, ev)
		return nil
	})
}

// DeleteEvent removes id and returns the removed event.
func (s *UserStore) DeleteEvent(ctx context.Context, u *User, id calendar.EventID) (calendar.Event, error) {
	var removed calendar.Event
	err := s.mutate(ctx, u, "delete", func(u *User) error {
		i := u.indexOf(id)
		if i < 0 {
			return calendar.NotFound("event", id.String())
		}
		removed = u.Events[i]
		u.Events = append(u.Events[:i], u.Events[i+1:]...)
		return nil
	})
	return removed, err
}

// UpdateEvent replaces the event stored under id with ev, keeping its position.
// ev must carry the same id and must not be in the past.
func (s *UserStore) UpdateEvent(ctx context.Context, u *User, id calendar.EventID, ev calendar.Event) (calendar.Event, error) {
	if ev.ID() != id {
		return calendar.Event{}, calendar.Invalid("id", fmt.Sprintf("event id %s does not match %s", ev.ID(), id))
	}
	var prev calendar.Event
	err := s.mutate(ctx, u, "update", func(u *User) error {
		i := u.indexOf(id)
		if i < 0 {
			return calendar.NotFound("event", id.String())
		}
		if ev.IsPast(u.Offset, s.now()) {
			return calendar.PastEvent()
		}
		prev = u.Events[i]
		u.Events[i] = ev
		return nil
	})
	return prev, err
}

// GetEvent returns the stored event with id.
func (s *UserStore) GetEvent(ctx context.Context, u *User, id calendar.EventID) (calendar.Event, error) {
	if err := s.Refresh(ctx, u); err != nil {
		return calendar.Event{}, err
	}
	if i := u.indexOf(id); i >= 0 {
		return u.Events[i], nil
	}
	return calendar.Event{}, calendar.NotFound("event", id.String())
}

// ActiveEvents returns the events that have not occurred yet, in storage order.
func (s *UserStore) ActiveEvents(ctx context.Context, u *User) ([]calendar.Event, error) {
	if err := s.Refresh(ctx, u); err != nil {
		return nil, err
	}
	return activeAt(u, s.now()), nil
}

func activeAt(u *User, now time.Time) []calendar.Event {
	out := make([]calendar.Event, 0, len(u.Events))
	for _, ev := range u.Events {
		if ev.MillisUntil(u.Offset, now) > 0 {
			out = append(out, ev)
		}
	}
	return out
}

// NextEvent returns the active event that occurs soonest. Ties go to the one
// stored first.
func (s *UserStore) NextEvent(ctx context.Context, u *User) (calendar.Event, bool, error) {
	if err := s.Refresh(ctx, u); err != nil {
		return calendar.Event{}, false, err
	}
	now := s.now()
	var (
		best  calendar.Event
		delay int64
		found bool
	)
	for _, ev := range u.Events {
		d := ev.MillisUntil(u.Offset, now)
		if d <= 0 {
			continue
		}
		if !found || d < delay {
			best, delay, found = ev, d, true
		}
	}
	return best, found, nil
}

func encodeUser(u *User) *Document {
	doc := &Document{
		Schema:   schemaVersion,
		Revision: u.Revision,
		ID:       u.ID.String(),
		Timezone: u.Offset.String(),
		Tags:     append([]string{}, u.Tags...),
		Events:   make([]EventDocument, 0, len(u.Events)),
	}
	for _, ev := range u.Events {
		doc.Events = append(doc.Events, EventDocument{
			ID:          int32(ev.ID()),
			Title:       ev.Title().String(),
			Description: ev.Description(),
			Date:        ev.Date().String(),
			Time:        ev.Time().String(),
			Location:    ev.Location(),
			Tags:        append([]string{}, ev.Tags()...),
			ChatID:      ev.ChatID(),
		})
	}
	return doc
}

func decodeUser(doc *Document) (*User, error) {
	id, err := calendar.ParseIdentifier(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("decode user %q: %w", doc.ID, err)
	}
	off, err := calendar.ParseUtcOffset(doc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("decode user %s timezone: %w", doc.ID, err)
	}
	u := &User{
		ID:       id,
		Offset:   off,
		Tags:     append([]string(nil), doc.Tags...),
		Events:   make([]calendar.Event, 0, len(doc.Events)),
		Revision: doc.Revision,
	}
	for _, e := range doc.Events {
		ev, err := calendar.NewEvent(calendar.EventFields{
			ID:          int64(e.ID),
			Title:       e.Title,
			Date:        e.Date,
			Time:        e.Time,
			Description: e.Description,
			Location:    e.Location,
			Tags:        e.Tags,
			ChatID:      e.ChatID,
		})
		if err != nil {
			return nil, fmt.Errorf("decode user %s event %d: %w", doc.ID, e.ID, err)
		}
		u.Events = append(u.Events, ev)
	}
	return u, nil
}

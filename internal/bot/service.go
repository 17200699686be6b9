package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/calendar"
	"remindbot/internal/ics"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// Notifier queues outgoing messages that are not direct replies.
type Notifier interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// Caller identifies who sent a command and where to answer.
type Caller struct {
	ID   calendar.Identifier
	Chat transport.ChatTarget
}

type Reply struct {
	Text string
}

const (
	createAttempts = 3
	deliverTimeout = 5 * time.Second
)

// Service couples store mutations with the reminder timers: every change to a
// user's events is followed by the matching Arm or Cancel.
type Service struct {
	store  *storage.UserStore
	sched  *reminder.Scheduler
	notify Notifier
	log    logx.Logger
	now    func() time.Time
	prefix string
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithPrefix sets the command prefix shown in help and error texts.
func WithPrefix(p string) Option { return func(s *Service) { s.prefix = p } }

func NewService(store *storage.UserStore, sched *reminder.Scheduler, notify Notifier, opts ...Option) *Service {
	s := &Service{store: store, sched: sched, notify: notify, log: logx.Nop(), now: time.Now, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "bot"))
	return s
}

func (s *Service) Prefix() string { return s.prefix }

// Execute runs cmd for c. Help and register work for anyone; everything else
// needs a registered caller.
func (s *Service) Execute(ctx context.Context, c Caller, cmd Command) (Reply, error) {
	var u *storage.User
	if needsUser(cmd) {
		var err error
		if u, err = s.loadUser(ctx, c.ID); err != nil {
			return Reply{}, err
		}
	}

	switch cmd := cmd.(type) {
	case HelpCmd:
		if cmd.Topic == "calendar" {
			return Reply{Text: calendarHelpText(s.prefix)}, nil
		}
		return Reply{Text: helpText(s.prefix)}, nil

	case RegisterCmd:
		u, err := s.Register(ctx, c.ID, cmd.Offset, cmd.Tags...)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: "Successfully registered! Your offset is " + u.Offset.Label() + "."}, nil

	case QuickCmd:
		at, err := s.QuickReminder(ctx, u, c.Chat, cmd.After, cmd.Message)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: formatQuickAck(at, u.Offset, cmd.Message)}, nil

	case CreateEventCmd:
		ev, err := s.CreateEvent(ctx, u, c.Chat.ChatID, cmd.Options)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: formatCreated(ev, u.Offset)}, nil

	case UpdateEventCmd:
		ev, err := s.UpdateEvent(ctx, u, c.Chat.ChatID, cmd.ID, cmd.Options)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: formatUpdated(ev, u.Offset)}, nil

	case DeleteEventCmd:
		ev, err := s.DeleteEvent(ctx, u, cmd.ID)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: formatDeleted(ev)}, nil

	case GetEventCmd:
		ev, err := s.GetEvent(ctx, u, cmd.ID)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: formatEvent(ev, u.Offset)}, nil

	case ListEventsCmd:
		evs, err := s.ListActive(ctx, u)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: formatEvents(evs, u.Offset)}, nil

	case NextEventCmd:
		ev, ok, err := s.NextEvent(ctx, u)
		if err != nil {
			return Reply{}, err
		}
		if !ok {
			return Reply{Text: formatEvents(nil, u.Offset)}, nil
		}
		return Reply{Text: formatEvent(ev, u.Offset)}, nil

	case ExportCmd:
		text, err := s.ExportICS(ctx, u)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: text}, nil

	default:
		return Reply{}, fmt.Errorf("unhandled command %T", cmd)
	}
}

func (s *Service) loadUser(ctx context.Context, id calendar.Identifier) (*storage.User, error) {
	u, err := s.store.Load(ctx, id)
	if errors.Is(err, calendar.ErrNotFound) {
		return nil, &calendar.Error{
			Kind:    calendar.ErrNotFound,
			Field:   "user",
			Message: "User not registered! Please register using " + s.prefix + " register <±HH:MM>",
		}
	}
	return u, err
}

// Register creates or updates the record of id. Armed reminders move with the
// new offset.
func (s *Service) Register(ctx context.Context, id calendar.Identifier, offset string, tags ...string) (*storage.User, error) {
	unlock := s.sched.LockUser(id)
	u, err := s.store.Register(ctx, id, offset, tags...)
	unlock()
	if err != nil {
		return nil, err
	}
	if n, err := s.sched.SyncUser(ctx, s.store, id, s.onFire); err != nil {
		s.log.Warn("re-arm after register failed", logx.String("user", id.String()), logx.Err(err))
	} else if n > 0 {
		s.log.Info("reminders re-armed", logx.String("user", id.String()), logx.Int("count", n))
	}
	return u, nil
}

// CreateEvent stores a new event under a fresh id and arms its reminder.
// chatID is where the reminder will be delivered.
func (s *Service) CreateEvent(ctx context.Context, u *storage.User, chatID int64, opts EventOptions) (calendar.Event, error) {
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		ev, err := newEvent(int64(calendar.NewEventID()), chatID, opts)
		if err != nil {
			return calendar.Event{}, err
		}
		err = s.addEvent(ctx, u, ev)
		if errors.Is(err, calendar.ErrDuplicateID) {
			lastErr = err
			continue
		}
		if err != nil {
			return calendar.Event{}, err
		}
		return ev, nil
	}
	return calendar.Event{}, lastErr
}

func (s *Service) addEvent(ctx context.Context, u *storage.User, ev calendar.Event) error {
	defer s.sched.LockUser(u.ID)()
	if err := s.store.AddEvent(ctx, u, ev); err != nil {
		return err
	}
	s.arm(u, ev)
	return nil
}

// UpdateEvent replaces event id and re-arms it at the new instant. A failed
// update leaves the previous timer in place.
func (s *Service) UpdateEvent(ctx context.Context, u *storage.User, chatID int64, id calendar.EventID, opts EventOptions) (calendar.Event, error) {
	ev, err := newEvent(int64(id), chatID, opts)
	if err != nil {
		return calendar.Event{}, err
	}
	defer s.sched.LockUser(u.ID)()
	if _, err := s.store.UpdateEvent(ctx, u, id, ev); err != nil {
		return calendar.Event{}, err
	}
	s.sched.Cancel(reminder.EventKey(u.ID, id))
	s.arm(u, ev)
	return ev, nil
}

func (s *Service) DeleteEvent(ctx context.Context, u *storage.User, id calendar.EventID) (calendar.Event, error) {
	defer s.sched.LockUser(u.ID)()
	ev, err := s.store.DeleteEvent(ctx, u, id)
	if err != nil {
		return calendar.Event{}, err
	}
	s.sched.Cancel(reminder.EventKey(u.ID, id))
	return ev, nil
}

func (s *Service) GetEvent(ctx context.Context, u *storage.User, id calendar.EventID) (calendar.Event, error) {
	return s.store.GetEvent(ctx, u, id)
}

func (s *Service) ListActive(ctx context.Context, u *storage.User) ([]calendar.Event, error) {
	return s.store.ActiveEvents(ctx, u)
}

func (s *Service) NextEvent(ctx context.Context, u *storage.User) (calendar.Event, bool, error) {
	return s.store.NextEvent(ctx, u)
}

// ExportICS renders every stored event of u, past ones included.
func (s *Service) ExportICS(ctx context.Context, u *storage.User) (string, error) {
	if err := s.store.Refresh(ctx, u); err != nil {
		return "", err
	}
	return ics.Export(u.ID, u.Offset, u.Events, s.now()), nil
}

// QuickReminder sends msg to chat after d. Nothing is stored; a restart loses
// it. Returns the fire time.
func (s *Service) QuickReminder(ctx context.Context, u *storage.User, chat transport.ChatTarget, d time.Duration, msg string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	at := s.now().Add(d)
	if _, err := s.sched.ArmAfter(u.ID, d, func() { s.deliver(chat, formatQuickDue(msg)) }); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// Recover arms every active stored event. Called once at startup.
func (s *Service) Recover(ctx context.Context) (int, error) {
	return s.sched.Recover(ctx, s.store, s.onFire)
}

// StartResync periodically re-reads the store so edits made by another process
// get armed.
func (s *Service) StartResync(ctx context.Context, schedule string) error {
	return s.sched.StartResync(ctx, schedule, s.store, s.onFire)
}

// SyncUser re-reads one user's record, e.g. after its file changed on disk.
func (s *Service) SyncUser(ctx context.Context, id calendar.Identifier) {
	if _, err := s.sched.SyncUser(ctx, s.store, id, s.onFire); err != nil {
		s.log.Warn("user resync failed", logx.String("user", id.String()), logx.Err(err))
	}
}

func (s *Service) arm(u *storage.User, ev calendar.Event) {
	if err := s.sched.Arm(u.ID, ev, u.Offset, s.onFire); err != nil {
		// The instant passed between the store write and now; nothing to fire.
		s.log.Warn("reminder not armed", logx.String("user", u.ID.String()), logx.String("event", ev.ID().String()), logx.Err(err))
	}
}

func (s *Service) onFire(user calendar.Identifier, ev calendar.Event) {
	chat := ev.ChatID()
	if chat == 0 {
		chat = int64(user.Uint64())
	}
	s.deliver(transport.ChatTarget{ChatID: chat}, formatDue(ev))
}

func (s *Service) deliver(to transport.ChatTarget, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := s.notify.Notify(ctx, transport.Notification{Target: to, Text: text, Options: &transport.SendOptions{DisablePreview: true}}); err != nil {
		s.log.Warn("reminder delivery failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func newEvent(id, chatID int64, opts EventOptions) (calendar.Event, error) {
	return calendar.NewEvent(calendar.EventFields{
		ID:          id,
		Title:       opts.Title,
		Date:        opts.Date,
		Time:        opts.Time,
		Description: opts.Description,
		Location:    opts.Location,
		Tags:        opts.Tags,
		ChatID:      chatID,
	})
}

// UserMessage renders err for the chat. Internal failures get a generic text.
func UserMessage(err error) string {
	var (
		ue *UsageError
		ce *calendar.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ue):
		return "❌ " + ue.Error()
	case errors.As(err, &ce):
		return "❌ " + ce.Message
	case errors.Is(err, storage.ErrConflict):
		return "⚠️ Your calendar was changed at the same time, please try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "⌛ That took too long, please try again."
	default:
		return "⚠️ Something went wrong, please try again later."
	}
}

// IsUserError reports whether err was caused by the command rather than the
// bot.
func IsUserError(err error) bool {
	var (
		ue *UsageError
		ce *calendar.Error
	)
	return errors.As(err, &ue) || errors.As(err, &ce)
}

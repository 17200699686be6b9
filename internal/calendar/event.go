package calendar

import (
	"strings"
	"time"
)

// EventFields is the raw, unvalidated input for NewEvent.
type EventFields struct {
	ID          int64
	Title       string
	Date        string
	Time        string
	Description string
	Location    string
	Tags        []string

	// ChatID is where the reminder is delivered. Zero means the owner's
	// private chat.
	ChatID int64
}

// Event is one calendar entry. It is immutable; updates replace the value.
type Event struct {
	id          EventID
	title       Title
	date        Date
	clock       Clock
	description string
	location    string
	tags        []string
	chatID      int64
}

// NewEvent validates id, title, date and time in that order and returns the
// first failure.
func NewEvent(f EventFields) (Event, error) {
	id, err := EventIDFromInt(f.ID)
	if err != nil {
		return Event{}, err
	}
	title, err := ParseTitle(f.Title)
	if err != nil {
		return Event{}, err
	}
	date, err := ParseDate(strings.TrimSpace(f.Date))
	if err != nil {
		return Event{}, err
	}
	clock, err := ParseClock(strings.TrimSpace(f.Time))
	if err != nil {
		return Event{}, err
	}
	return Event{
		id:          id,
		title:       title,
		date:        date,
		clock:       clock,
		description: strings.TrimSpace(f.Description),
		location:    strings.TrimSpace(f.Location),
		tags:        cleanTags(f.Tags),
		chatID:      f.ChatID,
	}, nil
}

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (e Event) ID() EventID         { return e.id }
func (e Event) Title() Title        { return e.title }
func (e Event) Date() Date          { return e.date }
func (e Event) Time() Clock         { return e.clock }
func (e Event) Description() string { return e.description }
func (e Event) Location() string    { return e.location }
func (e Event) ChatID() int64       { return e.chatID }

// Tags returns a copy.
func (e Event) Tags() []string { return append([]string(nil), e.tags...) }

// Fields returns the raw form of e; NewEvent(e.Fields()) yields an equal event.
func (e Event) Fields() EventFields {
	return EventFields{
		ID:          int64(e.id),
		Title:       e.title.String(),
		Date:        e.date.String(),
		Time:        e.clock.String(),
		Description: e.description,
		Location:    e.location,
		Tags:        e.Tags(),
		ChatID:      e.chatID,
	}
}

// WithID returns a copy of e carrying id.
func (e Event) WithID(id EventID) Event {
	e.id = id
	e.tags = append([]string(nil), e.tags...)
	return e
}

// Instant is the absolute moment the event occurs: its wall date and time
// interpreted in offset.
func (e Event) Instant(offset UtcOffset) time.Time {
	return time.Date(e.date.year, e.date.month, e.date.day, e.clock.hour, e.clock.minute, 0, 0, offset.Location())
}

// MillisUntil returns instant - now in milliseconds. Negative means past.
func (e Event) MillisUntil(offset UtcOffset, now time.Time) int64 {
	return e.Instant(offset).Sub(now).Milliseconds()
}

// IsPast reports whether the instant is at or before now.
func (e Event) IsPast(offset UtcOffset, now time.Time) bool {
	return !e.Instant(offset).After(now)
}

func (e Event) IsPastNow(offset UtcOffset) bool { return e.IsPast(offset, time.Now()) }

func (e Event) UntilNow(offset UtcOffset) time.Duration {
	return time.Duration(e.MillisUntil(offset, time.Now())) * time.Millisecond
}

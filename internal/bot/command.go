package bot

import (
	"time"

	"remindbot/internal/calendar"
)

// Command is one parsed bot command. The set of variants is closed: only the
// types in this file implement it.
type Command interface {
	command()
}

// HelpCmd prints usage. Topic is "" for the top level or "calendar".
type HelpCmd struct{ Topic string }

// RegisterCmd creates or updates the caller's record.
type RegisterCmd struct {
	Offset string
	Tags   []string
}

// QuickCmd is an in-memory reminder after a fixed delay.
type QuickCmd struct {
	After   time.Duration
	Message string
}

// EventOptions are the --opt values of create and update.
type EventOptions struct {
	Title       string
	Date        string
	Time        string
	Description string
	Location    string
	Tags        []string
}

type CreateEventCmd struct{ Options EventOptions }

type UpdateEventCmd struct {
	ID      calendar.EventID
	Options EventOptions
}

type DeleteEventCmd struct{ ID calendar.EventID }

type GetEventCmd struct{ ID calendar.EventID }

// ListEventsCmd lists every active event.
type ListEventsCmd struct{}

type NextEventCmd struct{}

// ExportCmd renders the stored events as iCalendar text.
type ExportCmd struct{}

func (HelpCmd) command()        {}
func (RegisterCmd) command()    {}
func (QuickCmd) command()       {}
func (CreateEventCmd) command() {}
func (UpdateEventCmd) command() {}
func (DeleteEventCmd) command() {}
func (GetEventCmd) command()    {}
func (ListEventsCmd) command()  {}
func (NextEventCmd) command()   {}
func (ExportCmd) command()      {}

// needsUser reports whether cmd runs against an existing record.
func needsUser(cmd Command) bool {
	switch cmd.(type) {
	case HelpCmd, RegisterCmd:
		return false
	default:
		return true
	}
}

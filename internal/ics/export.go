// Package ics renders a user's stored events as an iCalendar document so they
// can be imported into any calendar client.
package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"remindbot/internal/calendar"
)

const productID = "-//remindbot//calendar export//EN"

// DefaultDuration is the DTEND span given to events, which only carry a start.
const DefaultDuration = 30 * time.Minute

// Export serializes events for owner. Instants are written in UTC after
// applying offset; stamp is the DTSTAMP of every VEVENT.
func Export(owner calendar.Identifier, offset calendar.UtcOffset, events []calendar.Event, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName("remindbot " + owner.String())
	cal.SetXWRTimezone(offset.Label())

	for _, ev := range events {
		start := ev.Instant(offset)
		ve := cal.AddEvent(UID(owner, ev.ID()))
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(DefaultDuration))
		ve.SetSummary(ev.Title().String())
		if d := ev.Description(); d != "" {
			ve.SetDescription(d)
		}
		if l := ev.Location(); l != "" {
			ve.SetLocation(l)
		}
		if tags := ev.Tags(); len(tags) > 0 {
			ve.AddProperty(ical.ComponentPropertyCategories, strings.Join(tags, ","))
		}
	}
	return cal.Serialize()
}

// UID is the stable VEVENT identifier, so re-imports update instead of
// duplicating.
func UID(owner calendar.Identifier, id calendar.EventID) string {
	return id.String() + "-" + owner.String() + "@remindbot"
}

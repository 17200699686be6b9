package bot

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/calendar"
)

// quickTimeLayout renders the local fire time of a quick reminder.
const quickTimeLayout = "2006-01-02 15:04:05"

func helpText(prefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s <command>\n\n", prefix)
	b.WriteString("Commands:\n")
	fmt.Fprintf(&b, "- %s register <±HH:MM> [tags...]: set your UTC offset\n", prefix)
	fmt.Fprintf(&b, "- %s quick <N>(s|m|h|d) <message>: one-off reminder\n", prefix)
	fmt.Fprintf(&b, "- %s calendar <subcommand>: manage events (%s calendar help)\n", prefix, prefix)
	fmt.Fprintf(&b, "- %s help: this message", prefix)
	return b.String()
}

func calendarHelpText(prefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s calendar <subcommand> [options]\n\n", prefix)
	b.WriteString("Subcommands:\n")
	b.WriteString("- get [<id>|all|next] (default next)\n")
	b.WriteString("- create --t <title> --on <date> --time <time> [--d ...] [--at ...] [--tag ...]\n")
	b.WriteString("- update <id> (same options as create, replaces the event)\n")
	b.WriteString("- delete <id>\n")
	b.WriteString("- export (iCalendar)\n\n")
	b.WriteString("Options:\n")
	b.WriteString("- t: Title (required)\n")
	b.WriteString("- d: Description (optional)\n")
	b.WriteString("- on: Date YYYY-MM-DD (required)\n")
	b.WriteString("- time: Time HH:MM (required)\n")
	b.WriteString("- at: Location (optional)\n")
	b.WriteString("- tag: Comma separated tags (optional)")
	return b.String()
}

func formatEvent(ev calendar.Event, offset calendar.UtcOffset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%s %s\n", ev.ID(), ev.Title())
	fmt.Fprintf(&b, "Date: %s  Time: %s (%s)\n", ev.Date(), ev.Time(), offset.Label())
	loc := ev.Location()
	if loc == "" {
		loc = "N/A"
	}
	fmt.Fprintf(&b, "Location: %s\n", loc)
	desc := ev.Description()
	if desc == "" {
		desc = "No description was provided"
	}
	b.WriteString(desc)
	if tags := ev.Tags(); len(tags) > 0 {
		b.WriteString("\nTags: " + strings.Join(tags, ", "))
	}
	return b.String()
}

func formatEvents(evs []calendar.Event, offset calendar.UtcOffset) string {
	if len(evs) == 0 {
		return "No events found"
	}
	parts := make([]string, len(evs))
	for i, ev := range evs {
		parts[i] = formatEvent(ev, offset)
	}
	return strings.Join(parts, "\n\n")
}

func formatCreated(ev calendar.Event, offset calendar.UtcOffset) string {
	return fmt.Sprintf("🎉 Event created!\nID: %s\nTitle: %s\nDate: %s\nTime: %s (%s)",
		ev.ID(), ev.Title(), ev.Date(), ev.Time(), offset.Label())
}

func formatUpdated(ev calendar.Event, offset calendar.UtcOffset) string {
	return fmt.Sprintf("✏️ Event updated!\nID: %s\nTitle: %s\nDate: %s\nTime: %s (%s)",
		ev.ID(), ev.Title(), ev.Date(), ev.Time(), offset.Label())
}

func formatDeleted(ev calendar.Event) string {
	return fmt.Sprintf("🗑 Event %s (%s) deleted.", ev.ID(), ev.Title())
}

func formatDue(ev calendar.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Reminder: %s\nDate: %s\nTime: %s", ev.Title(), ev.Date(), ev.Time())
	if loc := ev.Location(); loc != "" {
		b.WriteString("\nLocation: " + loc)
	}
	if d := ev.Description(); d != "" {
		b.WriteString("\n" + d)
	}
	return b.String()
}

func formatQuickAck(at time.Time, offset calendar.UtcOffset, msg string) string {
	return fmt.Sprintf("Got it! I'll remind you at %s (%s): %s",
		at.In(offset.Location()).Format(quickTimeLayout), offset.Label(), msg)
}

func formatQuickDue(msg string) string { return "⏰ Reminder: " + msg }

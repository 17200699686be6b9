package bot

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/calendar"
)

// DefaultPrefix addresses the bot when no prefix is configured.
const DefaultPrefix = "/remindme"

// MaxQuickDelay bounds quick reminders; they live only in memory.
const MaxQuickDelay = 365 * 24 * time.Hour

// UsageError is a malformed command. It matches calendar.ErrValidation.
type UsageError struct {
	Message string
	Usage   string
}

func (e *UsageError) Error() string {
	if e.Usage == "" {
		return e.Message
	}
	return e.Message + "\n\nUsage: " + e.Usage
}

func (e *UsageError) Unwrap() error { return calendar.ErrValidation }

// Split strips prefix from text and tokenizes the rest. ok is false when text
// is not addressed to the bot. "/remindme@SomeBot" matches "/remindme".
func Split(prefix, text string) (args []string, ok bool) {
	tokens := tokenizeCommandLine(text)
	if len(tokens) == 0 {
		return nil, false
	}
	head := tokens[0]
	if strings.HasPrefix(prefix, "/") {
		if i := strings.IndexByte(head, '@'); i > 0 {
			head = head[:i]
		}
	}
	if !strings.EqualFold(head, prefix) {
		return nil, false
	}
	return tokens[1:], true
}

// tokenizeCommandLine splits on whitespace. A quote opens only at the start of
// a token, so apostrophes inside words are kept:
//
//	create --t "Team sync" --d don't forget
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, ch := range s {
		if esc {
			buf.WriteRune(ch)
			esc = false
			continue
		}
		if inQ {
			switch ch {
			case qChar:
				inQ = false
			case '\\':
				esc = true
			default:
				buf.WriteRune(ch)
			}
			continue
		}
		switch ch {
		case '"', '\'':
			if buf.Len() == 0 {
				inQ, qChar = true, ch
				continue
			}
			buf.WriteRune(ch)
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// Parse turns the tokens after the prefix into a Command. Anything it cannot
// map returns a *UsageError or a calendar validation error; there is no
// fallback to help for typos.
func Parse(prefix string, args []string) (Command, error) {
	if len(args) == 0 {
		return HelpCmd{}, nil
	}
	sub, rest := strings.ToLower(args[0]), args[1:]
	switch sub {
	case "help":
		if len(rest) > 0 && strings.EqualFold(rest[0], "calendar") {
			return HelpCmd{Topic: "calendar"}, nil
		}
		return HelpCmd{}, nil
	case "register":
		if len(rest) == 0 {
			return nil, &UsageError{
				Message: "Missing UTC offset. All times are stored relative to it.",
				Usage:   prefix + " register <±HH:MM> [tags...]. Example: " + prefix + " register -05:00",
			}
		}
		return RegisterCmd{Offset: rest[0], Tags: rest[1:]}, nil
	case "quick":
		return parseQuick(prefix, rest)
	case "calendar":
		return parseCalendar(prefix, rest)
	}
	// "/remindme 10m stretch" is shorthand for quick.
	if quickPattern.MatchString(sub) {
		return parseQuick(prefix, args)
	}
	return nil, &UsageError{Message: "Unknown command: " + args[0], Usage: prefix + " help"}
}

var quickPattern = regexp.MustCompile(`^(\d+)(s|m|h|d)$`)

func parseQuick(prefix string, args []string) (Command, error) {
	usage := prefix + " quick <time> <message>. Example: " + prefix + " quick 10s say hi"
	if len(args) < 2 {
		return nil, &UsageError{Message: "Missing time or message.", Usage: usage}
	}
	m := quickPattern.FindStringSubmatch(strings.ToLower(args[0]))
	if m == nil {
		return nil, &UsageError{
			Message: "Invalid time format. Use s (seconds), m (minutes), h (hours), or d (days). Example: 10s, 5m, 1h, 2d",
			Usage:   usage,
		}
	}
	unit := map[string]time.Duration{"s": time.Second, "m": time.Minute, "h": time.Hour, "d": 24 * time.Hour}[m[2]]
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n > int64(MaxQuickDelay/unit) {
		return nil, &UsageError{Message: "Quick reminders can be at most 365d away.", Usage: usage}
	}
	return QuickCmd{After: time.Duration(n) * unit, Message: strings.Join(args[1:], " ")}, nil
}

func parseCalendar(prefix string, args []string) (Command, error) {
	if len(args) == 0 {
		return HelpCmd{Topic: "calendar"}, nil
	}
	sub, rest := strings.ToLower(args[0]), args[1:]
	switch sub {
	case "help":
		return HelpCmd{Topic: "calendar"}, nil
	case "create":
		opts, err := parseEventOptions(createUsage(prefix), rest)
		if err != nil {
			return nil, err
		}
		return CreateEventCmd{Options: opts}, nil
	case "update":
		usage := updateUsage(prefix)
		if len(rest) == 0 || strings.HasPrefix(rest[0], "--") {
			return nil, &UsageError{Message: "Missing event id.", Usage: usage}
		}
		id, err := calendar.ParseEventID(rest[0])
		if err != nil {
			return nil, err
		}
		opts, err := parseEventOptions(usage, rest[1:])
		if err != nil {
			return nil, err
		}
		return UpdateEventCmd{ID: id, Options: opts}, nil
	case "delete":
		id, err := singleID(prefix+" calendar delete <id>", rest)
		if err != nil {
			return nil, err
		}
		return DeleteEventCmd{ID: id}, nil
	case "get":
		usage := prefix + " calendar get [<id>|all|next]"
		if len(rest) > 1 {
			return nil, &UsageError{Message: "Unexpected argument: " + rest[1], Usage: usage}
		}
		if len(rest) == 0 {
			return NextEventCmd{}, nil
		}
		switch strings.ToLower(rest[0]) {
		case "next":
			return NextEventCmd{}, nil
		case "all":
			return ListEventsCmd{}, nil
		}
		id, err := calendar.ParseEventID(rest[0])
		if err != nil {
			return nil, err
		}
		return GetEventCmd{ID: id}, nil
	case "export":
		if len(rest) > 0 {
			return nil, &UsageError{Message: "Unexpected argument: " + rest[0], Usage: prefix + " calendar export"}
		}
		return ExportCmd{}, nil
	}
	return nil, &UsageError{Message: "Unknown calendar subcommand: " + args[0], Usage: prefix + " calendar help"}
}

func singleID(usage string, args []string) (calendar.EventID, error) {
	switch {
	case len(args) == 0:
		return 0, &UsageError{Message: "Missing event id.", Usage: usage}
	case len(args) > 1:
		return 0, &UsageError{Message: "Unexpected argument: " + args[1], Usage: usage}
	}
	return calendar.ParseEventID(args[0])
}

func createUsage(prefix string) string {
	return prefix + " calendar create --t <title> --on <date> --time <time> [--d <description>] [--at <location>] [--tag <tags>]"
}

func updateUsage(prefix string) string {
	return prefix + " calendar update <id> --t <title> --on <date> --time <time> [--d <description>] [--at <location>] [--tag <tags>]"
}

var eventOptionNames = map[string]bool{"t": true, "d": true, "on": true, "time": true, "at": true, "tag": true}

// parseEventOptions reads "--opt value..." pairs. A value runs until the next
// option, so titles need no quoting.
func parseEventOptions(usage string, args []string) (EventOptions, error) {
	values := map[string][]string{}
	cur := ""
	for _, a := range args {
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			key := strings.ToLower(a[2:])
			if !eventOptionNames[key] {
				return EventOptions{}, &UsageError{Message: "Unknown option: " + a, Usage: usage}
			}
			// --tag may repeat; its values accumulate.
			if _, dup := values[key]; dup && key != "tag" {
				return EventOptions{}, &UsageError{Message: "Duplicate option: " + a, Usage: usage}
			}
			if _, seen := values[key]; !seen {
				values[key] = nil
			}
			cur = key
			continue
		}
		if cur == "" {
			return EventOptions{}, &UsageError{Message: "Unexpected argument: " + a, Usage: usage}
		}
		values[cur] = append(values[cur], a)
	}

	get := func(k string) string { return strings.Join(values[k], " ") }
	opts := EventOptions{
		Title:       get("t"),
		Date:        get("on"),
		Time:        get("time"),
		Description: get("d"),
		Location:    get("at"),
	}
	switch {
	case opts.Title == "":
		return EventOptions{}, &UsageError{Message: "Missing required option: --t (title)", Usage: usage}
	case opts.Date == "":
		return EventOptions{}, &UsageError{Message: "Missing required option: --on (date)", Usage: usage}
	case opts.Time == "":
		return EventOptions{}, &UsageError{Message: "Missing required option: --time (time)", Usage: usage}
	}
	for _, v := range values["tag"] {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				opts.Tags = append(opts.Tags, tag)
			}
		}
	}
	return opts, nil
}

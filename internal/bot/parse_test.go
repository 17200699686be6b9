package bot

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"remindbot/internal/calendar"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "  a   b\tc ", want: []string{"a", "b", "c"}},
		{in: `--t "Team sync" --d x`, want: []string{"--t", "Team sync", "--d", "x"}},
		{in: `say don't forget`, want: []string{"say", "don't", "forget"}},
		{in: `'single quoted' "with \"escape\""`, want: []string{"single quoted", `with "escape"`}},
		{in: `C:\tmp`, want: []string{`C:\tmp`}},
	}
	for _, tt := range tests {
		got := tokenizeCommandLine(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("tokenize(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()
	args, ok := Split("/remindme", "/remindme@ReminderBot calendar get")
	if !ok || !reflect.DeepEqual(args, []string{"calendar", "get"}) {
		t.Fatalf("unexpected split: %v %#v", ok, args)
	}
	if _, ok := Split("/remindme", "/remind me"); ok {
		t.Fatalf("other commands must not match")
	}
	if _, ok := Split("!remindme", "hello"); ok {
		t.Fatalf("plain text must not match")
	}
	args, ok = Split("!remindme", "!REMINDME help")
	if !ok || len(args) != 1 {
		t.Fatalf("prefix match should ignore case")
	}
}

func TestParseCommands(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Command
	}{
		{in: "", want: HelpCmd{}},
		{in: "help", want: HelpCmd{}},
		{in: "help calendar", want: HelpCmd{Topic: "calendar"}},
		{in: "register +02:00", want: RegisterCmd{Offset: "+02:00", Tags: []string{}}},
		{in: "register -05:00 work home", want: RegisterCmd{Offset: "-05:00", Tags: []string{"work", "home"}}},
		{in: "quick 10s say hi", want: QuickCmd{After: 10 * time.Second, Message: "say hi"}},
		{in: "quick 2D stretch", want: QuickCmd{After: 48 * time.Hour, Message: "stretch"}},
		{in: "5m tea", want: QuickCmd{After: 5 * time.Minute, Message: "tea"}},
		{in: "calendar", want: HelpCmd{Topic: "calendar"}},
		{in: "calendar help", want: HelpCmd{Topic: "calendar"}},
		{in: "calendar get", want: NextEventCmd{}},
		{in: "calendar get next", want: NextEventCmd{}},
		{in: "calendar get ALL", want: ListEventsCmd{}},
		{in: "calendar get 42", want: GetEventCmd{ID: 42}},
		{in: "calendar delete 42", want: DeleteEventCmd{ID: 42}},
		{in: "calendar export", want: ExportCmd{}},
		{
			in: "calendar create --t Team sync --on 2030-01-02 --time 09:30 --d bring notes --at Room 1 --tag work,team --tag q1",
			want: CreateEventCmd{Options: EventOptions{
				Title: "Team sync", Date: "2030-01-02", Time: "09:30",
				Description: "bring notes", Location: "Room 1", Tags: []string{"work", "team", "q1"},
			}},
		},
		{
			in:   `calendar update 7 --t "New title" --on 2030-01-03 --time 10:00`,
			want: UpdateEventCmd{ID: 7, Options: EventOptions{Title: "New title", Date: "2030-01-03", Time: "10:00"}},
		},
	}
	for _, tt := range tests {
		got, err := Parse("/remindme", tokenizeCommandLine(tt.in))
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if rc, ok := got.(RegisterCmd); ok && rc.Tags == nil {
			rc.Tags = []string{}
			got = rc
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("Parse(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in  string
		msg string
	}{
		{in: "frobnicate", msg: "Unknown command: frobnicate"},
		{in: "calendar gett", msg: "Unknown calendar subcommand: gett"},
		{in: "register", msg: "Missing UTC offset"},
		{in: "quick 10s", msg: "Missing time or message"},
		{in: "quick soon hello", msg: "Invalid time format"},
		{in: "quick 9999999d x", msg: "at most 365d"},
		{in: "calendar create --t a --on 2030-01-01", msg: "Missing required option: --time (time)"},
		{in: "calendar create --on 2030-01-01 --time 10:00", msg: "Missing required option: --t (title)"},
		{in: "calendar create --t a --time 10:00", msg: "Missing required option: --on (date)"},
		{in: "calendar create --t a --x b", msg: "Unknown option: --x"},
		{in: "calendar create --t a --t b", msg: "Duplicate option: --t"},
		{in: "calendar create --tag x --t a --on 2030-01-01 --time 10:00 --tag y --on 2030-01-02", msg: "Duplicate option: --on"},
		{in: "calendar create stray --t a", msg: "Unexpected argument: stray"},
		{in: "calendar update --t a", msg: "Missing event id"},
		{in: "calendar delete", msg: "Missing event id"},
		{in: "calendar delete 1 2", msg: "Unexpected argument: 2"},
		{in: "calendar get 1 2", msg: "Unexpected argument: 2"},
		{in: "calendar export now", msg: "Unexpected argument: now"},
	}
	for _, tt := range tests {
		_, err := Parse("/remindme", tokenizeCommandLine(tt.in))
		if err == nil {
			t.Fatalf("Parse(%q): expected error", tt.in)
		}
		if !strings.Contains(err.Error(), tt.msg) {
			t.Fatalf("Parse(%q) error %q does not contain %q", tt.in, err, tt.msg)
		}
		if !errors.Is(err, calendar.ErrValidation) {
			t.Fatalf("Parse(%q) error must be a validation error", tt.in)
		}
	}
}

func TestParseCreateUsage(t *testing.T) {
	_, err := Parse("/remindme", tokenizeCommandLine("calendar create --t a"))
	var ue *UsageError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UsageError, got %T", err)
	}
	want := "/remindme calendar create --t <title> --on <date> --time <time> [--d <description>] [--at <location>] [--tag <tags>]"
	if ue.Usage != want {
		t.Fatalf("usage = %q", ue.Usage)
	}
}

func TestParseBadIDs(t *testing.T) {
	for _, in := range []string{"calendar get abc", "calendar delete 99999999999", "calendar update x --t a --on 2030-01-01 --time 10:00"} {
		_, err := Parse("/remindme", tokenizeCommandLine(in))
		if !errors.Is(err, calendar.ErrValidation) {
			t.Fatalf("Parse(%q): expected validation error, got %v", in, err)
		}
	}
}

// Package calendar holds the self-validating value types and the event record.
//
// Every constructor either returns a value that satisfies its range/format or a
// *Error of kind ErrValidation. Values are immutable once built.
package calendar

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// ---- Identifier ----

// Identifier names a principal. It is the primary key of a user record.
type Identifier struct{ v uint64 }

// ParseIdentifier accepts a positive base-10 integer. Zero, negatives and
// non-numeric input are validation errors.
func ParseIdentifier(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identifier{}, invalid("id", "Invalid number format. Please provide a positive integer")
	}
	if s[0] == '-' {
		return Identifier{}, invalid("id", "Value must be positive")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Identifier{}, invalid("id", "Invalid number format. Please provide a positive integer")
	}
	if n == 0 {
		return Identifier{}, invalid("id", "Value must be positive")
	}
	return Identifier{v: n}, nil
}

// IdentifierFromInt64 adapts transport ids (Telegram user ids are int64).
func IdentifierFromInt64(n int64) (Identifier, error) {
	if n <= 0 {
		return Identifier{}, invalid("id", "Value must be positive")
	}
	return Identifier{v: uint64(n)}, nil
}

func (i Identifier) Uint64() uint64 { return i.v }
func (i Identifier) IsZero() bool   { return i.v == 0 }
func (i Identifier) String() string { return strconv.FormatUint(i.v, 10) }

// ---- UtcOffset ----

var reOffset = regexp.MustCompile(`^([+-])(\d{2}):(\d{2})$`)

// UtcOffset is a fixed displacement from UTC in the range -12:00..+14:00.
type UtcOffset struct {
	neg     bool
	hours   int
	minutes int
}

// ParseUtcOffset accepts ±HH:MM between -12:00 and +14:00. "-00:00" is
// normalized to "+00:00".
func ParseUtcOffset(s string) (UtcOffset, error) {
	m := reOffset.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return UtcOffset{}, invalid("timezone", "Invalid timezone format! Example: +05:30 | -05:00")
	}
	h, _ := strconv.Atoi(m[2])
	mm, _ := strconv.Atoi(m[3])
	neg := m[1] == "-"
	ok := mm <= 59
	if neg {
		ok = ok && (h < 12 || (h == 12 && mm == 0))
	} else {
		ok = ok && (h < 14 || (h == 14 && mm == 0))
	}
	if !ok {
		return UtcOffset{}, invalid("timezone", "Invalid timezone offset! Valid range is -12:00 to +14:00.")
	}
	if h == 0 && mm == 0 {
		neg = false
	}
	return UtcOffset{neg: neg, hours: h, minutes: mm}, nil
}

// String returns the canonical ±HH:MM form.
func (o UtcOffset) String() string {
	sign := '+'
	if o.neg {
		sign = '-'
	}
	return fmt.Sprintf("%c%02d:%02d", sign, o.hours, o.minutes)
}

// Label is the display form, e.g. "UTC+05:30".
func (o UtcOffset) Label() string { return "UTC" + o.String() }

// Millis is the signed offset in milliseconds.
func (o UtcOffset) Millis() int64 {
	ms := int64(o.hours*60+o.minutes) * int64(time.Minute/time.Millisecond)
	if o.neg {
		return -ms
	}
	return ms
}

func (o UtcOffset) Duration() time.Duration { return time.Duration(o.Millis()) * time.Millisecond }

// Location returns a fixed zone for date math; there is no tz database lookup.
func (o UtcOffset) Location() *time.Location {
	return time.FixedZone(o.Label(), int(o.Millis()/1000))
}

// ---- EventID ----

// EventID identifies an event inside one user's list. It is not globally unique.
type EventID int32

// ParseEventID accepts any base-10 integer that fits in 32 bits.
func ParseEventID(s string) (EventID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, invalid("id", "Value must be a 32-bit integer")
	}
	return EventID(n), nil
}

// EventIDFromInt rejects n outside the int32 range.
func EventIDFromInt(n int64) (EventID, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, invalid("id", "Value must be a 32-bit integer")
	}
	return EventID(n), nil
}

func (id EventID) String() string { return strconv.FormatInt(int64(id), 10) }

// idEpoch keeps second-resolution ids inside int32 until 2088.
var idEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

var lastID atomic.Int64

// NewEventID returns a wall-clock derived id that is strictly increasing
// within the process.
func NewEventID() EventID {
	return nextEventID(time.Now())
}

func nextEventID(now time.Time) EventID {
	cand := int64(now.Sub(idEpoch) / time.Second)
	for {
		prev := lastID.Load()
		next := cand
		if next <= prev {
			next = prev + 1
		}
		if next > math.MaxInt32 {
			next = 1
		}
		if lastID.CompareAndSwap(prev, next) {
			return EventID(next)
		}
	}
}

// ---- Title ----

const (
	MaxTitleLength = 256
	UntitledTitle  = "New untitled event"
)

type Title struct{ v string }

// ParseTitle accepts up to MaxTitleLength runes. An empty title becomes
// UntitledTitle.
func ParseTitle(s string) (Title, error) {
	if s == "" {
		return Title{v: UntitledTitle}, nil
	}
	if utf8.RuneCountInString(s) > MaxTitleLength {
		return Title{}, invalid("title", fmt.Sprintf("Title must be at most %d characters", MaxTitleLength))
	}
	return Title{v: s}, nil
}

func (t Title) String() string { return t.v }

// ---- Date ----

var reDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Date is a calendar day, YYYY-MM-DD.
type Date struct {
	year  int
	month time.Month
	day   int
}

// ParseDate accepts YYYY-MM-DD naming a real day, leap years included.
func ParseDate(s string) (Date, error) {
	if !reDate.MatchString(s) {
		return Date{}, invalid("date", "Invalid date format! Example: 2024-12-31")
	}
	y, _ := strconv.Atoi(s[0:4])
	m, _ := strconv.Atoi(s[5:7])
	d, _ := strconv.Atoi(s[8:10])
	if y < 1 || m < 1 || m > 12 || d < 1 || d > daysIn(y, time.Month(m)) {
		return Date{}, invalid("date", "Invalid date! Ensure the year, month, and day are valid.")
	}
	return Date{year: y, month: time.Month(m), day: d}, nil
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (d Date) Year() int         { return d.year }
func (d Date) Month() time.Month { return d.month }
func (d Date) Day() int          { return d.day }
func (d Date) String() string    { return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day) }
func (d Date) IsZero() bool      { return d.year == 0 }

// ---- Clock ----

var reClock = regexp.MustCompile(`^\d{2}:\d{2}$`)

// Clock is a 24-hour wall time, HH:MM.
type Clock struct {
	hour   int
	minute int
}

// ParseClock accepts 24-hour HH:MM, 00:00 through 23:59.
func ParseClock(s string) (Clock, error) {
	if !reClock.MatchString(s) {
		return Clock{}, invalid("time", "Invalid time format! Example: 23:59")
	}
	h, _ := strconv.Atoi(s[0:2])
	m, _ := strconv.Atoi(s[3:5])
	if h > 23 || m > 59 {
		return Clock{}, invalid("time", "Invalid time! Hours must be 0-23 and minutes must be 0-59.")
	}
	return Clock{hour: h, minute: m}, nil
}

func (c Clock) Hour() int      { return c.hour }
func (c Clock) Minute() int    { return c.minute }
func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.hour, c.minute) }

// Package timeexpr turns natural-language time phrases into absolute instants
// anchored to one fixed civil timezone, independent of the process timezone.
package timeexpr

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DisplayLayout is the dd/MM/yyyy HH:mm form used in every user-facing time.
const DisplayLayout = "02/01/2006 15:04"

var (
	relativeRe = regexp.MustCompile(`^in\s+(\d+)\s*(minutes?|mins?|hours?|hrs?|days?|weeks?|wks?)$`)
	todayRe    = regexp.MustCompile(`^today\s+at\s+(\d{1,2})(?:[:h](\d{2}))?$`)
	tomorrowRe = regexp.MustCompile(`^tomorrow\s+at\s+(\d{1,2})(?::(\d{2}))?$`)
	dateRe     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\s+at\s+(\d{1,2})(?::(\d{2}))?$`)
)

// Parser resolves phrases relative to its clock in a fixed location.
type Parser struct {
	loc *time.Location
	now func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithNow replaces the wall clock, mainly for tests.
func WithNow(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// New creates a Parser anchored to loc. A nil loc means UTC.
func New(loc *time.Location, opts ...Option) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	p := &Parser{loc: loc, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Location returns the fixed civil timezone.
func (p *Parser) Location() *time.Location { return p.loc }

// Now returns the current instant in the fixed timezone.
func (p *Parser) Now() time.Time { return p.now().In(p.loc) }

// Parse converts text into an instant (UTC, minute resolution).
// ok is false for anything not recognized; it never panics on bad input.
func (p *Parser) Parse(text string) (t time.Time, ok bool) {
	s := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if s == "" {
		return time.Time{}, false
	}
	now := p.Now().Truncate(time.Minute)

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		t, ok := addUnit(now, n, m[2])
		if !ok {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	if m := todayRe.FindStringSubmatch(s); m != nil {
		return p.at(now.Year(), int(now.Month()), now.Day(), m[1], m[2])
	}
	if m := tomorrowRe.FindStringSubmatch(s); m != nil {
		next := now.AddDate(0, 0, 1)
		return p.at(next.Year(), int(next.Month()), next.Day(), m[1], m[2])
	}
	if m := dateRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return p.at(y, mo, d, m[4], m[5])
	}
	return time.Time{}, false
}

// IsNow reports whether t falls in the current minute.
func (p *Parser) IsNow(t time.Time) bool {
	return t.Truncate(time.Minute).Equal(p.now().Truncate(time.Minute))
}

// IsPast reports whether t is strictly before now.
func (p *Parser) IsPast(t time.Time) bool {
	return t.Before(p.now())
}

// Format renders t in the fixed timezone as dd/MM/yyyy HH:mm.
func (p *Parser) Format(t time.Time) string {
	return t.In(p.loc).Format(DisplayLayout)
}

func (p *Parser) at(year, month, day int, hh, mm string) (time.Time, bool) {
	h, err := strconv.Atoi(hh)
	if err != nil || h > 23 {
		return time.Time{}, false
	}
	m := 0
	if mm != "" {
		if m, err = strconv.Atoi(mm); err != nil || m > 59 {
			return time.Time{}, false
		}
	}
	t := time.Date(year, time.Month(month), day, h, m, 0, 0, p.loc)
	// time.Date normalizes 2025-02-30 into March; treat that as malformed.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// maxYear is the last year an RFC 3339 timestamp can hold.
const maxYear = 9999

func addUnit(now time.Time, n int64, unit string) (time.Time, bool) {
	var t time.Time
	switch {
	case strings.HasPrefix(unit, "m"):
		if n > math.MaxInt64/int64(time.Minute) {
			return time.Time{}, false
		}
		t = now.Add(time.Duration(n) * time.Minute)
	case strings.HasPrefix(unit, "h"):
		if n > math.MaxInt64/int64(time.Hour) {
			return time.Time{}, false
		}
		t = now.Add(time.Duration(n) * time.Hour)
	default:
		days := n
		if !strings.HasPrefix(unit, "d") { // weeks
			days = 7 * n
		}
		// Anything past this many days already overflows maxYear.
		if n > 7*366*(maxYear+1) || days > 366*(maxYear+1) {
			return time.Time{}, false
		}
		t = now.AddDate(0, 0, int(days))
	}
	if t.Year() > maxYear || t.Before(now) {
		return time.Time{}, false
	}
	return t, true
}

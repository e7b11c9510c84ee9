// Package recurrence translates recurrence phrases into five-field
// expressions (minute hour day-of-month month day-of-week) and evaluates them
// one wall-clock minute at a time.
package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	EveryMinute = "* * * * *"
	EveryHour   = "0 * * * *"
)

var (
	atClause   = `\s+at\s+(\d{1,2})(?:[:h](\d{2}))?`
	dailyRe    = regexp.MustCompile(`^every\s+(?:day|morning|evening|night)` + atClause + `$`)
	weekdaysRe = regexp.MustCompile(`^every\s+weekday` + atClause + `$`)
	weekendRe  = regexp.MustCompile(`^every\s+weekend` + atClause + `$`)
	dayNameRe  = regexp.MustCompile(`^every\s+([a-z]+)` + atClause + `$`)
	stepRe     = regexp.MustCompile(`^every\s+(\d+)\s*(minutes?|mins?|hours?|hrs?)$`)

	fieldRe = regexp.MustCompile(`^(\*|\*/\d+|\d+-\d+|\d+(?:-\d+)?(?:,\d+(?:-\d+)?)+|\d+)$`)
)

var dayNames = map[string]int{
	"sunday": 0, "sun": 0,
	"monday": 1, "mon": 1,
	"tuesday": 2, "tue": 2, "tues": 2,
	"wednesday": 3, "wed": 3,
	"thursday": 4, "thu": 4, "thur": 4, "thurs": 4,
	"friday": 5, "fri": 5,
	"saturday": 6, "sat": 6,
}

// Translate converts a recurrence phrase into a normalized expression.
// Input that already has five whitespace-separated tokens is passed through
// without validation; use IsValid for that.
func Translate(text string) (string, bool) {
	s := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if s == "" {
		return "", false
	}

	switch s {
	case "every minute":
		return EveryMinute, true
	case "every hour":
		return EveryHour, true
	}

	if m := dailyRe.FindStringSubmatch(s); m != nil {
		return clock(m[1], m[2], "*")
	}
	if m := weekdaysRe.FindStringSubmatch(s); m != nil {
		return clock(m[1], m[2], "1-5")
	}
	if m := weekendRe.FindStringSubmatch(s); m != nil {
		return clock(m[1], m[2], "0,6")
	}
	if m := dayNameRe.FindStringSubmatch(s); m != nil {
		if d, ok := dayNames[m[1]]; ok {
			return clock(m[2], m[3], strconv.Itoa(d))
		}
	}
	if m := stepRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return "", false
		}
		if strings.HasPrefix(m[2], "h") {
			return fmt.Sprintf("0 */%d * * *", n), true
		}
		return fmt.Sprintf("*/%d * * * *", n), true
	}

	if f := strings.Fields(s); len(f) == 5 {
		return strings.Join(f, " "), true
	}
	return "", false
}

func clock(hh, mm, dow string) (string, bool) {
	h, err := strconv.Atoi(hh)
	if err != nil || h > 23 {
		return "", false
	}
	m := 0
	if mm != "" {
		if m, err = strconv.Atoi(mm); err != nil || m > 59 {
			return "", false
		}
	}
	return fmt.Sprintf("%d %d * * %s", m, h, dow), true
}

// IsValid checks the five fields against the expression grammar. It is
// purely syntactic: out-of-range values such as minute 75 are accepted.
func IsValid(expr string) bool {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return false
	}
	for _, field := range f {
		if !fieldRe.MatchString(field) {
			return false
		}
	}
	return true
}

// Matches reports whether t satisfies every field of expr. t is read as
// given; callers convert it into the civil timezone first (see MatchesIn).
// Invalid expressions never match.
func Matches(expr string, t time.Time) bool {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return false
	}
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	ok := true
	for i, field := range f {
		if !fieldMatches(field, values[i]) {
			ok = false
		}
	}
	return ok
}

// MatchesIn evaluates expr against t converted into loc.
func MatchesIn(expr string, t time.Time, loc *time.Location) bool {
	if loc != nil {
		t = t.In(loc)
	}
	return Matches(expr, t)
}

func fieldMatches(field string, v int) bool {
	switch {
	case field == "*":
		return true
	case strings.HasPrefix(field, "*/"):
		n, err := strconv.Atoi(field[2:])
		if err != nil || n <= 0 {
			return false
		}
		return v%n == 0
	case strings.Contains(field, ","):
		for _, item := range strings.Split(field, ",") {
			if fieldMatches(item, v) {
				return true
			}
		}
		return false
	case strings.Contains(field, "-"):
		lo, hi, ok := strings.Cut(field, "-")
		if !ok {
			return false
		}
		a, err1 := strconv.Atoi(lo)
		b, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil {
			return false
		}
		return a <= v && v <= b
	default:
		n, err := strconv.Atoi(field)
		return err == nil && n == v
	}
}

// maxLookahead bounds Next; expressions such as "0 0 31 2 *" never match.
const maxLookahead = 4 * 366

// Next returns the first minute strictly after `after` that matches expr in loc.
func Next(expr string, after time.Time, loc *time.Location) (time.Time, bool) {
	if !IsValid(expr) {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	f := strings.Fields(expr)
	start := after.In(loc).Truncate(time.Minute).Add(time.Minute)

	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	for i := 0; i < maxLookahead; i++ {
		d := day.AddDate(0, 0, i)
		if !fieldMatches(f[2], d.Day()) || !fieldMatches(f[3], int(d.Month())) || !fieldMatches(f[4], int(d.Weekday())) {
			continue
		}
		for h := 0; h < 24; h++ {
			if !fieldMatches(f[1], h) {
				continue
			}
			for m := 0; m < 60; m++ {
				if !fieldMatches(f[0], m) {
					continue
				}
				c := time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc)
				// Skip times that do not exist locally (DST gap) or precede start.
				if c.Hour() != h || c.Before(start) {
					continue
				}
				return c, true
			}
		}
	}
	return time.Time{}, false
}

var dayLabels = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Describe renders common expression shapes in plain words and falls back
// to the raw expression.
func Describe(expr string) string {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return expr
	}
	if expr == EveryMinute {
		return "every minute"
	}
	if n, ok := step(f[0]); ok && f[1] == "*" && f[2] == "*" && f[3] == "*" && f[4] == "*" {
		return fmt.Sprintf("every %d minutes", n)
	}
	if f[0] == "0" && f[2] == "*" && f[3] == "*" && f[4] == "*" {
		if f[1] == "*" {
			return "every hour"
		}
		if n, ok := step(f[1]); ok {
			return fmt.Sprintf("every %d hours", n)
		}
	}

	m, errM := strconv.Atoi(f[0])
	h, errH := strconv.Atoi(f[1])
	if errM != nil || errH != nil || f[2] != "*" || f[3] != "*" {
		return expr
	}
	at := fmt.Sprintf("at %02d:%02d", h, m)
	switch f[4] {
	case "*":
		return "every day " + at
	case "1-5":
		return "every weekday " + at
	case "0,6", "6,0":
		return "every weekend " + at
	}
	if d, err := strconv.Atoi(f[4]); err == nil && d >= 0 && d < 7 {
		return "every " + dayLabels[d] + " " + at
	}
	return expr
}

func step(field string) (int, bool) {
	if !strings.HasPrefix(field, "*/") {
		return 0, false
	}
	n, err := strconv.Atoi(field[2:])
	return n, err == nil && n > 0
}

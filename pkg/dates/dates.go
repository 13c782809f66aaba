package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISO is the wire format for dates. The store exchanges all dates as
// plain strings in this form so no backend can coerce them into its own
// date type.
const ISO = "2006-01-02"

// ISODateTime is the wire format for timestamps.
const ISODateTime = "2006-01-02T15:04:05"

var (
	isoRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	slashRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	monthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)
)

// NormalizeISO coerces loosely formatted date strings into YYYY-MM-DD.
// Slash dates prefer day-first; the month-first reading is only taken
// when the day-first one is impossible. Unparseable input is returned
// unchanged so bad historical data stays visible instead of silently
// turning into an empty cell.
func NormalizeISO(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if isoRe.MatchString(s) {
		return s
	}
	if m := slashRe.FindStringSubmatch(s); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		d, mo := a, b
		if a <= 12 && b > 12 {
			mo, d = a, b
		}
		return fmt.Sprintf("%04d-%02d-%02d", y, mo, d)
	}
	for _, layout := range []string{time.RFC3339, ISODateTime, "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(ISO)
		}
	}
	return s
}

// Parse reads a YYYY-MM-DD string. The bool is false for empty or
// malformed input.
func Parse(iso string) (time.Time, bool) {
	s := strings.TrimSpace(iso)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(ISO, NormalizeISO(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseDateTime reads a timestamp in any of the accepted forms, falling
// back to a bare date at midnight.
func ParseDateTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, ISODateTime, "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return Parse(s)
}

// Format renders a date in wire form.
func Format(t time.Time) string {
	return t.Format(ISO)
}

// FormatDateTime renders a timestamp in wire form.
func FormatDateTime(t time.Time) string {
	return t.Format(ISODateTime)
}

// DateOnly truncates a timestamp to its calendar date, anchored at UTC
// midnight. Parsed wire dates are UTC, so a zoned wall clock (a payment
// stamped with time.Now) must land on the same anchor or day arithmetic
// against due dates drifts by the zone offset.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DiffDays returns the number of whole days from earlier to later, never
// negative. Both arguments are truncated to dates first.
func DiffDays(later, earlier time.Time) int {
	d := DateOnly(later).Sub(DateOnly(earlier))
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// DaysInMonth returns the length of the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// WithDay builds a date on the requested day-of-month, clamped to both
// 1..31 and the month's actual length (day 31 in a 30-day month becomes
// day 30).
func WithDay(year int, month time.Month, day int) time.Time {
	if day < 1 {
		day = 1
	}
	if day > 31 {
		day = 31
	}
	if max := DaysInMonth(year, month); day > max {
		day = max
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NextMonth returns the date one calendar month after t, on the requested
// day-of-month (clamped). December rolls over to January of the next
// year.
func NextMonth(t time.Time, day int) time.Time {
	y, m := t.Year(), t.Month()
	if m == time.December {
		y++
		m = time.January
	} else {
		m++
	}
	return WithDay(y, m, day)
}

// NormalizeMonth coerces input into YYYY-MM, or returns "" when it cannot.
func NormalizeMonth(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if monthRe.MatchString(s) {
		return s
	}
	if iso := NormalizeISO(s); isoRe.MatchString(iso) {
		return iso[:7]
	}
	return ""
}

// MonthRange expands a YYYY-MM period into its first and last day.
func MonthRange(yyyymm string) (from, to string) {
	p := NormalizeMonth(yyyymm)
	if p == "" {
		return "", ""
	}
	y, _ := strconv.Atoi(p[:4])
	m, _ := strconv.Atoi(p[5:7])
	last := DaysInMonth(y, time.Month(m))
	return fmt.Sprintf("%04d-%02d-01", y, m), fmt.Sprintf("%04d-%02d-%02d", y, m, last)
}

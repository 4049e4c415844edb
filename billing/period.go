package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// DUE PERIOD - One calendar month of recurring-fee obligation
// =============================================================================

// DuePeriod is a (year, month) pair. Periods are compared chronologically.
type DuePeriod struct {
	Year  int
	Month time.Month
}

// NewDuePeriod builds a period from plain integers.
func NewDuePeriod(year, month int) DuePeriod {
	return DuePeriod{Year: year, Month: time.Month(month)}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) DuePeriod {
	return DuePeriod{Year: t.Year(), Month: t.Month()}
}

// Valid reports whether the period names a real month.
func (p DuePeriod) Valid() bool {
	return p.Year > 0 && p.Month >= time.January && p.Month <= time.December
}

func (p DuePeriod) index() int { return p.Year*12 + int(p.Month) - 1 }

func (p DuePeriod) Before(o DuePeriod) bool { return p.index() < o.index() }
func (p DuePeriod) After(o DuePeriod) bool  { return p.index() > o.index() }
func (p DuePeriod) Equal(o DuePeriod) bool  { return p.index() == o.index() }

// Compare returns -1, 0 or 1.
func (p DuePeriod) Compare(o DuePeriod) int {
	switch {
	case p.Before(o):
		return -1
	case p.After(o):
		return 1
	default:
		return 0
	}
}

// AddMonths shifts the period by n months (n may be negative).
func (p DuePeriod) AddMonths(n int) DuePeriod {
	i := p.index() + n
	return DuePeriod{Year: i / 12, Month: time.Month(i%12 + 1)}
}

func (p DuePeriod) Next() DuePeriod     { return p.AddMonths(1) }
func (p DuePeriod) Previous() DuePeriod { return p.AddMonths(-1) }

// FirstDay returns midnight UTC on the first day of the period.
func (p DuePeriod) FirstDay() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// String renders the period as YYYY-MM. This form is part of dedupe keys.
func (p DuePeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Label renders the human month label, e.g. "enero 2026".
func (p DuePeriod) Label() string {
	return MonthName(p.Month) + " " + strconv.Itoa(p.Year)
}

// ParseDuePeriod accepts "YYYY-MM" (and "YYYY/MM").
func ParseDuePeriod(s string) (DuePeriod, error) {
	s = strings.TrimSpace(s)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '/' })
	if len(parts) != 2 {
		return DuePeriod{}, fmt.Errorf("invalid period %q: want YYYY-MM", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return DuePeriod{}, fmt.Errorf("invalid period year %q: %w", parts[0], err)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return DuePeriod{}, fmt.Errorf("invalid period month %q: %w", parts[1], err)
	}
	p := NewDuePeriod(year, month)
	if !p.Valid() {
		return DuePeriod{}, fmt.Errorf("invalid period %q: month out of range", s)
	}
	return p, nil
}

// =============================================================================
// MONTH LABELS
// =============================================================================

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// MonthName returns the lowercase Spanish month name used in fee labels.
func MonthName(m time.Month) string {
	if m < time.January || m > time.December {
		return ""
	}
	return monthNames[m-1]
}

// =============================================================================
// DATE PARSING
// =============================================================================

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// ParseDate parses the date shapes the statement endpoint is known to emit.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

/*
schedule.go - Due schedule generation

PURPOSE:
  Computes the calendar months for which a monthly fee is owed, as of a
  given instant. The schedule is a pure calendar walk: it never looks at
  payment data and is identical for every account.

CEILING RULE:
  The latest owed month (the "ceiling") is the month before now's month,
  unless now's day-of-month is past the cutoff day, in which case now's own
  month is owed too.

    cutoff = 5, now = 2026-03-04  ->  ceiling 2026-02
    cutoff = 5, now = 2026-03-05  ->  ceiling 2026-02
    cutoff = 5, now = 2026-03-06  ->  ceiling 2026-03

RESULT:
  Every month from the start period through the ceiling, inclusive,
  ascending, no gaps. Empty when the ceiling precedes the start.
*/
package billing

import "time"

// CeilingPeriod returns the latest owed month as of now.
func CeilingPeriod(now time.Time, cutoffDay int) DuePeriod {
	current := PeriodOf(now)
	if now.Day() > cutoffDay {
		return current
	}
	return current.Previous()
}

// OwedPeriods returns the ordered owed months from (startYear, startMonth)
// through the ceiling period for now.
func OwedPeriods(now time.Time, cutoffDay int, startYear int, startMonth int) []DuePeriod {
	start := NewDuePeriod(startYear, startMonth)
	if !start.Valid() {
		return nil
	}
	ceiling := CeilingPeriod(now, cutoffDay)
	if ceiling.Before(start) {
		return []DuePeriod{}
	}

	periods := make([]DuePeriod, 0, ceiling.index()-start.index()+1)
	for p := start; !p.After(ceiling); p = p.Next() {
		periods = append(periods, p)
	}
	return periods
}

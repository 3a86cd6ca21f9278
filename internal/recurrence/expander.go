// Package recurrence computes the calendar occurrences implied by recurrence
// rules. Expansion is a pure function of the rule and the requested window:
// no state is kept between calls and no I/O is performed, so the same inputs
// always yield the same ordered dates.
//
// Each frequency has its own expander strategy, registered in a lookup table,
// so every alignment rule stays independently testable.
package recurrence

import (
	"time"

	"tally/internal/core"
)

// Expander is the strategy interface for one frequency's alignment rule.
// Implementations emit every occurrence of the anchored rule inside
// [lower, upper], both bounds inclusive, in ascending order.
type Expander interface {
	Occurrences(anchor, lower, upper time.Time) []time.Time
}

// DailyExpander emits every calendar day in range.
type DailyExpander struct{}

func (DailyExpander) Occurrences(_, lower, upper time.Time) []time.Time {
	var out []time.Time
	for d := lower; !d.After(upper); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// WeeklyExpander emits every date in range sharing the anchor's weekday.
type WeeklyExpander struct{}

func (WeeklyExpander) Occurrences(anchor, lower, upper time.Time) []time.Time {
	offset := (int(anchor.Weekday()) - int(lower.Weekday()) + 7) % 7
	var out []time.Time
	for d := lower.AddDate(0, 0, offset); !d.After(upper); d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}

// MonthlyExpander emits the anchor's day-of-month in every month in range.
// When a month is shorter than the anchor day the occurrence is clamped to
// the month's last day (a day-31 anchor lands on Feb 28, or Feb 29 in leap
// years); months are never skipped.
type MonthlyExpander struct{}

func (MonthlyExpander) Occurrences(anchor, lower, upper time.Time) []time.Time {
	var out []time.Time
	year, month := lower.Year(), int(lower.Month())
	for {
		d := clampedDate(year, month, anchor.Day())
		if d.After(upper) {
			return out
		}
		if !d.Before(lower) {
			out = append(out, d)
		}
		month++
		if month > 12 {
			month = 1
			year++
		}
	}
}

// YearlyExpander emits the anchor's month and day once per year in range.
// A Feb 29 anchor clamps to Feb 28 in non-leap years.
type YearlyExpander struct{}

func (YearlyExpander) Occurrences(anchor, lower, upper time.Time) []time.Time {
	var out []time.Time
	for year := lower.Year(); year <= upper.Year(); year++ {
		d := clampedDate(year, int(anchor.Month()), anchor.Day())
		if !d.Before(lower) && !d.After(upper) {
			out = append(out, d)
		}
	}
	return out
}

// clampedDate builds a UTC date, pulling the day back to the month's last
// day when the requested day does not exist in that month.
func clampedDate(year, month, day int) time.Time {
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// expanders maps each frequency to its alignment strategy.
var expanders = map[core.Frequency]Expander{
	core.Daily:   DailyExpander{},
	core.Weekly:  WeeklyExpander{},
	core.Monthly: MonthlyExpander{},
	core.Yearly:  YearlyExpander{},
}

// Expand returns the ordered, finite sequence of occurrence dates of rule
// that fall inside [windowStart, windowEnd]. The effective range is the
// intersection of the window with [rule.StartDate, rule.EndDate]; when that
// intersection is empty the result is empty. No date outside either range is
// ever emitted.
func Expand(rule core.RecurrenceRule, windowStart, windowEnd core.Date) ([]core.Date, error) {
	if rule.StartDate.IsZero() {
		return nil, core.ValidationError{Field: "startDate", Reason: "required"}
	}
	exp, ok := expanders[rule.Frequency]
	if !ok {
		return nil, core.ValidationError{Field: "frequency", Reason: "unknown frequency"}
	}
	if windowStart.After(windowEnd.Time) {
		return nil, core.ValidationError{Field: "window", Reason: "start after end"}
	}

	lower := windowStart.Time
	if rule.StartDate.After(lower) {
		lower = rule.StartDate.Time
	}
	upper := windowEnd.Time
	if !rule.EndDate.IsZero() && rule.EndDate.Before(upper) {
		upper = rule.EndDate.Time
	}
	if lower.After(upper) {
		return nil, nil
	}

	days := exp.Occurrences(rule.StartDate.Time, lower, upper)
	out := make([]core.Date, len(days))
	for i, d := range days {
		out[i] = core.Date{Time: d}
	}
	return out, nil
}

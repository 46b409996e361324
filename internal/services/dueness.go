package services

import (
	"time"

	"conti/internal/core"
)

// DuenessChecker decides whether a recurring template should be
// materialized into period at time now.
type DuenessChecker interface {
	IsDue(t core.RecurringTemplate, period core.MonthKey, now time.Time) bool
}

// MonthlyChecker is the regular cadence: a template is due once the
// period's trigger day has been reached. Past periods are fully due and
// future periods are never due.
type MonthlyChecker struct{}

func (MonthlyChecker) IsDue(t core.RecurringTemplate, period core.MonthKey, now time.Time) bool {
	current := core.MonthKeyOf(now)
	switch {
	case period.Before(current):
		return true
	case current.Before(period):
		return false
	}
	return now.Day() >= TriggerDay(t.TriggerDay, period)
}

// ClosingChecker treats every template as due. A month being closed bills
// all of its fixed charges regardless of trigger day.
type ClosingChecker struct{}

func (ClosingChecker) IsDue(core.RecurringTemplate, core.MonthKey, time.Time) bool {
	return true
}

// TriggerDay clamps day to the last day of period, so a day-31 template
// triggers on the 30th of short months and on the 28th or 29th of February.
func TriggerDay(day int, period core.MonthKey) int {
	if last := period.DaysIn(); day > last {
		return last
	}
	return day
}

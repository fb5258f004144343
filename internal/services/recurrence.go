// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for recurrence stepping. Each
// interval unit (day, week, month, year) has its own stepper that moves a
// rule's cursor forward by one interval.

package services

import (
	"fintrack/internal/core"
)

const (
	// maxSkipMonths bounds the search for a month long enough under the skip policy.
	maxSkipMonths = 24
	// maxWeekendShift bounds the forward shift off a Saturday or Sunday.
	maxWeekendShift = 14
)

var (
	ErrRecurrenceBound = &core.Error{Kind: core.KindValidation, Reason: "recurrence bound exhausted"}
	ErrNoProgress      = &core.Error{Kind: core.KindValidation, Reason: "recurrence did not advance"}
)

// Stepper is the strategy interface for advancing a recurrence by one interval.
type Stepper interface {
	// Step returns the raw next date before any weekend shift.
	Step(rule core.RecurringRule, from core.Date) (core.Date, error)
}

// DayStepper adds interval_count days.
type DayStepper struct{}

func (DayStepper) Step(rule core.RecurringRule, from core.Date) (core.Date, error) {
	return from.AddDays(rule.IntervalCount), nil
}

// WeekStepper adds 7*interval_count days.
type WeekStepper struct{}

func (WeekStepper) Step(rule core.RecurringRule, from core.Date) (core.Date, error) {
	return from.AddDays(7 * rule.IntervalCount), nil
}

// MonthStepper advances by MonthsPerInterval*interval_count calendar months
// and resolves the day of month according to the rule's policy.
type MonthStepper struct {
	MonthsPerInterval int
}

func (s MonthStepper) Step(rule core.RecurringRule, from core.Date) (core.Date, error) {
	desired := rule.AnchorDate.Day()
	if rule.MonthDayPolicy == core.CarryForward {
		desired = from.Day()
	}
	idx := from.YearMonth().Index() + s.MonthsPerInterval*rule.IntervalCount

	if rule.MonthDayPolicy != core.Skip {
		ym := core.YearMonthFromIndex(idx)
		return core.NewDate(ym.Year, ym.Month, min(desired, core.DaysIn(ym.Year, ym.Month))), nil
	}
	for i := 0; i < maxSkipMonths; i++ {
		ym := core.YearMonthFromIndex(idx + i)
		if core.DaysIn(ym.Year, ym.Month) >= desired {
			return core.NewDate(ym.Year, ym.Month, desired), nil
		}
	}
	return core.Date{}, ErrRecurrenceBound
}

// steppers maps interval units to their corresponding strategy.
var steppers = map[core.IntervalUnit]Stepper{
	core.Day:   DayStepper{},
	core.Week:  WeekStepper{},
	core.Month: MonthStepper{MonthsPerInterval: 1},
	core.Year:  MonthStepper{MonthsPerInterval: 12},
}

// GetStepper returns the stepper for an interval unit.
func GetStepper(unit core.IntervalUnit) (Stepper, error) {
	s, ok := steppers[unit]
	if !ok {
		return nil, core.Invalidf("unknown interval unit %q", string(unit))
	}
	return s, nil
}

// NextDate returns the occurrence following from. The result is always
// strictly later than from; bound exhaustion is returned as
// ErrRecurrenceBound rather than falling back to an unshifted date.
func NextDate(rule core.RecurringRule, from core.Date) (core.Date, error) {
	if rule.IntervalCount <= 0 {
		return core.Date{}, core.Invalid("interval count must be positive")
	}
	if err := rule.MonthDayPolicy.Validate(); err != nil {
		return core.Date{}, err
	}
	stepper, err := GetStepper(rule.IntervalUnit)
	if err != nil {
		return core.Date{}, err
	}
	next, err := stepper.Step(rule, from)
	if err != nil {
		return core.Date{}, err
	}
	if rule.SkipWeekends {
		if next, err = shiftOffWeekend(next); err != nil {
			return core.Date{}, err
		}
	}
	if !next.After(from.Time) {
		return core.Date{}, ErrNoProgress
	}
	return next, nil
}

func shiftOffWeekend(d core.Date) (core.Date, error) {
	for i := 0; i < maxWeekendShift; i++ {
		if !d.IsWeekend() {
			return d, nil
		}
		d = d.AddDays(1)
	}
	if !d.IsWeekend() {
		return d, nil
	}
	return core.Date{}, ErrRecurrenceBound
}

package core

import "time"

const (
	BudgetMonthly BudgetFrequency = "monthly"
	BudgetYearly  BudgetFrequency = "yearly"
)

type (
	BudgetFrequency string

	// BudgetTemplate is a standing budget. A nil CategoryID is the overall
	// budget across every expense category.
	BudgetTemplate struct {
		ID         int64
		UserID     int64
		Frequency  BudgetFrequency
		CategoryID *int64
		Amount     Money
		StartsOn   Date
		EndsOn     *Date
		CreatedAt  time.Time
	}

	// BudgetOverride replaces the template amount for one month and scope.
	BudgetOverride struct {
		ID         int64
		UserID     int64
		Year       int
		Month      int
		CategoryID *int64
		Amount     Money
	}

	EffectiveBudget struct {
		CategoryID *int64
		Amount     Money
		Overridden bool
	}

	BudgetProgress struct {
		CategoryID *int64
		Budget     int64
		Spent      int64
		Remaining  int64
	}

	BudgetTemplateInput struct {
		Frequency   BudgetFrequency `validate:"oneof=monthly yearly"`
		CategoryID  *int64          `validate:"omitempty,gt=0"`
		AmountCents int64           `validate:"gte=0"`
		StartsOn    Date
		EndsOn      *Date
	}

	BudgetOverrideInput struct {
		Year        int    `validate:"gte=1970,lte=9999"`
		Month       int    `validate:"gte=1,lte=12"`
		CategoryID  *int64 `validate:"omitempty,gt=0"`
		AmountCents int64  `validate:"gte=0"`
	}
)

func (f BudgetFrequency) Validate() error {
	switch f {
	case BudgetMonthly, BudgetYearly:
		return nil
	default:
		return Invalidf("invalid budget frequency %q", string(f))
	}
}

// ActiveIn reports whether the template covers any day of ym.
func (t BudgetTemplate) ActiveIn(ym YearMonth) bool {
	p := ym.Period()
	if t.StartsOn.After(p.End.Time) {
		return false
	}
	if t.EndsOn != nil && t.EndsOn.Before(p.Start.Time) {
		return false
	}
	return true
}

// MonthlyAmount is the per-month share of the template. Yearly amounts are
// divided by twelve and rounded down.
func (t BudgetTemplate) MonthlyAmount() int64 {
	if t.Frequency == BudgetYearly {
		return t.Amount.Cents / 12
	}
	return t.Amount.Cents
}

func (t BudgetTemplate) Validate() error {
	if err := t.Frequency.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.StartsOn.Validate(); err != nil {
		return err
	}
	if t.EndsOn != nil && t.EndsOn.Before(t.StartsOn.Time) {
		return Invalid("budget end must not be before start")
	}
	return nil
}

// ScopeKey is 0 for the overall budget, else the category id.
func ScopeKey(categoryID *int64) int64 {
	if categoryID == nil {
		return 0
	}
	return *categoryID
}

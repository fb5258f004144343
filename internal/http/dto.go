package http

import (
	"time"

	"fintrack/internal/core"
)

// JSON views of core types. Amounts are integer minor units; dates are
// YYYY-MM-DD and instants RFC 3339.

type fxJSON struct {
	SourceCurrency    string    `json:"source_currency"`
	SourceAmountCents int64     `json:"source_amount_cents"`
	RateMicros        int64     `json:"rate_micros"`
	RateDate          string    `json:"rate_date"`
	Provider          string    `json:"provider"`
	FetchedAt         time.Time `json:"fetched_at"`
}

type transactionJSON struct {
	ID              int64      `json:"id"`
	Date            string     `json:"date"`
	OccurredAt      time.Time  `json:"occurred_at"`
	Type            string     `json:"type"`
	AmountCents     int64      `json:"amount_cents"`
	CategoryID      int64      `json:"category_id"`
	Note            string     `json:"note,omitempty"`
	IsReimbursement bool       `json:"is_reimbursement"`
	Tags            []string   `json:"tags"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	OriginRuleID    *int64     `json:"origin_rule_id,omitempty"`
	OccurrenceDate  string     `json:"occurrence_date,omitempty"`
	FX              *fxJSON    `json:"fx,omitempty"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	out := transactionJSON{
		ID:              t.ID,
		Date:            t.Date.String(),
		OccurredAt:      t.OccurredAt,
		Type:            string(t.Type),
		AmountCents:     t.Amount.Cents,
		CategoryID:      t.CategoryID,
		Note:            t.Note,
		IsReimbursement: t.IsReimbursement,
		Tags:            t.Tags,
		DeletedAt:       t.DeletedAt,
		OriginRuleID:    t.OriginRuleID,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if t.OccurrenceDate != nil {
		out.OccurrenceDate = t.OccurrenceDate.String()
	}
	if t.FX != nil {
		out.FX = &fxJSON{
			SourceCurrency:    string(t.FX.SourceCurrency),
			SourceAmountCents: t.FX.SourceAmount.Cents,
			RateMicros:        t.FX.RateMicros,
			RateDate:          t.FX.RateDate.String(),
			Provider:          t.FX.Provider,
			FetchedAt:         t.FX.FetchedAt,
		}
	}
	return out
}

type categoryJSON struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	Name       string     `json:"name"`
	Color      string     `json:"color,omitempty"`
	Order      int        `json:"order"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

func toCategoryJSON(c core.Category) categoryJSON {
	return categoryJSON{ID: c.ID, Type: string(c.Type), Name: c.Name, Color: c.Color, Order: c.Order, ArchivedAt: c.ArchivedAt}
}

type tagJSON struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Color            string `json:"color,omitempty"`
	HiddenFromBudget bool   `json:"hidden_from_budget"`
}

func toTagJSON(t core.Tag) tagJSON {
	return tagJSON{ID: t.ID, Name: t.Name, Color: t.Color, HiddenFromBudget: t.HiddenFromBudget}
}

type ruleJSON struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Currency       string `json:"currency"`
	AmountCents    int64  `json:"amount_cents"`
	CategoryID     int64  `json:"category_id"`
	AnchorDate     string `json:"anchor_date"`
	IntervalUnit   string `json:"interval_unit"`
	IntervalCount  int    `json:"interval_count"`
	NextOccurrence string `json:"next_occurrence"`
	EndDate        string `json:"end_date,omitempty"`
	AutoPost       bool   `json:"auto_post"`
	SkipWeekends   bool   `json:"skip_weekends"`
	MonthDayPolicy string `json:"month_day_policy"`
}

func toRuleJSON(r core.RecurringRule) ruleJSON {
	out := ruleJSON{
		ID:             r.ID,
		Name:           r.Name,
		Type:           string(r.Type),
		Currency:       string(r.Currency),
		AmountCents:    r.Amount.Cents,
		CategoryID:     r.CategoryID,
		AnchorDate:     r.AnchorDate.String(),
		IntervalUnit:   string(r.IntervalUnit),
		IntervalCount:  r.IntervalCount,
		NextOccurrence: r.NextOccurrence.String(),
		AutoPost:       r.AutoPost,
		SkipWeekends:   r.SkipWeekends,
		MonthDayPolicy: string(r.MonthDayPolicy),
	}
	if r.EndDate != nil {
		out.EndDate = r.EndDate.String()
	}
	return out
}

type anchorJSON struct {
	ID           int64     `json:"id"`
	AsOf         time.Time `json:"as_of"`
	BalanceCents int64     `json:"balance_cents"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAnchorJSON(a core.BalanceAnchor) anchorJSON {
	return anchorJSON{ID: a.ID, AsOf: a.AsOf, BalanceCents: a.Balance.Cents, Note: a.Note, CreatedAt: a.CreatedAt}
}

type allocationJSON struct {
	ID              int64 `json:"id"`
	ReimbursementID int64 `json:"reimbursement_id"`
	ExpenseID       int64 `json:"expense_id"`
	AmountCents     int64 `json:"amount_cents"`
}

func toAllocationJSON(a core.ReimbursementAllocation) allocationJSON {
	return allocationJSON{ID: a.ID, ReimbursementID: a.ReimbursementID, ExpenseID: a.ExpenseID, AmountCents: a.Amount.Cents}
}

type categoryAmountJSON struct {
	CategoryID  int64  `json:"category_id"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	ShareBP     int64  `json:"share_bp"`
}

func toCategoryAmounts(in []core.CategoryAmount) []categoryAmountJSON {
	out := make([]categoryAmountJSON, len(in))
	for i, c := range in {
		out[i] = categoryAmountJSON{CategoryID: c.CategoryID, Name: c.Name, AmountCents: c.Amount.Cents, ShareBP: c.ShareBP}
	}
	return out
}

type dailyAmountJSON struct {
	Date        string `json:"date"`
	AmountCents int64  `json:"amount_cents"`
}

type kpisJSON struct {
	From         string `json:"from"`
	To           string `json:"to"`
	IncomeCents  int64  `json:"income_cents"`
	ExpenseCents int64  `json:"expense_cents"`
	NetCents     int64  `json:"net_cents"`
	BalanceCents int64  `json:"balance_cents"`
}

func toKPIsJSON(k core.KPIs) kpisJSON {
	return kpisJSON{
		From:         k.Period.Start.String(),
		To:           k.Period.End.String(),
		IncomeCents:  k.Income.Cents,
		ExpenseCents: k.Expense.Cents,
		NetCents:     k.Net,
		BalanceCents: k.Balance,
	}
}

type budgetTemplateJSON struct {
	ID          int64  `json:"id"`
	Frequency   string `json:"frequency"`
	CategoryID  *int64 `json:"category_id"`
	AmountCents int64  `json:"amount_cents"`
	StartsOn    string `json:"starts_on"`
	EndsOn      string `json:"ends_on,omitempty"`
}

func toBudgetTemplateJSON(t core.BudgetTemplate) budgetTemplateJSON {
	out := budgetTemplateJSON{
		ID:          t.ID,
		Frequency:   string(t.Frequency),
		CategoryID:  t.CategoryID,
		AmountCents: t.Amount.Cents,
		StartsOn:    t.StartsOn.String(),
	}
	if t.EndsOn != nil {
		out.EndsOn = t.EndsOn.String()
	}
	return out
}

type budgetOverrideJSON struct {
	ID          int64  `json:"id"`
	Month       string `json:"month"`
	CategoryID  *int64 `json:"category_id"`
	AmountCents int64  `json:"amount_cents"`
}

type budgetProgressJSON struct {
	CategoryID     *int64 `json:"category_id"`
	BudgetCents    int64  `json:"budget_cents"`
	SpentCents     int64  `json:"spent_cents"`
	RemainingCents int64  `json:"remaining_cents"`
}

func dateStrings(in []core.Date) []string {
	out := make([]string, len(in))
	for i, d := range in {
		out[i] = d.String()
	}
	return out
}

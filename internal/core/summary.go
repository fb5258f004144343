package core

// CategoryAmount is a net amount aggregated by category.
type CategoryAmount struct {
	CategoryID int64
	Name       string
	Amount     Money
	// Share of the breakdown total in basis points (1/100 of a percent).
	ShareBP int64
}

// DailyAmount is one point of a per-day series.
type DailyAmount struct {
	Date   Date
	Amount Money
}

// Totals are gross income and net expense for a period.
type Totals struct {
	Income  Money
	Expense Money
}

func (t Totals) Add(o Totals) Totals {
	return Totals{
		Income:  Money{Cents: t.Income.Cents + o.Income.Cents},
		Expense: Money{Cents: t.Expense.Cents + o.Expense.Cents},
	}
}

// KPIs summarize a period for the dashboard.
type KPIs struct {
	Period  Period
	Income  Money
	Expense Money
	// Net is income minus expense within the period.
	Net int64
	// Balance is the reconstructed account balance at the end of the period.
	Balance int64
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int
	Month      int // 1-12
	Totals     Totals
	ByCategory []CategoryAmount
}

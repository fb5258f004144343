package services

import (
	"context"
	"sort"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// MetricsService serves the read path: period KPIs from rollups, and
// category and daily breakdowns computed directly from the ledger with the
// same reimbursement netting.
type MetricsService struct {
	storage *storage.SQLiteRepository
	rollups *RollupService
	balance *BalanceService
	loc     *time.Location
}

// NewMetricsService builds the read path. loc decides where a period's last
// day ends for the closing balance.
func NewMetricsService(storage *storage.SQLiteRepository, rollups *RollupService, balance *BalanceService, loc *time.Location) *MetricsService {
	if loc == nil {
		loc = time.UTC
	}
	return &MetricsService{storage: storage, rollups: rollups, balance: balance, loc: loc}
}

// Totals returns income and net expense for period. Whole months come from
// rollups; partial months at either edge are scanned.
func (s *MetricsService) Totals(ctx context.Context, userID int64, period core.Period) (core.Totals, error) {
	if err := period.Validate(); err != nil {
		return core.Totals{}, err
	}
	q := s.storage.Queries()

	var (
		total     core.Totals
		fullFirst = -1
		fullLast  = -1
	)
	for _, seg := range monthSegments(period) {
		if seg.IsWholeMonth() {
			idx := seg.Start.YearMonth().Index()
			if fullFirst < 0 {
				fullFirst = idx
			}
			fullLast = idx
			continue
		}
		t, err := scanRange(ctx, q, userID, seg.Start, seg.End)
		if err != nil {
			return core.Totals{}, err
		}
		total = total.Add(t)
	}
	if fullFirst >= 0 {
		t, err := q.SumRollups(ctx, userID, core.YearMonthFromIndex(fullFirst), core.YearMonthFromIndex(fullLast))
		if err != nil {
			return core.Totals{}, err
		}
		total = total.Add(t)
	}
	return total, nil
}

// KPIs summarizes period. Balance is the reconstructed balance at the end of
// the period's last day.
func (s *MetricsService) KPIs(ctx context.Context, userID int64, period core.Period) (core.KPIs, error) {
	totals, err := s.Totals(ctx, userID, period)
	if err != nil {
		return core.KPIs{}, err
	}
	balance, err := s.balance.BalanceAsOf(ctx, userID, period.EndInstant(s.loc))
	if err != nil {
		return core.KPIs{}, err
	}
	return core.KPIs{
		Period:  period,
		Income:  totals.Income,
		Expense: totals.Expense,
		Net:     totals.Income.Cents - totals.Expense.Cents,
		Balance: balance,
	}, nil
}

// CategoryBreakdown returns per-category net totals for period, largest
// first, with each category's share in basis points. Results are memoized in
// the PeriodCache attached to ctx, if any.
func (s *MetricsService) CategoryBreakdown(ctx context.Context, userID int64, period core.Period, f BreakdownFilter) ([]core.CategoryAmount, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	key := NewPeriodKey(period, f)
	pc := PeriodCacheFrom(ctx)
	if v, ok := pc.Get(key); ok {
		return v, nil
	}

	rows, err := s.storage.Queries().CategoryTotals(ctx, storage.TransactionFilter{
		UserID:     userID,
		Period:     &period,
		Type:       key.Type,
		CategoryID: f.CategoryID,
		Tags:       f.Tags,
	}, f.ExcludeHidden)
	if err != nil {
		return nil, err
	}

	var total int64
	out := make([]core.CategoryAmount, 0, len(rows))
	for _, r := range rows {
		net := r.Net()
		if net == 0 {
			continue
		}
		total += net
		out = append(out, core.CategoryAmount{CategoryID: r.CategoryID, Name: r.Name, Amount: core.Money{Cents: net}})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Amount.Cents != out[j].Amount.Cents {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Name < out[j].Name
	})
	for i := range out {
		if total > 0 {
			out[i].ShareBP = out[i].Amount.Cents * 10_000 / total
		}
	}

	pc.Set(key, out)
	return out, nil
}

// DailySeries returns one point per day of period with that day's net total
// for typ. Days without entries are zero.
func (s *MetricsService) DailySeries(ctx context.Context, userID int64, period core.Period, typ core.TransactionType) ([]core.DailyAmount, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if typ == "" {
		typ = core.Expense
	}
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.storage.Queries().DailyTotals(ctx, storage.TransactionFilter{
		UserID: userID,
		Period: &period,
		Type:   typ,
	})
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]int64, len(rows))
	for _, r := range rows {
		byDate[r.Date.String()] = max(r.Gross-r.Reimbursed, 0)
	}

	var out []core.DailyAmount
	for d := period.Start; !d.After(period.End.Time); d = d.AddDays(1) {
		out = append(out, core.DailyAmount{Date: d, Amount: core.Money{Cents: byDate[d.String()]}})
	}
	return out, nil
}

// Overview bundles a month's totals and expense breakdown.
func (s *MetricsService) Overview(ctx context.Context, userID int64, ym core.YearMonth) (core.MonthOverview, error) {
	if err := ym.Validate(); err != nil {
		return core.MonthOverview{}, err
	}
	totals, err := s.Totals(ctx, userID, ym.Period())
	if err != nil {
		return core.MonthOverview{}, err
	}
	breakdown, err := s.CategoryBreakdown(ctx, userID, ym.Period(), BreakdownFilter{Type: core.Expense})
	if err != nil {
		return core.MonthOverview{}, err
	}
	return core.MonthOverview{Year: ym.Year, Month: ym.Month, Totals: totals, ByCategory: breakdown}, nil
}

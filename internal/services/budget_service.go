package services

import (
	"context"
	"log/slog"
	"sort"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// BudgetService resolves monthly budgets from standing templates and
// per-month overrides and measures spending against them.
type BudgetService struct {
	storage *storage.SQLiteRepository
}

func NewBudgetService(storage *storage.SQLiteRepository) *BudgetService {
	return &BudgetService{storage: storage}
}

func checkBudgetScope(ctx context.Context, q *storage.Queries, userID int64, categoryID *int64) error {
	if categoryID == nil {
		return nil
	}
	cat, err := q.GetCategory(ctx, userID, *categoryID)
	if err != nil {
		return err
	}
	if cat.Type != core.Expense {
		return core.Invalid("budgets apply to expense categories only")
	}
	return nil
}

// UpsertTemplate stores a standing budget. A template with the same scope
// and start date is replaced.
func (s *BudgetService) UpsertTemplate(ctx context.Context, userID int64, in core.BudgetTemplateInput) (core.BudgetTemplate, error) {
	if err := core.Validate(in); err != nil {
		return core.BudgetTemplate{}, err
	}
	t := core.BudgetTemplate{
		UserID:     userID,
		Frequency:  in.Frequency,
		CategoryID: in.CategoryID,
		Amount:     core.Money{Cents: in.AmountCents},
		StartsOn:   in.StartsOn,
		EndsOn:     in.EndsOn,
	}
	if err := t.Validate(); err != nil {
		return core.BudgetTemplate{}, err
	}

	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		if err := checkBudgetScope(ctx, q, userID, t.CategoryID); err != nil {
			return err
		}
		existing, err := q.ListBudgetTemplates(ctx, userID)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if core.ScopeKey(e.CategoryID) == core.ScopeKey(t.CategoryID) && e.StartsOn.Equal(t.StartsOn.Time) {
				t.ID = e.ID
				t.CreatedAt = e.CreatedAt
				return q.UpdateBudgetTemplate(ctx, t)
			}
		}
		t, err = q.InsertBudgetTemplate(ctx, t)
		return err
	})
	if err != nil {
		return core.BudgetTemplate{}, err
	}
	slog.InfoContext(ctx, "Budget template saved",
		log.FieldUserID, userID,
		"template_id", t.ID,
		"scope", core.ScopeKey(t.CategoryID),
		log.FieldAmountCents, t.Amount.Cents)
	return t, nil
}

// UpsertOverride sets the budget for one month and scope.
func (s *BudgetService) UpsertOverride(ctx context.Context, userID int64, in core.BudgetOverrideInput) (core.BudgetOverride, error) {
	if err := core.Validate(in); err != nil {
		return core.BudgetOverride{}, err
	}
	var out core.BudgetOverride
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		if err := checkBudgetScope(ctx, q, userID, in.CategoryID); err != nil {
			return err
		}
		var err error
		out, err = q.UpsertBudgetOverride(ctx, core.BudgetOverride{
			UserID:     userID,
			Year:       in.Year,
			Month:      in.Month,
			CategoryID: in.CategoryID,
			Amount:     core.Money{Cents: in.AmountCents},
		})
		return err
	})
	return out, err
}

func (s *BudgetService) ListTemplates(ctx context.Context, userID int64) ([]core.BudgetTemplate, error) {
	return s.storage.Queries().ListBudgetTemplates(ctx, userID)
}

func (s *BudgetService) DeleteTemplate(ctx context.Context, userID, id int64) error {
	return s.storage.Queries().DeleteBudgetTemplate(ctx, userID, id)
}

func (s *BudgetService) DeleteOverride(ctx context.Context, userID, id int64) error {
	return s.storage.Queries().DeleteBudgetOverride(ctx, userID, id)
}

// EffectiveBudgets resolves one budget per scope for the month. An override
// beats the template; among active templates the latest start wins.
func (s *BudgetService) EffectiveBudgets(ctx context.Context, userID int64, year, month int) ([]core.EffectiveBudget, error) {
	ym := core.YearMonth{Year: year, Month: month}
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	q := s.storage.Queries()

	templates, err := q.ListBudgetTemplates(ctx, userID)
	if err != nil {
		return nil, err
	}
	overrides, err := q.ListBudgetOverrides(ctx, userID, ym)
	if err != nil {
		return nil, err
	}

	byScope := make(map[int64]core.EffectiveBudget)
	// Templates arrive newest start first.
	for _, t := range templates {
		if !t.ActiveIn(ym) {
			continue
		}
		scope := core.ScopeKey(t.CategoryID)
		if _, ok := byScope[scope]; ok {
			continue
		}
		byScope[scope] = core.EffectiveBudget{CategoryID: t.CategoryID, Amount: core.Money{Cents: t.MonthlyAmount()}}
	}
	for _, o := range overrides {
		byScope[core.ScopeKey(o.CategoryID)] = core.EffectiveBudget{CategoryID: o.CategoryID, Amount: o.Amount, Overridden: true}
	}

	out := make([]core.EffectiveBudget, 0, len(byScope))
	for _, b := range byScope {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return core.ScopeKey(out[i].CategoryID) < core.ScopeKey(out[j].CategoryID) })
	return out, nil
}

// SpentByCategory returns net expense per category for the month, keyed by
// category id, with key 0 holding the overall total. Entries carrying a tag
// hidden from budgets are left out.
func (s *BudgetService) SpentByCategory(ctx context.Context, userID int64, year, month int) (map[int64]int64, error) {
	ym := core.YearMonth{Year: year, Month: month}
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	period := ym.Period()
	rows, err := s.storage.Queries().CategoryTotals(ctx, storage.TransactionFilter{
		UserID: userID,
		Period: &period,
		Type:   core.Expense,
	}, true)
	if err != nil {
		return nil, err
	}
	spent := map[int64]int64{0: 0}
	for _, r := range rows {
		spent[r.CategoryID] = r.Net()
		spent[0] += r.Net()
	}
	return spent, nil
}

// Progress compares each effective budget of the month with its spending.
func (s *BudgetService) Progress(ctx context.Context, userID int64, year, month int) ([]core.BudgetProgress, error) {
	budgets, err := s.EffectiveBudgets(ctx, userID, year, month)
	if err != nil {
		return nil, err
	}
	spent, err := s.SpentByCategory(ctx, userID, year, month)
	if err != nil {
		return nil, err
	}
	out := make([]core.BudgetProgress, 0, len(budgets))
	for _, b := range budgets {
		sp := spent[core.ScopeKey(b.CategoryID)]
		out = append(out, core.BudgetProgress{
			CategoryID: b.CategoryID,
			Budget:     b.Amount.Cents,
			Spent:      sp,
			Remaining:  b.Amount.Cents - sp,
		})
	}
	return out, nil
}

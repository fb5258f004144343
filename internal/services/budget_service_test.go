package services

import (
	"context"
	"errors"
	"testing"

	"fintrack/internal/core"
)

func TestEffectiveBudgets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	food := env.category(t, core.Expense, "Food")
	travel := env.category(t, core.Expense, "Travel")

	mustTemplate := func(in core.BudgetTemplateInput) {
		t.Helper()
		if _, err := env.budgets.UpsertTemplate(ctx, testUser, in); err != nil {
			t.Fatalf("UpsertTemplate() error = %v", err)
		}
	}
	mustTemplate(core.BudgetTemplateInput{Frequency: core.BudgetMonthly, AmountCents: 200000, StartsOn: core.NewDate(2024, 1, 1)})
	mustTemplate(core.BudgetTemplateInput{Frequency: core.BudgetMonthly, CategoryID: &food, AmountCents: 40000, StartsOn: core.NewDate(2024, 1, 1)})
	// A later template for the same scope takes over from its start month.
	mustTemplate(core.BudgetTemplateInput{Frequency: core.BudgetMonthly, CategoryID: &food, AmountCents: 45000, StartsOn: core.NewDate(2024, 6, 1)})
	mustTemplate(core.BudgetTemplateInput{Frequency: core.BudgetYearly, CategoryID: &travel, AmountCents: 100001, StartsOn: core.NewDate(2024, 1, 1)})
	if _, err := env.budgets.UpsertOverride(ctx, testUser, core.BudgetOverrideInput{Year: 2024, Month: 8, CategoryID: &food, AmountCents: 10000}); err != nil {
		t.Fatalf("UpsertOverride() error = %v", err)
	}

	tests := []struct {
		name  string
		month int
		want  map[int64]int64
	}{
		{"first template", 3, map[int64]int64{0: 200000, food: 40000, travel: 8333}},
		{"later template", 6, map[int64]int64{0: 200000, food: 45000, travel: 8333}},
		{"override", 8, map[int64]int64{0: 200000, food: 10000, travel: 8333}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.budgets.EffectiveBudgets(ctx, testUser, 2024, tt.month)
			if err != nil {
				t.Fatalf("EffectiveBudgets() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d budgets, want %d", len(got), len(tt.want))
			}
			for _, b := range got {
				if want := tt.want[core.ScopeKey(b.CategoryID)]; b.Amount.Cents != want {
					t.Errorf("scope %d = %d, want %d", core.ScopeKey(b.CategoryID), b.Amount.Cents, want)
				}
			}
		})
	}
}

func TestUpsertTemplate_ReplacesSameStart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := core.BudgetTemplateInput{Frequency: core.BudgetMonthly, AmountCents: 100, StartsOn: core.NewDate(2024, 1, 1)}
	first, err := env.budgets.UpsertTemplate(ctx, testUser, in)
	if err != nil {
		t.Fatal(err)
	}
	in.AmountCents = 200
	second, err := env.budgets.UpsertTemplate(ctx, testUser, in)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("template ids differ: %d vs %d", first.ID, second.ID)
	}
	list, _ := env.budgets.ListTemplates(ctx, testUser)
	if len(list) != 1 || list[0].Amount.Cents != 200 {
		t.Errorf("ListTemplates() = %+v", list)
	}
}

func TestUpsertTemplate_RejectsIncomeCategory(t *testing.T) {
	env := newTestEnv(t)
	salary := env.category(t, core.Income, "Salary")
	_, err := env.budgets.UpsertTemplate(context.Background(), testUser, core.BudgetTemplateInput{
		Frequency: core.BudgetMonthly, CategoryID: &salary, AmountCents: 100, StartsOn: core.NewDate(2024, 1, 1),
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("UpsertTemplate() error = %v, want validation", err)
	}
}

func TestProgress_NetsReimbursementsAndHiddenTags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	food := env.category(t, core.Expense, "Food")
	refunds := env.category(t, core.Income, "Refunds")
	if _, err := env.tags.Create(ctx, testUser, core.TagInput{Name: "Work", HiddenFromBudget: true}); err != nil {
		t.Fatal(err)
	}

	exp := env.expense(t, food, core.NewDate(2024, 3, 4), 10000)
	env.add(t, core.TransactionInput{
		Date: core.NewDate(2024, 3, 5), Type: core.Expense, AmountCents: 7000, CategoryID: food, Tags: []string{"work"},
	})
	reimb := env.income(t, refunds, core.NewDate(2024, 3, 20), 5000, true)
	if _, err := env.reimbursement.UpsertAllocation(ctx, testUser, reimb.ID, exp.ID, 5000); err != nil {
		t.Fatal(err)
	}
	if _, err := env.budgets.UpsertTemplate(ctx, testUser, core.BudgetTemplateInput{
		Frequency: core.BudgetMonthly, CategoryID: &food, AmountCents: 20000, StartsOn: core.NewDate(2024, 1, 1),
	}); err != nil {
		t.Fatal(err)
	}

	progress, err := env.budgets.Progress(ctx, testUser, 2024, 3)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if len(progress) != 1 {
		t.Fatalf("Progress() = %+v", progress)
	}
	p := progress[0]
	if p.Spent != 5000 || p.Remaining != 15000 {
		t.Errorf("Progress() = %+v, want spent 5000 remaining 15000", p)
	}

	spent, err := env.budgets.SpentByCategory(ctx, testUser, 2024, 3)
	if err != nil {
		t.Fatal(err)
	}
	if spent[0] != 5000 {
		t.Errorf("overall spent = %d, want 5000", spent[0])
	}
}

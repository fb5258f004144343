package services

import (
	"context"
	"testing"
	"time"

	"fintrack/internal/core"
)

func TestBalanceAsOf_AnchorScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	salary := env.category(t, core.Income, "Salary")

	anchorAt := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	env.add(t, core.TransactionInput{
		Date: core.NewDate(2024, 6, 1), Type: core.Income, AmountCents: 5000, CategoryID: salary,
	})
	if _, err := env.balance.CreateAnchor(ctx, testUser, core.AnchorInput{AsOf: anchorAt, BalanceCents: 10000}); err != nil {
		t.Fatalf("CreateAnchor() error = %v", err)
	}
	env.add(t, core.TransactionInput{
		Date: core.NewDate(2024, 6, 20), Type: core.Income, AmountCents: 2000, CategoryID: salary,
	})

	tests := []struct {
		name string
		at   time.Time
		want int64
	}{
		{"before any entry", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 0},
		{"just before anchor", anchorAt.Add(-time.Nanosecond), 5000},
		{"at anchor", anchorAt, 10000},
		{"between anchor and later entry", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), 10000},
		{"after later entry", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), 12000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.balance.BalanceAsOf(ctx, testUser, tt.at)
			if err != nil {
				t.Fatalf("BalanceAsOf() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BalanceAsOf() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBalanceAsOf_TiedAnchorsPreferNewest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, bal := range []int64{100, 200, 300} {
		if _, err := env.balance.CreateAnchor(ctx, testUser, core.AnchorInput{AsOf: at, BalanceCents: bal}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := env.balance.BalanceAsOf(ctx, testUser, at)
	if err != nil {
		t.Fatal(err)
	}
	if got != 300 {
		t.Errorf("BalanceAsOf() = %d, want 300", got)
	}
}

func TestBalanceAsOf_NegativeAnchorAndExpenses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	food := env.category(t, core.Expense, "Food")

	if _, err := env.balance.CreateAnchor(ctx, testUser, core.AnchorInput{
		AsOf: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), BalanceCents: -2500,
	}); err != nil {
		t.Fatal(err)
	}
	exp := env.expense(t, food, core.NewDate(2024, 3, 2), 1000)

	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	got, err := env.balance.BalanceAsOf(ctx, testUser, end)
	if err != nil {
		t.Fatal(err)
	}
	if got != -3500 {
		t.Errorf("BalanceAsOf() = %d, want -3500", got)
	}

	// Soft-deleted entries do not move the balance.
	if err := env.transactions.SoftDelete(ctx, testUser, exp.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = env.balance.BalanceAsOf(ctx, testUser, end)
	if got != -2500 {
		t.Errorf("after delete BalanceAsOf() = %d, want -2500", got)
	}
}

func TestBalanceAsOf_Monotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	salary := env.category(t, core.Income, "Salary")
	for d := 1; d <= 10; d++ {
		env.income(t, salary, core.NewDate(2024, 8, d), int64(d*10), false)
	}

	var prev int64
	for d := 1; d <= 11; d++ {
		got, err := env.balance.BalanceAsOf(ctx, testUser, core.NewDate(2024, 8, d).Noon())
		if err != nil {
			t.Fatal(err)
		}
		if got < prev {
			t.Fatalf("balance went down on day %d: %d < %d", d, got, prev)
		}
		prev = got
	}
	if prev != 550 {
		t.Errorf("final balance = %d, want 550", prev)
	}
}

func TestKPIs_BalanceAtPeriodEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	salary := env.category(t, core.Income, "Salary")
	food := env.category(t, core.Expense, "Food")
	env.income(t, salary, core.NewDate(2024, 9, 30), 8000, false)
	env.expense(t, food, core.NewDate(2024, 9, 12), 3000)
	env.expense(t, food, core.NewDate(2024, 10, 1), 999)

	k, err := env.metrics.KPIs(ctx, testUser, core.NewYearMonth(2024, 9).Period())
	if err != nil {
		t.Fatalf("KPIs() error = %v", err)
	}
	if k.Income.Cents != 8000 || k.Expense.Cents != 3000 || k.Net != 5000 {
		t.Errorf("KPIs() totals = %+v", k)
	}
	if k.Balance != 5000 {
		t.Errorf("KPIs().Balance = %d, want 5000", k.Balance)
	}
}

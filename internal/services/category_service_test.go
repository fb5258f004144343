package services

import (
	"context"
	"errors"
	"testing"

	"fintrack/internal/core"
)

func TestCategoryService_DeleteInUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	food := env.category(t, core.Expense, "Food")
	unused := env.category(t, core.Expense, "Unused")
	exp := env.expense(t, food, core.NewDate(2024, 1, 1), 100)
	if err := env.transactions.SoftDelete(ctx, testUser, exp.ID); err != nil {
		t.Fatal(err)
	}

	if err := env.categories.Delete(ctx, testUser, food); !errors.Is(err, core.ErrConflict) {
		t.Errorf("Delete() in use error = %v, want conflict", err)
	}
	if err := env.categories.Delete(ctx, testUser, unused); err != nil {
		t.Errorf("Delete() unused error = %v", err)
	}
}

func TestCategoryService_ArchivedRejectsEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	food := env.category(t, core.Expense, "Food")
	if err := env.categories.Archive(ctx, testUser, food); err != nil {
		t.Fatal(err)
	}

	_, err := env.transactions.Create(ctx, testUser, core.TransactionInput{
		Date: core.NewDate(2024, 1, 1), Type: core.Expense, AmountCents: 100, CategoryID: food,
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("Create() error = %v, want validation", err)
	}

	active, _ := env.categories.List(ctx, testUser, core.Expense, false)
	all, _ := env.categories.List(ctx, testUser, core.Expense, true)
	if len(active) != 0 || len(all) != 1 {
		t.Errorf("List() active=%d all=%d", len(active), len(all))
	}

	if err := env.categories.Unarchive(ctx, testUser, food); err != nil {
		t.Fatal(err)
	}
	env.expense(t, food, core.NewDate(2024, 1, 1), 100)
}

func TestCategoryService_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.category(t, core.Expense, "Food")

	tests := []struct {
		name string
		in   core.CategoryInput
		want error
	}{
		{"missing name", core.CategoryInput{Type: core.Expense}, core.ErrValidation},
		{"bad type", core.CategoryInput{Name: "X", Type: "transfer"}, core.ErrValidation},
		{"bad color", core.CategoryInput{Name: "X", Type: core.Expense, Color: "red"}, core.ErrValidation},
		{"duplicate ignoring case", core.CategoryInput{Name: "food", Type: core.Expense}, core.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.categories.Create(ctx, testUser, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}

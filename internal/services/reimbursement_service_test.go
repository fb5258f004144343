package services

import (
	"context"
	"errors"
	"testing"

	"fintrack/internal/core"
)

type allocFixture struct {
	env     *testEnv
	food    int64
	refunds int64
}

func newAllocFixture(t *testing.T) allocFixture {
	env := newTestEnv(t)
	return allocFixture{
		env:     env,
		food:    env.category(t, core.Expense, "Food"),
		refunds: env.category(t, core.Income, "Refunds"),
	}
}

func TestUpsertAllocation_Caps(t *testing.T) {
	f := newAllocFixture(t)
	ctx := context.Background()
	expA := f.env.expense(t, f.food, core.NewDate(2024, 5, 1), 3000)
	expB := f.env.expense(t, f.food, core.NewDate(2024, 5, 2), 3000)
	reimb := f.env.income(t, f.refunds, core.NewDate(2024, 5, 10), 4000, true)
	plain := f.env.income(t, f.refunds, core.NewDate(2024, 5, 10), 4000, false)

	tests := []struct {
		name    string
		reimb   int64
		expense int64
		amount  int64
		wantErr bool
	}{
		{"within both caps", reimb.ID, expA.ID, 2500, false},
		{"update same pair", reimb.ID, expA.ID, 3000, false},
		{"exceeds expense", reimb.ID, expB.ID, 3500, true},
		{"exceeds reimbursement remainder", reimb.ID, expB.ID, 1500, true},
		{"fills remainder", reimb.ID, expB.ID, 1000, false},
		{"not flagged as reimbursement", plain.ID, expB.ID, 100, true},
		{"expense as source", expA.ID, expB.ID, 100, true},
		{"zero amount", reimb.ID, expB.ID, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.env.reimbursement.UpsertAllocation(ctx, testUser, tt.reimb, tt.expense, tt.amount)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UpsertAllocation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, core.ErrValidation) {
				t.Errorf("error kind = %v, want validation", core.KindOf(err))
			}
		})
	}

	allocated, err := f.env.reimbursement.AllocatedForReimbursement(ctx, testUser, reimb.ID)
	if err != nil || allocated != 4000 {
		t.Errorf("AllocatedForReimbursement() = %d, %v; want 4000", allocated, err)
	}
	reimbursed, err := f.env.reimbursement.ReimbursedForExpense(ctx, testUser, expA.ID)
	if err != nil || reimbursed != 3000 {
		t.Errorf("ReimbursedForExpense() = %d, %v; want 3000", reimbursed, err)
	}
}

func TestUpsertAllocation_DeletedCounterpartFreesCapacity(t *testing.T) {
	f := newAllocFixture(t)
	ctx := context.Background()
	expA := f.env.expense(t, f.food, core.NewDate(2024, 5, 1), 5000)
	expB := f.env.expense(t, f.food, core.NewDate(2024, 5, 2), 5000)
	reimb := f.env.income(t, f.refunds, core.NewDate(2024, 5, 10), 5000, true)

	if _, err := f.env.reimbursement.UpsertAllocation(ctx, testUser, reimb.ID, expA.ID, 5000); err != nil {
		t.Fatal(err)
	}
	if err := f.env.transactions.SoftDelete(ctx, testUser, expA.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.env.reimbursement.UpsertAllocation(ctx, testUser, reimb.ID, expB.ID, 5000); err != nil {
		t.Fatalf("allocation against freed capacity failed: %v", err)
	}

	// Restoring A would count both allocations again.
	err := f.env.transactions.Restore(ctx, testUser, expA.ID)
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("Restore() error = %v, want validation", err)
	}
	got, _ := f.env.transactions.Get(ctx, testUser, expA.ID)
	if !got.IsDeleted() {
		t.Error("expense was restored despite the conflict")
	}
}

func TestUpdate_ReflagRejectsShrunkReimbursement(t *testing.T) {
	f := newAllocFixture(t)
	ctx := context.Background()
	exp := f.env.expense(t, f.food, core.NewDate(2024, 3, 5), 10000)
	reimb := f.env.income(t, f.refunds, core.NewDate(2024, 3, 20), 10000, true)
	if _, err := f.env.reimbursement.UpsertAllocation(ctx, testUser, reimb.ID, exp.ID, 10000); err != nil {
		t.Fatal(err)
	}

	off, on := false, true
	small := int64(1000)
	if _, err := f.env.transactions.Update(ctx, testUser, reimb.ID, TransactionUpdate{IsReimbursement: &off}); err != nil {
		t.Fatalf("unflag: %v", err)
	}

	// Shrinking and re-flagging together would leave 10000 allocated against 1000.
	_, err := f.env.transactions.Update(ctx, testUser, reimb.ID, TransactionUpdate{IsReimbursement: &on, AmountCents: &small})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("re-flag with smaller amount: error = %v, want validation", err)
	}
	got, _ := f.env.transactions.Get(ctx, testUser, reimb.ID)
	if got.IsReimbursement || got.Amount.Cents != 10000 {
		t.Errorf("reimbursement = flagged %v amount %d; want unchanged", got.IsReimbursement, got.Amount.Cents)
	}

	// Shrinking first and re-flagging after hits the same check.
	if _, err := f.env.transactions.Update(ctx, testUser, reimb.ID, TransactionUpdate{AmountCents: &small}); err != nil {
		t.Fatalf("shrink while unflagged: %v", err)
	}
	_, err = f.env.transactions.Update(ctx, testUser, reimb.ID, TransactionUpdate{IsReimbursement: &on})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("re-flag after shrink: error = %v, want validation", err)
	}
	mar, ok := f.env.rollup(t, core.NewYearMonth(2024, 3))
	if !ok || mar.Expense.Cents != 10000 || mar.Income.Cents != 1000 {
		t.Errorf("march = %+v, %v; want expense 10000, income 1000", mar, ok)
	}

	// Back at full size the allocation fits again.
	full := int64(10000)
	if _, err := f.env.transactions.Update(ctx, testUser, reimb.ID, TransactionUpdate{AmountCents: &full, IsReimbursement: &on}); err != nil {
		t.Fatalf("re-flag at full amount: %v", err)
	}
	allocated, err := f.env.reimbursement.AllocatedForReimbursement(ctx, testUser, reimb.ID)
	if err != nil || allocated != 10000 {
		t.Errorf("AllocatedForReimbursement() = %d, %v; want 10000", allocated, err)
	}
}

func TestCheckAmountChange(t *testing.T) {
	f := newAllocFixture(t)
	ctx := context.Background()
	exp := f.env.expense(t, f.food, core.NewDate(2024, 5, 1), 5000)
	reimb := f.env.income(t, f.refunds, core.NewDate(2024, 5, 10), 4000, true)
	if _, err := f.env.reimbursement.UpsertAllocation(ctx, testUser, reimb.ID, exp.ID, 3000); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		txn     core.Transaction
		amount  int64
		wantErr bool
	}{
		{"expense shrinks to allocated", exp, 3000, false},
		{"expense below allocated", exp, 2999, true},
		{"expense grows", exp, 9000, false},
		{"reimbursement shrinks to allocated", reimb, 3000, false},
		{"reimbursement below allocated", reimb, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.env.reimbursement.CheckAmountChange(ctx, tt.txn, tt.amount)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckAmountChange() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	// Update runs the same guard.
	low := int64(10)
	if _, err := f.env.transactions.Update(ctx, testUser, exp.ID, TransactionUpdate{AmountCents: &low}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Update() error = %v, want validation", err)
	}
}

func TestDeleteAllocation_RestoresGross(t *testing.T) {
	f := newAllocFixture(t)
	ctx := context.Background()
	exp := f.env.expense(t, f.food, core.NewDate(2024, 7, 1), 5000)
	reimb := f.env.income(t, f.refunds, core.NewDate(2024, 7, 10), 2000, true)
	a, err := f.env.reimbursement.UpsertAllocation(ctx, testUser, reimb.ID, exp.ID, 2000)
	if err != nil {
		t.Fatal(err)
	}
	r, _ := f.env.rollup(t, core.NewYearMonth(2024, 7))
	if r.Expense.Cents != 3000 {
		t.Fatalf("netted expense = %d, want 3000", r.Expense.Cents)
	}

	if err := f.env.reimbursement.DeleteAllocation(ctx, testUser, a.ID); err != nil {
		t.Fatalf("DeleteAllocation() error = %v", err)
	}
	r, _ = f.env.rollup(t, core.NewYearMonth(2024, 7))
	if r.Expense.Cents != 5000 {
		t.Errorf("gross expense = %d, want 5000", r.Expense.Cents)
	}
	list, err := f.env.reimbursement.ListAllocations(ctx, testUser, exp.ID)
	if err != nil || len(list) != 0 {
		t.Errorf("ListAllocations() = %v, %v", list, err)
	}

	var sawAllocation bool
	for _, ev := range f.env.publisher.Events() {
		if ev.Reason == ReasonAllocation && ev.Month == core.NewYearMonth(2024, 7) {
			sawAllocation = true
		}
	}
	if !sawAllocation {
		t.Error("no allocation event published")
	}
}

func TestUpdate_UnflagReimbursementRecomputesExpenseMonth(t *testing.T) {
	f := newAllocFixture(t)
	ctx := context.Background()
	exp := f.env.expense(t, f.food, core.NewDate(2024, 1, 20), 5000)
	reimb := f.env.income(t, f.refunds, core.NewDate(2024, 3, 1), 5000, true)
	if _, err := f.env.reimbursement.UpsertAllocation(ctx, testUser, reimb.ID, exp.ID, 5000); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.env.rollup(t, core.NewYearMonth(2024, 1)); ok {
		t.Fatal("fully reimbursed month should have no rollup")
	}

	off := false
	if _, err := f.env.transactions.Update(ctx, testUser, reimb.ID, TransactionUpdate{IsReimbursement: &off}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	jan, ok := f.env.rollup(t, core.NewYearMonth(2024, 1))
	if !ok || jan.Expense.Cents != 5000 {
		t.Errorf("january = %+v, %v; want expense 5000", jan, ok)
	}
	mar, ok := f.env.rollup(t, core.NewYearMonth(2024, 3))
	if !ok || mar.Income.Cents != 5000 {
		t.Errorf("march = %+v, %v; want income 5000", mar, ok)
	}
}

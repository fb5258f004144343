package services

import (
	"context"
	"log/slog"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// ReimbursementService links reimbursement income to the expenses it repays
// and keeps allocation totals within both sides' amounts.
type ReimbursementService struct {
	storage   *storage.SQLiteRepository
	rollups   *RollupService
	publisher ChangePublisher
}

func NewReimbursementService(storage *storage.SQLiteRepository, rollups *RollupService, publisher ChangePublisher) *ReimbursementService {
	return &ReimbursementService{storage: storage, rollups: rollups, publisher: publisher}
}

// UpsertAllocation sets the amount reimbursementID repays against expenseID,
// creating the link if needed. Both sides must be live and neither may end up
// over-allocated.
func (s *ReimbursementService) UpsertAllocation(ctx context.Context, userID, reimbursementID, expenseID, amount int64) (core.ReimbursementAllocation, error) {
	alloc := core.ReimbursementAllocation{
		UserID:          userID,
		ReimbursementID: reimbursementID,
		ExpenseID:       expenseID,
		Amount:          core.Money{Cents: amount},
	}
	if err := alloc.Validate(); err != nil {
		return core.ReimbursementAllocation{}, err
	}

	var expense core.Transaction
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		reimb, err := q.GetTransaction(ctx, userID, reimbursementID)
		if err != nil {
			return err
		}
		if !reimb.ActiveReimbursement() {
			return core.Invalid("reimbursement must be a live income entry flagged as reimbursement")
		}
		expense, err = q.GetTransaction(ctx, userID, expenseID)
		if err != nil {
			return err
		}
		if expense.IsDeleted() || expense.Type != core.Expense {
			return core.Invalid("allocation target must be a live expense")
		}

		existing, found, err := q.GetAllocationByPair(ctx, userID, reimbursementID, expenseID)
		if err != nil {
			return err
		}
		allocated, err := q.LiveAllocatedForReimbursement(ctx, userID, reimbursementID, existing.ID)
		if err != nil {
			return err
		}
		if allocated+amount > reimb.Amount.Cents {
			return core.Invalidf("reimbursement over-allocated: %d of %d already allocated", allocated, reimb.Amount.Cents)
		}
		reimbursed, err := q.LiveReimbursedForExpense(ctx, userID, expenseID, existing.ID)
		if err != nil {
			return err
		}
		if reimbursed+amount > expense.Amount.Cents {
			return core.Invalidf("expense over-reimbursed: %d of %d already reimbursed", reimbursed, expense.Amount.Cents)
		}

		if found {
			alloc.ID = existing.ID
			return q.UpdateAllocationAmount(ctx, userID, existing.ID, amount)
		}
		alloc.ID, err = q.InsertAllocation(ctx, alloc)
		return err
	})
	if err != nil {
		return core.ReimbursementAllocation{}, err
	}

	slog.InfoContext(ctx, "Reimbursement allocation saved",
		log.FieldUserID, userID,
		log.FieldAllocationID, alloc.ID,
		log.FieldTransactionID, expenseID,
		log.FieldAmountCents, amount)

	if err := s.afterChange(ctx, userID, expense.Date); err != nil {
		return alloc, err
	}
	return alloc, nil
}

// DeleteAllocation removes the link and restores the expense month's gross
// total.
func (s *ReimbursementService) DeleteAllocation(ctx context.Context, userID, id int64) error {
	var expense core.Transaction
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		a, err := q.GetAllocation(ctx, userID, id)
		if err != nil {
			return err
		}
		expense, err = q.GetTransaction(ctx, userID, a.ExpenseID)
		if err != nil {
			return err
		}
		return q.DeleteAllocation(ctx, userID, id)
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Reimbursement allocation deleted",
		log.FieldUserID, userID,
		log.FieldAllocationID, id)
	return s.afterChange(ctx, userID, expense.Date)
}

func (s *ReimbursementService) afterChange(ctx context.Context, userID int64, expenseDate core.Date) error {
	invalidateDates(ctx, expenseDate)
	ym := expenseDate.YearMonth()
	if _, err := s.rollups.Recompute(ctx, userID, ym.Year, ym.Month); err != nil {
		return err
	}
	publishMonths(ctx, s.publisher, userID, []core.YearMonth{ym}, ReasonAllocation)
	return nil
}

// AllocatedForReimbursement totals allocations from a reimbursement against
// live expenses.
func (s *ReimbursementService) AllocatedForReimbursement(ctx context.Context, userID, reimbursementID int64) (int64, error) {
	return s.storage.Queries().LiveAllocatedForReimbursement(ctx, userID, reimbursementID, 0)
}

// ReimbursedForExpense totals allocations against an expense from live
// reimbursements.
func (s *ReimbursementService) ReimbursedForExpense(ctx context.Context, userID, expenseID int64) (int64, error) {
	return s.storage.Queries().LiveReimbursedForExpense(ctx, userID, expenseID, 0)
}

// ListAllocations returns the allocations touching a transaction from
// either side.
func (s *ReimbursementService) ListAllocations(ctx context.Context, userID, transactionID int64) ([]core.ReimbursementAllocation, error) {
	return s.storage.Queries().ListAllocationsFor(ctx, userID, transactionID)
}

// CheckAmountChange rejects shrinking an expense below what has been
// reimbursed against it, or a reimbursement below what it has allocated.
func (s *ReimbursementService) CheckAmountChange(ctx context.Context, txn core.Transaction, newAmount int64) error {
	return checkAmountChange(ctx, s.storage.Queries(), txn, newAmount)
}

func checkAmountChange(ctx context.Context, q *storage.Queries, txn core.Transaction, newAmount int64) error {
	if newAmount >= txn.Amount.Cents || txn.IsDeleted() {
		return nil
	}
	switch {
	case txn.Type == core.Expense:
		reimbursed, err := q.LiveReimbursedForExpense(ctx, txn.UserID, txn.ID, 0)
		if err != nil {
			return err
		}
		if newAmount < reimbursed {
			return core.Invalidf("amount %d is below the %d already reimbursed", newAmount, reimbursed)
		}
	case txn.IsReimbursement:
		allocated, err := q.LiveAllocatedForReimbursement(ctx, txn.UserID, txn.ID, 0)
		if err != nil {
			return err
		}
		if newAmount < allocated {
			return core.Invalidf("amount %d is below the %d already allocated", newAmount, allocated)
		}
	}
	return nil
}

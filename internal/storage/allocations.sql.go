package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fintrack/internal/core"
)

const allocationColumns = `id, user_id, reimbursement_transaction_id, expense_transaction_id, amount_cents`

func scanAllocation(row scanner) (core.ReimbursementAllocation, error) {
	var a core.ReimbursementAllocation
	err := row.Scan(&a.ID, &a.UserID, &a.ReimbursementID, &a.ExpenseID, &a.Amount.Cents)
	return a, err
}

const getAllocation = `-- name: GetAllocation :one
SELECT ` + allocationColumns + ` FROM reimbursement_allocations WHERE user_id = ? AND id = ?`

func (q *Queries) GetAllocation(ctx context.Context, userID, id int64) (core.ReimbursementAllocation, error) {
	a, err := scanAllocation(q.db.QueryRowContext(ctx, getAllocation, userID, id))
	return a, mapErr(err, "reimbursement allocation")
}

const getAllocationByPair = `-- name: GetAllocationByPair :one
SELECT ` + allocationColumns + ` FROM reimbursement_allocations
WHERE user_id = ? AND reimbursement_transaction_id = ? AND expense_transaction_id = ?`

// GetAllocationByPair returns the allocation linking the two entries, if any.
func (q *Queries) GetAllocationByPair(ctx context.Context, userID, reimbursementID, expenseID int64) (core.ReimbursementAllocation, bool, error) {
	a, err := scanAllocation(q.db.QueryRowContext(ctx, getAllocationByPair, userID, reimbursementID, expenseID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.ReimbursementAllocation{}, false, nil
	}
	if err != nil {
		return core.ReimbursementAllocation{}, false, mapErr(err, "reimbursement allocation")
	}
	return a, true, nil
}

const insertAllocation = `-- name: InsertAllocation :one
INSERT INTO reimbursement_allocations (
    user_id, reimbursement_transaction_id, expense_transaction_id, amount_cents, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?)
RETURNING id`

func (q *Queries) InsertAllocation(ctx context.Context, a core.ReimbursementAllocation) (int64, error) {
	now := nanos(time.Now())
	var id int64
	err := q.db.QueryRowContext(ctx, insertAllocation,
		a.UserID, a.ReimbursementID, a.ExpenseID, a.Amount.Cents, now, now).Scan(&id)
	return id, mapErr(err, "reimbursement allocation")
}

const updateAllocationAmount = `-- name: UpdateAllocationAmount :exec
UPDATE reimbursement_allocations SET amount_cents = ?, updated_at = ? WHERE user_id = ? AND id = ?`

func (q *Queries) UpdateAllocationAmount(ctx context.Context, userID, id, amount int64) error {
	res, err := q.db.ExecContext(ctx, updateAllocationAmount, amount, nanos(time.Now()), userID, id)
	if err != nil {
		return mapErr(err, "reimbursement allocation")
	}
	return expectAffected(res, "reimbursement allocation")
}

const deleteAllocation = `-- name: DeleteAllocation :exec
DELETE FROM reimbursement_allocations WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteAllocation(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, deleteAllocation, userID, id)
	if err != nil {
		return mapErr(err, "reimbursement allocation")
	}
	return expectAffected(res, "reimbursement allocation")
}

const liveAllocatedForReimbursement = `-- name: LiveAllocatedForReimbursement :one
SELECT COALESCE(SUM(a.amount_cents), 0)
FROM reimbursement_allocations a
JOIN transactions t ON t.id = a.expense_transaction_id
WHERE a.user_id = ? AND a.reimbursement_transaction_id = ? AND a.id <> ?
  AND t.deleted_at IS NULL AND t.type = 'expense'`

// LiveAllocatedForReimbursement sums allocations drawn from a reimbursement
// whose expense is still live, skipping allocation excludeID.
func (q *Queries) LiveAllocatedForReimbursement(ctx context.Context, userID, reimbursementID, excludeID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, liveAllocatedForReimbursement, userID, reimbursementID, excludeID).Scan(&n)
	return n, mapErr(err, "allocated for reimbursement")
}

const liveReimbursedForExpense = `-- name: LiveReimbursedForExpense :one
SELECT COALESCE(SUM(a.amount_cents), 0)
FROM reimbursement_allocations a
JOIN transactions r ON r.id = a.reimbursement_transaction_id
WHERE a.user_id = ? AND a.expense_transaction_id = ? AND a.id <> ?
  AND ` + liveReimbursement

// LiveReimbursedForExpense sums allocations against an expense whose
// reimbursement is still live, skipping allocation excludeID.
func (q *Queries) LiveReimbursedForExpense(ctx context.Context, userID, expenseID, excludeID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, liveReimbursedForExpense, userID, expenseID, excludeID).Scan(&n)
	return n, mapErr(err, "reimbursed for expense")
}

const linkedExpenseDates = `-- name: LinkedExpenseDates :many
SELECT DISTINCT t.date
FROM reimbursement_allocations a
JOIN transactions t ON t.id = a.expense_transaction_id
WHERE a.user_id = ? AND a.reimbursement_transaction_id = ?
ORDER BY t.date`

// LinkedExpenseDates returns the dates of every expense a reimbursement is
// allocated to, live or not.
func (q *Queries) LinkedExpenseDates(ctx context.Context, userID, reimbursementID int64) ([]core.Date, error) {
	rows, err := q.db.QueryContext(ctx, linkedExpenseDates, userID, reimbursementID)
	if err != nil {
		return nil, mapErr(err, "linked expense dates")
	}
	defer rows.Close()
	var out []core.Date
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		d, err := core.ParseDate(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const listAllocationsFor = `-- name: ListAllocationsFor :many
SELECT ` + allocationColumns + ` FROM reimbursement_allocations
WHERE user_id = ?1 AND (reimbursement_transaction_id = ?2 OR expense_transaction_id = ?2)
ORDER BY id`

// ListAllocationsFor returns allocations touching the entry on either side.
func (q *Queries) ListAllocationsFor(ctx context.Context, userID, transactionID int64) ([]core.ReimbursementAllocation, error) {
	rows, err := q.db.QueryContext(ctx, listAllocationsFor, userID, transactionID)
	if err != nil {
		return nil, mapErr(err, "list allocations")
	}
	defer rows.Close()
	var items []core.ReimbursementAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

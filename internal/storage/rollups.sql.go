package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fintrack/internal/core"
)

const getRollup = `-- name: GetRollup :one
SELECT user_id, year, month, income_cents, expense_cents
FROM monthly_rollups WHERE user_id = ? AND year = ? AND month = ?`

// GetRollup returns the stored row. A missing row is reported as a zero
// rollup with ok false.
func (q *Queries) GetRollup(ctx context.Context, userID int64, ym core.YearMonth) (core.MonthlyRollup, bool, error) {
	var r core.MonthlyRollup
	err := q.db.QueryRowContext(ctx, getRollup, userID, ym.Year, ym.Month).
		Scan(&r.UserID, &r.Year, &r.Month, &r.Income.Cents, &r.Expense.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthlyRollup{UserID: userID, Year: ym.Year, Month: ym.Month}, false, nil
	}
	if err != nil {
		return core.MonthlyRollup{}, false, mapErr(err, "monthly rollup")
	}
	return r, true, nil
}

const upsertRollup = `-- name: UpsertRollup :exec
INSERT INTO monthly_rollups (user_id, year, month, income_cents, expense_cents, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, year, month) DO UPDATE
SET income_cents = excluded.income_cents,
    expense_cents = excluded.expense_cents,
    updated_at = excluded.updated_at`

func (q *Queries) UpsertRollup(ctx context.Context, r core.MonthlyRollup) error {
	_, err := q.db.ExecContext(ctx, upsertRollup,
		r.UserID, r.Year, r.Month, r.Income.Cents, r.Expense.Cents, nanos(time.Now()))
	return mapErr(err, "monthly rollup")
}

const deleteRollup = `-- name: DeleteRollup :exec
DELETE FROM monthly_rollups WHERE user_id = ? AND year = ? AND month = ?`

func (q *Queries) DeleteRollup(ctx context.Context, userID int64, ym core.YearMonth) error {
	_, err := q.db.ExecContext(ctx, deleteRollup, userID, ym.Year, ym.Month)
	return mapErr(err, "monthly rollup")
}

const listRollupMonths = `-- name: ListRollupMonths :many
SELECT year, month FROM monthly_rollups WHERE user_id = ? ORDER BY year, month`

func (q *Queries) ListRollupMonths(ctx context.Context, userID int64) ([]core.YearMonth, error) {
	return q.scanMonths(ctx, listRollupMonths, userID)
}

const sumRollups = `-- name: SumRollups :one
SELECT COALESCE(SUM(income_cents), 0), COALESCE(SUM(expense_cents), 0)
FROM monthly_rollups
WHERE user_id = ? AND (year * 12 + month - 1) BETWEEN ? AND ?`

// SumRollups totals stored rollups for months from..to inclusive.
func (q *Queries) SumRollups(ctx context.Context, userID int64, from, to core.YearMonth) (core.Totals, error) {
	var t core.Totals
	err := q.db.QueryRowContext(ctx, sumRollups, userID, from.Index(), to.Index()).Scan(&t.Income.Cents, &t.Expense.Cents)
	return t, mapErr(err, "sum rollups")
}

package storage

import (
	"context"
	"time"

	"fintrack/internal/core"
)

// liveReimbursement restricts alias r to a non-deleted, flagged income entry.
const liveReimbursement = `r.deleted_at IS NULL AND r.type = 'income' AND r.is_reimbursement = 1`

// notHiddenFromBudget excludes entries of alias t carrying a hidden tag.
const notHiddenFromBudget = `NOT EXISTS (
    SELECT 1 FROM transaction_tags ht JOIN tags hg ON hg.id = ht.tag_id
    WHERE ht.transaction_id = t.id AND hg.hidden_from_budget = 1)`

const ledgerTotals = `-- name: LedgerTotals :one
SELECT
    COALESCE(SUM(CASE WHEN type = 'income' AND is_reimbursement = 0 THEN amount_cents END), 0),
    COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents END), 0)
FROM transactions
WHERE user_id = ? AND deleted_at IS NULL AND date BETWEEN ? AND ?`

// LedgerTotals sums live entries dated in [start, end]. Income excludes
// reimbursement-flagged entries; expense is gross of reimbursements.
func (q *Queries) LedgerTotals(ctx context.Context, userID int64, start, end core.Date) (income, expenseGross int64, err error) {
	err = q.db.QueryRowContext(ctx, ledgerTotals, userID, start.String(), end.String()).Scan(&income, &expenseGross)
	return income, expenseGross, mapErr(err, "ledger totals")
}

const reimbursedInRange = `-- name: ReimbursedInRange :one
SELECT COALESCE(SUM(a.amount_cents), 0)
FROM reimbursement_allocations a
JOIN transactions t ON t.id = a.expense_transaction_id
JOIN transactions r ON r.id = a.reimbursement_transaction_id
WHERE a.user_id = ? AND t.deleted_at IS NULL AND t.type = 'expense' AND t.date BETWEEN ? AND ?
  AND ` + liveReimbursement

// ReimbursedInRange sums live allocations against expenses dated in
// [start, end], regardless of when the reimbursement itself was dated.
func (q *Queries) ReimbursedInRange(ctx context.Context, userID int64, start, end core.Date) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, reimbursedInRange, userID, start.String(), end.String()).Scan(&n)
	return n, mapErr(err, "reimbursed in range")
}

// CategoryTotal is one category's gross total and the live reimbursements
// allocated against it.
type CategoryTotal struct {
	CategoryID int64
	Name       string
	Gross      int64
	Reimbursed int64
}

// Net is the gross total less reimbursements, floored at zero.
func (c CategoryTotal) Net() int64 {
	return max(c.Gross-c.Reimbursed, 0)
}

// CategoryTotals aggregates live entries matching f by category. Flagged
// income is left out. With excludeHidden, entries carrying a tag hidden from
// budgets are skipped on both sides.
func (q *Queries) CategoryTotals(ctx context.Context, f TransactionFilter, excludeHidden bool) ([]CategoryTotal, error) {
	f.IncludeDeleted = false
	where, args := f.where()
	if excludeHidden {
		where += " AND " + notHiddenFromBudget
	}

	grossQuery := `SELECT t.category_id, c.name, SUM(t.amount_cents)
FROM transactions t JOIN categories c ON c.id = t.category_id
WHERE ` + where + ` AND (t.type = 'expense' OR t.is_reimbursement = 0)
GROUP BY t.category_id, c.name
ORDER BY t.category_id`
	rows, err := q.db.QueryContext(ctx, grossQuery, args...)
	if err != nil {
		return nil, mapErr(err, "category totals")
	}
	var (
		items []CategoryTotal
		index = map[int64]int{}
	)
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.CategoryID, &ct.Name, &ct.Gross); err != nil {
			rows.Close()
			return nil, err
		}
		index[ct.CategoryID] = len(items)
		items = append(items, ct)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reimbursedQuery := `SELECT t.category_id, SUM(a.amount_cents)
FROM reimbursement_allocations a
JOIN transactions t ON t.id = a.expense_transaction_id
JOIN transactions r ON r.id = a.reimbursement_transaction_id
WHERE ` + where + ` AND t.type = 'expense' AND ` + liveReimbursement + `
GROUP BY t.category_id`
	rows, err = q.db.QueryContext(ctx, reimbursedQuery, args...)
	if err != nil {
		return nil, mapErr(err, "category reimbursed")
	}
	defer rows.Close()
	for rows.Next() {
		var id, amount int64
		if err := rows.Scan(&id, &amount); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			items[i].Reimbursed = amount
		}
	}
	return items, rows.Err()
}

// DailyTotal is one day's gross total and reimbursements against that day's
// expenses.
type DailyTotal struct {
	Date       core.Date
	Gross      int64
	Reimbursed int64
}

// DailyTotals aggregates live entries matching f by date, ascending.
func (q *Queries) DailyTotals(ctx context.Context, f TransactionFilter) ([]DailyTotal, error) {
	f.IncludeDeleted = false
	where, args := f.where()

	grossQuery := `SELECT t.date, SUM(t.amount_cents) FROM transactions t
WHERE ` + where + ` AND (t.type = 'expense' OR t.is_reimbursement = 0)
GROUP BY t.date ORDER BY t.date`
	rows, err := q.db.QueryContext(ctx, grossQuery, args...)
	if err != nil {
		return nil, mapErr(err, "daily totals")
	}
	var (
		items []DailyTotal
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			date  string
			gross int64
		)
		if err := rows.Scan(&date, &gross); err != nil {
			rows.Close()
			return nil, err
		}
		d, err := core.ParseDate(date)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[date] = len(items)
		items = append(items, DailyTotal{Date: d, Gross: gross})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reimbursedQuery := `SELECT t.date, SUM(a.amount_cents)
FROM reimbursement_allocations a
JOIN transactions t ON t.id = a.expense_transaction_id
JOIN transactions r ON r.id = a.reimbursement_transaction_id
WHERE ` + where + ` AND t.type = 'expense' AND ` + liveReimbursement + `
GROUP BY t.date`
	rows, err = q.db.QueryContext(ctx, reimbursedQuery, args...)
	if err != nil {
		return nil, mapErr(err, "daily reimbursed")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			date   string
			amount int64
		)
		if err := rows.Scan(&date, &amount); err != nil {
			return nil, err
		}
		if i, ok := index[date]; ok {
			items[i].Reimbursed = amount
		}
	}
	return items, rows.Err()
}

const balanceDelta = `-- name: BalanceDelta :one
SELECT COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE -amount_cents END), 0)
FROM transactions
WHERE user_id = ?1 AND deleted_at IS NULL
  AND (?2 IS NULL OR occurred_at > ?2)
  AND occurred_at <= ?3`

// BalanceDelta sums income minus expense of live entries with
// after < occurred_at <= upTo. A nil after means no lower bound.
// Reimbursement-flagged income counts as cash in.
func (q *Queries) BalanceDelta(ctx context.Context, userID int64, after *time.Time, upTo time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, balanceDelta, userID, nullNanos(after), nanos(upTo)).Scan(&n)
	return n, mapErr(err, "balance delta")
}

const distinctLedgerMonths = `-- name: DistinctLedgerMonths :many
SELECT DISTINCT CAST(substr(date, 1, 4) AS INTEGER), CAST(substr(date, 6, 2) AS INTEGER)
FROM transactions
WHERE user_id = ? AND deleted_at IS NULL
ORDER BY 1, 2`

// DistinctLedgerMonths lists every month holding at least one live entry.
func (q *Queries) DistinctLedgerMonths(ctx context.Context, userID int64) ([]core.YearMonth, error) {
	return q.scanMonths(ctx, distinctLedgerMonths, userID)
}

func (q *Queries) scanMonths(ctx context.Context, query string, args ...any) ([]core.YearMonth, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "list months")
	}
	defer rows.Close()
	var out []core.YearMonth
	for rows.Next() {
		var ym core.YearMonth
		if err := rows.Scan(&ym.Year, &ym.Month); err != nil {
			return nil, err
		}
		out = append(out, ym)
	}
	return out, rows.Err()
}


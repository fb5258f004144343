package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fintrack/internal/core"
)

const templateColumns = `id, user_id, frequency, category_id, amount_cents, starts_on, ends_on, created_at`

func scanTemplate(row scanner) (core.BudgetTemplate, error) {
	var (
		t         core.BudgetTemplate
		freq      string
		category  sql.NullInt64
		startsOn  string
		endsOn    sql.NullString
		createdAt int64
	)
	err := row.Scan(&t.ID, &t.UserID, &freq, &category, &t.Amount.Cents, &startsOn, &endsOn, &createdAt)
	if err != nil {
		return core.BudgetTemplate{}, err
	}
	if t.StartsOn, err = core.ParseDate(startsOn); err != nil {
		return core.BudgetTemplate{}, err
	}
	if t.EndsOn, err = datePtr(endsOn); err != nil {
		return core.BudgetTemplate{}, err
	}
	t.Frequency = core.BudgetFrequency(freq)
	t.CategoryID = intPtr(category)
	t.CreatedAt = fromNanos(createdAt)
	return t, nil
}

const insertBudgetTemplate = `-- name: InsertBudgetTemplate :one
INSERT INTO budget_templates (user_id, frequency, category_id, amount_cents, starts_on, ends_on, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING ` + templateColumns

func (q *Queries) InsertBudgetTemplate(ctx context.Context, t core.BudgetTemplate) (core.BudgetTemplate, error) {
	out, err := scanTemplate(q.db.QueryRowContext(ctx, insertBudgetTemplate,
		t.UserID, string(t.Frequency), nullInt(t.CategoryID), t.Amount.Cents,
		t.StartsOn.String(), nullDate(t.EndsOn), nanos(time.Now())))
	return out, mapErr(err, "budget template")
}

const updateBudgetTemplate = `-- name: UpdateBudgetTemplate :exec
UPDATE budget_templates
SET frequency = ?, category_id = ?, amount_cents = ?, starts_on = ?, ends_on = ?
WHERE user_id = ? AND id = ?`

func (q *Queries) UpdateBudgetTemplate(ctx context.Context, t core.BudgetTemplate) error {
	res, err := q.db.ExecContext(ctx, updateBudgetTemplate,
		string(t.Frequency), nullInt(t.CategoryID), t.Amount.Cents, t.StartsOn.String(), nullDate(t.EndsOn),
		t.UserID, t.ID)
	if err != nil {
		return mapErr(err, "budget template")
	}
	return expectAffected(res, "budget template")
}

const listBudgetTemplates = `-- name: ListBudgetTemplates :many
SELECT ` + templateColumns + ` FROM budget_templates WHERE user_id = ? ORDER BY starts_on DESC, id DESC`

// ListBudgetTemplates returns templates with the most recent start first.
func (q *Queries) ListBudgetTemplates(ctx context.Context, userID int64) ([]core.BudgetTemplate, error) {
	rows, err := q.db.QueryContext(ctx, listBudgetTemplates, userID)
	if err != nil {
		return nil, mapErr(err, "list budget templates")
	}
	defer rows.Close()
	var items []core.BudgetTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const deleteBudgetTemplate = `-- name: DeleteBudgetTemplate :exec
DELETE FROM budget_templates WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteBudgetTemplate(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, deleteBudgetTemplate, userID, id)
	if err != nil {
		return mapErr(err, "budget template")
	}
	return expectAffected(res, "budget template")
}

const overrideColumns = `id, user_id, year, month, category_id, amount_cents`

func scanOverride(row scanner) (core.BudgetOverride, error) {
	var (
		o        core.BudgetOverride
		category sql.NullInt64
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.Year, &o.Month, &category, &o.Amount.Cents); err != nil {
		return core.BudgetOverride{}, err
	}
	o.CategoryID = intPtr(category)
	return o, nil
}

const findBudgetOverride = `-- name: FindBudgetOverride :one
SELECT ` + overrideColumns + ` FROM budget_overrides
WHERE user_id = ? AND year = ? AND month = ? AND COALESCE(category_id, 0) = ?`

const insertBudgetOverride = `-- name: InsertBudgetOverride :one
INSERT INTO budget_overrides (user_id, year, month, category_id, amount_cents, created_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING ` + overrideColumns

const updateBudgetOverride = `-- name: UpdateBudgetOverride :exec
UPDATE budget_overrides SET amount_cents = ? WHERE user_id = ? AND id = ?`

// UpsertBudgetOverride writes the override for its (year, month, scope),
// replacing any existing amount.
func (q *Queries) UpsertBudgetOverride(ctx context.Context, o core.BudgetOverride) (core.BudgetOverride, error) {
	existing, err := scanOverride(q.db.QueryRowContext(ctx, findBudgetOverride,
		o.UserID, o.Year, o.Month, core.ScopeKey(o.CategoryID)))
	switch {
	case err == nil:
		if _, err := q.db.ExecContext(ctx, updateBudgetOverride, o.Amount.Cents, o.UserID, existing.ID); err != nil {
			return core.BudgetOverride{}, mapErr(err, "budget override")
		}
		existing.Amount = o.Amount
		return existing, nil
	case errors.Is(err, sql.ErrNoRows):
		out, err := scanOverride(q.db.QueryRowContext(ctx, insertBudgetOverride,
			o.UserID, o.Year, o.Month, nullInt(o.CategoryID), o.Amount.Cents, nanos(time.Now())))
		return out, mapErr(err, "budget override")
	default:
		return core.BudgetOverride{}, mapErr(err, "budget override")
	}
}

const listBudgetOverrides = `-- name: ListBudgetOverrides :many
SELECT ` + overrideColumns + ` FROM budget_overrides WHERE user_id = ? AND year = ? AND month = ? ORDER BY id`

func (q *Queries) ListBudgetOverrides(ctx context.Context, userID int64, ym core.YearMonth) ([]core.BudgetOverride, error) {
	rows, err := q.db.QueryContext(ctx, listBudgetOverrides, userID, ym.Year, ym.Month)
	if err != nil {
		return nil, mapErr(err, "list budget overrides")
	}
	defer rows.Close()
	var items []core.BudgetOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

const deleteBudgetOverride = `-- name: DeleteBudgetOverride :exec
DELETE FROM budget_overrides WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteBudgetOverride(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, deleteBudgetOverride, userID, id)
	if err != nil {
		return mapErr(err, "budget override")
	}
	return expectAffected(res, "budget override")
}

package storage

import (
	"context"
	"database/sql"
	"time"

	"fintrack/internal/core"
)

const ruleColumns = `id, user_id, name, type, currency, amount_cents, category_id, anchor_date,
    interval_unit, interval_count, next_occurrence, end_date, auto_post, skip_weekends, month_day_policy`

func scanRule(row scanner) (core.RecurringRule, error) {
	var (
		r                    core.RecurringRule
		typ, currency, unit  string
		anchor, next, policy string
		end                  sql.NullString
	)
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &typ, &currency, &r.Amount.Cents, &r.CategoryID, &anchor,
		&unit, &r.IntervalCount, &next, &end, &r.AutoPost, &r.SkipWeekends, &policy)
	if err != nil {
		return core.RecurringRule{}, err
	}
	if r.AnchorDate, err = core.ParseDate(anchor); err != nil {
		return core.RecurringRule{}, err
	}
	if r.NextOccurrence, err = core.ParseDate(next); err != nil {
		return core.RecurringRule{}, err
	}
	if r.EndDate, err = datePtr(end); err != nil {
		return core.RecurringRule{}, err
	}
	r.Type = core.TransactionType(typ)
	r.Currency = core.Currency(currency)
	r.IntervalUnit = core.IntervalUnit(unit)
	r.MonthDayPolicy = core.MonthDayPolicy(policy)
	return r, nil
}

const insertRule = `-- name: InsertRule :one
INSERT INTO recurring_rules (
    user_id, name, type, currency, amount_cents, category_id, anchor_date, interval_unit,
    interval_count, next_occurrence, end_date, auto_post, skip_weekends, month_day_policy,
    created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

func (q *Queries) InsertRule(ctx context.Context, r core.RecurringRule) (int64, error) {
	now := nanos(time.Now())
	var id int64
	err := q.db.QueryRowContext(ctx, insertRule,
		r.UserID, r.Name, string(r.Type), string(r.Currency), r.Amount.Cents, r.CategoryID,
		r.AnchorDate.String(), string(r.IntervalUnit), r.IntervalCount, r.NextOccurrence.String(),
		nullDate(r.EndDate), boolInt(r.AutoPost), boolInt(r.SkipWeekends), string(r.MonthDayPolicy),
		now, now,
	).Scan(&id)
	return id, mapErr(err, "recurring rule")
}

const getRule = `-- name: GetRule :one
SELECT ` + ruleColumns + ` FROM recurring_rules WHERE user_id = ? AND id = ?`

func (q *Queries) GetRule(ctx context.Context, userID, id int64) (core.RecurringRule, error) {
	r, err := scanRule(q.db.QueryRowContext(ctx, getRule, userID, id))
	return r, mapErr(err, "recurring rule")
}

const updateRule = `-- name: UpdateRule :exec
UPDATE recurring_rules
SET name = ?, type = ?, currency = ?, amount_cents = ?, category_id = ?, anchor_date = ?,
    interval_unit = ?, interval_count = ?, next_occurrence = ?, end_date = ?, auto_post = ?,
    skip_weekends = ?, month_day_policy = ?, updated_at = ?
WHERE user_id = ? AND id = ?`

func (q *Queries) UpdateRule(ctx context.Context, r core.RecurringRule) error {
	res, err := q.db.ExecContext(ctx, updateRule,
		r.Name, string(r.Type), string(r.Currency), r.Amount.Cents, r.CategoryID, r.AnchorDate.String(),
		string(r.IntervalUnit), r.IntervalCount, r.NextOccurrence.String(), nullDate(r.EndDate),
		boolInt(r.AutoPost), boolInt(r.SkipWeekends), string(r.MonthDayPolicy), nanos(time.Now()),
		r.UserID, r.ID)
	if err != nil {
		return mapErr(err, "recurring rule")
	}
	return expectAffected(res, "recurring rule")
}

const setRuleCursor = `-- name: SetRuleCursor :exec
UPDATE recurring_rules SET next_occurrence = ?, updated_at = ? WHERE user_id = ? AND id = ?`

func (q *Queries) SetRuleCursor(ctx context.Context, userID, id int64, next core.Date) error {
	res, err := q.db.ExecContext(ctx, setRuleCursor, next.String(), nanos(time.Now()), userID, id)
	if err != nil {
		return mapErr(err, "recurring rule")
	}
	return expectAffected(res, "recurring rule")
}

const advanceRuleCursor = `-- name: AdvanceRuleCursor :execrows
UPDATE recurring_rules SET next_occurrence = ?, updated_at = ?
WHERE user_id = ? AND id = ? AND next_occurrence = ?`

// AdvanceRuleCursor moves the cursor from to next only if it still reads
// from. It reports false when another writer moved it first.
func (q *Queries) AdvanceRuleCursor(ctx context.Context, userID, id int64, from, next core.Date) (bool, error) {
	res, err := q.db.ExecContext(ctx, advanceRuleCursor, next.String(), nanos(time.Now()), userID, id, from.String())
	if err != nil {
		return false, mapErr(err, "recurring rule")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const setRuleAutoPost = `-- name: SetRuleAutoPost :exec
UPDATE recurring_rules SET auto_post = ?, updated_at = ? WHERE user_id = ? AND id = ?`

func (q *Queries) SetRuleAutoPost(ctx context.Context, userID, id int64, on bool) error {
	res, err := q.db.ExecContext(ctx, setRuleAutoPost, boolInt(on), nanos(time.Now()), userID, id)
	if err != nil {
		return mapErr(err, "recurring rule")
	}
	return expectAffected(res, "recurring rule")
}

const deleteRule = `-- name: DeleteRule :exec
DELETE FROM recurring_rules WHERE user_id = ? AND id = ?`

// DeleteRule removes the rule. Posted entries keep their rows; the schema
// clears their origin_rule_id.
func (q *Queries) DeleteRule(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, deleteRule, userID, id)
	if err != nil {
		return mapErr(err, "recurring rule")
	}
	return expectAffected(res, "recurring rule")
}

const listRules = `-- name: ListRules :many
SELECT ` + ruleColumns + ` FROM recurring_rules WHERE user_id = ? ORDER BY next_occurrence, id`

func (q *Queries) ListRules(ctx context.Context, userID int64) ([]core.RecurringRule, error) {
	return q.queryRules(ctx, listRules, userID)
}

const listDueRules = `-- name: ListDueRules :many
SELECT ` + ruleColumns + ` FROM recurring_rules
WHERE user_id = ? AND auto_post = 1 AND next_occurrence <= ?
ORDER BY next_occurrence, id`

// ListDueRules returns auto-posting rules whose cursor is on or before today.
func (q *Queries) ListDueRules(ctx context.Context, userID int64, today core.Date) ([]core.RecurringRule, error) {
	return q.queryRules(ctx, listDueRules, userID, today.String())
}

func (q *Queries) queryRules(ctx context.Context, query string, args ...any) ([]core.RecurringRule, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "list recurring rules")
	}
	defer rows.Close()
	var items []core.RecurringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
)

const transactionColumns = `id, user_id, date, occurred_at, type, amount_cents, category_id, note,
    is_reimbursement, deleted_at, origin_rule_id, occurrence_date,
    source_currency, source_amount_cents, fx_rate_micros, fx_rate_date, fx_provider, fx_fetched_at,
    created_at, updated_at`

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t                                 core.Transaction
		date, typ                         string
		occurredAt, createdAt, updatedAt  int64
		deletedAt, originRule             sql.NullInt64
		occurrence, srcCurrency, rateDate sql.NullString
		srcAmount, rateMicros, fetchedAt  sql.NullInt64
		provider                          sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &date, &occurredAt, &typ, &t.Amount.Cents, &t.CategoryID, &t.Note,
		&t.IsReimbursement, &deletedAt, &originRule, &occurrence,
		&srcCurrency, &srcAmount, &rateMicros, &rateDate, &provider, &fetchedAt,
		&createdAt, &updatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, err
	}
	if t.OccurrenceDate, err = datePtr(occurrence); err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)
	t.OccurredAt = fromNanos(occurredAt)
	t.DeletedAt = timePtr(deletedAt)
	t.OriginRuleID = intPtr(originRule)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	if srcCurrency.Valid {
		fx := &core.FXDetails{
			SourceCurrency: core.Currency(srcCurrency.String),
			SourceAmount:   core.Money{Cents: srcAmount.Int64},
			RateMicros:     rateMicros.Int64,
			Provider:       provider.String,
		}
		if d, err := datePtr(rateDate); err != nil {
			return core.Transaction{}, err
		} else if d != nil {
			fx.RateDate = *d
		}
		if fetchedAt.Valid {
			fx.FetchedAt = fromNanos(fetchedAt.Int64)
		}
		t.FX = fx
	}
	return t, nil
}

const insertTransaction = `-- name: InsertTransaction :one
INSERT INTO transactions (
    user_id, date, occurred_at, type, amount_cents, category_id, note, is_reimbursement,
    origin_rule_id, occurrence_date,
    source_currency, source_amount_cents, fx_rate_micros, fx_rate_date, fx_provider, fx_fetched_at,
    created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

// InsertTransaction stores a new ledger entry and returns its id. Tags are
// written separately with SetTransactionTags.
func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	var (
		srcCurrency, rateDate, provider sql.NullString
		srcAmount, rateMicros, fetched  sql.NullInt64
	)
	if t.FX != nil {
		srcCurrency = sql.NullString{String: string(t.FX.SourceCurrency), Valid: true}
		srcAmount = sql.NullInt64{Int64: t.FX.SourceAmount.Cents, Valid: true}
		rateMicros = sql.NullInt64{Int64: t.FX.RateMicros, Valid: true}
		rateDate = nullDate(&t.FX.RateDate)
		provider = sql.NullString{String: t.FX.Provider, Valid: t.FX.Provider != ""}
		fetched = nullNanos(&t.FX.FetchedAt)
	}
	now := nanos(time.Now())
	var id int64
	err := q.db.QueryRowContext(ctx, insertTransaction,
		t.UserID, t.Date.String(), nanos(t.OccurredAt), string(t.Type), t.Amount.Cents, t.CategoryID,
		t.Note, boolInt(t.IsReimbursement),
		nullInt(t.OriginRuleID), nullDate(t.OccurrenceDate),
		srcCurrency, srcAmount, rateMicros, rateDate, provider, fetched,
		now, now,
	).Scan(&id)
	return id, mapErr(err, "transaction")
}

const getTransaction = `-- name: GetTransaction :one
SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ? AND id = ?`

// GetTransaction loads an entry, deleted or not, with its tags.
func (q *Queries) GetTransaction(ctx context.Context, userID, id int64) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, getTransaction, userID, id))
	if err != nil {
		return core.Transaction{}, mapErr(err, "transaction")
	}
	tags, err := q.TagNamesForTransactions(ctx, []int64{t.ID})
	if err != nil {
		return core.Transaction{}, err
	}
	t.Tags = tags[t.ID]
	return t, nil
}

const updateTransaction = `-- name: UpdateTransaction :exec
UPDATE transactions
SET date = ?, occurred_at = ?, type = ?, amount_cents = ?, category_id = ?, note = ?,
    is_reimbursement = ?, updated_at = ?
WHERE user_id = ? AND id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.db.ExecContext(ctx, updateTransaction,
		t.Date.String(), nanos(t.OccurredAt), string(t.Type), t.Amount.Cents, t.CategoryID, t.Note,
		boolInt(t.IsReimbursement), nanos(time.Now()), t.UserID, t.ID)
	if err != nil {
		return mapErr(err, "transaction")
	}
	return expectAffected(res, "transaction")
}

const setTransactionDeleted = `-- name: SetTransactionDeleted :exec
UPDATE transactions SET deleted_at = ?, updated_at = ? WHERE user_id = ? AND id = ?`

// SetTransactionDeleted soft-deletes the entry, or restores it when at is nil.
func (q *Queries) SetTransactionDeleted(ctx context.Context, userID, id int64, at *time.Time) error {
	res, err := q.db.ExecContext(ctx, setTransactionDeleted, nullNanos(at), nanos(time.Now()), userID, id)
	if err != nil {
		return mapErr(err, "transaction")
	}
	return expectAffected(res, "transaction")
}

const occurrenceExists = `-- name: OccurrenceExists :one
SELECT EXISTS (
    SELECT 1 FROM transactions WHERE user_id = ? AND origin_rule_id = ? AND occurrence_date = ?
)`

// OccurrenceExists reports whether an entry, deleted or not, was already
// posted for the rule on that date.
func (q *Queries) OccurrenceExists(ctx context.Context, userID, ruleID int64, date core.Date) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, occurrenceExists, userID, ruleID, date.String()).Scan(&ok)
	return ok, mapErr(err, "occurrence exists")
}

// TransactionFilter narrows ListTransactions. Zero values mean no constraint.
type TransactionFilter struct {
	UserID         int64
	Period         *core.Period
	Type           core.TransactionType
	CategoryID     *int64
	Tags           []string
	// Query matches a case-insensitive substring of the note.
	Query          string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// where renders the filter as a WHERE clause over alias t.
func (f TransactionFilter) where() (string, []any) {
	clauses := []string{"t.user_id = ?"}
	args := []any{f.UserID}
	if f.Period != nil {
		clauses = append(clauses, "t.date BETWEEN ? AND ?")
		args = append(args, f.Period.Start.String(), f.Period.End.String())
	}
	if f.Type != "" {
		clauses = append(clauses, "t.type = ?")
		args = append(args, string(f.Type))
	}
	if f.CategoryID != nil {
		clauses = append(clauses, "t.category_id = ?")
		args = append(args, *f.CategoryID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		clauses = append(clauses, "lower(COALESCE(t.note, '')) LIKE ?")
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "t.deleted_at IS NULL")
	}
	if len(f.Tags) > 0 {
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
    SELECT 1 FROM transaction_tags tt JOIN tags g ON g.id = tt.tag_id
    WHERE tt.transaction_id = t.id AND lower(g.name) IN (%s))`, placeholders(len(f.Tags))))
		for _, name := range f.Tags {
			args = append(args, strings.ToLower(name))
		}
	}
	return strings.Join(clauses, " AND "), args
}

// ListTransactions returns matching entries newest first, with tags.
func (q *Queries) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	where, args := f.where()
	query := "SELECT " + prefixColumns(transactionColumns, "t") + " FROM transactions t WHERE " + where +
		" ORDER BY t.date DESC, t.occurred_at DESC, t.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "list transactions")
	}
	defer rows.Close()

	var items []core.Transaction
	var ids []int64
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tags, err := q.TagNamesForTransactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Tags = tags[items[i].ID]
	}
	return items, nil
}

func prefixColumns(cols, alias string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

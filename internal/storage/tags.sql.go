package storage

import (
	"context"
	"time"

	"fintrack/internal/core"
)

const tagColumns = `id, user_id, name, color, hidden_from_budget`

func scanTag(row scanner) (core.Tag, error) {
	var t core.Tag
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.HiddenFromBudget)
	return t, err
}

const createTag = `-- name: CreateTag :one
INSERT INTO tags (user_id, name, color, hidden_from_budget, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING ` + tagColumns

func (q *Queries) CreateTag(ctx context.Context, t core.Tag) (core.Tag, error) {
	out, err := scanTag(q.db.QueryRowContext(ctx, createTag,
		t.UserID, t.Name, t.Color, boolInt(t.HiddenFromBudget), nanos(time.Now())))
	return out, mapErr(err, "tag")
}

const getTagByName = `-- name: GetTagByName :one
SELECT ` + tagColumns + ` FROM tags WHERE user_id = ? AND name = ? COLLATE NOCASE`

const ensureTag = `-- name: EnsureTag :exec
INSERT INTO tags (user_id, name, created_at) VALUES (?, ?, ?)
ON CONFLICT DO NOTHING`

// EnsureTags returns the tags with the given names, creating missing ones.
// Names must already be normalized.
func (q *Queries) EnsureTags(ctx context.Context, userID int64, names []string) ([]core.Tag, error) {
	out := make([]core.Tag, 0, len(names))
	now := nanos(time.Now())
	for _, name := range names {
		if _, err := q.db.ExecContext(ctx, ensureTag, userID, name, now); err != nil {
			return nil, mapErr(err, "tag")
		}
		t, err := scanTag(q.db.QueryRowContext(ctx, getTagByName, userID, name))
		if err != nil {
			return nil, mapErr(err, "tag")
		}
		out = append(out, t)
	}
	return out, nil
}

const listTags = `-- name: ListTags :many
SELECT ` + tagColumns + ` FROM tags WHERE user_id = ? ORDER BY name COLLATE NOCASE`

func (q *Queries) ListTags(ctx context.Context, userID int64) ([]core.Tag, error) {
	rows, err := q.db.QueryContext(ctx, listTags, userID)
	if err != nil {
		return nil, mapErr(err, "list tags")
	}
	defer rows.Close()
	var items []core.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const setTagHidden = `-- name: SetTagHidden :exec
UPDATE tags SET hidden_from_budget = ? WHERE user_id = ? AND id = ?`

func (q *Queries) SetTagHidden(ctx context.Context, userID, id int64, hidden bool) error {
	res, err := q.db.ExecContext(ctx, setTagHidden, boolInt(hidden), userID, id)
	if err != nil {
		return mapErr(err, "tag")
	}
	return expectAffected(res, "tag")
}

const deleteTag = `-- name: DeleteTag :exec
DELETE FROM tags WHERE user_id = ? AND id = ?`

// DeleteTag removes the tag; associations go with it via cascade.
func (q *Queries) DeleteTag(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, deleteTag, userID, id)
	if err != nil {
		return mapErr(err, "tag")
	}
	return expectAffected(res, "tag")
}

const clearTransactionTags = `-- name: ClearTransactionTags :exec
DELETE FROM transaction_tags WHERE transaction_id = ?`

const addTransactionTag = `-- name: AddTransactionTag :exec
INSERT OR IGNORE INTO transaction_tags (transaction_id, tag_id) VALUES (?, ?)`

// SetTransactionTags replaces the tag set of a transaction.
func (q *Queries) SetTransactionTags(ctx context.Context, transactionID int64, tagIDs []int64) error {
	if _, err := q.db.ExecContext(ctx, clearTransactionTags, transactionID); err != nil {
		return mapErr(err, "transaction tags")
	}
	for _, id := range tagIDs {
		if _, err := q.db.ExecContext(ctx, addTransactionTag, transactionID, id); err != nil {
			return mapErr(err, "transaction tags")
		}
	}
	return nil
}

const tagNamesForTransactions = `-- name: TagNamesForTransactions :many
SELECT tt.transaction_id, t.name
FROM transaction_tags tt
JOIN tags t ON t.id = tt.tag_id
WHERE tt.transaction_id IN (%s)
ORDER BY t.name COLLATE NOCASE`

// TagNamesForTransactions maps each transaction id to its tag names.
func (q *Queries) TagNamesForTransactions(ctx context.Context, ids []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.db.QueryContext(ctx, sprintfQuery(tagNamesForTransactions, placeholders(len(ids))), args...)
	if err != nil {
		return nil, mapErr(err, "transaction tags")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

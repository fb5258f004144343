package storage

import (
	"context"
	"database/sql"
	"time"

	"fintrack/internal/core"
)

const categoryColumns = `id, user_id, type, name, color, sort_order, archived_at`

func scanCategory(row scanner) (core.Category, error) {
	var (
		c        core.Category
		typ      string
		archived sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.UserID, &typ, &c.Name, &c.Color, &c.Order, &archived); err != nil {
		return core.Category{}, err
	}
	c.Type = core.TransactionType(typ)
	c.ArchivedAt = timePtr(archived)
	return c, nil
}

const createCategory = `-- name: CreateCategory :one
INSERT INTO categories (user_id, type, name, color, sort_order, created_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING ` + categoryColumns

func (q *Queries) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	row := q.db.QueryRowContext(ctx, createCategory,
		c.UserID, string(c.Type), c.Name, c.Color, c.Order, nanos(time.Now()))
	out, err := scanCategory(row)
	return out, mapErr(err, "category")
}

const getCategory = `-- name: GetCategory :one
SELECT ` + categoryColumns + ` FROM categories WHERE user_id = ? AND id = ?`

func (q *Queries) GetCategory(ctx context.Context, userID, id int64) (core.Category, error) {
	c, err := scanCategory(q.db.QueryRowContext(ctx, getCategory, userID, id))
	return c, mapErr(err, "category")
}

const listCategories = `-- name: ListCategories :many
SELECT ` + categoryColumns + ` FROM categories
WHERE user_id = ?1
  AND (?2 = '' OR type = ?2)
  AND (?3 OR archived_at IS NULL)
ORDER BY type, sort_order, name COLLATE NOCASE`

// ListCategories returns the user's categories. An empty typ lists both kinds.
func (q *Queries) ListCategories(ctx context.Context, userID int64, typ core.TransactionType, includeArchived bool) ([]core.Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories, userID, string(typ), includeArchived)
	if err != nil {
		return nil, mapErr(err, "list categories")
	}
	defer rows.Close()
	var items []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const renameCategory = `-- name: RenameCategory :exec
UPDATE categories SET name = ?, color = ?, sort_order = ? WHERE user_id = ? AND id = ?`

func (q *Queries) UpdateCategory(ctx context.Context, c core.Category) error {
	res, err := q.db.ExecContext(ctx, renameCategory, c.Name, c.Color, c.Order, c.UserID, c.ID)
	if err != nil {
		return mapErr(err, "category")
	}
	return expectAffected(res, "category")
}

const archiveCategory = `-- name: ArchiveCategory :exec
UPDATE categories SET archived_at = ? WHERE user_id = ? AND id = ?`

// ArchiveCategory sets or clears archived_at.
func (q *Queries) ArchiveCategory(ctx context.Context, userID, id int64, at *time.Time) error {
	res, err := q.db.ExecContext(ctx, archiveCategory, nullNanos(at), userID, id)
	if err != nil {
		return mapErr(err, "category")
	}
	return expectAffected(res, "category")
}

const deleteCategory = `-- name: DeleteCategory :exec
DELETE FROM categories WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteCategory(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, deleteCategory, userID, id)
	if err != nil {
		return mapErr(err, "category")
	}
	return expectAffected(res, "category")
}

const countCategoryReferences = `-- name: CountCategoryReferences :one
SELECT
    (SELECT COUNT(*) FROM transactions WHERE user_id = ?1 AND category_id = ?2) +
    (SELECT COUNT(*) FROM recurring_rules WHERE user_id = ?1 AND category_id = ?2)`

// CountCategoryReferences counts ledger entries, including soft-deleted
// ones, and rules pointing at the category.
func (q *Queries) CountCategoryReferences(ctx context.Context, userID, id int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countCategoryReferences, userID, id).Scan(&n)
	return n, mapErr(err, "count category references")
}

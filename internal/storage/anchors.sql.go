package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fintrack/internal/core"
)

const anchorColumns = `id, user_id, as_of_at, balance_cents, note, created_at`

func scanAnchor(row scanner) (core.BalanceAnchor, error) {
	var (
		a             core.BalanceAnchor
		asOf, created int64
	)
	if err := row.Scan(&a.ID, &a.UserID, &asOf, &a.Balance.Cents, &a.Note, &created); err != nil {
		return core.BalanceAnchor{}, err
	}
	a.AsOf = fromNanos(asOf)
	a.CreatedAt = fromNanos(created)
	return a, nil
}

const insertAnchor = `-- name: InsertAnchor :one
INSERT INTO balance_anchors (user_id, as_of_at, balance_cents, note, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING ` + anchorColumns

func (q *Queries) InsertAnchor(ctx context.Context, a core.BalanceAnchor) (core.BalanceAnchor, error) {
	out, err := scanAnchor(q.db.QueryRowContext(ctx, insertAnchor,
		a.UserID, nanos(a.AsOf), a.Balance.Cents, a.Note, nanos(time.Now())))
	return out, mapErr(err, "balance anchor")
}

const latestAnchorAtOrBefore = `-- name: LatestAnchorAtOrBefore :one
SELECT ` + anchorColumns + ` FROM balance_anchors
WHERE user_id = ? AND as_of_at <= ?
ORDER BY as_of_at DESC, id DESC
LIMIT 1`

// LatestAnchorAtOrBefore returns the checkpoint governing ts. Among anchors
// sharing an instant the highest id wins.
func (q *Queries) LatestAnchorAtOrBefore(ctx context.Context, userID int64, ts time.Time) (core.BalanceAnchor, bool, error) {
	a, err := scanAnchor(q.db.QueryRowContext(ctx, latestAnchorAtOrBefore, userID, nanos(ts)))
	if errors.Is(err, sql.ErrNoRows) {
		return core.BalanceAnchor{}, false, nil
	}
	if err != nil {
		return core.BalanceAnchor{}, false, mapErr(err, "balance anchor")
	}
	return a, true, nil
}

const listAnchors = `-- name: ListAnchors :many
SELECT ` + anchorColumns + ` FROM balance_anchors WHERE user_id = ? ORDER BY as_of_at DESC, id DESC`

func (q *Queries) ListAnchors(ctx context.Context, userID int64) ([]core.BalanceAnchor, error) {
	rows, err := q.db.QueryContext(ctx, listAnchors, userID)
	if err != nil {
		return nil, mapErr(err, "list balance anchors")
	}
	defer rows.Close()
	var items []core.BalanceAnchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const deleteAnchor = `-- name: DeleteAnchor :exec
DELETE FROM balance_anchors WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteAnchor(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, deleteAnchor, userID, id)
	if err != nil {
		return mapErr(err, "balance anchor")
	}
	return expectAffected(res, "balance anchor")
}

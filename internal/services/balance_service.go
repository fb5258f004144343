package services

import (
	"context"
	"log/slog"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// BalanceService reconstructs the account balance at an instant from the
// nearest balance anchor plus ledger movements after it.
type BalanceService struct {
	storage *storage.SQLiteRepository
}

func NewBalanceService(storage *storage.SQLiteRepository) *BalanceService {
	return &BalanceService{storage: storage}
}

// BalanceAsOf returns the balance at ts. The latest anchor at or before ts
// (highest id on a tie) supplies the baseline; without one the baseline is
// zero and every earlier entry counts.
func (s *BalanceService) BalanceAsOf(ctx context.Context, userID int64, ts time.Time) (int64, error) {
	q := s.storage.Queries()

	var (
		baseline int64
		after    *time.Time
	)
	anchor, ok, err := q.LatestAnchorAtOrBefore(ctx, userID, ts)
	if err != nil {
		return 0, err
	}
	if ok {
		baseline = anchor.Balance.Cents
		after = &anchor.AsOf
	}

	delta, err := q.BalanceDelta(ctx, userID, after, ts)
	if err != nil {
		return 0, err
	}
	return baseline + delta, nil
}

// CreateAnchor records a balance checkpoint. AsOf defaults to now.
func (s *BalanceService) CreateAnchor(ctx context.Context, userID int64, in core.AnchorInput) (core.BalanceAnchor, error) {
	if err := core.Validate(in); err != nil {
		return core.BalanceAnchor{}, err
	}
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	a, err := s.storage.Queries().InsertAnchor(ctx, core.BalanceAnchor{
		UserID:  userID,
		AsOf:    asOf.UTC(),
		Balance: core.Money{Cents: in.BalanceCents},
		Note:    in.Note,
	})
	if err != nil {
		return core.BalanceAnchor{}, err
	}
	slog.InfoContext(ctx, "Balance anchor recorded",
		log.FieldUserID, userID,
		log.FieldAnchorID, a.ID,
		log.FieldAmountCents, a.Balance.Cents,
		"as_of", a.AsOf.Format(time.RFC3339))
	return a, nil
}

// ListAnchors returns the user's anchors, newest first.
func (s *BalanceService) ListAnchors(ctx context.Context, userID int64) ([]core.BalanceAnchor, error) {
	return s.storage.Queries().ListAnchors(ctx, userID)
}

func (s *BalanceService) DeleteAnchor(ctx context.Context, userID, id int64) error {
	if err := s.storage.Queries().DeleteAnchor(ctx, userID, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Balance anchor deleted", log.FieldUserID, userID, log.FieldAnchorID, id)
	return nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// RollupService keeps monthly_rollups equal to a recomputation from the
// ledger and its reimbursement allocations.
type RollupService struct {
	storage     *storage.SQLiteRepository
	locks       *keyedMutex
	concurrency int
}

func NewRollupService(storage *storage.SQLiteRepository, concurrency int) *RollupService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &RollupService{
		storage:     storage,
		locks:       newKeyedMutex(),
		concurrency: concurrency,
	}
}

func rollupKey(userID int64, ym core.YearMonth) string {
	return fmt.Sprintf("%d:%s", userID, ym)
}

// scanRange totals live entries dated in [start, end], which must lie in one
// calendar month. Expense is net of live allocations and floored at zero.
func scanRange(ctx context.Context, q *storage.Queries, userID int64, start, end core.Date) (core.Totals, error) {
	income, gross, err := q.LedgerTotals(ctx, userID, start, end)
	if err != nil {
		return core.Totals{}, err
	}
	reimbursed, err := q.ReimbursedInRange(ctx, userID, start, end)
	if err != nil {
		return core.Totals{}, err
	}
	return core.Totals{
		Income:  core.Money{Cents: income},
		Expense: core.Money{Cents: max(gross-reimbursed, 0)},
	}, nil
}

func computeRollup(ctx context.Context, q *storage.Queries, userID int64, ym core.YearMonth) (core.MonthlyRollup, error) {
	t, err := scanRange(ctx, q, userID, ym.First(), ym.Last())
	if err != nil {
		return core.MonthlyRollup{}, fmt.Errorf("compute rollup %s: %w", ym, err)
	}
	return core.MonthlyRollup{UserID: userID, Year: ym.Year, Month: ym.Month, Income: t.Income, Expense: t.Expense}, nil
}

// Recompute rebuilds one month's rollup from the ledger. A month with no
// income and no net expense has its row removed. Calls for the same month
// are serialized in process and run inside an IMMEDIATE transaction so
// other writers are excluded too.
func (s *RollupService) Recompute(ctx context.Context, userID int64, year, month int) (core.MonthlyRollup, error) {
	ym := core.YearMonth{Year: year, Month: month}
	if err := ym.Validate(); err != nil {
		return core.MonthlyRollup{}, err
	}

	unlock := s.locks.Lock(rollupKey(userID, ym))
	defer unlock()

	var r core.MonthlyRollup
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		var err error
		r, err = computeRollup(ctx, q, userID, ym)
		if err != nil {
			return err
		}
		if r.IsZero() {
			return q.DeleteRollup(ctx, userID, ym)
		}
		return q.UpsertRollup(ctx, r)
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to recompute rollup",
			log.FieldUserID, userID,
			log.FieldMonth, ym.String(),
			log.FieldError, err)
		return core.MonthlyRollup{}, err
	}

	slog.DebugContext(ctx, "Recomputed rollup",
		log.FieldUserID, userID,
		log.FieldMonth, ym.String(),
		"income_cents", r.Income.Cents,
		"expense_cents", r.Expense.Cents)
	return r, nil
}

// RecomputeMonths recomputes each distinct month once, in order. It stops at
// the first failure.
func (s *RollupService) RecomputeMonths(ctx context.Context, userID int64, months ...core.YearMonth) error {
	for _, ym := range uniqueMonths(months) {
		if _, err := s.Recompute(ctx, userID, ym.Year, ym.Month); err != nil {
			return err
		}
	}
	return nil
}

// RebuildAll recomputes every month holding a live entry and drops rollups
// for all other months. It returns the number of months recomputed.
func (s *RollupService) RebuildAll(ctx context.Context, userID int64) (int, error) {
	start := time.Now()
	q := s.storage.Queries()

	months, err := q.DistinctLedgerMonths(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list ledger months: %w", err)
	}
	stored, err := q.ListRollupMonths(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list rollup months: %w", err)
	}

	live := make(map[core.YearMonth]struct{}, len(months))
	for _, ym := range months {
		live[ym] = struct{}{}
	}
	removed := 0
	for _, ym := range stored {
		if _, ok := live[ym]; ok {
			continue
		}
		unlock := s.locks.Lock(rollupKey(userID, ym))
		err := q.DeleteRollup(ctx, userID, ym)
		unlock()
		if err != nil {
			return 0, fmt.Errorf("delete stale rollup %s: %w", ym, err)
		}
		removed++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ym := range months {
		g.Go(func() error {
			_, err := s.Recompute(gctx, userID, ym.Year, ym.Month)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Rebuilt rollups",
		log.FieldUserID, userID,
		log.FieldCount, len(months),
		"removed", removed,
		log.FieldDuration, time.Since(start).Milliseconds())
	return len(months), nil
}

// Verify compares the stored rollup with a fresh computation without
// writing. A missing row is equivalent to a zero rollup.
func (s *RollupService) Verify(ctx context.Context, userID int64, year, month int) (bool, error) {
	ym := core.YearMonth{Year: year, Month: month}
	if err := ym.Validate(); err != nil {
		return false, err
	}
	q := s.storage.Queries()
	want, err := computeRollup(ctx, q, userID, ym)
	if err != nil {
		return false, err
	}
	got, _, err := q.GetRollup(ctx, userID, ym)
	if err != nil {
		return false, err
	}
	drift := got.Income != want.Income || got.Expense != want.Expense
	if drift {
		slog.WarnContext(ctx, "Rollup drift detected",
			log.FieldUserID, userID,
			log.FieldMonth, ym.String(),
			"stored_income", got.Income.Cents,
			"stored_expense", got.Expense.Cents,
			"income", want.Income.Cents,
			"expense", want.Expense.Cents)
	}
	return drift, nil
}

// ScanTotals computes period totals straight from the ledger, month by
// month, without consulting rollups.
func (s *RollupService) ScanTotals(ctx context.Context, userID int64, period core.Period) (core.Totals, error) {
	if err := period.Validate(); err != nil {
		return core.Totals{}, err
	}
	q := s.storage.Queries()
	var total core.Totals
	for _, seg := range monthSegments(period) {
		t, err := scanRange(ctx, q, userID, seg.Start, seg.End)
		if err != nil {
			return core.Totals{}, err
		}
		total = total.Add(t)
	}
	return total, nil
}

// monthSegments splits period at month boundaries.
func monthSegments(period core.Period) []core.Period {
	months := period.Months()
	out := make([]core.Period, 0, len(months))
	for _, ym := range months {
		seg := ym.Period()
		if seg.Start.Before(period.Start.Time) {
			seg.Start = period.Start
		}
		if seg.End.After(period.End.Time) {
			seg.End = period.End
		}
		out = append(out, seg)
	}
	return out
}

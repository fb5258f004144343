package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

const seenMessages = 4096

// RollupWorker reconciles monthly rollups with the ledger when months are
// announced as changed, and sweeps every month at startup to recover from
// missed messages.
type RollupWorker struct {
	storage *storage.SQLiteRepository
	rollups *services.RollupService
	seen    *cache.LRUCache[string, struct{}]
}

func NewRollupWorker(storage *storage.SQLiteRepository, rollups *services.RollupService) *RollupWorker {
	return &RollupWorker{
		storage: storage,
		rollups: rollups,
		seen:    cache.NewLRUCache[string, struct{}](seenMessages, time.Hour),
	}
}

// HandleMonthChanged verifies the announced month and recomputes it when the
// stored rollup drifted. Redelivered messages are acknowledged without work.
func (w *RollupWorker) HandleMonthChanged(ctx context.Context, msg *amqp.MonthChangedMessage) error {
	if msg.MessageID != "" {
		if _, dup := w.seen.Get(msg.MessageID); dup {
			slog.DebugContext(ctx, "Skipping duplicate month changed message", "message_id", msg.MessageID)
			return nil
		}
	}

	ym := msg.YearMonth()
	slog.InfoContext(ctx, "Processing month changed message",
		"message_id", msg.MessageID,
		log.FieldUserID, msg.UserID,
		log.FieldMonth, ym.String(),
		log.FieldReason, msg.Reason)

	if _, err := w.reconcile(ctx, msg.UserID, ym); err != nil {
		return err
	}
	if msg.MessageID != "" {
		w.seen.Set(msg.MessageID, struct{}{})
	}
	return nil
}

// reconcile reports whether ym had to be recomputed.
func (w *RollupWorker) reconcile(ctx context.Context, userID int64, ym core.YearMonth) (bool, error) {
	drift, err := w.rollups.Verify(ctx, userID, ym.Year, ym.Month)
	if err != nil {
		return false, fmt.Errorf("verify rollup %s: %w", ym, err)
	}
	if !drift {
		return false, nil
	}
	if _, err := w.rollups.Recompute(ctx, userID, ym.Year, ym.Month); err != nil {
		return false, fmt.Errorf("recompute rollup %s: %w", ym, err)
	}
	return true, nil
}

// StartupCheck verifies every month that has live entries or a stored
// rollup and repairs the ones that drifted.
func (w *RollupWorker) StartupCheck(ctx context.Context, userID int64) error {
	q := w.storage.Queries()
	ledger, err := q.DistinctLedgerMonths(ctx, userID)
	if err != nil {
		return fmt.Errorf("list ledger months for startup check: %w", err)
	}
	stored, err := q.ListRollupMonths(ctx, userID)
	if err != nil {
		return fmt.Errorf("list rollup months for startup check: %w", err)
	}

	months := make(map[core.YearMonth]struct{}, len(ledger)+len(stored))
	for _, ym := range append(ledger, stored...) {
		months[ym] = struct{}{}
	}
	if len(months) == 0 {
		slog.InfoContext(ctx, "No months to verify on startup", log.FieldUserID, userID)
		return nil
	}

	repaired, failed := 0, 0
	for ym := range months {
		fixed, err := w.reconcile(ctx, userID, ym)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to reconcile month during startup",
				log.FieldMonth, ym.String(),
				log.FieldError, err)
			failed++
			continue
		}
		if fixed {
			repaired++
		}
	}

	slog.InfoContext(ctx, "Startup rollup check completed",
		log.FieldUserID, userID,
		"total", len(months),
		"repaired", repaired,
		"errors", failed)
	return nil
}

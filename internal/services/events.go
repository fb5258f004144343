package services

import (
	"context"
	"log/slog"
	"sort"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

// Change reasons carried by month-changed events.
const (
	ReasonTransaction   = "transaction"
	ReasonAllocation    = "allocation"
	ReasonRecurringPost = "recurring_post"
)

// ChangePublisher announces that a month's aggregates changed. It is
// implemented by *amqp.Client.
type ChangePublisher interface {
	PublishMonthChanged(ctx context.Context, userID int64, ym core.YearMonth, reason string) error
}

// publishMonths notifies pub of every month once. Publishing is best effort:
// the ledger is already committed, so failures are only logged.
func publishMonths(ctx context.Context, pub ChangePublisher, userID int64, months []core.YearMonth, reason string) {
	if pub == nil {
		return
	}
	for _, ym := range uniqueMonths(months) {
		if err := pub.PublishMonthChanged(ctx, userID, ym, reason); err != nil {
			slog.WarnContext(ctx, "Failed to publish month change",
				log.FieldUserID, userID,
				log.FieldMonth, ym.String(),
				log.FieldReason, reason,
				log.FieldError, err)
		}
	}
}

// uniqueMonths dedupes and sorts months ascending.
func uniqueMonths(months []core.YearMonth) []core.YearMonth {
	seen := make(map[core.YearMonth]struct{}, len(months))
	out := make([]core.YearMonth, 0, len(months))
	for _, ym := range months {
		if _, ok := seen[ym]; ok {
			continue
		}
		seen[ym] = struct{}{}
		out = append(out, ym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

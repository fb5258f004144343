package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/fx"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// maxCatchUp bounds the occurrences one CatchUpRule call will walk.
const maxCatchUp = 365

var ErrCatchUpBound = &core.Error{Kind: core.KindValidation, Reason: "catch-up bound exhausted"}

// errCursorMoved means another catch-up advanced the rule first.
var errCursorMoved = errors.New("rule cursor moved by another writer")

// RecurringEngine posts due occurrences of auto-post rules into the ledger.
// Posting is idempotent per (rule, occurrence date).
type RecurringEngine struct {
	storage   *storage.SQLiteRepository
	rollups   *RollupService
	converter fx.Converter
	base      core.Currency
	publisher ChangePublisher
	loc       *time.Location
}

func NewRecurringEngine(storage *storage.SQLiteRepository, rollups *RollupService, converter fx.Converter, base core.Currency, publisher ChangePublisher, loc *time.Location) *RecurringEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &RecurringEngine{
		storage:   storage,
		rollups:   rollups,
		converter: converter,
		base:      base,
		publisher: publisher,
		loc:       loc,
	}
}

// Today is the current civil date in the engine's time zone.
func (e *RecurringEngine) Today() core.Date {
	return core.DateOf(time.Now(), e.loc)
}

// PostDueRules catches up every auto-post rule due on or before today, oldest
// cursor first. It returns how many rules had their cursor moved. A failing
// rule does not stop the others; all failures are returned joined.
func (e *RecurringEngine) PostDueRules(ctx context.Context, userID int64, today core.Date) (int, error) {
	rules, err := e.storage.Queries().ListDueRules(ctx, userID, today)
	if err != nil {
		return 0, fmt.Errorf("list due rules: %w", err)
	}

	slog.InfoContext(ctx, "Processing due recurring rules",
		log.FieldUserID, userID,
		"due", len(rules),
		"today", today.String())

	moved := 0
	posted := 0
	var errs []error
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, cursor, err := e.catchUp(ctx, rule, today)
		posted += n
		if !cursor.Equal(rule.NextOccurrence.Time) {
			moved++
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to catch up recurring rule",
				log.FieldUserID, userID,
				log.FieldRuleID, rule.ID,
				log.FieldErrorKind, core.KindOf(err).String(),
				log.FieldError, err)
			errs = append(errs, fmt.Errorf("rule %d: %w", rule.ID, err))
		}
	}

	slog.InfoContext(ctx, "Recurring rule processing complete",
		log.FieldUserID, userID,
		"rules_moved", moved,
		"posted", posted,
		"failed", len(errs))
	return moved, errors.Join(errs...)
}

// CatchUpRule posts every occurrence of rule from its cursor up to today (and
// its end date) and returns how many entries were inserted. Occurrences that
// already exist are skipped but still advance the cursor.
func (e *RecurringEngine) CatchUpRule(ctx context.Context, rule core.RecurringRule, today core.Date) (int, error) {
	n, _, err := e.catchUp(ctx, rule, today)
	return n, err
}

func (e *RecurringEngine) catchUp(ctx context.Context, rule core.RecurringRule, today core.Date) (int, core.Date, error) {
	cursor := rule.NextOccurrence
	posted := 0
	var months []core.YearMonth

	defer func() {
		if len(months) == 0 {
			return
		}
		if err := e.rollups.RecomputeMonths(ctx, rule.UserID, months...); err != nil {
			slog.ErrorContext(ctx, "Failed to recompute rollups after posting",
				log.FieldRuleID, rule.ID,
				log.FieldError, err)
		}
		publishMonths(ctx, e.publisher, rule.UserID, months, ReasonRecurringPost)
	}()

	for i := 0; ; i++ {
		if cursor.After(today.Time) || (rule.EndDate != nil && cursor.After(rule.EndDate.Time)) {
			return posted, cursor, nil
		}
		if i == maxCatchUp {
			return posted, cursor, ErrCatchUpBound
		}

		next, err := NextDate(rule, cursor)
		if err != nil {
			return posted, cursor, err
		}
		didPost, err := e.postOccurrence(ctx, rule, cursor, next)
		if errors.Is(err, errCursorMoved) {
			slog.DebugContext(ctx, "Rule cursor moved concurrently, stopping catch-up",
				log.FieldRuleID, rule.ID,
				log.FieldOccurrenceDate, cursor.String())
			return posted, cursor, nil
		}
		if err != nil {
			return posted, cursor, err
		}
		if didPost {
			posted++
			months = append(months, cursor.YearMonth())
		}
		if !didPost && !next.After(cursor.Time) {
			return posted, cursor, nil
		}
		cursor = next
	}
}

// postOccurrence inserts the entry for occurrence unless it exists and moves
// the rule cursor from occurrence to next, both in one transaction. If the
// cursor no longer reads occurrence nothing is written. Conversion happens first
// so a failing rate source leaves nothing behind.
func (e *RecurringEngine) postOccurrence(ctx context.Context, rule core.RecurringRule, occurrence, next core.Date) (bool, error) {
	q := e.storage.Queries()
	exists, err := q.OccurrenceExists(ctx, rule.UserID, rule.ID, occurrence)
	if err != nil {
		return false, err
	}

	var txn core.Transaction
	if !exists {
		txn, err = e.buildPosting(ctx, rule, occurrence)
		if err != nil {
			return false, err
		}
	}

	inserted := false
	err = e.storage.InTx(ctx, func(q *storage.Queries) error {
		if !exists {
			// Another writer may have posted since the check above.
			again, err := q.OccurrenceExists(ctx, rule.UserID, rule.ID, occurrence)
			if err != nil {
				return err
			}
			if !again {
				if txn.ID, err = q.InsertTransaction(ctx, txn); err != nil {
					return err
				}
				inserted = true
			}
		}
		advanced, err := q.AdvanceRuleCursor(ctx, rule.UserID, rule.ID, occurrence, next)
		if err != nil {
			return err
		}
		if !advanced {
			return errCursorMoved
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if inserted {
		slog.InfoContext(ctx, "Posted recurring occurrence",
			log.FieldUserID, rule.UserID,
			log.FieldRuleID, rule.ID,
			log.FieldTransactionID, txn.ID,
			log.FieldOccurrenceDate, occurrence.String(),
			log.FieldAmountCents, txn.Amount.Cents)
	}
	return inserted, nil
}

func (e *RecurringEngine) buildPosting(ctx context.Context, rule core.RecurringRule, occurrence core.Date) (core.Transaction, error) {
	ruleID := rule.ID
	occ := occurrence
	txn := core.Transaction{
		UserID:         rule.UserID,
		Date:           occurrence,
		OccurredAt:     occurrence.Noon(),
		Type:           rule.Type,
		Amount:         rule.Amount,
		CategoryID:     rule.CategoryID,
		Note:           rule.Name,
		OriginRuleID:   &ruleID,
		OccurrenceDate: &occ,
	}
	if rule.Currency == "" || rule.Currency == e.base {
		return txn, nil
	}
	if e.converter == nil {
		return core.Transaction{}, core.External("fx", fmt.Errorf("no converter for %s", rule.Currency))
	}

	amount, quote, err := e.converter.Convert(ctx, rule.Amount.Cents, rule.Currency, occurrence)
	if err != nil {
		slog.WarnContext(ctx, "FX conversion failed, occurrence not posted",
			log.FieldRuleID, rule.ID,
			log.FieldOccurrenceDate, occurrence.String(),
			log.FieldCurrency, string(rule.Currency),
			log.FieldError, err)
		if core.KindOf(err) != core.KindExternalService {
			err = core.External("fx", err)
		}
		return core.Transaction{}, err
	}
	txn.Amount = core.Money{Cents: amount}
	txn.FX = quote.Details(rule.Amount.Cents)
	return txn, nil
}

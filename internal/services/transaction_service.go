package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// TransactionService is the ledger mutator. Every write recomputes the
// rollups of the months it touched and announces them on the publisher.
type TransactionService struct {
	storage   *storage.SQLiteRepository
	rollups   *RollupService
	publisher ChangePublisher
}

func NewTransactionService(storage *storage.SQLiteRepository, rollups *RollupService, publisher ChangePublisher) *TransactionService {
	return &TransactionService{
		storage:   storage,
		rollups:   rollups,
		publisher: publisher,
	}
}

// TransactionUpdate lists the fields to change. Nil fields are kept.
type TransactionUpdate struct {
	Date            *core.Date
	OccurredAt      *time.Time
	Type            *core.TransactionType
	AmountCents     *int64
	CategoryID      *int64
	Note            *string
	IsReimbursement *bool
	Tags            *[]string
}

// ListFilter narrows List within a period.
type ListFilter struct {
	Type           core.TransactionType
	CategoryID     *int64
	Tags           []string
	Query          string
	IncludeDeleted bool
}

// checkCategory loads the category and confirms it can hold entries of typ.
func checkCategory(ctx context.Context, q *storage.Queries, userID, categoryID int64, typ core.TransactionType) error {
	cat, err := q.GetCategory(ctx, userID, categoryID)
	if err != nil {
		return err
	}
	if cat.Type != typ {
		return core.ErrTypeMismatch
	}
	if cat.ArchivedAt != nil {
		return core.Invalidf("category %q is archived", cat.Name)
	}
	return nil
}

func setTags(ctx context.Context, q *storage.Queries, userID, transactionID int64, names []string) error {
	tags, err := q.EnsureTags(ctx, userID, names)
	if err != nil {
		return err
	}
	ids := make([]int64, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return q.SetTransactionTags(ctx, transactionID, ids)
}

// Create validates and records a new ledger entry.
func (s *TransactionService) Create(ctx context.Context, userID int64, in core.TransactionInput) (core.Transaction, error) {
	if err := core.Validate(in); err != nil {
		return core.Transaction{}, err
	}
	t := in.Transaction(userID)
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		if err := checkCategory(ctx, q, userID, t.CategoryID, t.Type); err != nil {
			return err
		}
		id, err := q.InsertTransaction(ctx, t)
		if err != nil {
			return err
		}
		t.ID = id
		if len(t.Tags) > 0 {
			return setTags(ctx, q, userID, id, t.Tags)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction created",
		log.FieldUserID, userID,
		log.FieldTransactionID, t.ID,
		"type", string(t.Type),
		log.FieldAmountCents, t.Amount.Cents,
		"date", t.Date.String())

	if err := s.afterChange(ctx, userID, []core.Date{t.Date}); err != nil {
		return t, err
	}
	return s.Get(ctx, userID, t.ID)
}

// Update applies upd to a live entry. Category compatibility is checked
// before anything else, then the reimbursement amount guard.
func (s *TransactionService) Update(ctx context.Context, userID, id int64, upd TransactionUpdate) (core.Transaction, error) {
	var (
		next     core.Transaction
		affected []core.Date
	)
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		cur, err := q.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}
		if cur.IsDeleted() {
			return core.Invalid("cannot update a deleted transaction")
		}

		next = cur
		if upd.Type != nil {
			next.Type = *upd.Type
		}
		if upd.CategoryID != nil {
			next.CategoryID = *upd.CategoryID
		}
		if err := next.Type.Validate(); err != nil {
			return err
		}
		if next.Type != cur.Type || next.CategoryID != cur.CategoryID {
			if err := checkCategory(ctx, q, userID, next.CategoryID, next.Type); err != nil {
				return err
			}
		}
		if next.Type != cur.Type {
			allocs, err := q.ListAllocationsFor(ctx, userID, id)
			if err != nil {
				return err
			}
			if len(allocs) > 0 {
				return core.Invalid("cannot change the type of a transaction with reimbursement allocations")
			}
		}

		if upd.AmountCents != nil {
			if *upd.AmountCents < 0 {
				return core.ErrInvalidAmount
			}
			if err := checkAmountChange(ctx, q, cur, *upd.AmountCents); err != nil {
				return err
			}
			next.Amount = core.Money{Cents: *upd.AmountCents}
		}
		if upd.Date != nil {
			next.Date = *upd.Date
			if upd.OccurredAt == nil {
				next.OccurredAt = moveToDate(cur.OccurredAt, next.Date)
			}
		}
		if upd.OccurredAt != nil {
			next.OccurredAt = upd.OccurredAt.UTC()
		}
		if upd.Note != nil {
			next.Note = *upd.Note
		}
		if upd.IsReimbursement != nil {
			next.IsReimbursement = *upd.IsReimbursement
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if next.IsReimbursement && !cur.IsReimbursement {
			if err := checkRevival(ctx, q, next); err != nil {
				return err
			}
		}

		if err := q.UpdateTransaction(ctx, next); err != nil {
			return err
		}
		if upd.Tags != nil {
			next.Tags = core.NormalizeTags(*upd.Tags)
			if err := setTags(ctx, q, userID, id, next.Tags); err != nil {
				return err
			}
		}

		affected = []core.Date{cur.Date, next.Date}
		if cur.IsReimbursement || next.IsReimbursement {
			linked, err := q.LinkedExpenseDates(ctx, userID, id)
			if err != nil {
				return err
			}
			affected = append(affected, linked...)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction updated",
		log.FieldUserID, userID,
		log.FieldTransactionID, id)

	if err := s.afterChange(ctx, userID, affected); err != nil {
		return next, err
	}
	return s.Get(ctx, userID, id)
}

// moveToDate keeps the clock time of t on the civil date d.
func moveToDate(t time.Time, d core.Date) time.Time {
	t = t.UTC()
	return time.Date(d.Year(), d.Time.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// SoftDelete hides the entry from every aggregate. Deleting an already
// deleted entry is a no-op.
func (s *TransactionService) SoftDelete(ctx context.Context, userID, id int64) error {
	return s.setDeleted(ctx, userID, id, true)
}

// Restore brings back a soft-deleted entry. Its allocations revive with it,
// so restoring fails if that would over-allocate a counterpart.
func (s *TransactionService) Restore(ctx context.Context, userID, id int64) error {
	return s.setDeleted(ctx, userID, id, false)
}

func (s *TransactionService) setDeleted(ctx context.Context, userID, id int64, deleted bool) error {
	var affected []core.Date
	changed := false
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		cur, err := q.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}
		if cur.IsDeleted() == deleted {
			return nil
		}

		var at *time.Time
		if deleted {
			now := time.Now().UTC()
			at = &now
		} else {
			cur.DeletedAt = nil
			if err := checkRevival(ctx, q, cur); err != nil {
				return err
			}
		}
		if err := q.SetTransactionDeleted(ctx, userID, id, at); err != nil {
			return err
		}
		changed = true

		affected = []core.Date{cur.Date}
		if cur.IsReimbursement {
			linked, err := q.LinkedExpenseDates(ctx, userID, id)
			if err != nil {
				return err
			}
			affected = append(affected, linked...)
		}
		return nil
	})
	if err != nil || !changed {
		return err
	}

	msg := "Transaction restored"
	if deleted {
		msg = "Transaction deleted"
	}
	slog.InfoContext(ctx, msg, log.FieldUserID, userID, log.FieldTransactionID, id)
	return s.afterChange(ctx, userID, affected)
}

// checkRevival confirms that counting txn's allocations again keeps txn
// itself and every live counterpart within its amount.
func checkRevival(ctx context.Context, q *storage.Queries, txn core.Transaction) error {
	switch {
	case txn.ActiveReimbursement():
		allocated, err := q.LiveAllocatedForReimbursement(ctx, txn.UserID, txn.ID, 0)
		if err != nil {
			return err
		}
		if allocated > txn.Amount.Cents {
			return core.Invalidf("reimbursement %d has %d allocated, more than its amount %d", txn.ID, allocated, txn.Amount.Cents)
		}
	case txn.Type == core.Expense && !txn.IsDeleted():
		reimbursed, err := q.LiveReimbursedForExpense(ctx, txn.UserID, txn.ID, 0)
		if err != nil {
			return err
		}
		if reimbursed > txn.Amount.Cents {
			return core.Invalidf("expense %d has %d reimbursed, more than its amount %d", txn.ID, reimbursed, txn.Amount.Cents)
		}
	}

	allocs, err := q.ListAllocationsFor(ctx, txn.UserID, txn.ID)
	if err != nil {
		return err
	}
	for _, a := range allocs {
		switch {
		case a.ExpenseID == txn.ID && txn.Type == core.Expense:
			r, err := q.GetTransaction(ctx, txn.UserID, a.ReimbursementID)
			if err != nil {
				return err
			}
			if !r.ActiveReimbursement() {
				continue
			}
			allocated, err := q.LiveAllocatedForReimbursement(ctx, txn.UserID, r.ID, a.ID)
			if err != nil {
				return err
			}
			if allocated+a.Amount.Cents > r.Amount.Cents {
				return core.Invalidf("restoring would over-allocate reimbursement %d", r.ID)
			}
		case a.ReimbursementID == txn.ID && txn.ActiveReimbursement():
			e, err := q.GetTransaction(ctx, txn.UserID, a.ExpenseID)
			if err != nil {
				return err
			}
			if e.IsDeleted() {
				continue
			}
			reimbursed, err := q.LiveReimbursedForExpense(ctx, txn.UserID, e.ID, a.ID)
			if err != nil {
				return err
			}
			if reimbursed+a.Amount.Cents > e.Amount.Cents {
				return core.Invalidf("restoring would over-reimburse expense %d", e.ID)
			}
		}
	}
	return nil
}

// SetTags replaces the entry's tags. Rollups ignore tags, so only cached
// breakdowns are refreshed.
func (s *TransactionService) SetTags(ctx context.Context, userID, id int64, tags []string) error {
	tags = core.NormalizeTags(tags)
	if err := core.Validate(struct {
		Tags []string `validate:"max=20,dive,max=50"`
	}{tags}); err != nil {
		return err
	}
	var date core.Date
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		cur, err := q.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}
		date = cur.Date
		return setTags(ctx, q, userID, id, tags)
	})
	if err != nil {
		return err
	}
	invalidateDates(ctx, date)
	return nil
}

// Get returns an entry, deleted or not, with its tags.
func (s *TransactionService) Get(ctx context.Context, userID, id int64) (core.Transaction, error) {
	return s.storage.Queries().GetTransaction(ctx, userID, id)
}

// List returns entries dated within period, newest first. A limit of zero
// returns every match.
func (s *TransactionService) List(ctx context.Context, userID int64, period core.Period, f ListFilter, limit, offset int) ([]core.Transaction, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if limit < 0 || offset < 0 {
		return nil, core.Invalid("limit and offset must not be negative")
	}
	return s.storage.Queries().ListTransactions(ctx, storage.TransactionFilter{
		UserID:         userID,
		Period:         &period,
		Type:           f.Type,
		CategoryID:     f.CategoryID,
		Tags:           f.Tags,
		Query:          f.Query,
		IncludeDeleted: f.IncludeDeleted,
		Limit:          limit,
		Offset:         offset,
	})
}

func (s *TransactionService) afterChange(ctx context.Context, userID int64, dates []core.Date) error {
	invalidateDates(ctx, dates...)
	months := make([]core.YearMonth, 0, len(dates))
	for _, d := range dates {
		months = append(months, d.YearMonth())
	}
	if err := s.rollups.RecomputeMonths(ctx, userID, months...); err != nil {
		return err
	}
	publishMonths(ctx, s.publisher, userID, months, ReasonTransaction)
	return nil
}

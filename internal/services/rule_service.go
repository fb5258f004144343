package services

import (
	"context"
	"log/slog"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

const maxPreview = 60

// RuleService manages recurring rules. Posting is the RecurringEngine's job.
type RuleService struct {
	storage *storage.SQLiteRepository
	base    core.Currency
}

func NewRuleService(storage *storage.SQLiteRepository, base core.Currency) *RuleService {
	return &RuleService{storage: storage, base: base}
}

// RuleUpdate lists the fields to change. Nil fields are kept; ClearEndDate
// removes the end date.
type RuleUpdate struct {
	Name           *string
	Type           *core.TransactionType
	Currency       *core.Currency
	AmountCents    *int64
	CategoryID     *int64
	AnchorDate     *core.Date
	IntervalUnit   *core.IntervalUnit
	IntervalCount  *int
	NextOccurrence *core.Date
	EndDate        *core.Date
	ClearEndDate   bool
	SkipWeekends   *bool
	MonthDayPolicy *core.MonthDayPolicy
}

// Create stores a rule. NextOccurrence defaults to the anchor date.
func (s *RuleService) Create(ctx context.Context, userID int64, in core.RuleInput) (core.RecurringRule, error) {
	if err := core.Validate(in); err != nil {
		return core.RecurringRule{}, err
	}
	r := in.Rule(userID, s.base)
	if r.NextOccurrence.IsZero() {
		r.NextOccurrence = r.AnchorDate
	}
	if err := r.Validate(); err != nil {
		return core.RecurringRule{}, err
	}

	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		if err := checkCategory(ctx, q, userID, r.CategoryID, r.Type); err != nil {
			return err
		}
		id, err := q.InsertRule(ctx, r)
		r.ID = id
		return err
	})
	if err != nil {
		return core.RecurringRule{}, err
	}
	slog.InfoContext(ctx, "Recurring rule created",
		log.FieldUserID, userID,
		log.FieldRuleID, r.ID,
		"next_occurrence", r.NextOccurrence.String())
	return r, nil
}

// Update applies upd. Category and type compatibility is checked before any
// field of the stored rule is touched.
func (s *RuleService) Update(ctx context.Context, userID, id int64, upd RuleUpdate) (core.RecurringRule, error) {
	var r core.RecurringRule
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		cur, err := q.GetRule(ctx, userID, id)
		if err != nil {
			return err
		}

		typ, cat := cur.Type, cur.CategoryID
		if upd.Type != nil {
			typ = *upd.Type
		}
		if upd.CategoryID != nil {
			cat = *upd.CategoryID
		}
		if err := typ.Validate(); err != nil {
			return err
		}
		if typ != cur.Type || cat != cur.CategoryID {
			if err := checkCategory(ctx, q, userID, cat, typ); err != nil {
				return err
			}
		}

		r = cur
		r.Type, r.CategoryID = typ, cat
		if upd.Name != nil {
			r.Name = *upd.Name
		}
		if upd.Currency != nil {
			r.Currency = *upd.Currency
		}
		if upd.AmountCents != nil {
			r.Amount = core.Money{Cents: *upd.AmountCents}
		}
		if upd.AnchorDate != nil {
			r.AnchorDate = *upd.AnchorDate
		}
		if upd.IntervalUnit != nil {
			r.IntervalUnit = *upd.IntervalUnit
		}
		if upd.IntervalCount != nil {
			r.IntervalCount = *upd.IntervalCount
		}
		if upd.NextOccurrence != nil {
			r.NextOccurrence = *upd.NextOccurrence
		}
		if upd.ClearEndDate {
			r.EndDate = nil
		} else if upd.EndDate != nil {
			end := *upd.EndDate
			r.EndDate = &end
		}
		if upd.SkipWeekends != nil {
			r.SkipWeekends = *upd.SkipWeekends
		}
		if upd.MonthDayPolicy != nil {
			r.MonthDayPolicy = *upd.MonthDayPolicy
		}
		if err := r.Validate(); err != nil {
			return err
		}
		return q.UpdateRule(ctx, r)
	})
	if err != nil {
		return core.RecurringRule{}, err
	}
	slog.InfoContext(ctx, "Recurring rule updated", log.FieldUserID, userID, log.FieldRuleID, id)
	return r, nil
}

func (s *RuleService) SetAutoPost(ctx context.Context, userID, id int64, on bool) error {
	return s.storage.Queries().SetRuleAutoPost(ctx, userID, id, on)
}

func (s *RuleService) Get(ctx context.Context, userID, id int64) (core.RecurringRule, error) {
	return s.storage.Queries().GetRule(ctx, userID, id)
}

// List returns the user's rules by next occurrence.
func (s *RuleService) List(ctx context.Context, userID int64) ([]core.RecurringRule, error) {
	return s.storage.Queries().ListRules(ctx, userID)
}

// Delete removes the rule. Entries it posted stay in the ledger without an
// origin.
func (s *RuleService) Delete(ctx context.Context, userID, id int64) error {
	if err := s.storage.Queries().DeleteRule(ctx, userID, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Recurring rule deleted", log.FieldUserID, userID, log.FieldRuleID, id)
	return nil
}

// Preview lists up to n upcoming occurrences starting at the cursor,
// stopping at the end date.
func (s *RuleService) Preview(ctx context.Context, userID, id int64, n int) ([]core.Date, error) {
	if n < 1 || n > maxPreview {
		return nil, core.Invalidf("preview count must be between 1 and %d", maxPreview)
	}
	r, err := s.storage.Queries().GetRule(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	out := make([]core.Date, 0, n)
	d := r.NextOccurrence
	for len(out) < n {
		if r.EndDate != nil && d.After(r.EndDate.Time) {
			break
		}
		out = append(out, d)
		if d, err = NextDate(r, d); err != nil {
			return out, err
		}
	}
	return out, nil
}

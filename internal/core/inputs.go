package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Input types carry caller-supplied fields before they are checked against
// storage. Field-level rules live in the validate tags; cross-entity rules
// (category type, allocation capacity) are enforced by the services.
type (
	TransactionInput struct {
		Date            Date
		OccurredAt      time.Time
		Type            TransactionType `validate:"oneof=income expense"`
		AmountCents     int64           `validate:"gte=0"`
		CategoryID      int64           `validate:"gt=0"`
		Note            string          `validate:"max=2000"`
		IsReimbursement bool
		Tags            []string `validate:"max=20,dive,max=50"`
	}

	RuleInput struct {
		Name           string          `validate:"max=120"`
		Type           TransactionType `validate:"oneof=income expense"`
		Currency       Currency        `validate:"omitempty,len=3,uppercase"`
		AmountCents    int64           `validate:"gte=0"`
		CategoryID     int64           `validate:"gt=0"`
		AnchorDate     Date
		IntervalUnit   IntervalUnit `validate:"oneof=day week month year"`
		IntervalCount  int          `validate:"gt=0"`
		NextOccurrence Date
		EndDate        *Date
		AutoPost       bool
		SkipWeekends   bool
		MonthDayPolicy MonthDayPolicy `validate:"omitempty,oneof=snap_to_end skip carry_forward"`
	}

	AnchorInput struct {
		AsOf         time.Time
		BalanceCents int64
		Note         string `validate:"max=500"`
	}

	CategoryInput struct {
		Name  string          `validate:"required,max=100"`
		Type  TransactionType `validate:"oneof=income expense"`
		Color string          `validate:"omitempty,hexcolor"`
		Order int
	}

	TagInput struct {
		Name             string `validate:"required,max=50"`
		Color            string `validate:"omitempty,hexcolor"`
		HiddenFromBudget bool
	}
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks struct tags on an input value and returns a validation
// error naming every failing field.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Invalid(err.Error())
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return Invalid(strings.Join(problems, "; "))
}

// Transaction builds a ledger entry from the input. OccurredAt defaults to
// noon UTC on Date.
func (in TransactionInput) Transaction(userID int64) Transaction {
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = in.Date.Noon()
	}
	return Transaction{
		UserID:          userID,
		Date:            in.Date,
		OccurredAt:      occurred.UTC(),
		Type:            in.Type,
		Amount:          Money{Cents: in.AmountCents},
		CategoryID:      in.CategoryID,
		Note:            strings.TrimSpace(in.Note),
		IsReimbursement: in.IsReimbursement,
		Tags:            NormalizeTags(in.Tags),
	}
}

// Rule builds a recurring rule from the input. Currency defaults to base.
func (in RuleInput) Rule(userID int64, base Currency) RecurringRule {
	cur := in.Currency
	if cur == "" {
		cur = base
	}
	policy := in.MonthDayPolicy
	if policy == "" {
		policy = SnapToEnd
	}
	return RecurringRule{
		UserID:         userID,
		Name:           strings.TrimSpace(in.Name),
		Type:           in.Type,
		Currency:       cur,
		Amount:         Money{Cents: in.AmountCents},
		CategoryID:     in.CategoryID,
		AnchorDate:     in.AnchorDate,
		IntervalUnit:   in.IntervalUnit,
		IntervalCount:  in.IntervalCount,
		NextOccurrence: in.NextOccurrence,
		EndDate:        in.EndDate,
		AutoPost:       in.AutoPost,
		SkipWeekends:   in.SkipWeekends,
		MonthDayPolicy: policy,
	}
}

// NormalizeTags trims names and drops case-insensitive duplicates, keeping
// the first spelling.
func NormalizeTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, name := range in {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

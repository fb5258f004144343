package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	Day   IntervalUnit = "day"
	Week  IntervalUnit = "week"
	Month IntervalUnit = "month"
	Year  IntervalUnit = "year"
)

const (
	SnapToEnd    MonthDayPolicy = "snap_to_end"
	Skip         MonthDayPolicy = "skip"
	CarryForward MonthDayPolicy = "carry_forward"
)

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
)

const dateLayout = "2006-01-02"

type (
	TransactionType string
	IntervalUnit    string
	MonthDayPolicy  string
	Currency        string

	// Date is a civil date stored as midnight UTC.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Category struct {
		ID         int64
		UserID     int64
		Type       TransactionType
		Name       string
		Color      string
		Order      int
		ArchivedAt *time.Time
	}

	Tag struct {
		ID               int64
		UserID           int64
		Name             string
		Color            string
		HiddenFromBudget bool
	}

	// FXDetails records how a converted posting was priced.
	FXDetails struct {
		SourceCurrency Currency
		SourceAmount   Money
		RateMicros     int64
		RateDate       Date
		Provider       string
		FetchedAt      time.Time
	}

	Transaction struct {
		ID              int64
		UserID          int64
		Date            Date
		OccurredAt      time.Time
		Type            TransactionType
		Amount          Money
		CategoryID      int64
		Note            string
		IsReimbursement bool
		Tags            []string
		DeletedAt       *time.Time
		OriginRuleID    *int64
		OccurrenceDate  *Date
		FX              *FXDetails
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	RecurringRule struct {
		ID             int64
		UserID         int64
		Name           string
		Type           TransactionType
		Currency       Currency
		Amount         Money
		CategoryID     int64
		AnchorDate     Date
		IntervalUnit   IntervalUnit
		IntervalCount  int
		NextOccurrence Date
		EndDate        *Date
		AutoPost       bool
		SkipWeekends   bool
		MonthDayPolicy MonthDayPolicy
	}

	MonthlyRollup struct {
		UserID  int64
		Year    int
		Month   int
		Income  Money
		Expense Money
	}

	BalanceAnchor struct {
		ID        int64
		UserID    int64
		AsOf      time.Time
		Balance   Money
		Note      string
		CreatedAt time.Time
	}

	ReimbursementAllocation struct {
		ID              int64
		UserID          int64
		ReimbursementID int64
		ExpenseID       int64
		Amount          Money
	}
)

var (
	ErrInvalidDay    = &Error{Kind: KindValidation, Reason: "invalid day"}
	ErrInvalidMonth  = &Error{Kind: KindValidation, Reason: "invalid month"}
	ErrInvalidAmount = &Error{Kind: KindValidation, Reason: "invalid amount"}
	ErrInvalidType   = &Error{Kind: KindValidation, Reason: "invalid transaction type"}
	ErrTypeMismatch  = &Error{Kind: KindValidation, Reason: "category type mismatch"}
)

func (t TransactionType) Validate() error {
	switch t {
	case Income, Expense:
		return nil
	default:
		return ErrInvalidType
	}
}

func (u IntervalUnit) Validate() error {
	switch u {
	case Day, Week, Month, Year:
		return nil
	default:
		return Invalidf("invalid interval unit %q", string(u))
	}
}

func (p MonthDayPolicy) Validate() error {
	switch p {
	case SnapToEnd, Skip, CarryForward:
		return nil
	default:
		return Invalidf("invalid month-day policy %q", string(p))
	}
}

func (c Currency) Validate() error {
	if len(c) != 3 || strings.ToUpper(string(c)) != string(c) {
		return Invalidf("invalid currency code %q", string(c))
	}
	return nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return Invalid("date cannot be zero")
	}
	_, month, day := d.Time.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// YearMonth returns the calendar month the date falls in.
func (d Date) YearMonth() YearMonth {
	return YearMonth{Year: d.Year(), Month: d.Month()}
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Noon is the default instant used for entries recorded without a time of day.
func (d Date) Noon() time.Time {
	return time.Date(d.Year(), d.Time.Month(), d.Day(), 12, 0, 0, 0, time.UTC)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its civil date in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, Invalidf("invalid date %q", s)
	}
	return Date{Time: t}, nil
}

// DaysIn returns the number of days in the given month.
func DaysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsEmpty returns true if the date is zero (for backward compatibility with optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Signed returns the amount with income positive and expense negative.
func (t Transaction) Signed() int64 {
	if t.Type == Income {
		return t.Amount.Cents
	}
	return -t.Amount.Cents
}

func (t Transaction) IsDeleted() bool {
	return t.DeletedAt != nil
}

// ActiveReimbursement reports whether the entry can carry allocations.
func (t Transaction) ActiveReimbursement() bool {
	return !t.IsDeleted() && t.Type == Income && t.IsReimbursement
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := t.Type.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.CategoryID <= 0 {
		return Invalid("category is required")
	}
	if t.IsReimbursement && t.Type != Income {
		return Invalid("only income entries can be reimbursements")
	}
	if len(t.Note) > 2000 {
		return Invalid("note too long (max 2000 characters)")
	}
	return nil
}

func (r RecurringRule) Validate() error {
	if err := r.Type.Validate(); err != nil {
		return err
	}
	if err := r.Currency.Validate(); err != nil {
		return err
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if err := r.AnchorDate.Validate(); err != nil {
		return fmt.Errorf("invalid anchor date: %w", err)
	}
	if err := r.NextOccurrence.Validate(); err != nil {
		return fmt.Errorf("invalid next occurrence: %w", err)
	}
	if err := r.IntervalUnit.Validate(); err != nil {
		return err
	}
	if r.IntervalCount <= 0 {
		return Invalid("interval count must be positive")
	}
	if err := r.MonthDayPolicy.Validate(); err != nil {
		return err
	}
	if r.EndDate != nil && r.EndDate.Before(r.AnchorDate.Time) {
		return Invalid("end date must not be before anchor date")
	}
	if len(r.Name) > 120 {
		return Invalid("name too long (max 120 characters)")
	}
	return nil
}

func (a ReimbursementAllocation) Validate() error {
	if a.ReimbursementID <= 0 || a.ExpenseID <= 0 {
		return Invalid("allocation requires a reimbursement and an expense")
	}
	if a.ReimbursementID == a.ExpenseID {
		return Invalid("allocation cannot link an entry to itself")
	}
	if a.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// IsZero reports whether the rollup carries no totals and should not be stored.
func (r MonthlyRollup) IsZero() bool {
	return r.Income.Cents == 0 && r.Expense.Cents == 0
}

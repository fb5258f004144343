package core

import (
	"errors"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2024, 2, 29), true},
		{Date{Time: time.Time{}}, false},
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDaysIn(t *testing.T) {
	cases := []struct {
		year, month, want int
	}{
		{2024, 2, 29},
		{2023, 2, 28},
		{2024, 4, 30},
		{2024, 12, 31},
	}
	for _, tc := range cases {
		if got := DaysIn(tc.year, tc.month); got != tc.want {
			t.Errorf("DaysIn(%d, %d) = %d, want %d", tc.year, tc.month, got, tc.want)
		}
	}
}

func TestDateOf(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	instant := time.Date(2024, 3, 31, 23, 30, 0, 0, time.UTC)
	if got := DateOf(instant, rome); got.String() != "2024-04-01" {
		t.Fatalf("DateOf in Rome = %s, want 2024-04-01", got)
	}
	if got := DateOf(instant, time.UTC); got.String() != "2024-03-31" {
		t.Fatalf("DateOf in UTC = %s, want 2024-03-31", got)
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 0}).Validate(); err != nil {
		t.Fatalf("expected zero to be allowed, got %v", err)
	}
	if err := (Money{Cents: -1}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Date:       NewDate(2025, 1, 1),
		Type:       Expense,
		Amount:     Money{Cents: 100},
		CategoryID: 1,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := map[string]func(tx *Transaction){
		"zero date":            func(tx *Transaction) { tx.Date = Date{} },
		"unknown type":         func(tx *Transaction) { tx.Type = "transfer" },
		"negative amount":      func(tx *Transaction) { tx.Amount.Cents = -5 },
		"missing category":     func(tx *Transaction) { tx.CategoryID = 0 },
		"flagged expense":      func(tx *Transaction) { tx.IsReimbursement = true },
		"oversized note field": func(tx *Transaction) { tx.Note = string(make([]byte, 2001)) },
	}
	for name, mutate := range bads {
		t.Run(name, func(t *testing.T) {
			tx := good
			mutate(&tx)
			if err := tx.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestTransactionSigned(t *testing.T) {
	in := Transaction{Type: Income, Amount: Money{Cents: 500}}
	out := Transaction{Type: Expense, Amount: Money{Cents: 200}}
	if in.Signed() != 500 || out.Signed() != -200 {
		t.Fatalf("unexpected signed amounts %d %d", in.Signed(), out.Signed())
	}
}

func TestActiveReimbursement(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		tx   Transaction
		want bool
	}{
		{"flagged income", Transaction{Type: Income, IsReimbursement: true}, true},
		{"plain income", Transaction{Type: Income}, false},
		{"deleted", Transaction{Type: Income, IsReimbursement: true, DeletedAt: &now}, false},
		{"expense", Transaction{Type: Expense, IsReimbursement: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tx.ActiveReimbursement(); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRecurringRuleValidate(t *testing.T) {
	good := RecurringRule{
		Name:           "Rent",
		Type:           Expense,
		Currency:       EUR,
		Amount:         Money{Cents: 90000},
		CategoryID:     1,
		AnchorDate:     NewDate(2024, 1, 31),
		NextOccurrence: NewDate(2024, 1, 31),
		IntervalUnit:   Month,
		IntervalCount:  1,
		MonthDayPolicy: SnapToEnd,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	before := NewDate(2023, 12, 1)
	bads := map[string]func(r *RecurringRule){
		"zero interval":     func(r *RecurringRule) { r.IntervalCount = 0 },
		"negative interval": func(r *RecurringRule) { r.IntervalCount = -1 },
		"unknown unit":      func(r *RecurringRule) { r.IntervalUnit = "fortnight" },
		"unknown policy":    func(r *RecurringRule) { r.MonthDayPolicy = "nearest" },
		"lowercase ccy":     func(r *RecurringRule) { r.Currency = "usd" },
		"end before anchor": func(r *RecurringRule) { r.EndDate = &before },
		"missing cursor":    func(r *RecurringRule) { r.NextOccurrence = Date{} },
	}
	for name, mutate := range bads {
		t.Run(name, func(t *testing.T) {
			r := good
			mutate(&r)
			if err := r.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestAllocationValidate(t *testing.T) {
	cases := []struct {
		name string
		a    ReimbursementAllocation
		ok   bool
	}{
		{"valid", ReimbursementAllocation{ReimbursementID: 1, ExpenseID: 2, Amount: Money{Cents: 1}}, true},
		{"zero amount", ReimbursementAllocation{ReimbursementID: 1, ExpenseID: 2}, false},
		{"self link", ReimbursementAllocation{ReimbursementID: 2, ExpenseID: 2, Amount: Money{Cents: 1}}, false},
		{"missing side", ReimbursementAllocation{ExpenseID: 2, Amount: Money{Cents: 1}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.a.Validate()
			if tc.ok != (err == nil) {
				t.Fatalf("ok=%v, err=%v", tc.ok, err)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	err := NotFound("transaction")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("not found must not match validation")
	}

	wrapped := External("fx", errors.New("timeout"))
	if !errors.Is(wrapped, ErrExternalService) {
		t.Fatalf("expected external service kind")
	}
	if KindOf(wrapped) != KindExternalService {
		t.Fatalf("KindOf = %v", KindOf(wrapped))
	}
	if errors.Is(Invalid("bad"), ErrInvalidAmount) {
		t.Fatalf("reason mismatch must not match")
	}
	if !errors.Is(ErrInvalidAmount, ErrValidation) {
		t.Fatalf("reasoned sentinel must match its kind")
	}
}

func TestPeriodMonths(t *testing.T) {
	p := Period{Start: NewDate(2023, 11, 15), End: NewDate(2024, 2, 3)}
	months := p.Months()
	want := []string{"2023-11", "2023-12", "2024-01", "2024-02"}
	if len(months) != len(want) {
		t.Fatalf("got %d months, want %d", len(months), len(want))
	}
	for i, ym := range months {
		if ym.String() != want[i] {
			t.Errorf("month %d = %s, want %s", i, ym, want[i])
		}
	}
	if p.IsWholeMonth() {
		t.Fatalf("partial period reported as whole month")
	}
	if !NewYearMonth(2024, 2).Period().IsWholeMonth() {
		t.Fatalf("february not reported as whole month")
	}
}

func TestYearMonthIndexRoundTrip(t *testing.T) {
	ym := NewYearMonth(2024, 13)
	if ym.Year != 2025 || ym.Month != 1 {
		t.Fatalf("NewYearMonth(2024, 13) = %v", ym)
	}
	if YearMonthFromIndex(ym.Index()) != ym {
		t.Fatalf("index round trip failed")
	}
}

func TestValidateInputs(t *testing.T) {
	ok := TransactionInput{Date: NewDate(2024, 1, 1), Type: Expense, AmountCents: 10, CategoryID: 1}
	if err := Validate(ok); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := TransactionInput{Type: "gift", AmountCents: -1}
	err := Validate(bad)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := Validate(CategoryInput{Name: "Food", Type: Expense, Color: "blue"}); err == nil {
		t.Fatalf("expected hexcolor failure")
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Travel ", "travel", "", "Work"})
	if len(got) != 2 || got[0] != "Travel" || got[1] != "Work" {
		t.Fatalf("NormalizeTags = %v", got)
	}
}

func TestBudgetTemplateMonthlyAmount(t *testing.T) {
	yearly := BudgetTemplate{Frequency: BudgetYearly, Amount: Money{Cents: 100001}}
	if got := yearly.MonthlyAmount(); got != 8333 {
		t.Fatalf("yearly monthly amount = %d, want 8333", got)
	}
	end := NewDate(2024, 3, 10)
	tmpl := BudgetTemplate{StartsOn: NewDate(2024, 2, 15), EndsOn: &end}
	cases := map[YearMonth]bool{
		NewYearMonth(2024, 1): false,
		NewYearMonth(2024, 2): true,
		NewYearMonth(2024, 3): true,
		NewYearMonth(2024, 4): false,
	}
	for ym, want := range cases {
		if got := tmpl.ActiveIn(ym); got != want {
			t.Errorf("ActiveIn(%s) = %v, want %v", ym, got, want)
		}
	}
}

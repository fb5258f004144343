package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/fx"
	"fintrack/internal/storage"
)

const testUser = int64(1)

type monthEvent struct {
	UserID int64
	Month  core.YearMonth
	Reason string
}

// recordingPublisher captures month-changed events in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []monthEvent
}

func (p *recordingPublisher) PublishMonthChanged(ctx context.Context, userID int64, ym core.YearMonth, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, monthEvent{UserID: userID, Month: ym, Reason: reason})
	return nil
}

func (p *recordingPublisher) Events() []monthEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]monthEvent(nil), p.events...)
}

type testEnv struct {
	repo          *storage.SQLiteRepository
	publisher     *recordingPublisher
	converter     *fx.Static
	rollups       *RollupService
	balance       *BalanceService
	transactions  *TransactionService
	reimbursement *ReimbursementService
	metrics       *MetricsService
	budgets       *BudgetService
	categories    *CategoryService
	tags          *TagService
	rules         *RuleService
	engine        *RecurringEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	pub := &recordingPublisher{}
	conv := &fx.Static{Target: core.EUR}
	rollups := NewRollupService(repo, 4)
	balance := NewBalanceService(repo)
	return &testEnv{
		repo:          repo,
		publisher:     pub,
		converter:     conv,
		rollups:       rollups,
		balance:       balance,
		transactions:  NewTransactionService(repo, rollups, pub),
		reimbursement: NewReimbursementService(repo, rollups, pub),
		metrics:       NewMetricsService(repo, rollups, balance, time.UTC),
		budgets:       NewBudgetService(repo),
		categories:    NewCategoryService(repo),
		tags:          NewTagService(repo),
		rules:         NewRuleService(repo, core.EUR),
		engine:        NewRecurringEngine(repo, rollups, conv, core.EUR, pub, time.UTC),
	}
}

func (e *testEnv) category(t *testing.T, typ core.TransactionType, name string) int64 {
	t.Helper()
	c, err := e.categories.Create(context.Background(), testUser, core.CategoryInput{Name: name, Type: typ})
	if err != nil {
		t.Fatalf("create category %q: %v", name, err)
	}
	return c.ID
}

func (e *testEnv) add(t *testing.T, in core.TransactionInput) core.Transaction {
	t.Helper()
	txn, err := e.transactions.Create(context.Background(), testUser, in)
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return txn
}

func (e *testEnv) expense(t *testing.T, cat int64, d core.Date, cents int64) core.Transaction {
	t.Helper()
	return e.add(t, core.TransactionInput{Date: d, Type: core.Expense, AmountCents: cents, CategoryID: cat})
}

func (e *testEnv) income(t *testing.T, cat int64, d core.Date, cents int64, reimbursement bool) core.Transaction {
	t.Helper()
	return e.add(t, core.TransactionInput{Date: d, Type: core.Income, AmountCents: cents, CategoryID: cat, IsReimbursement: reimbursement})
}

func (e *testEnv) rollup(t *testing.T, ym core.YearMonth) (core.MonthlyRollup, bool) {
	t.Helper()
	r, ok, err := e.repo.Queries().GetRollup(context.Background(), testUser, ym)
	if err != nil {
		t.Fatalf("get rollup: %v", err)
	}
	return r, ok
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fintrack/internal/core"
	"fintrack/internal/fx"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	rollups := services.NewRollupService(repo, 2)
	balance := services.NewBalanceService(repo)
	svc := Services{
		Transactions:  services.NewTransactionService(repo, rollups, nil),
		Reimbursement: services.NewReimbursementService(repo, rollups, nil),
		Metrics:       services.NewMetricsService(repo, rollups, balance, time.UTC),
		Balance:       balance,
		Budgets:       services.NewBudgetService(repo),
		Categories:    services.NewCategoryService(repo),
		Tags:          services.NewTagService(repo),
		Rules:         services.NewRuleService(repo, core.EUR),
		Engine:        services.NewRecurringEngine(repo, rollups, &fx.Static{Target: core.EUR}, core.EUR, nil, time.UTC),
	}
	if cfg.UserID == 0 {
		cfg.UserID = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := log.New(log.Config{Level: slog.LevelDebug, Component: log.ComponentHTTP, Output: io.Discard})
	s := NewServer(cfg, svc, logger)
	s.now = func() time.Time { return testNow }
	return s
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}

func createCategory(t *testing.T, s *Server, name, typ string) int64 {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/api/categories", `{"name":"`+name+`","type":"`+typ+`"}`)
	expectStatus(t, rr, http.StatusCreated)
	return decode[categoryJSON](t, rr).ID
}

func createTransaction(t *testing.T, s *Server, body string) transactionJSON {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/api/transactions", body)
	expectStatus(t, rr, http.StatusCreated)
	return decode[transactionJSON](t, rr)
}

func kpis(t *testing.T, s *Server, month string) kpisJSON {
	t.Helper()
	rr := do(t, s, http.MethodGet, "/api/metrics/kpis?month="+month, "")
	expectStatus(t, rr, http.StatusOK)
	return decode[kpisJSON](t, rr)
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, Config{})
	expectStatus(t, do(t, s, http.MethodGet, "/healthz", ""), http.StatusOK)
	expectStatus(t, do(t, s, http.MethodGet, "/readyz", ""), http.StatusOK)

	down := newTestServer(t, Config{Ready: func(context.Context) error { return errors.New("db gone") }})
	rr := do(t, down, http.MethodGet, "/readyz", "")
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if !strings.Contains(rr.Body.String(), "db gone") {
		t.Errorf("readyz body = %s", rr.Body.String())
	}
}

func TestTransactionLifecycle(t *testing.T) {
	s := newTestServer(t, Config{})
	groceries := createCategory(t, s, "Groceries", "expense")
	refunds := createCategory(t, s, "Refunds", "income")

	exp := createTransaction(t, s, `{"date":"2024-03-10","type":"expense","amount":"100.00","category_id":`+itoa(groceries)+`,"note":"  weekly shop ","tags":["food","Food"]}`)
	if exp.AmountCents != 10000 || exp.Note != "weekly shop" {
		t.Fatalf("created = %+v", exp)
	}
	if diff := cmp.Diff([]string{"food"}, exp.Tags); diff != "" {
		t.Errorf("tags (-want +got):\n%s", diff)
	}
	if !exp.OccurredAt.Equal(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("occurred_at = %v, want noon UTC", exp.OccurredAt)
	}

	if got := kpis(t, s, "2024-03"); got.ExpenseCents != 10000 || got.BalanceCents != -10000 {
		t.Fatalf("kpis after expense = %+v", got)
	}

	reimb := createTransaction(t, s, `{"date":"2024-04-02","type":"income","amount":"50","category_id":`+itoa(refunds)+`,"is_reimbursement":true}`)
	rr := do(t, s, http.MethodPost, "/api/allocations",
		`{"reimbursement_id":`+itoa(reimb.ID)+`,"expense_id":`+itoa(exp.ID)+`,"amount":"50"}`)
	expectStatus(t, rr, http.StatusOK)
	alloc := decode[allocationJSON](t, rr)

	if got := kpis(t, s, "2024-03"); got.ExpenseCents != 5000 || got.IncomeCents != 0 {
		t.Errorf("march kpis after netting = %+v", got)
	}
	if got := kpis(t, s, "2024-04"); got.IncomeCents != 0 || got.ExpenseCents != 0 {
		t.Errorf("april kpis = %+v, reimbursement must not count as income", got)
	}

	rr = do(t, s, http.MethodGet, "/api/transactions/"+itoa(exp.ID)+"/allocations", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[[]allocationJSON](t, rr); len(got) != 1 || got[0].AmountCents != 5000 {
		t.Errorf("allocations = %+v", got)
	}

	expectStatus(t, do(t, s, http.MethodDelete, "/api/allocations/"+itoa(alloc.ID), ""), http.StatusNoContent)
	if got := kpis(t, s, "2024-03"); got.ExpenseCents != 10000 {
		t.Errorf("march expense after unlinking = %d, want 10000", got.ExpenseCents)
	}

	rr = do(t, s, http.MethodPatch, "/api/transactions/"+itoa(exp.ID), `{"amount":"80","date":"2024-02-28"}`)
	expectStatus(t, rr, http.StatusOK)
	if got := kpis(t, s, "2024-02"); got.ExpenseCents != 8000 {
		t.Errorf("february expense after move = %d, want 8000", got.ExpenseCents)
	}
	if got := kpis(t, s, "2024-03"); got.ExpenseCents != 0 {
		t.Errorf("march expense after move = %d, want 0", got.ExpenseCents)
	}

	expectStatus(t, do(t, s, http.MethodDelete, "/api/transactions/"+itoa(exp.ID), ""), http.StatusNoContent)
	rr = do(t, s, http.MethodGet, "/api/transactions/"+itoa(exp.ID), "")
	expectStatus(t, rr, http.StatusOK)
	if decode[transactionJSON](t, rr).DeletedAt == nil {
		t.Error("deleted entry has no deleted_at")
	}
	if got := kpis(t, s, "2024-02"); got.ExpenseCents != 0 {
		t.Errorf("february expense after delete = %d, want 0", got.ExpenseCents)
	}

	rr = do(t, s, http.MethodPost, "/api/transactions/"+itoa(exp.ID)+"/restore", "")
	expectStatus(t, rr, http.StatusOK)
	if decode[transactionJSON](t, rr).DeletedAt != nil {
		t.Error("restored entry still has deleted_at")
	}
}

func TestListTransactions(t *testing.T) {
	s := newTestServer(t, Config{})
	cat := createCategory(t, s, "Travel", "expense")
	for _, body := range []string{
		`{"date":"2024-03-01","type":"expense","amount":"10","category_id":` + itoa(cat) + `,"note":"train","tags":["trip"]}`,
		`{"date":"2024-03-05","type":"expense","amount":"20","category_id":` + itoa(cat) + `,"note":"hotel"}`,
		`{"date":"2024-04-01","type":"expense","amount":"30","category_id":` + itoa(cat) + `}`,
	} {
		createTransaction(t, s, body)
	}

	type listResp struct {
		From         string            `json:"from"`
		To           string            `json:"to"`
		Transactions []transactionJSON `json:"transactions"`
	}
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "current month by default", query: "", want: []string{"hotel", "train"}},
		{name: "explicit range", query: "?from=2024-03-04&to=2024-04-30", want: []string{"", "hotel"}},
		{name: "tag filter", query: "?month=2024-03&tag=TRIP", want: []string{"train"}},
		{name: "text search", query: "?month=2024-03&q=HOT", want: []string{"hotel"}},
		{name: "paging", query: "?month=2024-03&limit=1&offset=1", want: []string{"train"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodGet, "/api/transactions"+tt.query, "")
			expectStatus(t, rr, http.StatusOK)
			var notes []string
			for _, txn := range decode[listResp](t, rr).Transactions {
				notes = append(notes, txn.Note)
			}
			if diff := cmp.Diff(tt.want, notes); diff != "" {
				t.Errorf("notes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTransactionErrors(t *testing.T) {
	s := newTestServer(t, Config{})
	cat := createCategory(t, s, "Food", "expense")
	income := createCategory(t, s, "Salary", "income")

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		want     int
		wantKind string
	}{
		{"malformed json", http.MethodPost, "/api/transactions", `{"date":`, http.StatusBadRequest, "bad_request"},
		{"empty body", http.MethodPost, "/api/transactions", "", http.StatusBadRequest, "bad_request"},
		{"unknown field", http.MethodPost, "/api/transactions", `{"date":"2024-03-01","colour":"red"}`, http.StatusBadRequest, "bad_request"},
		{"bad amount", http.MethodPost, "/api/transactions", `{"date":"2024-03-01","type":"expense","amount":"ten","category_id":` + itoa(cat) + `}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"negative amount", http.MethodPost, "/api/transactions", `{"date":"2024-03-01","type":"expense","amount":"-1","category_id":` + itoa(cat) + `}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"bad date", http.MethodPost, "/api/transactions", `{"date":"01/03/2024","type":"expense","amount":"1","category_id":` + itoa(cat) + `}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"unknown category", http.MethodPost, "/api/transactions", `{"date":"2024-03-01","type":"expense","amount":"1","category_id":999}`, http.StatusNotFound, "not_found"},
		{"category type mismatch", http.MethodPost, "/api/transactions", `{"date":"2024-03-01","type":"expense","amount":"1","category_id":` + itoa(income) + `}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"missing entry", http.MethodGet, "/api/transactions/42", "", http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/api/transactions/abc", "", http.StatusBadRequest, "bad_request"},
		{"bad month", http.MethodGet, "/api/transactions?month=2024-13", "", http.StatusUnprocessableEntity, "validation_failed"},
		{"half a range", http.MethodGet, "/api/transactions?from=2024-03-01", "", http.StatusUnprocessableEntity, "validation_failed"},
		{"limit too large", http.MethodGet, "/api/transactions?limit=100000", "", http.StatusUnprocessableEntity, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, tt.method, tt.path, tt.body)
			expectStatus(t, rr, tt.want)
			if got := decode[errorBody](t, rr).Error.Kind; got != tt.wantKind {
				t.Errorf("kind = %q, want %q", got, tt.wantKind)
			}
		})
	}
}

func TestCategoryInUseConflict(t *testing.T) {
	s := newTestServer(t, Config{})
	cat := createCategory(t, s, "Rent", "expense")
	createTransaction(t, s, `{"date":"2024-03-01","type":"expense","amount":"900","category_id":`+itoa(cat)+`}`)

	rr := do(t, s, http.MethodDelete, "/api/categories/"+itoa(cat), "")
	expectStatus(t, rr, http.StatusConflict)

	expectStatus(t, do(t, s, http.MethodPost, "/api/categories/"+itoa(cat)+"/archive", ""), http.StatusNoContent)
	rr = do(t, s, http.MethodGet, "/api/categories?type=expense", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[[]categoryJSON](t, rr); len(got) != 0 {
		t.Errorf("archived category listed: %+v", got)
	}
	rr = do(t, s, http.MethodGet, "/api/categories?type=expense&archived=true", "")
	if got := decode[[]categoryJSON](t, rr); len(got) != 1 || got[0].ArchivedAt == nil {
		t.Errorf("archived listing = %+v", got)
	}
	expectStatus(t, do(t, s, http.MethodDelete, "/api/categories/"+itoa(cat)+"/archive", ""), http.StatusNoContent)
}

func TestRulesPreviewAndPostDue(t *testing.T) {
	s := newTestServer(t, Config{})
	cat := createCategory(t, s, "Housing", "expense")

	rr := do(t, s, http.MethodPost, "/api/rules",
		`{"name":"Rent","type":"expense","amount":"800","category_id":`+itoa(cat)+`,"anchor_date":"2024-01-31","interval_unit":"month","auto_post":true}`)
	expectStatus(t, rr, http.StatusCreated)
	rule := decode[ruleJSON](t, rr)
	if rule.Currency != "EUR" || rule.MonthDayPolicy != "snap_to_end" || rule.NextOccurrence != "2024-01-31" {
		t.Fatalf("rule defaults = %+v", rule)
	}

	rr = do(t, s, http.MethodGet, "/api/rules/"+itoa(rule.ID)+"/preview?n=4", "")
	expectStatus(t, rr, http.StatusOK)
	type previewResp struct {
		Dates []string `json:"dates"`
	}
	preview := decode[previewResp](t, rr)
	if diff := cmp.Diff([]string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}, preview.Dates); diff != "" {
		t.Errorf("preview (-want +got):\n%s", diff)
	}
	expectStatus(t, do(t, s, http.MethodGet, "/api/rules/"+itoa(rule.ID)+"/preview?n=61", ""), http.StatusUnprocessableEntity)

	rr = do(t, s, http.MethodPatch, "/api/rules/"+itoa(rule.ID), `{"end_date":"2024-03-31"}`)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[ruleJSON](t, rr).EndDate; got != "2024-03-31" {
		t.Errorf("end_date = %q", got)
	}

	rr = do(t, s, http.MethodPost, "/api/rules/post-due?today=2024-04-15", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr)["rules_advanced"]; got != float64(1) {
		t.Errorf("rules_advanced = %v, want 1", got)
	}

	for month, want := range map[string]int64{"2024-01": 80000, "2024-02": 80000, "2024-03": 80000, "2024-04": 0} {
		if got := kpis(t, s, month); got.ExpenseCents != want {
			t.Errorf("%s expense = %d, want %d", month, got.ExpenseCents, want)
		}
	}

	rr = do(t, s, http.MethodPost, "/api/rules/post-due?today=2024-04-15", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr)["rules_advanced"]; got != float64(0) {
		t.Errorf("second run rules_advanced = %v, want 0", got)
	}

	rr = do(t, s, http.MethodPatch, "/api/rules/"+itoa(rule.ID), `{"end_date":""}`)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[ruleJSON](t, rr).EndDate; got != "" {
		t.Errorf("end_date after clear = %q", got)
	}
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t, Config{})
	food := createCategory(t, s, "Food", "expense")
	salary := createCategory(t, s, "Salary", "income")
	createTransaction(t, s, `{"date":"2024-03-03","type":"expense","amount":"40","category_id":`+itoa(food)+`}`)
	createTransaction(t, s, `{"date":"2024-03-01","type":"income","amount":"1000","category_id":`+itoa(salary)+`}`)
	expectStatus(t, do(t, s, http.MethodPost, "/api/budgets/templates",
		`{"frequency":"monthly","amount":"200","starts_on":"2024-01-01"}`), http.StatusOK)
	expectStatus(t, do(t, s, http.MethodPost, "/api/rules",
		`{"name":"Gym","type":"expense","amount":"30","category_id":`+itoa(food)+`,"anchor_date":"2024-03-20","interval_unit":"month","auto_post":true}`), http.StatusCreated)

	rr := do(t, s, http.MethodGet, "/api/dashboard", "")
	expectStatus(t, rr, http.StatusOK)
	got := decode[dashboardJSON](t, rr)

	if got.Month != "2024-03" {
		t.Errorf("month = %q, want current month 2024-03", got.Month)
	}
	if got.KPIs.IncomeCents != 100000 || got.KPIs.ExpenseCents != 4000 || got.KPIs.NetCents != 96000 {
		t.Errorf("kpis = %+v", got.KPIs)
	}
	if len(got.Expenses) != 1 || got.Expenses[0].ShareBP != 10000 {
		t.Errorf("expenses = %+v", got.Expenses)
	}
	if len(got.Income) != 1 || got.Income[0].AmountCents != 100000 {
		t.Errorf("income = %+v", got.Income)
	}
	if len(got.Budgets) != 1 || got.Budgets[0].BudgetCents != 20000 || got.Budgets[0].SpentCents != 4000 {
		t.Errorf("budgets = %+v", got.Budgets)
	}
	want := []upcomingJSON{{RuleID: 1, Name: "Gym", Date: "2024-03-20"}}
	if diff := cmp.Diff(want, got.Upcoming); diff != "" {
		t.Errorf("upcoming (-want +got):\n%s", diff)
	}
}

func TestBalanceAndAnchors(t *testing.T) {
	s := newTestServer(t, Config{})
	cat := createCategory(t, s, "Misc", "expense")

	rr := do(t, s, http.MethodPost, "/api/anchors", `{"balance":"-12.50","as_of":"2024-03-01","note":"opening"}`)
	expectStatus(t, rr, http.StatusCreated)
	anchor := decode[anchorJSON](t, rr)
	if anchor.BalanceCents != -1250 {
		t.Fatalf("anchor = %+v", anchor)
	}
	createTransaction(t, s, `{"date":"2024-03-02","type":"expense","amount":"10","category_id":`+itoa(cat)+`}`)

	balanceAt := func(at string) int64 {
		t.Helper()
		rr := do(t, s, http.MethodGet, "/api/balance?at="+at, "")
		expectStatus(t, rr, http.StatusOK)
		return int64(decode[map[string]any](t, rr)["balance_cents"].(float64))
	}
	if got := balanceAt("2024-03-01"); got != -1250 {
		t.Errorf("balance at anchor day = %d, want -1250", got)
	}
	if got := balanceAt("2024-03-02"); got != -2250 {
		t.Errorf("balance after expense = %d, want -2250", got)
	}
	if got := balanceAt("2024-02-29T23:00:00Z"); got != 0 {
		t.Errorf("balance before any anchor = %d, want 0", got)
	}
	expectStatus(t, do(t, s, http.MethodGet, "/api/balance?at=yesterday", ""), http.StatusUnprocessableEntity)
	expectStatus(t, do(t, s, http.MethodPost, "/api/anchors", `{"balance":"abc"}`), http.StatusUnprocessableEntity)

	expectStatus(t, do(t, s, http.MethodDelete, "/api/anchors/"+itoa(anchor.ID), ""), http.StatusNoContent)
	if got := balanceAt("2024-03-02"); got != -1000 {
		t.Errorf("balance without anchor = %d, want -1000", got)
	}
}

func TestMiddleware(t *testing.T) {
	s := newTestServer(t, Config{})

	rr := do(t, s, http.MethodGet, "/api/tags", "")
	expectStatus(t, rr, http.StatusOK)
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "X-Request-ID"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("header %s missing", h)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("request id = %q, want echoed abc-123", got)
	}

	var sawCache, sawLogger bool
	h := s.withTrace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawCache = services.PeriodCacheFrom(r.Context()) != nil
		sawLogger = log.FromContext(r.Context()).Component() == log.ComponentHTTP
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !sawCache || !sawLogger {
		t.Errorf("request context: period cache %v, logger %v", sawCache, sawLogger)
	}

	expectStatus(t, do(t, s, http.MethodGet, "/api/nope", ""), http.StatusNotFound)
	expectStatus(t, do(t, s, http.MethodPut, "/api/transactions", "{}"), http.StatusMethodNotAllowed)
}

func TestRateLimitOnWrites(t *testing.T) {
	s := newTestServer(t, Config{RequestsPerMinute: 2})

	for _, name := range []string{"a", "b"} {
		expectStatus(t, do(t, s, http.MethodPost, "/api/tags", `{"name":"`+name+`"}`), http.StatusCreated)
	}
	rr := do(t, s, http.MethodPost, "/api/tags", `{"name":"c"}`)
	expectStatus(t, rr, http.StatusTooManyRequests)
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
	if got := decode[errorBody](t, rr).Error.Kind; got != "rate_limited" {
		t.Errorf("kind = %q", got)
	}
	// Reads are not limited.
	expectStatus(t, do(t, s, http.MethodGet, "/api/tags", ""), http.StatusOK)
}

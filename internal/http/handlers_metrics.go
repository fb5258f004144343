package http

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

func (s *Server) registerMetricsRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/metrics/kpis", s.handleKPIs)
	mux.HandleFunc("GET /api/metrics/breakdown", s.handleBreakdown)
	mux.HandleFunc("GET /api/metrics/daily", s.handleDailySeries)
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r.URL.Query(), s.loc, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	kpis, err := s.svc.Metrics.KPIs(r.Context(), s.userID, period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toKPIsJSON(kpis))
}

func (s *Server) breakdownFilter(r *http.Request) (services.BreakdownFilter, error) {
	q := r.URL.Query()
	typ, err := typeParam(q)
	if err != nil {
		return services.BreakdownFilter{}, err
	}
	categoryID, err := optionalIDParam(q, "category")
	if err != nil {
		return services.BreakdownFilter{}, err
	}
	excludeHidden, err := boolParam(q, "exclude_hidden")
	if err != nil {
		return services.BreakdownFilter{}, err
	}
	return services.BreakdownFilter{
		Type:          typ,
		CategoryID:    categoryID,
		Tags:          q["tag"],
		ExcludeHidden: excludeHidden,
	}, nil
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r.URL.Query(), s.loc, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, err := s.breakdownFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := s.svc.Metrics.CategoryBreakdown(r.Context(), s.userID, period, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryAmounts(rows))
}

func (s *Server) handleDailySeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := parsePeriod(q, s.loc, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	typ, err := typeParam(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	series, err := s.svc.Metrics.DailySeries(r.Context(), s.userID, period, typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]dailyAmountJSON, len(series))
	for i, p := range series {
		out[i] = dailyAmountJSON{Date: p.Date.String(), AmountCents: p.Amount.Cents}
	}
	writeJSON(w, http.StatusOK, out)
}

type dashboardJSON struct {
	Month    string               `json:"month"`
	KPIs     kpisJSON             `json:"kpis"`
	Expenses []categoryAmountJSON `json:"expenses_by_category"`
	Income   []categoryAmountJSON `json:"income_by_category"`
	Budgets  []budgetProgressJSON `json:"budgets"`
	Upcoming []upcomingJSON       `json:"upcoming"`
}

type upcomingJSON struct {
	RuleID int64  `json:"rule_id"`
	Name   string `json:"name"`
	Date   string `json:"date"`
}

// handleDashboard assembles one month's view. The parts are independent
// reads and load concurrently.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ym, err := monthParam(r.URL.Query(), s.loc, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := ym.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	period := ym.Period()
	out := dashboardJSON{Month: ym.String()}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		kpis, err := s.svc.Metrics.KPIs(ctx, s.userID, period)
		out.KPIs = toKPIsJSON(kpis)
		return err
	})
	g.Go(func() error {
		rows, err := s.svc.Metrics.CategoryBreakdown(ctx, s.userID, period, services.BreakdownFilter{Type: core.Expense})
		out.Expenses = toCategoryAmounts(rows)
		return err
	})
	g.Go(func() error {
		rows, err := s.svc.Metrics.CategoryBreakdown(ctx, s.userID, period, services.BreakdownFilter{Type: core.Income})
		out.Income = toCategoryAmounts(rows)
		return err
	})
	g.Go(func() error {
		progress, err := s.svc.Budgets.Progress(ctx, s.userID, ym.Year, ym.Month)
		out.Budgets = toBudgetProgress(progress)
		return err
	})
	g.Go(func() error {
		upcoming, err := s.upcoming(ctx, period)
		out.Upcoming = upcoming
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// upcoming lists auto-post occurrences still due within period.
func (s *Server) upcoming(ctx context.Context, period core.Period) ([]upcomingJSON, error) {
	rules, err := s.svc.Rules.List(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	out := []upcomingJSON{}
	for _, rule := range rules {
		if !rule.AutoPost || rule.NextOccurrence.After(period.End.Time) {
			continue
		}
		dates, err := s.svc.Rules.Preview(ctx, s.userID, rule.ID, maxUpcomingPerRule)
		if err != nil {
			return nil, err
		}
		for _, d := range dates {
			if d.After(period.End.Time) {
				break
			}
			if d.Before(period.Start.Time) {
				continue
			}
			out = append(out, upcomingJSON{RuleID: rule.ID, Name: rule.Name, Date: d.String()})
		}
	}
	return out, nil
}

const maxUpcomingPerRule = 31

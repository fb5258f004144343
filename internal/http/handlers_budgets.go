package http

import (
	"net/http"
	"strings"

	"fintrack/internal/core"
)

type budgetTemplateRequest struct {
	Frequency  string  `json:"frequency"`
	CategoryID *int64  `json:"category_id"`
	Amount     string  `json:"amount"`
	StartsOn   string  `json:"starts_on"`
	EndsOn     *string `json:"ends_on"`
}

type budgetOverrideRequest struct {
	Month      string `json:"month"`
	CategoryID *int64 `json:"category_id"`
	Amount     string `json:"amount"`
}

func toBudgetProgress(in []core.BudgetProgress) []budgetProgressJSON {
	out := make([]budgetProgressJSON, len(in))
	for i, p := range in {
		out[i] = budgetProgressJSON{
			CategoryID:     p.CategoryID,
			BudgetCents:    p.Budget,
			SpentCents:     p.Spent,
			RemainingCents: p.Remaining,
		}
	}
	return out
}

func (s *Server) registerBudgetRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/budgets", s.handleBudgetProgress)
	mux.HandleFunc("GET /api/budgets/effective", s.handleEffectiveBudgets)
	mux.HandleFunc("GET /api/budgets/templates", s.handleListBudgetTemplates)
	mux.HandleFunc("POST /api/budgets/templates", s.handleUpsertBudgetTemplate)
	mux.HandleFunc("DELETE /api/budgets/templates/{id}", s.handleDeleteBudgetTemplate)
	mux.HandleFunc("PUT /api/budgets/overrides", s.handleUpsertBudgetOverride)
	mux.HandleFunc("DELETE /api/budgets/overrides/{id}", s.handleDeleteBudgetOverride)
}

func (s *Server) handleBudgetProgress(w http.ResponseWriter, r *http.Request) {
	ym, err := monthParam(r.URL.Query(), s.loc, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	progress, err := s.svc.Budgets.Progress(r.Context(), s.userID, ym.Year, ym.Month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetProgress(progress))
}

func (s *Server) handleEffectiveBudgets(w http.ResponseWriter, r *http.Request) {
	ym, err := monthParam(r.URL.Query(), s.loc, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	budgets, err := s.svc.Budgets.EffectiveBudgets(r.Context(), s.userID, ym.Year, ym.Month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	type effectiveJSON struct {
		CategoryID  *int64 `json:"category_id"`
		AmountCents int64  `json:"amount_cents"`
		Overridden  bool   `json:"overridden"`
	}
	out := make([]effectiveJSON, len(budgets))
	for i, b := range budgets {
		out[i] = effectiveJSON{CategoryID: b.CategoryID, AmountCents: b.Amount.Cents, Overridden: b.Overridden}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListBudgetTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.svc.Budgets.ListTemplates(r.Context(), s.userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]budgetTemplateJSON, len(templates))
	for i, t := range templates {
		out[i] = toBudgetTemplateJSON(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertBudgetTemplate(w http.ResponseWriter, r *http.Request) {
	var req budgetTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	startsOn, err := core.ParseDate(req.StartsOn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	endsOn, err := parseOptionalDate(req.EndsOn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cents, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.svc.Budgets.UpsertTemplate(r.Context(), s.userID, core.BudgetTemplateInput{
		Frequency:   core.BudgetFrequency(strings.ToLower(req.Frequency)),
		CategoryID:  req.CategoryID,
		AmountCents: cents,
		StartsOn:    startsOn,
		EndsOn:      endsOn,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetTemplateJSON(t))
}

func (s *Server) handleDeleteBudgetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Budgets.DeleteTemplate(r.Context(), s.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleUpsertBudgetOverride(w http.ResponseWriter, r *http.Request) {
	var req budgetOverrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ym, err := parseYearMonth(req.Month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cents, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.svc.Budgets.UpsertOverride(r.Context(), s.userID, core.BudgetOverrideInput{
		Year:        ym.Year,
		Month:       ym.Month,
		CategoryID:  req.CategoryID,
		AmountCents: cents,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetOverrideJSON{
		ID:          o.ID,
		Month:       core.NewYearMonth(o.Year, o.Month).String(),
		CategoryID:  o.CategoryID,
		AmountCents: o.Amount.Cents,
	})
}

func (s *Server) handleDeleteBudgetOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Budgets.DeleteOverride(r.Context(), s.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

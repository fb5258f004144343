package http

import (
	"net/http"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

type ruleRequest struct {
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Currency       string  `json:"currency"`
	Amount         string  `json:"amount"`
	CategoryID     int64   `json:"category_id"`
	AnchorDate     string  `json:"anchor_date"`
	IntervalUnit   string  `json:"interval_unit"`
	IntervalCount  int     `json:"interval_count"`
	NextOccurrence *string `json:"next_occurrence"`
	EndDate        *string `json:"end_date"`
	AutoPost       bool    `json:"auto_post"`
	SkipWeekends   bool    `json:"skip_weekends"`
	MonthDayPolicy string  `json:"month_day_policy"`
}

func (req ruleRequest) input() (core.RuleInput, error) {
	anchor, err := core.ParseDate(req.AnchorDate)
	if err != nil {
		return core.RuleInput{}, err
	}
	var next core.Date
	if d, err := parseOptionalDate(req.NextOccurrence); err != nil {
		return core.RuleInput{}, err
	} else if d != nil {
		next = *d
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		return core.RuleInput{}, err
	}
	cents, err := parseAmount(req.Amount)
	if err != nil {
		return core.RuleInput{}, err
	}
	count := req.IntervalCount
	if count == 0 {
		count = 1
	}
	return core.RuleInput{
		Name:           sanitizeInput(req.Name),
		Type:           core.TransactionType(strings.ToLower(req.Type)),
		Currency:       core.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		AmountCents:    cents,
		CategoryID:     req.CategoryID,
		AnchorDate:     anchor,
		IntervalUnit:   core.IntervalUnit(strings.ToLower(req.IntervalUnit)),
		IntervalCount:  count,
		NextOccurrence: next,
		EndDate:        end,
		AutoPost:       req.AutoPost,
		SkipWeekends:   req.SkipWeekends,
		MonthDayPolicy: core.MonthDayPolicy(strings.ToLower(req.MonthDayPolicy)),
	}, nil
}

// rulePatch carries only the fields to change. An end_date of "" clears it.
type rulePatch struct {
	Name           *string `json:"name"`
	Type           *string `json:"type"`
	Currency       *string `json:"currency"`
	Amount         *string `json:"amount"`
	CategoryID     *int64  `json:"category_id"`
	AnchorDate     *string `json:"anchor_date"`
	IntervalUnit   *string `json:"interval_unit"`
	IntervalCount  *int    `json:"interval_count"`
	NextOccurrence *string `json:"next_occurrence"`
	EndDate        *string `json:"end_date"`
	SkipWeekends   *bool   `json:"skip_weekends"`
	MonthDayPolicy *string `json:"month_day_policy"`
}

func (p rulePatch) update() (services.RuleUpdate, error) {
	upd := services.RuleUpdate{
		CategoryID:    p.CategoryID,
		IntervalCount: p.IntervalCount,
		SkipWeekends:  p.SkipWeekends,
	}
	if p.Name != nil {
		name := sanitizeInput(*p.Name)
		upd.Name = &name
	}
	if p.Type != nil {
		typ := core.TransactionType(strings.ToLower(*p.Type))
		upd.Type = &typ
	}
	if p.Currency != nil {
		cur := core.Currency(strings.ToUpper(strings.TrimSpace(*p.Currency)))
		upd.Currency = &cur
	}
	if p.Amount != nil {
		cents, err := parseAmount(*p.Amount)
		if err != nil {
			return upd, err
		}
		upd.AmountCents = &cents
	}
	if p.AnchorDate != nil {
		d, err := core.ParseDate(*p.AnchorDate)
		if err != nil {
			return upd, err
		}
		upd.AnchorDate = &d
	}
	if p.IntervalUnit != nil {
		unit := core.IntervalUnit(strings.ToLower(*p.IntervalUnit))
		upd.IntervalUnit = &unit
	}
	if p.NextOccurrence != nil {
		d, err := core.ParseDate(*p.NextOccurrence)
		if err != nil {
			return upd, err
		}
		upd.NextOccurrence = &d
	}
	if p.EndDate != nil {
		end, err := parseOptionalDate(p.EndDate)
		if err != nil {
			return upd, err
		}
		if end == nil {
			upd.ClearEndDate = true
		} else {
			upd.EndDate = end
		}
	}
	if p.MonthDayPolicy != nil {
		policy := core.MonthDayPolicy(strings.ToLower(*p.MonthDayPolicy))
		upd.MonthDayPolicy = &policy
	}
	return upd, nil
}

func (s *Server) registerRuleRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules", s.handleCreateRule)
	mux.HandleFunc("POST /api/rules/post-due", s.handlePostDueRules)
	mux.HandleFunc("GET /api/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PATCH /api/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", s.handleDeleteRule)
	mux.HandleFunc("PUT /api/rules/{id}/auto-post", s.handleSetAutoPost)
	mux.HandleFunc("GET /api/rules/{id}/preview", s.handlePreviewRule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.Rules.List(r.Context(), s.userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ruleJSON, len(rules))
	for i, rule := range rules {
		out[i] = toRuleJSON(rule)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := s.svc.Rules.Create(r.Context(), s.userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleJSON(rule))
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := s.svc.Rules.Get(r.Context(), s.userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleJSON(rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var patch rulePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	upd, err := patch.update()
	if err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := s.svc.Rules.Update(r.Context(), s.userID, id, upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleJSON(rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Rules.Delete(r.Context(), s.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleSetAutoPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Rules.SetAutoPost(r.Context(), s.userID, id, req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handlePreviewRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := intParam(r.URL.Query(), "n", 12)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dates, err := s.svc.Rules.Preview(r.Context(), s.userID, id, n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": id, "dates": dateStrings(dates)})
}

// handlePostDueRules runs the same catch-up the scheduler runs. Rules that
// fail are reported in the error while the others still post.
func (s *Server) handlePostDueRules(w http.ResponseWriter, r *http.Request) {
	today := s.svc.Engine.Today()
	if v := strings.TrimSpace(r.URL.Query().Get("today")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		today = d
	}
	moved, err := s.svc.Engine.PostDueRules(r.Context(), s.userID, today)
	if err != nil {
		requestLogger(r.Context()).Warn("Posting due rules finished with errors",
			log.FieldCount, moved, log.FieldError, err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"today": today.String(), "rules_advanced": moved})
}

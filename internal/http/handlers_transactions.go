package http

import (
	"net/http"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

const maxPageSize = 500

type transactionRequest struct {
	Date            string   `json:"date"`
	OccurredAt      *string  `json:"occurred_at"`
	Type            string   `json:"type"`
	Amount          string   `json:"amount"`
	CategoryID      int64    `json:"category_id"`
	Note            string   `json:"note"`
	IsReimbursement bool     `json:"is_reimbursement"`
	Tags            []string `json:"tags"`
}

func (req transactionRequest) input() (core.TransactionInput, error) {
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.TransactionInput{}, err
	}
	occurred, err := parseOptionalInstant(req.OccurredAt)
	if err != nil {
		return core.TransactionInput{}, err
	}
	cents, err := parseAmount(req.Amount)
	if err != nil {
		return core.TransactionInput{}, err
	}
	return core.TransactionInput{
		Date:            date,
		OccurredAt:      occurred,
		Type:            core.TransactionType(strings.ToLower(req.Type)),
		AmountCents:     cents,
		CategoryID:      req.CategoryID,
		Note:            sanitizeInput(req.Note),
		IsReimbursement: req.IsReimbursement,
		Tags:            req.Tags,
	}, nil
}

// transactionPatch carries only the fields to change.
type transactionPatch struct {
	Date            *string   `json:"date"`
	OccurredAt      *string   `json:"occurred_at"`
	Type            *string   `json:"type"`
	Amount          *string   `json:"amount"`
	CategoryID      *int64    `json:"category_id"`
	Note            *string   `json:"note"`
	IsReimbursement *bool     `json:"is_reimbursement"`
	Tags            *[]string `json:"tags"`
}

func (p transactionPatch) update() (services.TransactionUpdate, error) {
	upd := services.TransactionUpdate{
		CategoryID:      p.CategoryID,
		IsReimbursement: p.IsReimbursement,
		Tags:            p.Tags,
	}
	if p.Date != nil {
		d, err := core.ParseDate(*p.Date)
		if err != nil {
			return upd, err
		}
		upd.Date = &d
	}
	if p.OccurredAt != nil {
		t, err := parseOptionalInstant(p.OccurredAt)
		if err != nil {
			return upd, err
		}
		if !t.IsZero() {
			upd.OccurredAt = &t
		}
	}
	if p.Type != nil {
		typ := core.TransactionType(strings.ToLower(*p.Type))
		upd.Type = &typ
	}
	if p.Amount != nil {
		cents, err := parseAmount(*p.Amount)
		if err != nil {
			return upd, err
		}
		upd.AmountCents = &cents
	}
	if p.Note != nil {
		note := sanitizeInput(*p.Note)
		upd.Note = &note
	}
	return upd, nil
}

type allocationRequest struct {
	ReimbursementID int64  `json:"reimbursement_id"`
	ExpenseID       int64  `json:"expense_id"`
	Amount          string `json:"amount"`
}

func (s *Server) registerTransactionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("PATCH /api/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	mux.HandleFunc("POST /api/transactions/{id}/restore", s.handleRestoreTransaction)
	mux.HandleFunc("PUT /api/transactions/{id}/tags", s.handleSetTransactionTags)
	mux.HandleFunc("GET /api/transactions/{id}/allocations", s.handleListAllocations)
	mux.HandleFunc("POST /api/allocations", s.handleUpsertAllocation)
	mux.HandleFunc("DELETE /api/allocations/{id}", s.handleDeleteAllocation)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
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
	categoryID, err := optionalIDParam(q, "category")
	if err != nil {
		writeError(w, r, err)
		return
	}
	includeDeleted, err := boolParam(q, "include_deleted")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(q, "limit", 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit < 1 || limit > maxPageSize {
		writeError(w, r, core.Invalidf("limit must be between 1 and %d", maxPageSize))
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	txns, err := s.svc.Transactions.List(r.Context(), s.userID, period, services.ListFilter{
		Type:           typ,
		CategoryID:     categoryID,
		Tags:           q["tag"],
		Query:          sanitizeInput(q.Get("q")),
		IncludeDeleted: includeDeleted,
	}, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transactionJSON, len(txns))
	for i, t := range txns {
		out[i] = toTransactionJSON(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":         period.Start.String(),
		"to":           period.End.String(),
		"transactions": out,
	})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	txn, err := s.svc.Transactions.Create(r.Context(), s.userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionJSON(txn))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	txn, err := s.svc.Transactions.Get(r.Context(), s.userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(txn))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var patch transactionPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	upd, err := patch.update()
	if err != nil {
		writeError(w, r, err)
		return
	}
	txn, err := s.svc.Transactions.Update(r.Context(), s.userID, id, upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(txn))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Transactions.SoftDelete(r.Context(), s.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleRestoreTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Transactions.Restore(r.Context(), s.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	txn, err := s.svc.Transactions.Get(r.Context(), s.userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(txn))
}

func (s *Server) handleSetTransactionTags(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Transactions.SetTags(r.Context(), s.userID, id, req.Tags); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	allocs, err := s.svc.Reimbursement.ListAllocations(r.Context(), s.userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]allocationJSON, len(allocs))
	for i, a := range allocs {
		out[i] = toAllocationJSON(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cents, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	alloc, err := s.svc.Reimbursement.UpsertAllocation(r.Context(), s.userID, req.ReimbursementID, req.ExpenseID, cents)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationJSON(alloc))
}

func (s *Server) handleDeleteAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Reimbursement.DeleteAllocation(r.Context(), s.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

package http

import (
	"net/http"
	"time"

	"fintrack/internal/core"
)

type anchorRequest struct {
	AsOf    string `json:"as_of"`
	Balance string `json:"balance"`
	Note    string `json:"note"`
}

func (s *Server) registerBalanceRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/balance", s.handleBalance)
	mux.HandleFunc("GET /api/anchors", s.handleListAnchors)
	mux.HandleFunc("POST /api/anchors", s.handleCreateAnchor)
	mux.HandleFunc("DELETE /api/anchors/{id}", s.handleDeleteAnchor)
}

// handleBalance reconstructs the balance at ?at=, which is RFC 3339 or a
// date meaning the end of that day. It defaults to now.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	at, err := parseInstant(r.URL.Query().Get("at"), s.loc, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	balance, err := s.svc.Balance.BalanceAsOf(r.Context(), s.userID, at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"at":            at.Format(time.RFC3339),
		"balance_cents": balance,
	})
}

func (s *Server) handleListAnchors(w http.ResponseWriter, r *http.Request) {
	anchors, err := s.svc.Balance.ListAnchors(r.Context(), s.userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]anchorJSON, len(anchors))
	for i, a := range anchors {
		out[i] = toAnchorJSON(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAnchor(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cents, err := core.ParseSignedCents(req.Balance)
	if err != nil {
		writeError(w, r, core.Invalidf("invalid balance %q", req.Balance))
		return
	}
	asOf, err := parseInstant(req.AsOf, s.loc, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.svc.Balance.CreateAnchor(r.Context(), s.userID, core.AnchorInput{
		AsOf:         asOf,
		BalanceCents: cents,
		Note:         sanitizeInput(req.Note),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAnchorJSON(a))
}

func (s *Server) handleDeleteAnchor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Balance.DeleteAnchor(r.Context(), s.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

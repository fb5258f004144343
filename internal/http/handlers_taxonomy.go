package http

import (
	"net/http"
	"strings"

	"fintrack/internal/core"
)

type categoryRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Color string `json:"color"`
	Order int    `json:"order"`
}

func (req categoryRequest) input() core.CategoryInput {
	return core.CategoryInput{
		Name:  sanitizeInput(req.Name),
		Type:  core.TransactionType(strings.ToLower(req.Type)),
		Color: req.Color,
		Order: req.Order,
	}
}

type tagRequest struct {
	Name             string `json:"name"`
	Color            string `json:"color"`
	HiddenFromBudget bool   `json:"hidden_from_budget"`
}

func (s *Server) registerTaxonomyRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("PUT /api/categories/{id}", s.handleUpdateCategory)
	mux.HandleFunc("POST /api/categories/{id}/archive", s.handleArchiveCategory)
	mux.HandleFunc("DELETE /api/categories/{id}/archive", s.handleUnarchiveCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)

	mux.HandleFunc("GET /api/tags", s.handleListTags)
	mux.HandleFunc("POST /api/tags", s.handleCreateTag)
	mux.HandleFunc("PUT /api/tags/{id}/hidden", s.handleSetTagHidden)
	mux.HandleFunc("DELETE /api/tags/{id}", s.handleDeleteTag)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, err := typeParam(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	archived, err := boolParam(q, "archived")
	if err != nil {
		writeError(w, r, err)
		return
	}
	cats, err := s.svc.Categories.List(r.Context(), s.userID, typ, archived)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryJSON, len(cats))
	for i, c := range cats {
		out[i] = toCategoryJSON(c)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.svc.Categories.Create(r.Context(), s.userID, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryJSON(c))
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.svc.Categories.Update(r.Context(), s.userID, id, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryJSON(c))
}

func (s *Server) handleArchiveCategory(w http.ResponseWriter, r *http.Request) {
	s.setArchived(w, r, true)
}

func (s *Server) handleUnarchiveCategory(w http.ResponseWriter, r *http.Request) {
	s.setArchived(w, r, false)
}

func (s *Server) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if archived {
		err = s.svc.Categories.Archive(r.Context(), s.userID, id)
	} else {
		err = s.svc.Categories.Unarchive(r.Context(), s.userID, id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Categories.Delete(r.Context(), s.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.svc.Tags.List(r.Context(), s.userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]tagJSON, len(tags))
	for i, t := range tags {
		out[i] = toTagJSON(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.svc.Tags.Create(r.Context(), s.userID, core.TagInput{
		Name:             sanitizeInput(req.Name),
		Color:            req.Color,
		HiddenFromBudget: req.HiddenFromBudget,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTagJSON(t))
}

func (s *Server) handleSetTagHidden(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Hidden bool `json:"hidden"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Tags.SetHiddenFromBudget(r.Context(), s.userID, id, req.Hidden); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Tags.Delete(r.Context(), s.userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

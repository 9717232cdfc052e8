package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/bid-engine/internal/models"
)

// Intake handlers

func (s *Server) handleCreateParent(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req models.CreateParentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	parent, err := s.engine.CreateParent(r.Context(), req.Kind, a.Subject)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, parent)
}

func (s *Server) handleGetParent(w http.ResponseWriter, r *http.Request) {
	parent, err := s.engine.GetParent(r.Context(), chi.URLParam(r, "parentId"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, parent)
}

func (s *Server) handleListParents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := models.ParentFilters{
		Kind:    models.ResourceKind(q.Get("kind")),
		OwnerID: q.Get("owner"),
	}
	if filters.Kind != "" && !filters.Kind.Valid() {
		respondError(w, http.StatusBadRequest, "validation_error", "unknown kind filter")
		return
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		filters.Limit = n
	}
	if offset := q.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "validation_error", "offset must be a non-negative integer")
			return
		}
		filters.Offset = n
	}

	parents, err := s.engine.ListParents(r.Context(), filters)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"parents": parents,
		"total":   len(parents),
	})
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req models.PlaceBidRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	bid, err := s.engine.PlaceBid(r.Context(), chi.URLParam(r, "parentId"), a.Subject, req)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, bid)
}

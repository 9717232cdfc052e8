package api

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/bid-engine/internal/guard"
	"github.com/terra-clan/bid-engine/internal/models"
)

// Review handlers

// bidView is a bid plus the statuses the caller may move it to
type bidView struct {
	*models.BidRecord
	Actions []models.BidStatus `json:"actions"`
}

type listingResponse struct {
	Parent *models.ParentResource   `json:"parent"`
	Role   models.Role              `json:"role"`
	Bids   []bidView                `json:"bids"`
	Counts map[models.BidStatus]int `json:"counts"`
	Total  int                      `json:"total"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	bidID := chi.URLParam(r, "bidId")

	var req models.UpdateStatusRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	parent, err := s.parentForBid(r.Context(), bidID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	bid, err := s.engine.UpdateStatus(r.Context(), bidID, req.Status, roleFor(parent, a))
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, bid)
}

func (s *Server) handleSelectWinner(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	parentID := chi.URLParam(r, "parentId")
	bidID := chi.URLParam(r, "bidId")

	parent, err := s.engine.GetParent(r.Context(), parentID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	sel, err := s.engine.SelectWinner(r.Context(), parentID, bidID, roleFor(parent, a))
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sel)
}

func (s *Server) handleListProjectBids(w http.ResponseWriter, r *http.Request) {
	s.listBids(w, r, models.KindProjectProfile)
}

func (s *Server) handleListInterviewBids(w http.ResponseWriter, r *http.Request) {
	s.listBids(w, r, models.KindInterviewRequest)
}

// listBids serves a consistent listing, optionally narrowed by ?status=.
// Counts always cover every bid of the parent.
func (s *Server) listBids(w http.ResponseWriter, r *http.Request, kind models.ResourceKind) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	parentID := chi.URLParam(r, "parentId")

	var filter models.BidStatus
	if v := r.URL.Query().Get("status"); v != "" {
		filter = models.BidStatus(v)
		if !filter.Valid() {
			respondError(w, http.StatusBadRequest, "validation_error", "unknown status filter")
			return
		}
	}

	listing, err := s.engine.ListBids(r.Context(), parentID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if listing.Parent.Kind != kind {
		respondError(w, http.StatusNotFound, "not_found", "parent resource not found")
		return
	}

	role := roleFor(listing.Parent, a)
	views := make([]bidView, 0, len(listing.Bids))
	for _, b := range listing.Bids {
		if filter != "" && b.Status != filter {
			continue
		}
		views = append(views, bidView{
			BidRecord: b,
			Actions:   actionsFor(listing.Parent, b, role),
		})
	}

	respondJSON(w, http.StatusOK, listingResponse{
		Parent: listing.Parent,
		Role:   role,
		Bids:   views,
		Counts: listing.Counts,
		Total:  listing.Total,
	})
}

// actionsFor lists the transitions role could request on b right now
func actionsFor(parent *models.ParentResource, b *models.BidRecord, role models.Role) []models.BidStatus {
	actions := guard.Targets(parent.Kind, b.Status, role)
	if parent.IsResolved() {
		actions = slices.DeleteFunc(actions, func(s models.BidStatus) bool {
			return s == models.BidAccepted
		})
	}
	return actions
}

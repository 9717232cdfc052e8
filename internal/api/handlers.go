package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/terra-clan/bid-engine/internal/engine"
	"github.com/terra-clan/bid-engine/internal/health"
	"github.com/terra-clan/bid-engine/internal/models"
)

const (
	// maxRequestBody caps JSON request bodies
	maxRequestBody = 64 << 10

	// statusClientClosedRequest is the nginx convention for a caller that disconnected
	statusClientClosedRequest = 499
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondEngineError maps engine errors onto HTTP statuses
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, engine.ErrAlreadyInState):
		respondError(w, http.StatusUnprocessableEntity, "already_in_state", err.Error())
	case errors.Is(err, engine.ErrInvalidTransition):
		respondError(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case errors.Is(err, engine.ErrResourceAlreadyResolved):
		respondError(w, http.StatusConflict, "resource_already_resolved", err.Error())
	case errors.Is(err, engine.ErrDuplicateBid):
		respondError(w, http.StatusConflict, "duplicate_bid", err.Error())
	case errors.Is(err, engine.ErrOwnResource):
		respondError(w, http.StatusUnprocessableEntity, "own_resource", err.Error())
	case errors.Is(err, engine.ErrInvalidBid):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, engine.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "lock_timeout", "resource is busy, retry shortly")
	case errors.Is(err, engine.ErrCanceled), errors.Is(err, context.Canceled):
		// the client is gone, so the body is rarely read
		respondError(w, statusClientClosedRequest, "request_canceled", "request canceled")
	default:
		slog.Error("unhandled engine error", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondError(w, http.StatusBadRequest, "validation_error",
				verrs[0].Field()+" failed "+verrs[0].Tag()+" validation")
			return false
		}
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	return true
}

// actor returns the authenticated caller, writing 401 if there is none
func actor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	a, ok := ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	return a, ok
}

// roleFor resolves the caller's role on a parent. Owners review; everyone else bids.
func roleFor(parent *models.ParentResource, a Actor) models.Role {
	if a.Subject == parent.OwnerID {
		return models.RoleCreator
	}
	return models.RoleBidder
}

// parentForBid loads the parent a bid belongs to
func (s *Server) parentForBid(ctx context.Context, bidID string) (*models.ParentResource, error) {
	bid, err := s.engine.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	return s.engine.GetParent(ctx, bid.ParentResourceID)
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := s.health.HealthCheckAll(r.Context())

	checks := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			checks[name] = err.Error()
			slog.Warn("readiness check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	if !health.Healthy(results) {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"checks": checks,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ad_publisher/internal/domain"
	"ad_publisher/internal/service"
)

type ConfirmBudgetRequest struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
	// Result is set for failed publish attempts.
	Result *domain.PublishResult `json:"result,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleProposeBudget handles POST /api/v1/campaigns/{id}/budget/proposal
func (s *Server) handleProposeBudget(w http.ResponseWriter, r *http.Request) {
	p, err := s.services.Budget.Propose(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()))
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, p)
}

// handleConfirmBudget handles POST /api/v1/campaigns/{id}/budget/confirm
func (s *Server) handleConfirmBudget(w http.ResponseWriter, r *http.Request) {
	var req ConfirmBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		sendError(w, http.StatusBadRequest, "token is required", "")
		return
	}

	owner := ownerFrom(r.Context())
	p, err := s.services.Budget.Confirm(r.Context(), chi.URLParam(r, "id"), owner, "user:"+owner, req.Token)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, p)
}

// handlePublish handles POST /api/v1/campaigns/{id}/publish[?republish=true]
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	owner := ownerFrom(r.Context())

	republish, err := boolQuery(r, "republish")
	if err != nil {
		sendError(w, http.StatusBadRequest, "republish must be a boolean", "")
		return
	}

	if err := s.services.Budget.RequireConfirmed(r.Context(), id, owner); err != nil {
		s.sendFailure(w, r, err)
		return
	}

	result, err := s.services.Publish.Publish(r.Context(), service.PublishRequest{
		DraftID:   id,
		OwnerID:   owner,
		Actor:     "user:" + owner,
		Supersede: republish,
	})
	if err != nil {
		if result != nil {
			sendJSON(w, statusFor(err), ErrorResponse{
				Error:  err.Error(),
				Kind:   result.ErrorKind,
				Result: result,
			})
			return
		}
		s.sendFailure(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, result)
}

// handleStatus handles GET /api/v1/campaigns/{id}/status[?live=true]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	live, err := boolQuery(r, "live")
	if err != nil {
		sendError(w, http.StatusBadRequest, "live must be a boolean", "")
		return
	}

	report, err := s.services.Status.GetStatus(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()), live)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, report)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.changeAdStatus(w, r, s.services.Lifecycle.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.changeAdStatus(w, r, s.services.Lifecycle.Resume)
}

func (s *Server) changeAdStatus(
	w http.ResponseWriter,
	r *http.Request,
	change func(ctx context.Context, req service.LifecycleRequest) (*domain.AdStatus, error),
) {
	owner := ownerFrom(r.Context())
	status, err := change(r.Context(), service.LifecycleRequest{
		AdID:    chi.URLParam(r, "id"),
		OwnerID: owner,
		Actor:   "user:" + owner,
	})
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, status)
}

func boolQuery(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBudgetNotConfirmed),
		errors.Is(err, domain.ErrBudgetChanged),
		errors.Is(err, domain.ErrCapabilityDisabled):
		return http.StatusConflict
	}

	switch domain.KindOf(err) {
	case domain.KindNotFound, domain.KindNotPublished:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNoCredential:
		return http.StatusPreconditionFailed
	case domain.KindFetch, domain.KindNetworkTimeout, domain.KindRateLimit, domain.KindCanceled:
		return http.StatusServiceUnavailable
	case domain.KindCredentialRejected, domain.KindPlatformRejection:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) sendFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"error", err,
		)
		sendError(w, code, "internal error", domain.KindInternal)
		return
	}
	var kind domain.ErrorKind
	if code != http.StatusConflict {
		kind = domain.KindOf(err)
	}
	sendError(w, code, err.Error(), kind)
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string, kind domain.ErrorKind) {
	sendJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

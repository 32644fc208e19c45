package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ad_publisher/internal/domain"
	"ad_publisher/internal/metrics"
)

type LifecycleRequest struct {
	AdID string
	// OwnerID must own the ad's draft when set.
	OwnerID string
	Actor   string
	// CredentialOverride is a token supplied out of band; it bypasses the
	// credential resolver.
	CredentialOverride string
}

// LifecycleService pauses and resumes individual published ads.
type LifecycleService struct {
	drafts      DraftStore
	resources   ResourceStore
	credentials CredentialResolver
	platform    Platform
	audit       *auditor
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewLifecycleService(
	drafts DraftStore,
	resources ResourceStore,
	audit AuditStore,
	credentials CredentialResolver,
	platform Platform,
	publisher Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *LifecycleService {
	logger = logger.With("component", "lifecycle")
	return &LifecycleService{
		drafts:      drafts,
		resources:   resources,
		credentials: credentials,
		platform:    platform,
		audit:       &auditor{store: audit, publisher: publisher, logger: logger},
		metrics:     m,
		logger:      logger,
	}
}

func (s *LifecycleService) Pause(ctx context.Context, req LifecycleRequest) (*domain.AdStatus, error) {
	return s.setStatus(ctx, req, domain.AdStatusPaused)
}

func (s *LifecycleService) Resume(ctx context.Context, req LifecycleRequest) (*domain.AdStatus, error) {
	return s.setStatus(ctx, req, domain.AdStatusActive)
}

// setStatus changes exactly one ad. Everything that can be checked locally
// is checked before the platform is contacted.
func (s *LifecycleService) setStatus(ctx context.Context, req LifecycleRequest, status domain.AdStatusValue) (*domain.AdStatus, error) {
	out, err := s.apply(ctx, req, status)

	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	s.metrics.IncAdStatusChange(string(status), outcome)

	return out, err
}

func (s *LifecycleService) apply(ctx context.Context, req LifecycleRequest, status domain.AdStatusValue) (*domain.AdStatus, error) {
	rr, err := s.resources.GetActive(ctx, domain.ResourceAd, req.AdID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("ad %s: %w", req.AdID, domain.ErrNotPublished)
	}
	if err != nil {
		return nil, fmt.Errorf("load ad resource: %w", err)
	}

	if !rr.Pausable {
		return nil, fmt.Errorf("ad %s: %w", req.AdID, domain.ErrCapabilityDisabled)
	}

	var d *domain.Draft
	if req.OwnerID != "" || req.CredentialOverride == "" {
		d, err = s.drafts.Get(ctx, rr.DraftID)
		if err != nil {
			return nil, fmt.Errorf("load draft: %w", err)
		}
		if req.OwnerID != "" && d.OwnerID != req.OwnerID {
			return nil, fmt.Errorf("ad %s: %w", req.AdID, domain.ErrNotPublished)
		}
	}

	token := req.CredentialOverride
	credSource := "override"
	if token == "" {
		cred, err := s.credentials.Resolve(ctx, d.OwnerID)
		if err != nil {
			return nil, err
		}
		token = cred.Token
		credSource = string(cred.Type)
	}

	if err := s.platform.SetAdStatus(ctx, token, rr.RemoteID, status); err != nil {
		s.logger.Warn("ad status change failed",
			"ad_id", req.AdID,
			"status", status,
			"kind", domain.KindOf(err),
			"error", err,
		)
		return nil, err
	}

	action := domain.ActionAdResumed
	if status == domain.AdStatusPaused {
		action = domain.ActionAdPaused
	}
	actor := req.Actor
	if actor == "" && d != nil {
		actor = "user:" + d.OwnerID
	}

	if _, err := s.audit.record(context.WithoutCancel(ctx), rr.DraftID, actor, action, map[string]any{
		"ad_id":      req.AdID,
		"remote_id":  rr.RemoteID,
		"credential": credSource,
	}); err != nil {
		s.logger.Error("failed to record ad status change", "ad_id", req.AdID, "error", err)
	}

	s.logger.Info("ad status changed", "ad_id", req.AdID, "remote_id", rr.RemoteID, "status", status)

	return &domain.AdStatus{AdID: req.AdID, RemoteID: rr.RemoteID, Status: status}, nil
}

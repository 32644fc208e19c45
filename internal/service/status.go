package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ad_publisher/internal/domain"
)

// StatusService reconstructs the publish state of a campaign from stored
// resources and audit records, optionally enriched with the platform's view.
type StatusService struct {
	drafts      DraftStore
	resources   ResourceStore
	audit       AuditStore
	credentials CredentialResolver
	platform    Platform
	logger      *slog.Logger
}

func NewStatusService(
	drafts DraftStore,
	resources ResourceStore,
	audit AuditStore,
	credentials CredentialResolver,
	platform Platform,
	logger *slog.Logger,
) *StatusService {
	return &StatusService{
		drafts:      drafts,
		resources:   resources,
		audit:       audit,
		credentials: credentials,
		platform:    platform,
		logger:      logger.With("component", "status"),
	}
}

// GetStatus never fails because of the live refresh: a refresh error is
// logged and reported through StatusReport.Degraded.
// An ownerID that does not own the campaign gets domain.ErrDraftNotFound;
// empty skips the check.
func (s *StatusService) GetStatus(ctx context.Context, campaignID, ownerID string, live bool) (*domain.StatusReport, error) {
	d, err := s.drafts.Get(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	if ownerID != "" && d.OwnerID != ownerID {
		return nil, domain.ErrDraftNotFound
	}

	existing, err := s.resources.ListByDraft(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("load remote resources: %w", err)
	}
	set := domain.NewResourceSet(existing)

	latest, err := s.audit.Latest(ctx, d.ID, domain.LifecycleActions)
	if err != nil {
		return nil, fmt.Errorf("load latest audit: %w", err)
	}

	report := &domain.StatusReport{
		CampaignID: d.ID,
		State:      domain.DeriveState(set, latest),
		RemoteIDs:  set.RemoteIDs(),
	}
	if latest != nil {
		report.LastAction = latest.Action
		report.UpdatedAt = &latest.CreatedAt
		if latest.Action == domain.ActionPublishFailed {
			report.LastError = latest.MetaString("error")
			report.FailedStep = domain.Step(latest.MetaString("step"))
		}
	}

	if live {
		if campaign, ok := set.Get(domain.ResourceCampaign, d.ID); ok {
			s.refresh(ctx, d, campaign, report)
		}
	}

	return report, nil
}

func (s *StatusService) refresh(ctx context.Context, d *domain.Draft, campaign domain.RemoteResource, report *domain.StatusReport) {
	cred, err := s.credentials.Resolve(ctx, d.OwnerID)
	if err != nil {
		s.degrade(report, d.ID, err)
		return
	}

	resp, err := s.platform.GetCampaignStatus(ctx, cred.Token, campaign.RemoteID)
	if err != nil {
		s.degrade(report, d.ID, err)
		return
	}

	report.Live = &domain.LiveStatus{
		EffectiveStatus: resp.EffectiveStatus,
		FetchedAt:       time.Now().UTC(),
	}
}

func (s *StatusService) degrade(report *domain.StatusReport, draftID string, err error) {
	report.Degraded = true
	s.logger.Warn("live status unavailable, using local state",
		"draft_id", draftID,
		"kind", domain.KindOf(err),
		"error", err,
	)
}

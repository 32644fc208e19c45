package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"ad_publisher/internal/config"
	"ad_publisher/internal/domain"
)

const AutoResumeActor = "system:auto-resume"

// resumeHistoryLimit bounds the audit history read per candidate when
// counting earlier auto-resume attempts.
const resumeHistoryLimit = 200

const (
	abandonMaxAttempts        = "max_attempts"
	abandonBudgetNotConfirmed = "budget_not_confirmed"
	abandonDraftMissing       = "draft_missing"
)

var transientKinds = []domain.ErrorKind{
	domain.KindFetch,
	domain.KindNetworkTimeout,
	domain.KindRateLimit,
}

type DraftPublisher interface {
	Publish(ctx context.Context, req PublishRequest) (*domain.PublishResult, error)
}

// BudgetGate reports whether the budget a draft would spend is still the one
// its owner confirmed.
type BudgetGate interface {
	RequireConfirmed(ctx context.Context, draftID, ownerID string) error
}

// ResumeService re-runs publishes whose last attempt failed transiently.
// A draft whose budget changed since confirmation, or that already failed
// MaxAttempts auto-resume attempts in a row, is abandoned instead: a
// resume_abandoned record takes it out of later passes until its owner acts.
type ResumeService struct {
	audit     *auditor
	budgets   BudgetGate
	publisher DraftPublisher
	cfg       config.ResumeConfig
	logger    *slog.Logger
}

func NewResumeService(audit AuditStore, budgets BudgetGate, publisher DraftPublisher, events Publisher, cfg config.ResumeConfig, logger *slog.Logger) *ResumeService {
	logger = logger.With("component", "resume")
	return &ResumeService{
		audit:     &auditor{store: audit, publisher: events, logger: logger},
		budgets:   budgets,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *ResumeService) ResumeFailed(ctx context.Context) (*domain.ResumeStats, error) {
	startTime := time.Now()

	candidates, err := s.audit.store.ListFailed(ctx, transientKinds, startTime.Add(-s.cfg.MinAge), s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list failed publishes: %w", err)
	}

	stats := &domain.ResumeStats{Candidates: len(candidates)}

	for _, rec := range candidates {
		if ctx.Err() != nil {
			break
		}

		reason, err := s.blocked(ctx, rec.CampaignID)
		if err != nil {
			stats.Failed++
			s.logger.Warn("auto-resume check failed", "draft_id", rec.CampaignID, "error", err)
			continue
		}
		if reason != "" {
			stats.Skipped++
			s.abandon(ctx, rec.CampaignID, reason)
			continue
		}

		result, err := s.publisher.Publish(ctx, PublishRequest{
			DraftID: rec.CampaignID,
			Actor:   AutoResumeActor,
		})
		if err != nil {
			stats.Failed++
			kind := domain.KindOf(err)
			if result != nil {
				kind = result.ErrorKind
			}
			s.logger.Warn("auto-resume attempt failed",
				"draft_id", rec.CampaignID,
				"kind", kind,
				"error", err,
			)
			continue
		}
		stats.Resumed++
	}

	stats.Duration = time.Since(startTime)

	if stats.Candidates > 0 {
		s.logger.Info("auto-resume completed",
			"candidates", stats.Candidates,
			"resumed", stats.Resumed,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
			"duration", stats.Duration,
		)
	}

	return stats, nil
}

// blocked returns the reason a draft must not be retried automatically, or
// "" when it may be.
func (s *ResumeService) blocked(ctx context.Context, draftID string) (string, error) {
	history, err := s.audit.store.List(ctx, draftID, resumeHistoryLimit)
	if err != nil {
		return "", fmt.Errorf("load audit history: %w", err)
	}
	if s.cfg.MaxAttempts > 0 && autoResumeFailures(history) >= s.cfg.MaxAttempts {
		return abandonMaxAttempts, nil
	}

	err = s.budgets.RequireConfirmed(ctx, draftID, "")
	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, domain.ErrBudgetNotConfirmed):
		return abandonBudgetNotConfirmed, nil
	case domain.KindOf(err) == domain.KindNotFound:
		return abandonDraftMissing, nil
	default:
		return "", fmt.Errorf("check budget confirmation: %w", err)
	}
}

func (s *ResumeService) abandon(ctx context.Context, draftID, reason string) {
	if _, err := s.audit.record(context.WithoutCancel(ctx), draftID, AutoResumeActor, domain.ActionResumeAbandoned, map[string]any{
		"reason": reason,
	}); err != nil {
		s.logger.Error("failed to record abandoned auto-resume", "draft_id", draftID, "error", err)
		return
	}
	s.logger.Warn("auto-resume abandoned", "draft_id", draftID, "reason", reason)
}

// autoResumeFailures counts auto-resume failures since the last lifecycle
// record written by anyone else. history is newest first.
func autoResumeFailures(history []domain.AuditRecord) int {
	n := 0
	for _, rec := range history {
		if !slices.Contains(domain.LifecycleActions, rec.Action) {
			continue
		}
		if rec.Actor != AutoResumeActor {
			break
		}
		if rec.Action == domain.ActionPublishFailed {
			n++
		}
	}
	return n
}

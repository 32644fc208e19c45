package service

import (
	"context"
	"fmt"
	"log/slog"

	"ad_publisher/internal/domain"
)

// BudgetService implements the two-phase budget gate: a proposal that
// shows the spend about to be committed, and an explicit confirmation
// bound to exactly that budget.
type BudgetService struct {
	drafts DraftStore
	audit  *auditor
	logger *slog.Logger
}

func NewBudgetService(drafts DraftStore, audit AuditStore, publisher Publisher, logger *slog.Logger) *BudgetService {
	logger = logger.With("component", "budget")
	return &BudgetService{
		drafts: drafts,
		audit:  &auditor{store: audit, publisher: publisher, logger: logger},
		logger: logger,
	}
}

func (s *BudgetService) Propose(ctx context.Context, draftID, ownerID string) (*domain.BudgetProposal, error) {
	d, err := s.ownedDraft(ctx, draftID, ownerID)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return proposal(d), nil
}

// Confirm records the owner's consent to the budget identified by token.
// A token minted for a different budget fails with domain.ErrBudgetChanged.
func (s *BudgetService) Confirm(ctx context.Context, draftID, ownerID, actor, token string) (*domain.BudgetProposal, error) {
	d, err := s.ownedDraft(ctx, draftID, ownerID)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	p := proposal(d)
	if token != p.ConfirmationToken {
		return nil, domain.ErrBudgetChanged
	}

	if actor == "" {
		actor = "user:" + d.OwnerID
	}
	if _, err := s.audit.record(ctx, d.ID, actor, domain.ActionBudgetConfirmed, map[string]any{
		"daily_minor": p.DailyMinor,
		"currency":    p.Currency,
		"token":       p.ConfirmationToken,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("budget confirmed",
		"draft_id", d.ID,
		"daily_minor", p.DailyMinor,
		"currency", p.Currency,
	)
	return p, nil
}

// RequireConfirmed fails with domain.ErrBudgetNotConfirmed unless the
// latest confirmation matches the draft's current budget.
func (s *BudgetService) RequireConfirmed(ctx context.Context, draftID, ownerID string) error {
	d, err := s.ownedDraft(ctx, draftID, ownerID)
	if err != nil {
		return err
	}

	rec, err := s.audit.store.Latest(ctx, d.ID, []domain.AuditAction{domain.ActionBudgetConfirmed})
	if err != nil {
		return fmt.Errorf("load budget confirmation: %w", err)
	}
	if rec == nil || rec.MetaString("token") != domain.BudgetToken(d.ID, d.Budget) {
		return domain.ErrBudgetNotConfirmed
	}
	return nil
}

func (s *BudgetService) ownedDraft(ctx context.Context, draftID, ownerID string) (*domain.Draft, error) {
	d, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	if ownerID != "" && d.OwnerID != ownerID {
		return nil, domain.ErrDraftNotFound
	}
	return d, nil
}

func proposal(d *domain.Draft) *domain.BudgetProposal {
	return &domain.BudgetProposal{
		DraftID:           d.ID,
		DailyMinor:        d.Budget.DailyMinor,
		Currency:          d.Budget.Currency,
		StartAt:           d.Budget.StartAt,
		EndAt:             d.Budget.EndAt,
		ConfirmationToken: domain.BudgetToken(d.ID, d.Budget),
	}
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ad_publisher/internal/domain"
)

// auditor appends audit records and fans them out. Fan-out is best effort.
type auditor struct {
	store     AuditStore
	publisher Publisher
	logger    *slog.Logger
}

func (a *auditor) newRecord(campaignID, actor string, action domain.AuditAction, meta map[string]any) (*domain.AuditRecord, error) {
	rec := &domain.AuditRecord{
		CampaignID: campaignID,
		Actor:      actor,
		Action:     action,
	}
	if len(meta) > 0 {
		data, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode audit metadata: %w", err)
		}
		rec.Metadata = data
	}
	return rec, nil
}

// record appends one record and emits it once stored.
func (a *auditor) record(ctx context.Context, campaignID, actor string, action domain.AuditAction, meta map[string]any) (*domain.AuditRecord, error) {
	rec, err := a.newRecord(campaignID, actor, action, meta)
	if err != nil {
		return nil, err
	}
	if err := a.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append %s audit: %w", action, err)
	}
	a.emit(ctx, rec)
	return rec, nil
}

func (a *auditor) emit(ctx context.Context, rec *domain.AuditRecord) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, rec); err != nil {
		a.logger.Warn("failed to publish audit event",
			"campaign_id", rec.CampaignID,
			"action", rec.Action,
			"error", err,
		)
	}
}

package domain

import (
	"encoding/json"
	"time"
)

type AuditAction string

const (
	ActionBudgetConfirmed   AuditAction = "budget_confirmed"
	ActionPublishStarted    AuditAction = "publish_started"
	ActionResourceCreated   AuditAction = "resource_created"
	ActionPublished         AuditAction = "published"
	ActionPublishFailed     AuditAction = "publish_failed"
	ActionPublishSuperseded AuditAction = "publish_superseded"
	ActionAdPaused          AuditAction = "ad_paused"
	ActionAdResumed         AuditAction = "ad_resumed"
	ActionResumeAbandoned   AuditAction = "resume_abandoned"
)

// LifecycleActions are the audit actions that move a campaign through its
// publish lifecycle. Everything else is informational for state purposes.
var LifecycleActions = []AuditAction{
	ActionBudgetConfirmed,
	ActionPublishStarted,
	ActionPublished,
	ActionPublishFailed,
	ActionPublishSuperseded,
}

// ResumeCandidateActions decide whether a failed publish is still waiting for
// auto-resume: a resume_abandoned record after the failure takes it out.
var ResumeCandidateActions = append(append([]AuditAction{}, LifecycleActions...), ActionResumeAbandoned)

// AuditRecord is an immutable entry in the publish history of a campaign.
type AuditRecord struct {
	ID         string          `db:"id" json:"id"`
	CampaignID string          `db:"campaign_id" json:"campaign_id"`
	Actor      string          `db:"actor" json:"actor"`
	Action     AuditAction     `db:"action" json:"action"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Meta decodes the metadata payload into a generic map.
func (r *AuditRecord) Meta() map[string]any {
	m := make(map[string]any)
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &m)
	}
	return m
}

// MetaString returns a string metadata field or "".
func (r *AuditRecord) MetaString(key string) string {
	s, _ := r.Meta()[key].(string)
	return s
}

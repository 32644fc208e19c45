package domain

import "time"

type PublishState string

const (
	StateUnpublished     PublishState = "unpublished"
	StateBudgetConfirmed PublishState = "budget_confirmed"
	StatePublishing      PublishState = "publishing"
	StateActive          PublishState = "active"
	StatePublishFailed   PublishState = "publish_failed"
)

// DeriveState reconstructs the publish state of a campaign from its active
// remote resources and the latest lifecycle audit record (nil if none).
func DeriveState(resources ResourceSet, latest *AuditRecord) PublishState {
	if latest == nil {
		if resources.Len() > 0 {
			// resources without any lifecycle record: a crash mid-publish
			return StatePublishing
		}
		return StateUnpublished
	}

	switch latest.Action {
	case ActionPublished:
		return StateActive
	case ActionPublishFailed:
		return StatePublishFailed
	case ActionPublishStarted:
		return StatePublishing
	case ActionBudgetConfirmed:
		if resources.Len() > 0 {
			return StatePublishing
		}
		return StateBudgetConfirmed
	case ActionPublishSuperseded:
		return StateUnpublished
	}
	return StateUnpublished
}

// PublishResult is returned to callers of a publish attempt.
type PublishResult struct {
	DraftID    string            `json:"draft_id"`
	Success    bool              `json:"success"`
	State      PublishState      `json:"state"`
	RemoteIDs  map[string]string `json:"remote_ids"`
	Created    int               `json:"created"`
	FailedStep Step              `json:"failed_step,omitempty"`
	ErrorKind  ErrorKind         `json:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	Assets     []AssetOutcome    `json:"assets,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// AssetOutcome summarises what happened to one creative during a publish.
type AssetOutcome struct {
	Key       string    `json:"key"`
	Required  bool      `json:"required"`
	Cached    bool      `json:"cached"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type LiveStatus struct {
	EffectiveStatus string    `json:"effective_status"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// StatusReport is the read-only projection returned by the status tracker.
type StatusReport struct {
	CampaignID string            `json:"campaign_id"`
	State      PublishState      `json:"state"`
	RemoteIDs  map[string]string `json:"remote_ids"`
	LastAction AuditAction       `json:"last_action,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	FailedStep Step              `json:"failed_step,omitempty"`
	UpdatedAt  *time.Time        `json:"updated_at,omitempty"`
	Live       *LiveStatus       `json:"live,omitempty"`
	Degraded   bool              `json:"degraded,omitempty"`
}

type AdStatusValue string

const (
	AdStatusActive AdStatusValue = "ACTIVE"
	AdStatusPaused AdStatusValue = "PAUSED"
)

type AdStatus struct {
	AdID     string        `json:"ad_id"`
	RemoteID string        `json:"remote_id"`
	Status   AdStatusValue `json:"status"`
}

// ResumeStats describes one auto-resume pass.
type ResumeStats struct {
	Candidates int
	Resumed    int
	Failed     int
	// Skipped candidates were abandoned without a publish attempt.
	Skipped  int
	Duration time.Duration
}

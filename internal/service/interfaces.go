package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"ad_publisher/internal/domain"
	"ad_publisher/internal/imagepipeline"
	"ad_publisher/internal/platform"
)

type DraftStore interface {
	Get(ctx context.Context, id string) (*domain.Draft, error)
}

type ResourceStore interface {
	Record(ctx context.Context, rr *domain.RemoteResource) error
	ListByDraft(ctx context.Context, draftID string) ([]domain.RemoteResource, error)
	GetActive(ctx context.Context, kind domain.ResourceKind, localID string) (*domain.RemoteResource, error)
	Supersede(ctx context.Context, draftID string) (int64, error)
}

type AuditStore interface {
	Append(ctx context.Context, rec *domain.AuditRecord) error
	Latest(ctx context.Context, campaignID string, actions []domain.AuditAction) (*domain.AuditRecord, error)
	// List returns up to limit records of a campaign, newest first.
	List(ctx context.Context, campaignID string, limit int) ([]domain.AuditRecord, error)
	ListFailed(ctx context.Context, kinds []domain.ErrorKind, cutoff time.Time, limit int) ([]domain.AuditRecord, error)
}

type CredentialResolver interface {
	Resolve(ctx context.Context, ownerID string) (*domain.Credential, error)
}

type AssetPipeline interface {
	Run(ctx context.Context, cred *domain.Credential, reqs []imagepipeline.AssetRequest) ([]imagepipeline.AssetResult, error)
}

type Platform interface {
	CreateCampaign(ctx context.Context, token string, d *domain.Draft) (string, error)
	CreateAdSet(ctx context.Context, token string, d *domain.Draft, as domain.AdSetDraft, campaignID string) (string, error)
	CreateAd(ctx context.Context, token string, d *domain.Draft, ad domain.AdDraft, adSetID, imageHash string) (string, error)
	SetAdStatus(ctx context.Context, token, adID string, status domain.AdStatusValue) error
	GetCampaignStatus(ctx context.Context, token, campaignID string) (*platform.StatusResponse, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher fans audit records out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, rec *domain.AuditRecord) error
	Close() error
}

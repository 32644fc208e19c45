package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ad_publisher/internal/domain"
)

// Store reads stored credentials. Get returns domain.ErrCredentialNotFound
// when the owner has no credential of that type.
type Store interface {
	Get(ctx context.Context, ownerID string, typ domain.CredentialType) (*domain.Credential, error)
}

// Resolver picks the credential used for platform calls on behalf of an
// owner: the owner's own credential when present, the system one otherwise.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With("component", "credential"),
	}
}

// Resolve never caches; every call reads the store.
func (r *Resolver) Resolve(ctx context.Context, ownerID string) (*domain.Credential, error) {
	for _, typ := range []domain.CredentialType{domain.CredentialUser, domain.CredentialSystem} {
		cred, err := r.store.Get(ctx, ownerID, typ)
		if err == nil {
			r.logger.Debug("credential resolved", "owner_id", ownerID, "type", typ)
			return cred, nil
		}
		if !errors.Is(err, domain.ErrCredentialNotFound) {
			return nil, fmt.Errorf("get %s credential: %w", typ, err)
		}
	}

	return nil, fmt.Errorf("owner %s: %w", ownerID, domain.ErrNoCredential)
}

package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"ad_publisher/internal/domain"
)

type CredentialStore struct {
	db *sqlx.DB
}

func NewCredentialStore(db *sqlx.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Get(ctx context.Context, ownerID string, typ domain.CredentialType) (*domain.Credential, error) {
	var cred domain.Credential
	query := `
		SELECT owner_id, type, token, updated_at
		FROM credentials
		WHERE owner_id = $1 AND type = $2`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &cred, query, ownerID, typ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// Put stores the credential, replacing any previous token of the same type.
func (s *CredentialStore) Put(ctx context.Context, cred *domain.Credential) error {
	query := `
		INSERT INTO credentials (owner_id, type, token, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_id, type) DO UPDATE SET
			token = EXCLUDED.token,
			updated_at = EXCLUDED.updated_at
		RETURNING updated_at`

	return GetExecutor(ctx, s.db).QueryRowxContext(ctx, query, cred.OwnerID, cred.Type, cred.Token).Scan(&cred.UpdatedAt)
}

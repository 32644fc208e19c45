package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ad_publisher/internal/domain"
)

const uniqueViolation = "23505"

const resourceColumns = `id, draft_id, kind, local_id, remote_id, pausable, created_at, superseded_at`

type ResourceStore struct {
	db *sqlx.DB
}

func NewResourceStore(db *sqlx.DB) *ResourceStore {
	return &ResourceStore{db: db}
}

// Record inserts a remote resource. A second active record for the same
// draft entity fails with domain.ErrResourceExists.
func (s *ResourceStore) Record(ctx context.Context, rr *domain.RemoteResource) error {
	query := `
		INSERT INTO remote_resources (draft_id, kind, local_id, remote_id, pausable)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		rr.DraftID,
		rr.Kind,
		rr.LocalID,
		rr.RemoteID,
		rr.Pausable,
	).Scan(&rr.ID, &rr.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s %s of draft %s: %w", rr.Kind, rr.LocalID, rr.DraftID, domain.ErrResourceExists)
	}
	return err
}

// ListByDraft returns the active (not superseded) resources of a draft in
// creation order.
func (s *ResourceStore) ListByDraft(ctx context.Context, draftID string) ([]domain.RemoteResource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM remote_resources
		WHERE draft_id = $1 AND superseded_at IS NULL
		ORDER BY id`

	var out []domain.RemoteResource
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &out, query, draftID)
	return out, err
}

// GetActive finds the active resource created for a local entity. Ad and ad
// set IDs are unique across drafts, so no draft is needed.
func (s *ResourceStore) GetActive(ctx context.Context, kind domain.ResourceKind, localID string) (*domain.RemoteResource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM remote_resources
		WHERE kind = $1 AND local_id = $2 AND superseded_at IS NULL
		ORDER BY id DESC
		LIMIT 1`

	var rr domain.RemoteResource
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &rr, query, kind, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rr, nil
}

// Supersede retires every active resource of the draft and returns how many
// records were affected.
func (s *ResourceStore) Supersede(ctx context.Context, draftID string) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"UPDATE remote_resources SET superseded_at = NOW() WHERE draft_id = $1 AND superseded_at IS NULL",
		draftID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

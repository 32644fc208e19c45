package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"ad_publisher/internal/domain"
)

type DraftStore struct {
	db *sqlx.DB
}

func NewDraftStore(db *sqlx.DB) *DraftStore {
	return &DraftStore{db: db}
}

// Get returns domain.ErrDraftNotFound when no draft has the id.
func (s *DraftStore) Get(ctx context.Context, id string) (*domain.Draft, error) {
	var row struct {
		Payload   []byte    `db:"payload"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row,
		"SELECT payload, updated_at FROM drafts WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}

	var d domain.Draft
	if err := json.Unmarshal(row.Payload, &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	d.UpdatedAt = row.UpdatedAt
	return &d, nil
}

func (s *DraftStore) Save(ctx context.Context, d *domain.Draft) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft %s: %w", d.ID, err)
	}

	query := `
		INSERT INTO drafts (id, owner_id, payload, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
		RETURNING updated_at`

	return GetExecutor(ctx, s.db).QueryRowxContext(ctx, query, d.ID, d.OwnerID, string(payload)).Scan(&d.UpdatedAt)
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ad_publisher/internal/domain"
)

const auditColumns = `id, campaign_id, actor, action, metadata, created_at`

type auditRow struct {
	ID         string    `db:"id"`
	CampaignID string    `db:"campaign_id"`
	Actor      string    `db:"actor"`
	Action     string    `db:"action"`
	Metadata   []byte    `db:"metadata"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r auditRow) record() domain.AuditRecord {
	return domain.AuditRecord{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		Actor:      r.Actor,
		Action:     domain.AuditAction(r.Action),
		Metadata:   json.RawMessage(r.Metadata),
		CreatedAt:  r.CreatedAt,
	}
}

// AuditStore is the append-only publish history.
type AuditStore struct {
	db *sqlx.DB
}

func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append inserts rec, assigning its ID and CreatedAt.
func (s *AuditStore) Append(ctx context.Context, rec *domain.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	metadata := string(rec.Metadata)
	if metadata == "" {
		metadata = "{}"
	}

	query := `
		INSERT INTO audit_log (id, campaign_id, actor, action, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING created_at`

	return GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		rec.ID,
		rec.CampaignID,
		rec.Actor,
		rec.Action,
		metadata,
	).Scan(&rec.CreatedAt)
}

// Latest returns the most recent record of the campaign whose action is one
// of actions, or nil when there is none.
func (s *AuditStore) Latest(ctx context.Context, campaignID string, actions []domain.AuditAction) (*domain.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		WHERE campaign_id = $1 AND action = ANY($2)
		ORDER BY seq DESC
		LIMIT 1`

	var row auditRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, campaignID, pq.Array(actionStrings(actions)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := row.record()
	return &rec, nil
}

// List returns up to limit records of the campaign, newest first.
func (s *AuditStore) List(ctx context.Context, campaignID string, limit int) ([]domain.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		WHERE campaign_id = $1
		ORDER BY seq DESC
		LIMIT $2`

	var rows []auditRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, campaignID, limit); err != nil {
		return nil, err
	}

	out := make([]domain.AuditRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// ListFailed returns, oldest first, the publish_failed records that are the
// latest lifecycle record of their campaign, were not followed by a
// resume_abandoned record, were written before cutoff and carry one of the
// given error kinds.
func (s *AuditStore) ListFailed(ctx context.Context, kinds []domain.ErrorKind, cutoff time.Time, limit int) ([]domain.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM (
			SELECT DISTINCT ON (campaign_id) ` + auditColumns + `, seq
			FROM audit_log
			WHERE action = ANY($1)
			ORDER BY campaign_id, seq DESC
		) latest
		WHERE action = $2
			AND created_at < $3
			AND metadata->>'kind' = ANY($4)
		ORDER BY created_at
		LIMIT $5`

	kindStrs := make([]string, 0, len(kinds))
	for _, k := range kinds {
		kindStrs = append(kindStrs, string(k))
	}

	var rows []auditRow
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query,
		pq.Array(actionStrings(domain.ResumeCandidateActions)),
		domain.ActionPublishFailed,
		cutoff,
		pq.Array(kindStrs),
		limit,
	)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AuditRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func actionStrings(actions []domain.AuditAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, string(a))
	}
	return out
}

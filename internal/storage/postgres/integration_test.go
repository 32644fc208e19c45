//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"ad_publisher/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_publish_tables.up.sql"),
			filepath.Join(migrationsPath, "002_create_audit_log.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM audit_log")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM remote_resources")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM credentials")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM drafts")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func testDraft(id string) *domain.Draft {
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Draft{
		ID:          id,
		OwnerID:     "owner-1",
		Name:        "Winter launch",
		Budget:      domain.Budget{DailyMinor: 5000, Currency: "EUR", StartAt: &start},
		Destination: domain.Destination{Type: domain.DestinationWebsite, URL: "https://example.com"},
		Creatives:   []domain.Creative{{Key: "hero", StorageRef: "img/hero.jpg", Required: true}},
		Copy:        []domain.CopyVariant{{Key: "a", Headline: "Hello"}},
		AdSets: []domain.AdSetDraft{{
			ID:        id + "-as-1",
			Targeting: domain.Targeting{Countries: []string{"DE"}, AgeMin: 18, AgeMax: 65},
			Ads:       []domain.AdDraft{{ID: id + "-ad-1", CreativeKey: "hero", CopyKey: "a"}},
		}},
	}
}

func (s *PostgresIntegrationSuite) TestDraftStore_SaveAndGet() {
	store := NewDraftStore(s.db)
	d := testDraft("d-1")

	s.Require().NoError(store.Save(s.ctx, d))
	s.False(d.UpdatedAt.IsZero())

	got, err := store.Get(s.ctx, "d-1")
	s.Require().NoError(err)
	s.Equal("Winter launch", got.Name)
	s.Equal(int64(5000), got.Budget.DailyMinor)
	s.True(d.Budget.StartAt.Equal(*got.Budget.StartAt))
	s.Require().Len(got.AdSets, 1)
	s.Equal("d-1-ad-1", got.AdSets[0].Ads[0].ID)
}

func (s *PostgresIntegrationSuite) TestDraftStore_SaveOverwrites() {
	store := NewDraftStore(s.db)
	d := testDraft("d-1")
	s.Require().NoError(store.Save(s.ctx, d))

	d.Budget.DailyMinor = 9000
	s.Require().NoError(store.Save(s.ctx, d))

	got, err := store.Get(s.ctx, "d-1")
	s.Require().NoError(err)
	s.Equal(int64(9000), got.Budget.DailyMinor)
}

func (s *PostgresIntegrationSuite) TestDraftStore_GetMissing() {
	_, err := NewDraftStore(s.db).Get(s.ctx, "nope")
	s.True(errors.Is(err, domain.ErrDraftNotFound))
}

func (s *PostgresIntegrationSuite) TestCredentialStore_PutAndGet() {
	store := NewCredentialStore(s.db)

	s.Require().NoError(store.Put(s.ctx, &domain.Credential{OwnerID: "o1", Type: domain.CredentialUser, Token: "t1"}))
	s.Require().NoError(store.Put(s.ctx, &domain.Credential{OwnerID: "o1", Type: domain.CredentialUser, Token: "t2"}))

	cred, err := store.Get(s.ctx, "o1", domain.CredentialUser)
	s.Require().NoError(err)
	s.Equal("t2", cred.Token)
	s.Equal(domain.CredentialUser, cred.Type)

	_, err = store.Get(s.ctx, "o1", domain.CredentialSystem)
	s.True(errors.Is(err, domain.ErrCredentialNotFound))
}

func (s *PostgresIntegrationSuite) TestResourceStore_RecordAndList() {
	store := NewResourceStore(s.db)

	campaign := &domain.RemoteResource{DraftID: "d-1", Kind: domain.ResourceCampaign, LocalID: "d-1", RemoteID: "c_1", Pausable: true}
	adSet := &domain.RemoteResource{DraftID: "d-1", Kind: domain.ResourceAdSet, LocalID: "as-1", RemoteID: "as_1", Pausable: true}
	s.Require().NoError(store.Record(s.ctx, campaign))
	s.Require().NoError(store.Record(s.ctx, adSet))
	s.Greater(campaign.ID, int64(0))
	s.False(campaign.CreatedAt.IsZero())

	list, err := store.ListByDraft(s.ctx, "d-1")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(domain.ResourceCampaign, list[0].Kind)
	s.Equal("as_1", list[1].RemoteID)
}

func (s *PostgresIntegrationSuite) TestResourceStore_DuplicateActiveRejected() {
	store := NewResourceStore(s.db)

	s.Require().NoError(store.Record(s.ctx, &domain.RemoteResource{DraftID: "d-1", Kind: domain.ResourceAd, LocalID: "ad-1", RemoteID: "ad_1"}))
	err := store.Record(s.ctx, &domain.RemoteResource{DraftID: "d-1", Kind: domain.ResourceAd, LocalID: "ad-1", RemoteID: "ad_2"})
	s.True(errors.Is(err, domain.ErrResourceExists))
}

func (s *PostgresIntegrationSuite) TestResourceStore_SupersedeAllowsRepublish() {
	store := NewResourceStore(s.db)

	s.Require().NoError(store.Record(s.ctx, &domain.RemoteResource{DraftID: "d-1", Kind: domain.ResourceAd, LocalID: "ad-1", RemoteID: "ad_1"}))

	n, err := store.Supersede(s.ctx, "d-1")
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	list, err := store.ListByDraft(s.ctx, "d-1")
	s.Require().NoError(err)
	s.Empty(list)

	_, err = store.GetActive(s.ctx, domain.ResourceAd, "ad-1")
	s.True(errors.Is(err, domain.ErrNotFound))

	s.Require().NoError(store.Record(s.ctx, &domain.RemoteResource{DraftID: "d-1", Kind: domain.ResourceAd, LocalID: "ad-1", RemoteID: "ad_2", Pausable: true}))

	rr, err := store.GetActive(s.ctx, domain.ResourceAd, "ad-1")
	s.Require().NoError(err)
	s.Equal("ad_2", rr.RemoteID)
	s.True(rr.Pausable)
	s.Nil(rr.SupersededAt)
}

func (s *PostgresIntegrationSuite) TestAuditStore_AppendAndLatest() {
	store := NewAuditStore(s.db)

	for _, a := range []domain.AuditAction{
		domain.ActionPublishStarted,
		domain.ActionResourceCreated,
		domain.ActionPublished,
		domain.ActionAdPaused,
	} {
		s.Require().NoError(store.Append(s.ctx, &domain.AuditRecord{CampaignID: "d-1", Actor: "user:1", Action: a}))
	}

	latest, err := store.Latest(s.ctx, "d-1", domain.LifecycleActions)
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(domain.ActionPublished, latest.Action)
	s.NotEmpty(latest.ID)

	records, err := store.List(s.ctx, "d-1", 10)
	s.Require().NoError(err)
	s.Require().Len(records, 4)
	s.Equal(domain.ActionAdPaused, records[0].Action)

	none, err := store.Latest(s.ctx, "other", domain.LifecycleActions)
	s.NoError(err)
	s.Nil(none)
}

func (s *PostgresIntegrationSuite) TestAuditStore_MetadataRoundTrip() {
	store := NewAuditStore(s.db)

	meta, _ := json.Marshal(map[string]any{"step": "ad", "kind": "network_timeout", "local_id": "ad-1"})
	s.Require().NoError(store.Append(s.ctx, &domain.AuditRecord{
		CampaignID: "d-1",
		Actor:      "user:1",
		Action:     domain.ActionPublishFailed,
		Metadata:   meta,
	}))

	latest, err := store.Latest(s.ctx, "d-1", []domain.AuditAction{domain.ActionPublishFailed})
	s.Require().NoError(err)
	s.Equal("ad", latest.MetaString("step"))
	s.Equal("network_timeout", latest.MetaString("kind"))
}

func (s *PostgresIntegrationSuite) TestAuditStore_ListFailed() {
	store := NewAuditStore(s.db)
	failed := func(campaign, kind string) {
		meta, _ := json.Marshal(map[string]string{"kind": kind})
		s.Require().NoError(store.Append(s.ctx, &domain.AuditRecord{
			CampaignID: campaign, Actor: "user:1", Action: domain.ActionPublishFailed, Metadata: meta,
		}))
	}

	failed("transient", "network_timeout")
	failed("fatal", "credential_rejected")
	failed("recovered", "rate_limit")
	s.Require().NoError(store.Append(s.ctx, &domain.AuditRecord{
		CampaignID: "recovered", Actor: "user:1", Action: domain.ActionPublished,
	}))
	failed("paused-after", "fetch")
	s.Require().NoError(store.Append(s.ctx, &domain.AuditRecord{
		CampaignID: "paused-after", Actor: "user:1", Action: domain.ActionAdPaused,
	}))
	failed("abandoned", "rate_limit")
	s.Require().NoError(store.Append(s.ctx, &domain.AuditRecord{
		CampaignID: "abandoned", Actor: "system:auto-resume", Action: domain.ActionResumeAbandoned,
	}))

	kinds := []domain.ErrorKind{domain.KindFetch, domain.KindNetworkTimeout, domain.KindRateLimit}
	records, err := store.ListFailed(s.ctx, kinds, time.Now().Add(time.Minute), 10)
	s.Require().NoError(err)

	var campaigns []string
	for _, r := range records {
		campaigns = append(campaigns, r.CampaignID)
	}
	s.ElementsMatch([]string{"transient", "paused-after"}, campaigns)

	records, err = store.ListFailed(s.ctx, kinds, time.Now().Add(-time.Hour), 10)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	resources := NewResourceStore(s.db)
	audit := NewAuditStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := resources.Record(ctx, &domain.RemoteResource{DraftID: "d-1", Kind: domain.ResourceCampaign, LocalID: "d-1", RemoteID: "c_1"}); err != nil {
			return err
		}
		return audit.Append(ctx, &domain.AuditRecord{CampaignID: "d-1", Actor: "user:1", Action: domain.ActionResourceCreated})
	})
	s.NoError(err)

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM remote_resources WHERE draft_id = $1", "d-1"))
	s.Equal(1, count)
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM audit_log WHERE campaign_id = $1", "d-1"))
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	resources := NewResourceStore(s.db)

	s.Require().NoError(resources.Record(s.ctx, &domain.RemoteResource{DraftID: "d-0", Kind: domain.ResourceCampaign, LocalID: "d-0", RemoteID: "c_0"}))

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := resources.Record(ctx, &domain.RemoteResource{DraftID: "d-1", Kind: domain.ResourceCampaign, LocalID: "d-1", RemoteID: "c_1"}); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM remote_resources WHERE draft_id = $1", "d-1"))
	s.Equal(0, count)
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM remote_resources WHERE draft_id = $1", "d-0"))
	s.Equal(1, count)
}

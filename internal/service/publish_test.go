package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ad_publisher/internal/domain"
	"ad_publisher/internal/imagepipeline"
	"ad_publisher/internal/metrics"
	"ad_publisher/internal/service/mocks"
)

func testDraft() *domain.Draft {
	return &domain.Draft{
		ID:          "draft-1",
		OwnerID:     "owner-1",
		Name:        "Spring sale",
		Budget:      domain.Budget{DailyMinor: 2500, Currency: "USD"},
		Destination: domain.Destination{Type: domain.DestinationWebsite, URL: "https://shop.example.com"},
		Creatives:   []domain.Creative{{Key: "hero", StorageRef: "img/hero.jpg", Required: true}},
		Copy:        []domain.CopyVariant{{Key: "a", Headline: "Save 20%", PrimaryText: "This week only"}},
		AdSets: []domain.AdSetDraft{{
			ID:        "as-1",
			Targeting: domain.Targeting{Countries: []string{"US"}, AgeMin: 18, AgeMax: 65},
			Ads:       []domain.AdDraft{{ID: "ad-1", CreativeKey: "hero", CopyKey: "a"}},
		}},
	}
}

func uploaded(key, hash string) imagepipeline.AssetResult {
	return imagepipeline.AssetResult{
		Key:      key,
		Required: true,
		Stage:    imagepipeline.StageDone,
		Asset:    &domain.ProcessedAsset{Key: key, Checksum: "sum-" + key},
		Remote:   &domain.RemoteResource{Kind: domain.ResourceImage, LocalID: "sum-" + key, RemoteID: hash},
	}
}

type PublishServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	drafts      *mocks.MockDraftStore
	resources   *mocks.MockResourceStore
	audit       *mocks.MockAuditStore
	credentials *mocks.MockCredentialResolver
	assets      *mocks.MockAssetPipeline
	platform    *mocks.MockPlatform
	txManager   *mocks.MockTransactionManager
	publisher   *mocks.MockPublisher

	service *PublishService
	logger  *slog.Logger

	// state behind the store mocks
	stored  []domain.RemoteResource
	records []*domain.AuditRecord
}

func (s *PublishServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.drafts = mocks.NewMockDraftStore(s.ctrl)
	s.resources = mocks.NewMockResourceStore(s.ctrl)
	s.audit = mocks.NewMockAuditStore(s.ctrl)
	s.credentials = mocks.NewMockCredentialResolver(s.ctrl)
	s.assets = mocks.NewMockAssetPipeline(s.ctrl)
	s.platform = mocks.NewMockPlatform(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.stored = nil
	s.records = nil

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewPublishService(
		s.drafts,
		s.resources,
		s.audit,
		s.credentials,
		s.assets,
		s.platform,
		s.txManager,
		s.publisher,
		metrics.New(),
		s.logger,
	)
}

func (s *PublishServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestPublishServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PublishServiceTestSuite))
}

// expectStores backs the resource and audit mocks with in-memory state.
func (s *PublishServiceTestSuite) expectStores() {
	s.resources.EXPECT().ListByDraft(gomock.Any(), "draft-1").DoAndReturn(
		func(_ context.Context, _ string) ([]domain.RemoteResource, error) {
			var active []domain.RemoteResource
			for _, rr := range s.stored {
				if rr.SupersededAt == nil {
					active = append(active, rr)
				}
			}
			return active, nil
		},
	).AnyTimes()

	s.resources.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rr *domain.RemoteResource) error {
			rr.ID = int64(len(s.stored) + 1)
			s.stored = append(s.stored, *rr)
			return nil
		},
	).AnyTimes()

	s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rec *domain.AuditRecord) error {
			s.records = append(s.records, rec)
			return nil
		},
	).AnyTimes()

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()

	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (s *PublishServiceTestSuite) actions() []domain.AuditAction {
	var out []domain.AuditAction
	for _, r := range s.records {
		out = append(out, r.Action)
	}
	return out
}

func (s *PublishServiceTestSuite) lastFailure() *domain.AuditRecord {
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Action == domain.ActionPublishFailed {
			return s.records[i]
		}
	}
	return nil
}

func (s *PublishServiceTestSuite) countStored(kind domain.ResourceKind) int {
	n := 0
	for _, rr := range s.stored {
		if rr.Kind == kind {
			n++
		}
	}
	return n
}

func (s *PublishServiceTestSuite) TestPublish_Success() {
	ctx := context.Background()
	d := testDraft()
	cred := &domain.Credential{OwnerID: "owner-1", Type: domain.CredentialUser, Token: "user-token"}

	s.expectStores()
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(d, nil)
	s.credentials.EXPECT().Resolve(ctx, "owner-1").Return(cred, nil)
	s.assets.EXPECT().Run(ctx, cred, []imagepipeline.AssetRequest{
		{Key: "hero", Ref: "img/hero.jpg", Required: true},
	}).Return([]imagepipeline.AssetResult{uploaded("hero", "hash_hero")}, nil)

	gomock.InOrder(
		s.platform.EXPECT().CreateCampaign(ctx, "user-token", d).Return("cmp_1", nil),
		s.platform.EXPECT().CreateAdSet(ctx, "user-token", d, d.AdSets[0], "cmp_1").Return("as_1", nil),
		s.platform.EXPECT().CreateAd(ctx, "user-token", d, d.AdSets[0].Ads[0], "as_1", "hash_hero").Return("ad_1", nil),
	)

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1", OwnerID: "owner-1", Actor: "user:owner-1"})

	s.Require().NoError(err)
	s.True(result.Success)
	s.Equal(domain.StateActive, result.State)
	s.Equal(3, result.Created)
	s.Equal(map[string]string{
		"campaign:draft-1": "cmp_1",
		"ad_set:as-1":      "as_1",
		"ad:ad-1":          "ad_1",
	}, result.RemoteIDs)

	s.Equal([]domain.AuditAction{
		domain.ActionPublishStarted,
		domain.ActionResourceCreated,
		domain.ActionResourceCreated,
		domain.ActionResourceCreated,
		domain.ActionPublished,
	}, s.actions())

	s.Equal(1, s.countStored(domain.ResourceCampaign))
	s.Equal(1, s.countStored(domain.ResourceAdSet))
	s.Equal(1, s.countStored(domain.ResourceAd))
	s.Equal(1, s.countStored(domain.ResourceImage))
	for _, rr := range s.stored {
		if rr.Kind == domain.ResourceImage {
			s.Equal("hero", rr.LocalID)
			s.Equal("hash_hero", rr.RemoteID)
			s.False(rr.Pausable)
		} else {
			s.True(rr.Pausable)
		}
	}
	s.Empty(s.service.locks)
}

func (s *PublishServiceTestSuite) TestLock_DropsEntryWhenReleased() {
	unlock := s.service.lock("draft-1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.service.lock("draft-1")()
	}()

	s.Eventually(func() bool {
		s.service.mu.Lock()
		defer s.service.mu.Unlock()
		return s.service.locks["draft-1"] != nil && s.service.locks["draft-1"].refs == 2
	}, time.Second, time.Millisecond)

	unlock()
	<-done

	s.service.mu.Lock()
	defer s.service.mu.Unlock()
	s.Empty(s.service.locks)
}

func (s *PublishServiceTestSuite) TestPublish_UndersizedRequiredImageAbortsBeforeCreation() {
	ctx := context.Background()
	d := testDraft()
	cred := &domain.Credential{OwnerID: "owner-1", Type: domain.CredentialSystem, Token: "sys"}

	s.expectStores()
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(d, nil)
	s.credentials.EXPECT().Resolve(ctx, "owner-1").Return(cred, nil)
	s.assets.EXPECT().Run(ctx, cred, gomock.Any()).Return([]imagepipeline.AssetResult{{
		Key:      "hero",
		Required: true,
		Stage:    imagepipeline.StageValidate,
		Err: &domain.ValidationError{Subject: "creative hero", Violations: []domain.Violation{{
			Code: imagepipeline.CodeBelowMinDimensions, Message: "image is 400x400, minimum is 600x600", Hard: true,
		}}},
	}}, nil)
	// no platform expectations: any creation call fails the test

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})

	s.Require().Error(err)
	var stepErr *domain.StepError
	s.Require().True(errors.As(err, &stepErr))
	s.Equal(domain.StepAssets, stepErr.Step)
	s.Equal("hero", stepErr.LocalID)

	s.False(result.Success)
	s.Equal(domain.KindValidation, result.ErrorKind)
	s.Empty(result.RemoteIDs)
	s.Empty(s.stored)

	failure := s.lastFailure()
	s.Require().NotNil(failure)
	s.Equal("validation", failure.MetaString("kind"))
	s.Equal("assets", failure.MetaString("step"))
}

func (s *PublishServiceTestSuite) TestPublish_InvalidDraftNeverTouchesPlatform() {
	ctx := context.Background()
	d := testDraft()
	d.Budget.DailyMinor = 0

	s.expectStores()
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(d, nil)

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})

	s.Require().Error(err)
	s.Equal(domain.StepValidate, result.FailedStep)
	s.Equal(domain.KindValidation, domain.KindOf(err))
	s.Equal([]domain.AuditAction{domain.ActionPublishFailed}, s.actions())
}

func (s *PublishServiceTestSuite) TestPublish_ResumeAfterAdTimeoutCreatesOnlyTheAd() {
	ctx := context.Background()
	d := testDraft()
	cred := &domain.Credential{OwnerID: "owner-1", Type: domain.CredentialUser, Token: "tok"}
	timeout := &domain.PlatformError{Kind: domain.KindNetworkTimeout, Op: "create_ad", Exhausted: true}

	s.expectStores()
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(d, nil).Times(2)
	s.credentials.EXPECT().Resolve(ctx, "owner-1").Return(cred, nil).Times(2)
	s.assets.EXPECT().Run(ctx, cred, gomock.Any()).Return([]imagepipeline.AssetResult{uploaded("hero", "hash_hero")}, nil).Times(2)

	s.platform.EXPECT().CreateCampaign(ctx, "tok", d).Return("cmp_1", nil).Times(1)
	s.platform.EXPECT().CreateAdSet(ctx, "tok", d, d.AdSets[0], "cmp_1").Return("as_1", nil).Times(1)
	gomock.InOrder(
		s.platform.EXPECT().CreateAd(ctx, "tok", d, d.AdSets[0].Ads[0], "as_1", "hash_hero").Return("", timeout),
		s.platform.EXPECT().CreateAd(ctx, "tok", d, d.AdSets[0].Ads[0], "as_1", "hash_hero").Return("ad_1", nil),
	)

	first, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})
	s.Require().Error(err)
	s.Equal(domain.StepAd, first.FailedStep)
	s.Equal(domain.KindNetworkTimeout, first.ErrorKind)
	s.Equal(2, first.Created)
	s.Equal("ad-1", s.lastFailure().MetaString("local_id"))

	second, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})
	s.Require().NoError(err)
	s.True(second.Success)
	s.Equal(1, second.Created)
	s.Len(second.RemoteIDs, 3)

	s.Equal(1, s.countStored(domain.ResourceCampaign))
	s.Equal(1, s.countStored(domain.ResourceAdSet))
	s.Equal(1, s.countStored(domain.ResourceAd))
}

func (s *PublishServiceTestSuite) TestPublish_AlreadyPublishedMakesNoCalls() {
	ctx := context.Background()
	d := testDraft()
	s.stored = []domain.RemoteResource{
		{DraftID: "draft-1", Kind: domain.ResourceCampaign, LocalID: "draft-1", RemoteID: "cmp_1"},
		{DraftID: "draft-1", Kind: domain.ResourceAdSet, LocalID: "as-1", RemoteID: "as_1"},
		{DraftID: "draft-1", Kind: domain.ResourceAd, LocalID: "ad-1", RemoteID: "ad_1"},
	}

	s.resources.EXPECT().ListByDraft(ctx, "draft-1").Return(s.stored, nil)
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(d, nil)
	s.audit.EXPECT().Latest(ctx, "draft-1", domain.LifecycleActions).Return(&domain.AuditRecord{Action: domain.ActionPublished}, nil)

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})

	s.Require().NoError(err)
	s.True(result.Success)
	s.Equal(0, result.Created)
	s.Equal("ad_1", result.RemoteIDs["ad:ad-1"])
}

func (s *PublishServiceTestSuite) TestPublish_OptionalAlternateFailureTolerated() {
	ctx := context.Background()
	d := testDraft()
	d.Creatives = append(d.Creatives, domain.Creative{Key: "alt", StorageRef: "img/alt.jpg"})
	cred := &domain.Credential{OwnerID: "owner-1", Type: domain.CredentialUser, Token: "tok"}

	s.expectStores()
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(d, nil)
	s.credentials.EXPECT().Resolve(ctx, "owner-1").Return(cred, nil)
	s.assets.EXPECT().Run(ctx, cred, []imagepipeline.AssetRequest{
		{Key: "hero", Ref: "img/hero.jpg", Required: true},
		{Key: "alt", Ref: "img/alt.jpg", Required: false},
	}).Return([]imagepipeline.AssetResult{
		uploaded("hero", "hash_hero"),
		{Key: "alt", Stage: imagepipeline.StageFetch, Err: fmt.Errorf("fetch img/alt.jpg: %w", domain.ErrNotFound)},
	}, nil)
	s.platform.EXPECT().CreateCampaign(ctx, "tok", d).Return("cmp_1", nil)
	s.platform.EXPECT().CreateAdSet(ctx, "tok", d, d.AdSets[0], "cmp_1").Return("as_1", nil)
	s.platform.EXPECT().CreateAd(ctx, "tok", d, d.AdSets[0].Ads[0], "as_1", "hash_hero").Return("ad_1", nil)

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})

	s.Require().NoError(err)
	s.True(result.Success)
	s.Require().Len(result.Assets, 2)
	s.Equal(domain.KindNotFound, result.Assets[1].ErrorKind)
	s.False(result.Assets[1].Required)
}

func (s *PublishServiceTestSuite) TestPublish_NoCredential() {
	ctx := context.Background()

	s.expectStores()
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(testDraft(), nil)
	s.credentials.EXPECT().Resolve(ctx, "owner-1").Return(nil, fmt.Errorf("owner owner-1: %w", domain.ErrNoCredential))

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})

	s.Require().Error(err)
	s.Equal(domain.StepCredential, result.FailedStep)
	s.Equal(domain.KindNoCredential, result.ErrorKind)
	s.True(errors.Is(err, domain.ErrNoCredential))
}

func (s *PublishServiceTestSuite) TestPublish_CredentialRejectedDuringUpload() {
	ctx := context.Background()
	cred := &domain.Credential{OwnerID: "owner-1", Type: domain.CredentialUser, Token: "expired"}
	rejected := &domain.PlatformError{Kind: domain.KindCredentialRejected, Op: "upload_image", Code: 190}

	s.expectStores()
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(testDraft(), nil)
	s.credentials.EXPECT().Resolve(ctx, "owner-1").Return(cred, nil)
	s.assets.EXPECT().Run(ctx, cred, gomock.Any()).Return([]imagepipeline.AssetResult{{
		Key: "hero", Required: true, Stage: imagepipeline.StageUpload, Err: rejected,
	}}, rejected)

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})

	s.Require().Error(err)
	s.Equal(domain.StepAssets, result.FailedStep)
	s.Equal(domain.KindCredentialRejected, result.ErrorKind)
	s.Empty(s.stored)
}

func (s *PublishServiceTestSuite) TestPublish_OwnerMismatch() {
	ctx := context.Background()
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(testDraft(), nil)

	_, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1", OwnerID: "someone-else"})

	s.True(errors.Is(err, domain.ErrDraftNotFound))
}

func (s *PublishServiceTestSuite) TestPublish_SupersedeRepublishes() {
	ctx := context.Background()
	d := testDraft()
	cred := &domain.Credential{OwnerID: "owner-1", Type: domain.CredentialUser, Token: "tok"}
	s.stored = []domain.RemoteResource{
		{DraftID: "draft-1", Kind: domain.ResourceCampaign, LocalID: "draft-1", RemoteID: "cmp_old"},
		{DraftID: "draft-1", Kind: domain.ResourceAdSet, LocalID: "as-1", RemoteID: "as_old"},
		{DraftID: "draft-1", Kind: domain.ResourceAd, LocalID: "ad-1", RemoteID: "ad_old"},
	}

	s.expectStores()
	s.resources.EXPECT().Supersede(gomock.Any(), "draft-1").DoAndReturn(
		func(_ context.Context, _ string) (int64, error) {
			now := s.stored[0].CreatedAt
			for i := range s.stored {
				s.stored[i].SupersededAt = &now
			}
			return int64(len(s.stored)), nil
		},
	)
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(d, nil)
	s.credentials.EXPECT().Resolve(ctx, "owner-1").Return(cred, nil)
	s.assets.EXPECT().Run(ctx, cred, gomock.Any()).Return([]imagepipeline.AssetResult{uploaded("hero", "hash_hero")}, nil)
	s.platform.EXPECT().CreateCampaign(ctx, "tok", d).Return("cmp_new", nil)
	s.platform.EXPECT().CreateAdSet(ctx, "tok", d, d.AdSets[0], "cmp_new").Return("as_new", nil)
	s.platform.EXPECT().CreateAd(ctx, "tok", d, d.AdSets[0].Ads[0], "as_new", "hash_hero").Return("ad_new", nil)

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1", Supersede: true})

	s.Require().NoError(err)
	s.Equal("cmp_new", result.RemoteIDs["campaign:draft-1"])
	s.Equal(domain.ActionPublishSuperseded, s.records[0].Action)
}

func (s *PublishServiceTestSuite) TestPublish_CanceledBeforeCreation() {
	ctx, cancel := context.WithCancel(context.Background())
	cred := &domain.Credential{OwnerID: "owner-1", Type: domain.CredentialUser, Token: "tok"}

	s.expectStores()
	s.drafts.EXPECT().Get(ctx, "draft-1").Return(testDraft(), nil)
	s.credentials.EXPECT().Resolve(ctx, "owner-1").Return(cred, nil)
	s.assets.EXPECT().Run(ctx, cred, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *domain.Credential, _ []imagepipeline.AssetRequest) ([]imagepipeline.AssetResult, error) {
			cancel()
			return []imagepipeline.AssetResult{uploaded("hero", "hash_hero")}, nil
		},
	)

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})

	s.Require().Error(err)
	s.Equal(domain.KindCanceled, result.ErrorKind)
	s.Equal(0, s.countStored(domain.ResourceCampaign))
	s.NotNil(s.lastFailure())
}

func (s *PublishServiceTestSuite) TestPublish_PersistFailureStopsBeforeNextCreation() {
	ctx := context.Background()
	d := testDraft()
	cred := &domain.Credential{OwnerID: "owner-1", Type: domain.CredentialUser, Token: "tok"}

	s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rec *domain.AuditRecord) error {
			s.records = append(s.records, rec)
			return nil
		},
	).AnyTimes()
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.resources.EXPECT().ListByDraft(ctx, "draft-1").Return(nil, nil)
	s.resources.EXPECT().Record(gomock.Any(), gomock.Any()).Return(nil) // image record
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	s.drafts.EXPECT().Get(ctx, "draft-1").Return(d, nil)
	s.credentials.EXPECT().Resolve(ctx, "owner-1").Return(cred, nil)
	s.assets.EXPECT().Run(ctx, cred, gomock.Any()).Return([]imagepipeline.AssetResult{uploaded("hero", "hash_hero")}, nil)
	s.platform.EXPECT().CreateCampaign(ctx, "tok", d).Return("cmp_1", nil)

	result, err := s.service.Publish(ctx, PublishRequest{DraftID: "draft-1"})

	s.Require().Error(err)
	s.Equal(domain.StepPersist, result.FailedStep)
	s.Contains(result.Error, "cmp_1")
}

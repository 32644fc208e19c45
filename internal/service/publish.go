package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ad_publisher/internal/domain"
	"ad_publisher/internal/imagepipeline"
	"ad_publisher/internal/metrics"
)

type PublishRequest struct {
	DraftID string
	// OwnerID must match the draft owner. Empty skips the check and is
	// reserved for internal callers such as auto-resume.
	OwnerID string
	Actor   string
	// Supersede retires the existing remote resources and publishes the
	// draft again from scratch.
	Supersede bool
}

// PublishService turns a validated draft into remote campaign, ad set and ad
// entities. Every remote creation is persisted before the next one starts,
// so a failed attempt can be resumed without duplicating anything.
type PublishService struct {
	drafts      DraftStore
	resources   ResourceStore
	credentials CredentialResolver
	assets      AssetPipeline
	platform    Platform
	txManager   TransactionManager
	audit       *auditor
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*draftLock
}

type draftLock struct {
	mu   sync.Mutex
	refs int
}

func NewPublishService(
	drafts DraftStore,
	resources ResourceStore,
	audit AuditStore,
	credentials CredentialResolver,
	assets AssetPipeline,
	platform Platform,
	txManager TransactionManager,
	publisher Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *PublishService {
	logger = logger.With("component", "publish")
	return &PublishService{
		drafts:      drafts,
		resources:   resources,
		credentials: credentials,
		assets:      assets,
		platform:    platform,
		txManager:   txManager,
		audit:       &auditor{store: audit, publisher: publisher, logger: logger},
		metrics:     m,
		logger:      logger,
		locks:       make(map[string]*draftLock),
	}
}

// publishRun is the state of one publish attempt.
type publishRun struct {
	draft  *domain.Draft
	actor  string
	set    domain.ResourceSet
	result *domain.PublishResult
	cred   *domain.Credential

	// imageIDs maps a creative key to its uploaded platform image.
	imageIDs map[string]string
}

func (s *PublishService) Publish(ctx context.Context, req PublishRequest) (*domain.PublishResult, error) {
	startTime := time.Now()

	d, err := s.drafts.Get(ctx, req.DraftID)
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	if req.OwnerID != "" && d.OwnerID != req.OwnerID {
		return nil, domain.ErrDraftNotFound
	}

	unlock := s.lock(d.ID)
	defer unlock()

	actor := req.Actor
	if actor == "" {
		actor = "user:" + d.OwnerID
	}

	run := &publishRun{
		draft:    d,
		actor:    actor,
		set:      make(domain.ResourceSet),
		result:   &domain.PublishResult{DraftID: d.ID},
		imageIDs: make(map[string]string),
	}

	s.logger.Info("starting publish",
		"draft_id", d.ID,
		"actor", actor,
		"ad_sets", len(d.AdSets),
		"ads", d.AdCount(),
		"supersede", req.Supersede,
	)

	result, err := s.publish(ctx, run, req.Supersede)

	result.Duration = time.Since(startTime)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.ObservePublish(outcome, result.Duration)

	return result, err
}

func (s *PublishService) publish(ctx context.Context, run *publishRun, supersede bool) (*domain.PublishResult, error) {
	d := run.draft

	if err := d.Validate(); err != nil {
		return s.fail(ctx, run, domain.StepValidate, d.ID, err)
	}

	if supersede {
		if err := s.supersede(ctx, run); err != nil {
			return run.result, err
		}
	}

	existing, err := s.resources.ListByDraft(ctx, d.ID)
	if err != nil {
		return run.result, fmt.Errorf("load remote resources: %w", err)
	}
	run.set = domain.NewResourceSet(existing)

	if run.set.Complete(d) {
		return s.alreadyPublished(ctx, run)
	}

	if _, err := s.audit.record(ctx, d.ID, run.actor, domain.ActionPublishStarted, map[string]any{
		"existing":  run.set.Len(),
		"supersede": supersede,
	}); err != nil {
		return run.result, err
	}

	cred, err := s.credentials.Resolve(ctx, d.OwnerID)
	if err != nil {
		return s.fail(ctx, run, domain.StepCredential, "", err)
	}
	run.cred = cred

	if step, localID, err := s.prepareAssets(ctx, run); err != nil {
		return s.fail(ctx, run, step, localID, err)
	}

	// nothing has been created remotely yet in this attempt
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, run, domain.StepCampaign, d.ID, err)
	}

	if step, localID, err := s.createMissing(ctx, run); err != nil {
		return s.fail(ctx, run, step, localID, err)
	}

	return s.succeed(ctx, run)
}

func (s *PublishService) supersede(ctx context.Context, run *publishRun) error {
	d := run.draft

	var rec *domain.AuditRecord
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		n, err := s.resources.Supersede(txCtx, d.ID)
		if err != nil {
			return fmt.Errorf("supersede resources: %w", err)
		}

		rec, err = s.audit.newRecord(d.ID, run.actor, domain.ActionPublishSuperseded, map[string]any{"superseded": n})
		if err != nil {
			return err
		}
		return s.audit.store.Append(txCtx, rec)
	})
	if err != nil {
		return err
	}

	s.audit.emit(ctx, rec)
	s.logger.Info("superseded previous publish", "draft_id", d.ID)
	return nil
}

// prepareAssets runs the image pipeline for the creatives still needed: the
// ones referenced by ads without a remote counterpart, plus alternates not
// referenced by any ad.
func (s *PublishService) prepareAssets(ctx context.Context, run *publishRun) (domain.Step, string, error) {
	d := run.draft

	needed := make(map[string]bool)
	referenced := make(map[string]bool)
	for _, as := range d.AdSets {
		for _, ad := range as.Ads {
			referenced[ad.CreativeKey] = true
			if _, ok := run.set.Get(domain.ResourceAd, ad.ID); !ok {
				needed[ad.CreativeKey] = true
			}
		}
	}

	var reqs []imagepipeline.AssetRequest
	for _, c := range d.Creatives {
		if !needed[c.Key] && referenced[c.Key] {
			continue
		}
		reqs = append(reqs, imagepipeline.AssetRequest{
			Key:      c.Key,
			Ref:      c.StorageRef,
			Required: c.Required || needed[c.Key],
		})
	}
	if len(reqs) == 0 {
		return "", "", nil
	}

	results, err := s.assets.Run(ctx, run.cred, reqs)

	for _, r := range results {
		outcome := domain.AssetOutcome{
			Key:      r.Key,
			Required: r.Required,
			Cached:   r.Cached,
			Warnings: r.Warnings,
		}
		if r.Err != nil {
			outcome.ErrorKind = domain.KindOf(r.Err)
			outcome.Error = r.Err.Error()
		}
		if r.Remote != nil {
			outcome.RemoteID = r.Remote.RemoteID
			run.imageIDs[r.Key] = r.Remote.RemoteID
		}
		run.result.Assets = append(run.result.Assets, outcome)
	}

	if err != nil {
		return domain.StepAssets, "", err
	}

	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if r.Required {
			return domain.StepAssets, r.Key, r.Err
		}
		s.logger.Warn("optional creative failed",
			"draft_id", d.ID,
			"key", r.Key,
			"stage", r.Stage,
			"error", r.Err,
		)
	}

	s.recordImages(ctx, run)
	return "", "", nil
}

// recordImages keeps a per-draft record of the uploaded images. Failing to
// record one only costs a cache lookup on the next attempt.
func (s *PublishService) recordImages(ctx context.Context, run *publishRun) {
	for key, imageID := range run.imageIDs {
		if _, ok := run.set.Get(domain.ResourceImage, key); ok {
			continue
		}
		rr := &domain.RemoteResource{
			DraftID:  run.draft.ID,
			Kind:     domain.ResourceImage,
			LocalID:  key,
			RemoteID: imageID,
		}
		if err := s.resources.Record(context.WithoutCancel(ctx), rr); err != nil && !errors.Is(err, domain.ErrResourceExists) {
			s.logger.Warn("failed to record image", "draft_id", run.draft.ID, "key", key, "error", err)
			continue
		}
		run.set.Add(*rr)
	}
}

// createMissing creates, in hierarchy order, every entity that has no
// active remote resource yet.
func (s *PublishService) createMissing(ctx context.Context, run *publishRun) (domain.Step, string, error) {
	d := run.draft
	token := run.cred.Token

	campaign, ok := run.set.Get(domain.ResourceCampaign, d.ID)
	if !ok {
		var err error
		campaign, err = s.create(ctx, run, domain.ResourceCampaign, d.ID, func(ctx context.Context) (string, error) {
			return s.platform.CreateCampaign(ctx, token, d)
		})
		if err != nil {
			return stepFor(domain.StepCampaign, err), d.ID, err
		}
	}

	for _, as := range d.AdSets {
		adSet, ok := run.set.Get(domain.ResourceAdSet, as.ID)
		if !ok {
			var err error
			adSet, err = s.create(ctx, run, domain.ResourceAdSet, as.ID, func(ctx context.Context) (string, error) {
				return s.platform.CreateAdSet(ctx, token, d, as, campaign.RemoteID)
			})
			if err != nil {
				return stepFor(domain.StepAdSet, err), as.ID, err
			}
		}

		for _, ad := range as.Ads {
			if _, ok := run.set.Get(domain.ResourceAd, ad.ID); ok {
				continue
			}
			imageID, ok := run.imageIDs[ad.CreativeKey]
			if !ok {
				return domain.StepAssets, ad.CreativeKey, fmt.Errorf("creative %s of ad %s: %w", ad.CreativeKey, ad.ID, domain.ErrAssetRequired)
			}
			if _, err := s.create(ctx, run, domain.ResourceAd, ad.ID, func(ctx context.Context) (string, error) {
				return s.platform.CreateAd(ctx, token, d, ad, adSet.RemoteID, imageID)
			}); err != nil {
				return stepFor(domain.StepAd, err), ad.ID, err
			}
		}
	}

	return "", "", nil
}

type persistError struct{ err error }

func (e *persistError) Error() string { return e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

func stepFor(step domain.Step, err error) domain.Step {
	var pe *persistError
	if errors.As(err, &pe) {
		return domain.StepPersist
	}
	return step
}

// create performs one remote creation and persists it together with its
// resource_created audit record. Once the platform has answered, the
// result is persisted even if ctx was cancelled in the meantime.
func (s *PublishService) create(ctx context.Context, run *publishRun, kind domain.ResourceKind, localID string, call func(context.Context) (string, error)) (domain.RemoteResource, error) {
	remoteID, err := call(ctx)
	if err != nil {
		return domain.RemoteResource{}, err
	}

	rr := &domain.RemoteResource{
		DraftID:  run.draft.ID,
		Kind:     kind,
		LocalID:  localID,
		RemoteID: remoteID,
		Pausable: true,
	}

	rec, err := s.audit.newRecord(run.draft.ID, run.actor, domain.ActionResourceCreated, map[string]any{
		"kind":      kind,
		"local_id":  localID,
		"remote_id": remoteID,
	})
	if err != nil {
		return domain.RemoteResource{}, &persistError{err: err}
	}

	persistCtx := context.WithoutCancel(ctx)
	err = s.txManager.WithTransaction(persistCtx, func(txCtx context.Context) error {
		if err := s.resources.Record(txCtx, rr); err != nil {
			return fmt.Errorf("record %s %s: %w", kind, localID, err)
		}
		return s.audit.store.Append(txCtx, rec)
	})
	if err != nil {
		s.logger.Error("remote resource created but not persisted",
			"draft_id", run.draft.ID,
			"kind", kind,
			"local_id", localID,
			"remote_id", remoteID,
			"error", err,
		)
		return domain.RemoteResource{}, &persistError{err: fmt.Errorf("%w (remote id %s)", err, remoteID)}
	}

	run.set.Add(*rr)
	run.result.Created++
	s.metrics.IncResourceCreated(string(kind))
	s.audit.emit(persistCtx, rec)

	s.logger.Debug("remote resource created",
		"draft_id", run.draft.ID,
		"kind", kind,
		"local_id", localID,
		"remote_id", remoteID,
	)
	return *rr, nil
}

func (s *PublishService) alreadyPublished(ctx context.Context, run *publishRun) (*domain.PublishResult, error) {
	d := run.draft

	latest, err := s.audit.store.Latest(ctx, d.ID, domain.LifecycleActions)
	if err != nil {
		return run.result, fmt.Errorf("load latest audit: %w", err)
	}
	// resources complete but the attempt died before recording the outcome
	if latest == nil || latest.Action != domain.ActionPublished {
		if _, err := s.audit.record(ctx, d.ID, run.actor, domain.ActionPublished, map[string]any{
			"remote_ids": run.set.RemoteIDs(),
			"created":    0,
		}); err != nil {
			return run.result, err
		}
	}

	s.logger.Info("draft already published", "draft_id", d.ID)

	run.result.Success = true
	run.result.State = domain.StateActive
	run.result.RemoteIDs = run.set.RemoteIDs()
	return run.result, nil
}

func (s *PublishService) succeed(ctx context.Context, run *publishRun) (*domain.PublishResult, error) {
	d := run.draft
	run.result.Success = true
	run.result.State = domain.StateActive
	run.result.RemoteIDs = run.set.RemoteIDs()

	var warnings []string
	for _, a := range run.result.Assets {
		warnings = append(warnings, a.Warnings...)
		if a.Error != "" {
			warnings = append(warnings, a.Key+": "+a.Error)
		}
	}

	if _, err := s.audit.record(context.WithoutCancel(ctx), d.ID, run.actor, domain.ActionPublished, map[string]any{
		"remote_ids": run.result.RemoteIDs,
		"created":    run.result.Created,
		"warnings":   warnings,
	}); err != nil {
		// every entity exists; the next attempt only writes the missing record
		s.logger.Error("failed to record publish outcome", "draft_id", d.ID, "error", err)
	}

	s.logger.Info("publish completed",
		"draft_id", d.ID,
		"created", run.result.Created,
		"warnings", len(warnings),
	)
	return run.result, nil
}

// fail records the failed attempt and returns it as a *domain.StepError.
// Resources created before the failure stay in place for the next attempt.
func (s *PublishService) fail(ctx context.Context, run *publishRun, step domain.Step, localID string, cause error) (*domain.PublishResult, error) {
	d := run.draft
	kind := domain.KindOf(cause)

	run.result.Success = false
	run.result.State = domain.StatePublishFailed
	run.result.FailedStep = step
	run.result.ErrorKind = kind
	run.result.Error = cause.Error()
	run.result.RemoteIDs = run.set.RemoteIDs()

	if _, err := s.audit.record(context.WithoutCancel(ctx), d.ID, run.actor, domain.ActionPublishFailed, map[string]any{
		"step":      step,
		"kind":      kind,
		"error":     cause.Error(),
		"local_id":  localID,
		"transient": domain.IsTransient(cause),
	}); err != nil {
		s.logger.Error("failed to record publish failure", "draft_id", d.ID, "error", err)
	}

	s.metrics.IncStepFailure(string(step), string(kind))
	s.logger.Warn("publish failed",
		"draft_id", d.ID,
		"step", step,
		"local_id", localID,
		"kind", kind,
		"created", run.result.Created,
		"error", cause,
	)

	return run.result, &domain.StepError{Step: step, LocalID: localID, Err: cause}
}

// lock serializes publishes of one draft. An entry lives only while a publish
// holds or waits for it.
func (s *PublishService) lock(draftID string) func() {
	s.mu.Lock()
	l, ok := s.locks[draftID]
	if !ok {
		l = &draftLock{}
		s.locks[draftID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, draftID)
		}
		s.mu.Unlock()
	}
}

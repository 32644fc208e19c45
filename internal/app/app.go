package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"ad_publisher/internal/config"
	"ad_publisher/internal/credential"
	"ad_publisher/internal/domain"
	"ad_publisher/internal/imagepipeline"
	"ad_publisher/internal/metrics"
	"ad_publisher/internal/platform"
	"ad_publisher/internal/publisher"
	"ad_publisher/internal/service"
	"ad_publisher/internal/storage/bolt"
	"ad_publisher/internal/storage/postgres"
)

// App holds the wired components shared by the CLI commands and the
// HTTP server.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Drafts      *postgres.DraftStore
	Credentials *postgres.CredentialStore

	Publish   *service.PublishService
	Budget    *service.BudgetService
	Status    *service.StatusService
	Lifecycle *service.LifecycleService
	Resume    *service.ResumeService

	closers []func() error
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	logger.Info("connected to database")

	// optional; a nil Publisher disables audit fan-out
	var events service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rabbitMQ.Close)
		events = rabbitMQ
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	assetCache, err := bolt.Open(cfg.Cache.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, assetCache.Close)

	// Initialize stores
	a.Drafts = postgres.NewDraftStore(db)
	a.Credentials = postgres.NewCredentialStore(db)
	resourceStore := postgres.NewResourceStore(db)
	auditStore := postgres.NewAuditStore(db)
	txManager := postgres.NewTransactionManager(db)

	platformClient := platform.New(platform.Config{
		BaseURL:        cfg.Platform.BaseURL,
		APIVersion:     cfg.Platform.APIVersion,
		AdAccountID:    cfg.Platform.AdAccountID,
		PageID:         cfg.Platform.PageID,
		Timeout:        cfg.Platform.Timeout,
		MaxAttempts:    cfg.Platform.Retry.MaxAttempts,
		InitialBackoff: cfg.Platform.Retry.InitialBackoff,
		MaxBackoff:     cfg.Platform.Retry.MaxBackoff,
	}, logger)

	fetcher := imagepipeline.NewFetcher(imagepipeline.FetcherConfig{
		BaseURL:        cfg.Storage.BaseURL,
		Timeout:        cfg.Storage.Timeout,
		MaxAttempts:    cfg.Storage.Retry.MaxAttempts,
		InitialBackoff: cfg.Storage.Retry.InitialBackoff,
		MaxBackoff:     cfg.Storage.Retry.MaxBackoff,
		MaxBytes:       cfg.Images.MaxBytes,
	}, logger)

	pipeline := imagepipeline.New(
		imagepipeline.Config{
			Requirements: imagepipeline.Requirements{
				MinWidth:        cfg.Images.MinWidth,
				MinHeight:       cfg.Images.MinHeight,
				MaxBytes:        cfg.Images.MaxBytes,
				MaxPixels:       cfg.Images.MaxPixels,
				AspectTolerance: cfg.Images.AspectTolerance,
			},
			Processing: imagepipeline.ProcessorConfig{
				MinWidth:    cfg.Images.MinWidth,
				MinHeight:   cfg.Images.MinHeight,
				MaxWidth:    cfg.Images.MaxWidth,
				MaxHeight:   cfg.Images.MaxHeight,
				MaxPixels:   cfg.Images.MaxPixels,
				Format:      domain.ImageFormat(cfg.Images.TargetFormat),
				JPEGQuality: cfg.Images.JPEGQuality,
			},
			Concurrency: cfg.Images.Concurrency,
		},
		fetcher,
		imagepipeline.NewUploader(platformClient, assetCache, a.Metrics, logger),
		a.Metrics,
		logger,
	)

	resolver := credential.NewResolver(a.Credentials, logger)

	a.Publish = service.NewPublishService(
		a.Drafts,
		resourceStore,
		auditStore,
		resolver,
		pipeline,
		platformClient,
		txManager,
		events,
		a.Metrics,
		logger,
	)
	a.Budget = service.NewBudgetService(a.Drafts, auditStore, events, logger)
	a.Status = service.NewStatusService(a.Drafts, resourceStore, auditStore, resolver, platformClient, logger)
	a.Lifecycle = service.NewLifecycleService(
		a.Drafts,
		resourceStore,
		auditStore,
		resolver,
		platformClient,
		events,
		a.Metrics,
		logger,
	)
	a.Resume = service.NewResumeService(auditStore, a.Budget, a.Publish, events, cfg.Resume, logger)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

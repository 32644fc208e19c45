package imagepipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ad_publisher/internal/domain"
	"ad_publisher/internal/metrics"
)

type Stage string

const (
	StageFetch    Stage = "fetch"
	StageValidate Stage = "validate"
	StageProcess  Stage = "process"
	StageUpload   Stage = "upload"
	StageDone     Stage = "done"
)

// Source returns the raw bytes behind a storage reference.
type Source interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

type AssetRequest struct {
	Key      string
	Ref      string
	Required bool
}

// AssetResult is the outcome of one asset. Stage is the last stage reached;
// on failure it names the stage that failed.
type AssetResult struct {
	Key      string
	Required bool
	Asset    *domain.ProcessedAsset
	Remote   *domain.RemoteResource
	Cached   bool
	Warnings []string
	Stage    Stage
	Err      error
}

type Config struct {
	Requirements Requirements
	Processing   ProcessorConfig
	Concurrency  int
}

// Pipeline turns creative storage references into uploaded platform images.
type Pipeline struct {
	source      Source
	validator   *Validator
	processor   *Processor
	uploader    *Uploader
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func New(cfg Config, source Source, uploader *Uploader, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Pipeline{
		source:      source,
		validator:   NewValidator(cfg.Requirements),
		processor:   NewProcessor(cfg.Processing),
		uploader:    uploader,
		concurrency: cfg.Concurrency,
		metrics:     m,
		logger:      logger.With("component", "imagepipeline"),
	}
}

// Run processes all requests concurrently. Per-asset failures are reported
// in the results; the returned error is set only when the batch as a whole
// must stop, which is a rejected credential or a cancelled context.
func (p *Pipeline) Run(ctx context.Context, cred *domain.Credential, reqs []AssetRequest) ([]AssetResult, error) {
	results := make([]AssetResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			results[i] = p.runOne(gctx, cred, req)
			if domain.KindOf(results[i].Err) == domain.KindCredentialRejected {
				return results[i].Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	return results, nil
}

func (p *Pipeline) runOne(ctx context.Context, cred *domain.Credential, req AssetRequest) AssetResult {
	res := AssetResult{Key: req.Key, Required: req.Required}

	if err := ctx.Err(); err != nil {
		res.Stage = StageFetch
		res.Err = err
		return res
	}

	fail := func(stage Stage, err error) AssetResult {
		res.Stage = stage
		res.Err = err
		p.metrics.IncAsset(string(stage), "error")
		p.logger.Warn("asset failed",
			"key", req.Key,
			"stage", stage,
			"required", req.Required,
			"kind", domain.KindOf(err),
			"error", err,
		)
		return res
	}

	start := time.Now()
	data, err := p.source.Fetch(ctx, req.Ref)
	p.metrics.ObserveStage(string(StageFetch), time.Since(start))
	if err != nil {
		return fail(StageFetch, err)
	}

	report := p.validator.Validate(req.Key, data)
	res.Warnings = report.Warnings()
	if err := report.Err(); err != nil {
		return fail(StageValidate, err)
	}

	start = time.Now()
	asset, err := p.processor.Process(req.Key, data)
	p.metrics.ObserveStage(string(StageProcess), time.Since(start))
	if err != nil {
		return fail(StageProcess, err)
	}
	res.Asset = asset

	start = time.Now()
	remote, cached, err := p.uploader.Upload(ctx, cred, asset)
	p.metrics.ObserveStage(string(StageUpload), time.Since(start))
	if err != nil {
		return fail(StageUpload, err)
	}

	res.Remote = remote
	res.Cached = cached
	res.Stage = StageDone
	p.metrics.IncAsset(string(StageDone), "ok")

	p.logger.Debug("asset ready",
		"key", req.Key,
		"checksum", asset.Checksum,
		"cached", cached,
		"warnings", len(res.Warnings),
	)
	return res
}

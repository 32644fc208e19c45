package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ad_publisher/internal/domain"
)

// Metrics holds the Prometheus collectors of the publish pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Publish attempts
	PublishAttemptsTotal     *prometheus.CounterVec
	PublishDurationSeconds   prometheus.Histogram
	PublishStepFailuresTotal *prometheus.CounterVec
	ResourcesCreatedTotal    *prometheus.CounterVec

	// Image pipeline
	AssetsProcessedTotal   *prometheus.CounterVec
	AssetCacheLookupsTotal *prometheus.CounterVec
	AssetStageSeconds      *prometheus.HistogramVec

	// Lifecycle
	AdStatusChangesTotal *prometheus.CounterVec

	// Auto-resume
	ResumePassesTotal    *prometheus.CounterVec
	ResumedPublishesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered on a
// private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		PublishAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpublisher_publish_attempts_total",
				Help: "Total number of publish attempts by outcome",
			},
			[]string{"outcome"},
		),
		PublishDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "adpublisher_publish_duration_seconds",
				Help:    "Duration of publish attempts in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		PublishStepFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpublisher_publish_step_failures_total",
				Help: "Total number of failed publish steps by step and error kind",
			},
			[]string{"step", "kind"},
		),
		ResourcesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpublisher_remote_resources_created_total",
				Help: "Total number of remote resources created on the platform",
			},
			[]string{"kind"},
		),
		AssetsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpublisher_assets_processed_total",
				Help: "Total number of creative assets run through the image pipeline",
			},
			[]string{"stage", "outcome"},
		),
		AssetCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpublisher_asset_cache_lookups_total",
				Help: "Total number of asset cache lookups by result",
			},
			[]string{"result"},
		),
		AssetStageSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adpublisher_asset_stage_seconds",
				Help:    "Duration of image pipeline stages in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),
		AdStatusChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpublisher_ad_status_changes_total",
				Help: "Total number of pause/resume requests by status and outcome",
			},
			[]string{"status", "outcome"},
		),
		ResumePassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpublisher_resume_passes_total",
				Help: "Total number of auto-resume passes by outcome",
			},
			[]string{"outcome"},
		),
		ResumedPublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpublisher_resumed_publishes_total",
				Help: "Total number of failed publishes handled by auto-resume by outcome",
			},
			[]string{"outcome"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.PublishAttemptsTotal,
		m.PublishDurationSeconds,
		m.PublishStepFailuresTotal,
		m.ResourcesCreatedTotal,
		m.AssetsProcessedTotal,
		m.AssetCacheLookupsTotal,
		m.AssetStageSeconds,
		m.AdStatusChangesTotal,
		m.ResumePassesTotal,
		m.ResumedPublishesTotal,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObservePublish(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PublishAttemptsTotal.WithLabelValues(outcome).Inc()
	m.PublishDurationSeconds.Observe(d.Seconds())
}

func (m *Metrics) IncStepFailure(step, kind string) {
	if m == nil {
		return
	}
	m.PublishStepFailuresTotal.WithLabelValues(step, kind).Inc()
}

func (m *Metrics) IncResourceCreated(kind string) {
	if m == nil {
		return
	}
	m.ResourcesCreatedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncAsset(stage, outcome string) {
	if m == nil {
		return
	}
	m.AssetsProcessedTotal.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.AssetStageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.AssetCacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAdStatusChange(status, outcome string) {
	if m == nil {
		return
	}
	m.AdStatusChangesTotal.WithLabelValues(status, outcome).Inc()
}

// ObserveResumePass records one auto-resume pass. stats may be nil when the
// pass failed before selecting candidates.
func (m *Metrics) ObserveResumePass(stats *domain.ResumeStats, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ResumePassesTotal.WithLabelValues("error").Inc()
	} else {
		m.ResumePassesTotal.WithLabelValues("ok").Inc()
	}
	if stats == nil {
		return
	}
	m.ResumedPublishesTotal.WithLabelValues("resumed").Add(float64(stats.Resumed))
	m.ResumedPublishesTotal.WithLabelValues("failed").Add(float64(stats.Failed))
	m.ResumedPublishesTotal.WithLabelValues("skipped").Add(float64(stats.Skipped))
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ad_publisher/internal/config"
	"ad_publisher/internal/domain"
	"ad_publisher/internal/service"
)

type Publisher interface {
	Publish(ctx context.Context, req service.PublishRequest) (*domain.PublishResult, error)
}

type BudgetGate interface {
	Propose(ctx context.Context, draftID, ownerID string) (*domain.BudgetProposal, error)
	Confirm(ctx context.Context, draftID, ownerID, actor, token string) (*domain.BudgetProposal, error)
	RequireConfirmed(ctx context.Context, draftID, ownerID string) error
}

type StatusTracker interface {
	GetStatus(ctx context.Context, campaignID, ownerID string, live bool) (*domain.StatusReport, error)
}

type AdController interface {
	Pause(ctx context.Context, req service.LifecycleRequest) (*domain.AdStatus, error)
	Resume(ctx context.Context, req service.LifecycleRequest) (*domain.AdStatus, error)
}

type Services struct {
	Publish   Publisher
	Budget    BudgetGate
	Status    StatusTracker
	Lifecycle AdController
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP API of the publish pipeline.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	services   Services
	config     config.HTTPConfig
	logger     *slog.Logger
	startTime  time.Time
}

func NewServer(services Services, cfg config.HTTPConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		services:  services,
		config:    cfg,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // publishes upload images synchronously
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	if s.services.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.services.Metrics)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(ownerMiddleware)

		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Post("/budget/proposal", s.handleProposeBudget)
			r.Post("/budget/confirm", s.handleConfirmBudget)
			r.Post("/publish", s.handlePublish)
			r.Get("/status", s.handleStatus)
		})

		r.Post("/ads/{id}/pause", s.handlePause)
		r.Post("/ads/{id}/resume", s.handleResume)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

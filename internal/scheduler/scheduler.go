package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ad_publisher/internal/domain"
)

const defaultPassTimeout = 5 * time.Minute

// Resumer retries publishes that failed transiently.
type Resumer interface {
	ResumeFailed(ctx context.Context) (*domain.ResumeStats, error)
}

// PassRecorder receives the outcome of every pass.
type PassRecorder interface {
	ObserveResumePass(stats *domain.ResumeStats, err error)
}

type Option func(*Scheduler)

// WithPassTimeout bounds a single pass. Defaults to five minutes.
func WithPassTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.passTimeout = d
		}
	}
}

func WithRecorder(r PassRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// Scheduler drives auto-resume passes on a fixed interval. Passes never
// overlap: the next tick is only consumed after the current pass returns.
type Scheduler struct {
	resumer     Resumer
	interval    time.Duration
	passTimeout time.Duration
	recorder    PassRecorder
	logger      *slog.Logger

	failStreak int
}

func NewScheduler(resumer Resumer, interval time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		resumer:     resumer,
		interval:    interval,
		passTimeout: defaultPassTimeout,
		logger:      logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a pass immediately and then every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	s.logger.Info("auto-resume scheduler started", "interval", s.interval, "pass_timeout", s.passTimeout)

	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-resume scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	stats, err := s.resumer.ResumeFailed(passCtx)
	if s.recorder != nil {
		s.recorder.ObserveResumePass(stats, err)
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failStreak++
		s.logger.Error("auto-resume pass failed", "error", err, "consecutive_failures", s.failStreak)
		return
	}

	if s.failStreak > 0 {
		s.logger.Info("auto-resume recovered", "after_failures", s.failStreak)
		s.failStreak = 0
	}
}

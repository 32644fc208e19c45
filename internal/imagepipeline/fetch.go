package imagepipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ad_publisher/internal/domain"
)

// FetcherConfig holds internal storage client configuration.
type FetcherConfig struct {
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxBytes caps the body read; one extra byte is read so oversized
	// files can be reported by the validator.
	MaxBytes int64
}

// Fetcher reads raw creative bytes from internal storage.
type Fetcher struct {
	httpClient     *http.Client
	baseURL        string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxBytes       int64
	logger         *slog.Logger
}

func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		maxBytes:       cfg.MaxBytes,
		logger:         logger.With("component", "fetcher"),
	}
}

// Fetch downloads the object behind ref. A missing object is reported as
// domain.ErrNotFound and never retried; everything else is a
// *domain.FetchError retried with backoff.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	url := f.baseURL + "/" + strings.TrimLeft(ref, "/")

	var data []byte
	var err error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		data, err = f.doRequest(ctx, url)
		if err == nil {
			return data, nil
		}

		if !domain.IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}

		if attempt == f.maxAttempts {
			break
		}

		backoff := f.calculateBackoff(attempt)
		f.logger.Warn("fetch failed, retrying",
			"ref", ref,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	var fe *domain.FetchError
	if errors.As(err, &fe) {
		fe.Exhausted = true
	}
	return nil, fmt.Errorf("after %d attempts: %w", f.maxAttempts, err)
}

func (f *Fetcher) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", "AdPublisher/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.FetchError{Ref: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("fetch %s: %w", url, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, &domain.FetchError{Ref: url, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &domain.FetchError{Ref: url, Err: fmt.Errorf("read body: %w", err)}
	}

	return data, nil
}

func (f *Fetcher) calculateBackoff(attempt int) time.Duration {
	backoff := f.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > f.maxBackoff {
		backoff = f.maxBackoff
	}
	return backoff
}

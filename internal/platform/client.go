package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ad_publisher/internal/domain"
)

const maxResponseBytes = 1 << 20

// Config holds advertising platform client configuration.
type Config struct {
	BaseURL        string
	APIVersion     string
	AdAccountID    string
	PageID         string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client talks to the advertising platform's HTTP API. Every call takes the
// bearer token to use, so one client serves all owners.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	accountPath    string
	pageID         string
	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a new platform client.
func New(cfg Config, logger *slog.Logger) *Client {
	account := cfg.AdAccountID
	if !strings.HasPrefix(account, "act_") {
		account = "act_" + account
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	return &Client{
		httpClient:     &http.Client{},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.APIVersion,
		accountPath:    "/" + account,
		pageID:         cfg.PageID,
		timeout:        cfg.Timeout,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "platform"),
	}
}

// UploadImage uploads processed image bytes and returns the platform's image hash.
func (c *Client) UploadImage(ctx context.Context, token, name string, data []byte) (string, error) {
	body := ImageUploadRequest{
		Name:  name,
		Bytes: base64.StdEncoding.EncodeToString(data),
	}

	var resp ImageUploadResponse
	if err := c.do(ctx, "upload_image", token, http.MethodPost, c.accountPath+"/adimages", body, &resp); err != nil {
		return "", err
	}

	for _, img := range resp.Images {
		if img.Hash != "" {
			return img.Hash, nil
		}
	}
	return "", &domain.PlatformError{Kind: domain.KindPlatformRejection, Op: "upload_image", Message: "response carried no image hash"}
}

func (c *Client) CreateCampaign(ctx context.Context, token string, d *domain.Draft) (string, error) {
	return c.create(ctx, "create_campaign", token, "/campaigns", campaignRequest(d))
}

func (c *Client) CreateAdSet(ctx context.Context, token string, d *domain.Draft, as domain.AdSetDraft, campaignID string) (string, error) {
	return c.create(ctx, "create_ad_set", token, "/adsets", adSetRequest(d, as, campaignID, c.pageID))
}

func (c *Client) CreateAd(ctx context.Context, token string, d *domain.Draft, ad domain.AdDraft, adSetID, imageHash string) (string, error) {
	req, err := adRequest(d, ad, adSetID, imageHash, c.pageID)
	if err != nil {
		return "", err
	}
	return c.create(ctx, "create_ad", token, "/ads", req)
}

// SetAdStatus changes the delivery status of exactly one ad.
func (c *Client) SetAdStatus(ctx context.Context, token, adID string, status domain.AdStatusValue) error {
	var resp SuccessResponse
	if err := c.do(ctx, "set_ad_status", token, http.MethodPost, "/"+url.PathEscape(adID), StatusRequest{Status: string(status)}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &domain.PlatformError{Kind: domain.KindPlatformRejection, Op: "set_ad_status", Message: "status change not acknowledged"}
	}
	return nil
}

func (c *Client) GetCampaignStatus(ctx context.Context, token, campaignID string) (*StatusResponse, error) {
	var resp StatusResponse
	path := "/" + url.PathEscape(campaignID) + "?fields=id,status,effective_status"
	if err := c.do(ctx, "get_campaign_status", token, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) create(ctx context.Context, op, token, edge string, body any) (string, error) {
	var resp IDResponse
	if err := c.do(ctx, op, token, http.MethodPost, c.accountPath+edge, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &domain.PlatformError{Kind: domain.KindPlatformRejection, Op: op, Message: "response carried no id"}
	}
	return resp.ID, nil
}

// do performs a request, retrying transient failures with exponential
// backoff. Once the attempt budget is spent the error is marked exhausted.
func (c *Client) do(ctx context.Context, op, token, method, path string, body, out any) error {
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = c.doRequest(ctx, op, token, method, path, body, out)
		if err == nil {
			return nil
		}

		var pe *domain.PlatformError
		if !errors.As(err, &pe) || !pe.Kind.Transient() || ctx.Err() != nil {
			return err
		}

		if attempt == c.maxAttempts {
			pe.Exhausted = true
			break
		}

		backoff := c.calculateBackoff(attempt)
		if pe.RetryAfter > backoff {
			backoff = pe.RetryAfter
		}
		c.logger.Warn("platform request failed, retrying",
			"op", op,
			"kind", pe.Kind,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
}

func (c *Client) doRequest(ctx context.Context, op, token, method, path string, body, out any) error {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "AdPublisher/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := domain.KindNetworkTimeout
		if ctx.Err() != nil {
			kind = domain.KindOf(ctx.Err())
		}
		return &domain.PlatformError{Kind: kind, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.PlatformError{Kind: domain.KindNetworkTimeout, Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return classify(op, resp.StatusCode, resp.Header, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

// Throttling error codes the platform uses on top of HTTP 429.
var rateLimitCodes = map[int]bool{4: true, 17: true, 32: true, 613: true, 80004: true}

// classify turns an error response into one of credential rejection, rate
// limit, not found, payload rejection or transient network failure.
func classify(op string, status int, header http.Header, body []byte) *domain.PlatformError {
	pe := &domain.PlatformError{Op: op, Status: status}

	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		pe.Code = er.Error.Code
		pe.Message = er.Error.Message
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || pe.Code == 190 || pe.Code == 102:
		pe.Kind = domain.KindCredentialRejected
	case status == http.StatusTooManyRequests || rateLimitCodes[pe.Code]:
		pe.Kind = domain.KindRateLimit
		pe.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	case status == http.StatusForbidden:
		pe.Kind = domain.KindCredentialRejected
	case status == http.StatusNotFound:
		pe.Kind = domain.KindNotFound
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		pe.Kind = domain.KindNetworkTimeout
	default:
		pe.Kind = domain.KindPlatformRejection
	}

	return pe
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad_publisher/internal/config"
	"ad_publisher/internal/domain"
	"ad_publisher/internal/metrics"
	"ad_publisher/internal/service"
)

type fakeServices struct {
	confirmed   bool
	publishReqs []service.PublishRequest
	publishErr  error
	lifecycle   []service.LifecycleRequest
}

func (f *fakeServices) Publish(_ context.Context, req service.PublishRequest) (*domain.PublishResult, error) {
	f.publishReqs = append(f.publishReqs, req)
	if f.publishErr != nil {
		return &domain.PublishResult{
			DraftID:    req.DraftID,
			State:      domain.StatePublishFailed,
			FailedStep: domain.StepAdSet,
			ErrorKind:  domain.KindOf(f.publishErr),
			Error:      f.publishErr.Error(),
			RemoteIDs:  map[string]string{"campaign:" + req.DraftID: "cmp_1"},
		}, &domain.StepError{Step: domain.StepAdSet, Err: f.publishErr}
	}
	return &domain.PublishResult{
		DraftID:   req.DraftID,
		Success:   true,
		State:     domain.StateActive,
		RemoteIDs: map[string]string{"campaign:" + req.DraftID: "cmp_1"},
		Created:   3,
	}, nil
}

func (f *fakeServices) Propose(_ context.Context, draftID, ownerID string) (*domain.BudgetProposal, error) {
	if ownerID != "owner-1" {
		return nil, domain.ErrDraftNotFound
	}
	return &domain.BudgetProposal{DraftID: draftID, DailyMinor: 2500, Currency: "USD", ConfirmationToken: "tok"}, nil
}

func (f *fakeServices) Confirm(ctx context.Context, draftID, ownerID, _, token string) (*domain.BudgetProposal, error) {
	if token != "tok" {
		return nil, domain.ErrBudgetChanged
	}
	f.confirmed = true
	return f.Propose(ctx, draftID, ownerID)
}

func (f *fakeServices) RequireConfirmed(_ context.Context, _, _ string) error {
	if !f.confirmed {
		return domain.ErrBudgetNotConfirmed
	}
	return nil
}

func (f *fakeServices) GetStatus(_ context.Context, campaignID, _ string, live bool) (*domain.StatusReport, error) {
	if campaignID == "missing" {
		return nil, fmt.Errorf("load draft: %w", domain.ErrDraftNotFound)
	}
	return &domain.StatusReport{CampaignID: campaignID, State: domain.StateActive, Degraded: live}, nil
}

func (f *fakeServices) Pause(_ context.Context, req service.LifecycleRequest) (*domain.AdStatus, error) {
	f.lifecycle = append(f.lifecycle, req)
	if req.AdID == "draft-only" {
		return nil, fmt.Errorf("ad %s: %w", req.AdID, domain.ErrNotPublished)
	}
	return &domain.AdStatus{AdID: req.AdID, RemoteID: "ad_1", Status: domain.AdStatusPaused}, nil
}

func (f *fakeServices) Resume(_ context.Context, req service.LifecycleRequest) (*domain.AdStatus, error) {
	f.lifecycle = append(f.lifecycle, req)
	return &domain.AdStatus{AdID: req.AdID, RemoteID: "ad_1", Status: domain.AdStatusActive}, nil
}

func newTestServer(t *testing.T, apiKey string) (*fakeServices, http.Handler) {
	t.Helper()
	f := &fakeServices{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := NewServer(Services{
		Publish:   f,
		Budget:    f,
		Status:    f,
		Lifecycle: f,
		Metrics:   metrics.New().Handler(),
	}, config.HTTPConfig{APIKey: apiKey}, logger)
	return f, srv.Handler()
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var owner1 = map[string]string{OwnerHeader: "owner-1"}

func TestHealthAndMetrics(t *testing.T) {
	_, h := newTestServer(t, "secret")

	w := do(h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "adpublisher_publish_duration_seconds")
}

func TestAuth(t *testing.T) {
	_, h := newTestServer(t, "secret")

	w := do(h, http.MethodGet, "/api/v1/campaigns/draft-1/status", "", owner1)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	for _, key := range []string{"secreT", "secret2", "s"} {
		w = do(h, http.MethodGet, "/api/v1/campaigns/draft-1/status", "", map[string]string{
			"X-API-Key": key,
			OwnerHeader: "owner-1",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code, "key %q", key)
	}

	w = do(h, http.MethodGet, "/api/v1/campaigns/draft-1/status", "", map[string]string{
		"Authorization": "Bearer secret",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "owner header is required")

	w = do(h, http.MethodGet, "/api/v1/campaigns/draft-1/status", "", map[string]string{
		"X-API-Key": "secret",
		OwnerHeader: "owner-1",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublish_RequiresBudgetConfirmation(t *testing.T) {
	f, h := newTestServer(t, "")

	w := do(h, http.MethodPost, "/api/v1/campaigns/draft-1/publish", "", owner1)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, f.publishReqs)

	w = do(h, http.MethodPost, "/api/v1/campaigns/draft-1/budget/proposal", "", owner1)
	require.Equal(t, http.StatusOK, w.Code)
	var p domain.BudgetProposal
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, int64(2500), p.DailyMinor)

	w = do(h, http.MethodPost, "/api/v1/campaigns/draft-1/budget/confirm", `{"token":"stale"}`, owner1)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(h, http.MethodPost, "/api/v1/campaigns/draft-1/budget/confirm", `{"token":"`+p.ConfirmationToken+`"}`, owner1)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(h, http.MethodPost, "/api/v1/campaigns/draft-1/publish?republish=true", "", owner1)
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.PublishResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Created)

	require.Len(t, f.publishReqs, 1)
	assert.Equal(t, service.PublishRequest{
		DraftID:   "draft-1",
		OwnerID:   "owner-1",
		Actor:     "user:owner-1",
		Supersede: true,
	}, f.publishReqs[0])
}

func TestPublish_FailureCarriesResult(t *testing.T) {
	f, h := newTestServer(t, "")
	f.confirmed = true
	f.publishErr = &domain.PlatformError{Kind: domain.KindRateLimit, Op: "create_ad_set", Exhausted: true}

	w := do(h, http.MethodPost, "/api/v1/campaigns/draft-1/publish", "", owner1)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, domain.KindRateLimit, resp.Kind)
	require.NotNil(t, resp.Result)
	assert.Equal(t, domain.StepAdSet, resp.Result.FailedStep)
	assert.Equal(t, "cmp_1", resp.Result.RemoteIDs["campaign:draft-1"])
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t, "")

	w := do(h, http.MethodGet, "/api/v1/campaigns/draft-1/status?live=true", "", owner1)
	require.Equal(t, http.StatusOK, w.Code)
	var report domain.StatusReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.Equal(t, domain.StateActive, report.State)
	assert.True(t, report.Degraded)

	w = do(h, http.MethodGet, "/api/v1/campaigns/draft-1/status?live=maybe", "", owner1)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, http.MethodGet, "/api/v1/campaigns/missing/status", "", owner1)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseResume(t *testing.T) {
	f, h := newTestServer(t, "")

	w := do(h, http.MethodPost, "/api/v1/ads/ad-1/pause", "", owner1)
	require.Equal(t, http.StatusOK, w.Code)
	var st domain.AdStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, domain.AdStatusPaused, st.Status)

	w = do(h, http.MethodPost, "/api/v1/ads/ad-1/resume", "", owner1)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(h, http.MethodPost, "/api/v1/ads/draft-only/pause", "", owner1)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, domain.KindNotPublished, resp.Kind)

	require.Len(t, f.lifecycle, 3)
	for _, req := range f.lifecycle {
		assert.Equal(t, "owner-1", req.OwnerID)
		assert.Empty(t, req.CredentialOverride)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrBudgetNotConfirmed, http.StatusConflict},
		{fmt.Errorf("ad x: %w", domain.ErrCapabilityDisabled), http.StatusConflict},
		{domain.ErrDraftNotFound, http.StatusNotFound},
		{&domain.ValidationError{Subject: "draft d"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("owner o: %w", domain.ErrNoCredential), http.StatusPreconditionFailed},
		{&domain.PlatformError{Kind: domain.KindCredentialRejected}, http.StatusBadGateway},
		{&domain.FetchError{Ref: "a.jpg"}, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

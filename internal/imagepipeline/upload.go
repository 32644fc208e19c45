package imagepipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"ad_publisher/internal/domain"
	"ad_publisher/internal/metrics"
)

// ImageUploader sends processed bytes to the advertising platform.
type ImageUploader interface {
	UploadImage(ctx context.Context, token, name string, data []byte) (string, error)
}

// AssetCache maps a processed asset checksum to its uploaded remote image.
// Entries are write-once.
type AssetCache interface {
	// Get returns domain.ErrNotFound when the checksum was never uploaded.
	Get(ctx context.Context, checksum string) (*domain.RemoteResource, error)
	// PutIfAbsent stores rr unless an entry exists and returns the stored entry.
	PutIfAbsent(ctx context.Context, checksum string, rr domain.RemoteResource) (*domain.RemoteResource, error)
}

// Uploader uploads each distinct asset at most once.
type Uploader struct {
	images  ImageUploader
	cache   AssetCache
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewUploader(images ImageUploader, cache AssetCache, m *metrics.Metrics, logger *slog.Logger) *Uploader {
	return &Uploader{
		images:  images,
		cache:   cache,
		metrics: m,
		logger:  logger.With("component", "uploader"),
	}
}

// Upload returns the remote image for asset, uploading it only on a cache
// miss. Concurrent calls for the same checksum and the same credential share
// one upload; callers with different credentials never see each other's
// result or error. The shared upload is detached from any single caller's
// context, and a caller that gives up gets its own context error. The bool
// reports a cache hit.
func (u *Uploader) Upload(ctx context.Context, cred *domain.Credential, asset *domain.ProcessedAsset) (*domain.RemoteResource, bool, error) {
	rr, err := u.lookup(ctx, asset.Checksum)
	if err != nil {
		return nil, false, err
	}
	if rr != nil {
		return rr, true, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := u.group.DoChan(flightKey(asset.Checksum, cred), func() (any, error) {
		// another flight may have filled the cache in the meantime
		if rr, err := u.lookup(flightCtx, asset.Checksum); err != nil || rr != nil {
			return rr, err
		}

		hash, err := u.images.UploadImage(flightCtx, cred.Token, uploadName(asset), asset.Data)
		if err != nil {
			return nil, err
		}

		stored, err := u.cache.PutIfAbsent(flightCtx, asset.Checksum, domain.RemoteResource{
			Kind:      domain.ResourceImage,
			LocalID:   asset.Checksum,
			RemoteID:  hash,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("cache asset %s: %w", asset.Checksum, err)
		}

		u.logger.Debug("asset uploaded",
			"key", asset.Key,
			"checksum", asset.Checksum,
			"remote_id", stored.RemoteID,
		)
		return stored, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*domain.RemoteResource), false, nil
	}
}

// flightKey scopes an in-flight upload to one credential. The token is
// hashed so it never sits in the group's key map.
func flightKey(checksum string, cred *domain.Credential) string {
	return checksum + "/" + domain.Checksum([]byte(cred.Token))[:16]
}

func (u *Uploader) lookup(ctx context.Context, checksum string) (*domain.RemoteResource, error) {
	rr, err := u.cache.Get(ctx, checksum)
	switch {
	case err == nil:
		u.metrics.IncCacheLookup(true)
		return rr, nil
	case errors.Is(err, domain.ErrNotFound):
		u.metrics.IncCacheLookup(false)
		return nil, nil
	default:
		return nil, fmt.Errorf("lookup asset %s: %w", checksum, err)
	}
}

func uploadName(asset *domain.ProcessedAsset) string {
	ext := "jpg"
	if asset.Format == domain.FormatPNG {
		ext = "png"
	}
	return asset.Checksum[:16] + "." + ext
}

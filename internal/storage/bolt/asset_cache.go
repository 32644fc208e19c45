package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"ad_publisher/internal/domain"
)

var bucketAssets = []byte("assets")

// AssetCache is a content-addressed cache of uploaded images backed by
// bbolt. Keys are processed asset checksums; values never change once
// written.
type AssetCache struct {
	db *bbolt.DB
}

// Open opens (or creates) the cache file at path.
func Open(path string) (*AssetCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open asset cache: %w", err)
	}

	cache, err := NewAssetCache(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}

func NewAssetCache(db *bbolt.DB) (*AssetCache, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAssets)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create asset bucket: %w", err)
	}
	return &AssetCache{db: db}, nil
}

func (c *AssetCache) Get(ctx context.Context, checksum string) (*domain.RemoteResource, error) {
	var rr *domain.RemoteResource

	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAssets).Get([]byte(checksum))
		if data == nil {
			return domain.ErrNotFound
		}

		rr = &domain.RemoteResource{}
		return json.Unmarshal(data, rr)
	})
	if err != nil {
		return nil, err
	}

	return rr, nil
}

// PutIfAbsent stores rr under checksum unless an entry exists, and returns
// whichever entry is stored afterwards.
func (c *AssetCache) PutIfAbsent(ctx context.Context, checksum string, rr domain.RemoteResource) (*domain.RemoteResource, error) {
	stored := rr

	err := c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAssets)

		if existing := bucket.Get([]byte(checksum)); existing != nil {
			stored = domain.RemoteResource{}
			return json.Unmarshal(existing, &stored)
		}

		data, err := json.Marshal(rr)
		if err != nil {
			return fmt.Errorf("marshal asset: %w", err)
		}
		return bucket.Put([]byte(checksum), data)
	})
	if err != nil {
		return nil, err
	}

	return &stored, nil
}

// Len returns the number of cached assets.
func (c *AssetCache) Len() (int, error) {
	var n int
	err := c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketAssets).Stats().KeyN
		return nil
	})
	return n, err
}

func (c *AssetCache) Close() error {
	return c.db.Close()
}

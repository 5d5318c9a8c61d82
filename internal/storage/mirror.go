package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/merchantry/catalog/internal/logger"
)

const defaultMaxImages = 5

// Mirror copies scraped product images into object storage. Mirroring is
// best-effort: any image that cannot be fetched or stored keeps its original
// URL in the product record.
type Mirror struct {
	storage   ObjectStorage
	client    *resty.Client
	logger    *logger.Logger
	maxImages int
}

// MirrorConfig holds configuration for the image mirror.
type MirrorConfig struct {
	FetchTimeout time.Duration
	MaxImages    int
}

// NewMirror creates an image mirror on top of an object storage backend.
func NewMirror(store ObjectStorage, log *logger.Logger, cfg *MirrorConfig) *Mirror {
	timeout := 15 * time.Second
	maxImages := defaultMaxImages
	if cfg != nil {
		if cfg.FetchTimeout > 0 {
			timeout = cfg.FetchTimeout
		}
		if cfg.MaxImages > 0 {
			maxImages = cfg.MaxImages
		}
	}

	client := resty.New()
	client.SetTimeout(timeout)

	return &Mirror{
		storage:   store,
		client:    client,
		logger:    log,
		maxImages: maxImages,
	}
}

// Mirror fetches each image and uploads it under a key derived from the
// product id and image URL, then returns one serving URL per input URL.
// The derived key is stable, so re-scrapes overwrite instead of piling up.
func (m *Mirror) Mirror(ctx context.Context, productID string, urls []string) []string {
	out := make([]string, len(urls))
	copy(out, urls)

	limit := len(urls)
	if limit > m.maxImages {
		limit = m.maxImages
	}

	for i := 0; i < limit; i++ {
		mirrored, err := m.mirrorOne(ctx, productID, urls[i])
		if err != nil {
			m.logger.WithField(logger.FieldProductID, productID).
				WithError(err).Debug("Image mirror failed, keeping origin URL")
			continue
		}
		out[i] = mirrored
	}

	return out
}

func (m *Mirror) mirrorOne(ctx context.Context, productID, rawURL string) (string, error) {
	key := imageKey(productID, rawURL)

	if ok, err := m.storage.Exists(ctx, key); err == nil && ok {
		return m.storage.GetURL(key), nil
	}

	resp, err := m.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("image fetch returned status %d", resp.StatusCode())
	}

	body := resp.Body()
	contentType := resp.Header().Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "application/octet-stream"
	}

	if err := m.storage.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), contentType); err != nil {
		return "", err
	}

	return m.storage.GetURL(key), nil
}

// imageKey derives a stable object key from product id and source URL.
func imageKey(productID, rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	ext := path.Ext(rawURL)
	if idx := strings.IndexAny(ext, "?#"); idx != -1 {
		ext = ext[:idx]
	}
	if ext == "" || len(ext) > 5 {
		ext = ".img"
	}
	return fmt.Sprintf("products/%s/%s%s", productID, hex.EncodeToString(sum[:8]), ext)
}

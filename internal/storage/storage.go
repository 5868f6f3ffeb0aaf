// Package storage persists captured screenshots and hands back public
// URLs. Two backends exist: Cloudflare R2 over the S3 API, and local disk
// for development and single-node deployments.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/web2img/engine/internal/common/config"
	"github.com/web2img/engine/internal/metrics"
	"github.com/web2img/engine/pkg/types"
)

// ErrUploadFailed is returned when an upload exhausts its retries
var ErrUploadFailed = errors.New("storage upload failed")

// Stats summarizes the backend's persisted state
type Stats struct {
	Backend        string `json:"backend"`
	Objects        int64  `json:"objects"`
	TotalBytes     int64  `json:"total_bytes"`
	ExpirationDays int    `json:"expiration_days,omitempty"`
}

// Store uploads screenshot files. After a successful Upload the caller
// must not assume the source file still exists.
type Store interface {
	// Upload persists the file and returns its public URL. An empty
	// contentType is derived from the file extension.
	Upload(ctx context.Context, path, contentType string) (string, error)

	// Stats reports object count and total size
	Stats(ctx context.Context) (Stats, error)
}

// New selects the backend from configuration
func New(ctx context.Context, cfg config.StorageSettings, mc *metrics.MetricsCollector, logger *zap.Logger) (Store, error) {
	switch cfg.Mode {
	case config.StorageModeRemote:
		return NewR2Store(ctx, cfg, mc, logger)
	case config.StorageModeLocal:
		return NewLocalStore(cfg, mc, logger)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}

// contentTypeFor derives the MIME type from the file extension
func contentTypeFor(path, explicit string) string {
	if explicit != "" {
		return explicit
	}
	ext := filepath.Ext(path)
	if len(ext) > 1 {
		return types.ContentTypeForFormat(ext[1:])
	}
	return "application/octet-stream"
}

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/web2img/engine/internal/common/config"
	"github.com/web2img/engine/internal/metrics"
)

// LocalStore moves screenshots into a directory served by something else
// (nginx, a CDN origin, the dev box itself)
type LocalStore struct {
	dir     string
	baseURL string
	metrics *metrics.MetricsCollector
	logger  *zap.Logger
}

// NewLocalStore ensures the target directory exists
func NewLocalStore(cfg config.StorageSettings, mc *metrics.MetricsCollector, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir %s: %w", cfg.LocalDir, err)
	}

	logger.Info("Local storage initialized",
		zap.String("dir", cfg.LocalDir),
		zap.String("base_url", cfg.LocalBaseURL))

	return &LocalStore{
		dir:     cfg.LocalDir,
		baseURL: strings.TrimSuffix(cfg.LocalBaseURL, "/"),
		metrics: mc,
		logger:  logger,
	}, nil
}

// Upload moves the file into the storage directory. Source and
// destination coinciding is a no-op.
func (s *LocalStore) Upload(ctx context.Context, path, contentType string) (string, error) {
	start := time.Now()

	basename := filepath.Base(path)
	dst := filepath.Join(s.dir, basename)

	if abs, err := filepath.Abs(path); err == nil {
		if dstAbs, err := filepath.Abs(dst); err == nil && abs == dstAbs {
			s.metrics.RecordStorageUpload(true, time.Since(start))
			return s.publicURL(basename), nil
		}
	}

	if err := moveFile(path, dst); err != nil {
		s.metrics.RecordStorageUpload(false, time.Since(start))
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	s.metrics.RecordStorageUpload(true, time.Since(start))
	s.logger.Debug("Screenshot stored locally",
		zap.String("file", basename))
	return s.publicURL(basename), nil
}

// Stats walks the storage directory
func (s *LocalStore) Stats(ctx context.Context) (Stats, error) {
	var objects, bytes int64
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Stats{}, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, err := e.Info(); err == nil {
			objects++
			bytes += info.Size()
		}
	}
	return Stats{
		Backend:    "local",
		Objects:    objects,
		TotalBytes: bytes,
	}, nil
}

func (s *LocalStore) publicURL(basename string) string {
	return s.baseURL + "/" + basename
}

// moveFile renames, falling back to copy-and-delete across filesystems
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// orphanSweepInterval controls how often leftover temp files are scanned
const orphanSweepInterval = 15 * time.Minute

// EnsureScreenshotDir creates the temp directory at startup
func EnsureScreenshotDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating screenshot dir %s: %w", dir, err)
	}
	return nil
}

// StartOrphanSweep deletes temp files older than retention from the
// screenshot directory. Crashed or abandoned captures leave files behind;
// everything healthy is moved or deleted well within the retention window.
// Returns a stop function.
func StartOrphanSweep(dir string, retention time.Duration, logger *zap.Logger) func() {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(orphanSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sweepOrphans(dir, retention, logger)
			}
		}
	}()

	return func() { close(stop) }
}

func sweepOrphans(dir string, retention time.Duration, logger *zap.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("Orphan sweep failed to read screenshot dir",
			zap.String("dir", dir),
			zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logger.Info("Removed orphaned temp files",
			zap.String("dir", dir),
			zap.Int("removed", removed))
	}
}

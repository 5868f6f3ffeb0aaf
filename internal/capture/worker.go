// Package capture drives a borrowed browser context to produce a
// screenshot file for a request.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/web2img/engine/internal/capture/browser"
	"github.com/web2img/engine/internal/common/config"
	"github.com/web2img/engine/internal/metrics"
	"github.com/web2img/engine/pkg/pattern"
	"github.com/web2img/engine/pkg/types"
)

// networkIdleWindow is the soft wait for network-almost-idle after
// DOMContentLoaded; expiry is not an error
const networkIdleWindow = 2 * time.Second

// disableAnimationsCSS freezes CSS animations and transitions so the
// screenshot is not taken mid-frame
const disableAnimationsCSS = `
(() => {
	const style = document.createElement('style');
	style.textContent = '*, *::before, *::after {' +
		'animation-duration: 0s !important;' +
		'transition-duration: 0s !important;' +
		'caret-color: transparent !important; }';
	document.head.appendChild(style);
})();`

// Worker captures screenshots using contexts checked out of the pool
type Worker struct {
	config       config.CaptureSettings
	pool         *browser.Pool
	complexSites []*pattern.Pattern
	metrics      *metrics.MetricsCollector
	logger       *zap.Logger
}

// NewWorker creates a Worker, compiling the complex-site patterns
func NewWorker(cfg config.CaptureSettings, pool *browser.Pool, mc *metrics.MetricsCollector, logger *zap.Logger) (*Worker, error) {
	patterns, err := pattern.CompileList(cfg.ComplexSitePatterns)
	if err != nil {
		return nil, fmt.Errorf("compiling complex site patterns: %w", err)
	}
	return &Worker{
		config:       cfg,
		pool:         pool,
		complexSites: patterns,
		metrics:      mc,
		logger:       logger,
	}, nil
}

// Capture produces a screenshot of targetURL and returns the temp file
// path. The caller takes ownership of the file on success. Retries use
// exponential backoff; timeout-class failures can fall back to an
// emergency minimal-context capture.
func (w *Worker) Capture(ctx context.Context, req *types.CaptureRequest, targetURL string) (string, error) {
	start := time.Now()

	complex := pattern.MatchAny(w.complexSites, targetURL)
	navTimeout := w.config.NavigationTimeoutRegular
	attempts := w.config.MaxRetriesRegular
	if complex {
		navTimeout = w.config.NavigationTimeoutComplex
		attempts = w.config.MaxRetriesComplex
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		path, err := w.attempt(ctx, req, targetURL, navTimeout, false)
		if err == nil {
			w.metrics.RecordCaptureSuccess(time.Since(start))
			w.logger.Info("Screenshot captured",
				zap.String("url", targetURL),
				zap.Int("attempt", attempt),
				zap.Bool("complex", complex),
				zap.Duration("duration", time.Since(start)))
			return path, nil
		}
		lastErr = err

		w.logger.Warn("Capture attempt failed",
			zap.String("url", targetURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
		if w.config.ForceEmergencyOnTimeout && isTimeoutClass(err) {
			break
		}
		if attempt < attempts {
			w.metrics.RecordCaptureRetry()
			if err := w.backoff(ctx, attempt); err != nil {
				break
			}
		}
	}

	if w.config.EnableEmergencyContext && isTimeoutClass(lastErr) && ctx.Err() == nil {
		path, err := w.emergencyCapture(ctx, req, targetURL)
		w.metrics.RecordEmergencyCapture(err == nil)
		if err == nil {
			w.metrics.RecordCaptureSuccess(time.Since(start))
			w.logger.Info("Emergency capture succeeded",
				zap.String("url", targetURL))
			return path, nil
		}
		w.logger.Warn("Emergency capture failed",
			zap.String("url", targetURL),
			zap.Error(err))
		// The original failure is the one callers should see
	}

	if isTimeoutClass(lastErr) {
		w.metrics.RecordCaptureTimeout()
	} else {
		w.metrics.RecordCaptureError()
	}
	return "", fmt.Errorf("%w: %v", ErrCaptureFailed, lastErr)
}

// attempt checks out a context, captures once and releases the context.
// Timeouts and crashes flag the owning browser unhealthy.
func (w *Worker) attempt(ctx context.Context, req *types.CaptureRequest, targetURL string, navTimeout time.Duration, domOnly bool) (string, error) {
	co, err := w.pool.AcquireContext(ctx, req.Width, req.Height)
	if err != nil {
		return "", err
	}

	path, err := w.captureInContext(co.Ctx, req, targetURL, navTimeout, domOnly)

	healthy := err == nil || !isBrowserFault(err)
	w.pool.ReleaseContext(co, healthy)

	return path, err
}

// emergencyCapture runs one loosened attempt in a fresh context: DOM
// content only, short timeout, single shot
func (w *Worker) emergencyCapture(ctx context.Context, req *types.CaptureRequest, targetURL string) (string, error) {
	return w.attempt(ctx, req, targetURL, w.config.EmergencyContextTimeout, true)
}

func (w *Worker) captureInContext(tabCtx context.Context, req *types.CaptureRequest, targetURL string, navTimeout time.Duration, domOnly bool) (string, error) {
	navCtx, cancel := context.WithTimeout(tabCtx, navTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx, w.navigateAndWait(targetURL, domOnly)); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", ErrWaitTimeout, targetURL)
		}
		return "", fmt.Errorf("%w: %v", ErrNavigateFailed, err)
	}

	shotCtx, cancel := context.WithTimeout(tabCtx, w.config.ScreenshotTimeout)
	defer cancel()

	var buf []byte
	shot := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormat(req.Format)).
			Do(ctx)
		return err
	})
	if err := chromedp.Run(shotCtx, shot); err != nil {
		if errors.Is(shotCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: screenshot: %s", ErrWaitTimeout, targetURL)
		}
		return "", fmt.Errorf("%w: %v", ErrScreenshotFailed, err)
	}

	path := filepath.Join(w.config.ScreenshotDir, uuid.New().String()+"."+req.Format)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", ErrScreenshotFailed, path, err)
	}
	return path, nil
}

// navigateAndWait navigates and waits for DOMContentLoaded, then gives
// the network a short window to go almost-idle. The idle window is soft;
// the surrounding context carries the hard ceiling.
func (w *Worker) navigateAndWait(targetURL string, domOnly bool) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}

		frameID, loaderID, _, _, err := page.Navigate(targetURL).Do(ctx)
		if err != nil {
			return err
		}

		if err := waitForLifecycleEvent(ctx, "DOMContentLoaded", string(frameID), string(loaderID), 0); err != nil {
			return err
		}

		// Freeze animations before the shot; failure is cosmetic only
		_ = chromedp.Evaluate(disableAnimationsCSS, nil).Do(ctx)

		if !domOnly {
			if err := waitForLifecycleEvent(ctx, "networkAlmostIdle", string(frameID), string(loaderID), networkIdleWindow); err != nil &&
				!errors.Is(err, errIdleWindowExpired) {
				return err
			}
		}

		return nil
	}
}

var errIdleWindowExpired = errors.New("idle window expired")

// waitForLifecycleEvent blocks until the named lifecycle event fires for
// the given frame and loader. window 0 means wait until ctx is done;
// otherwise expiry returns errIdleWindowExpired.
func waitForLifecycleEvent(ctx context.Context, name, frameID, loaderID string, window time.Duration) error {
	ch := make(chan struct{})

	listenerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			if string(e.FrameID) == frameID && string(e.LoaderID) == loaderID && string(e.Name) == name {
				cancel()
				close(ch)
			}
		}
	})

	var expiry <-chan time.Time
	if window > 0 {
		timer := time.NewTimer(window)
		defer timer.Stop()
		expiry = timer.C
	}

	select {
	case <-ch:
		return nil
	case <-expiry:
		return errIdleWindowExpired
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoff sleeps for the exponential delay with jitter, cancellable
func (w *Worker) backoff(ctx context.Context, attempt int) error {
	delay := w.config.RetryBaseDelay << (attempt - 1)
	if delay > w.config.RetryMaxDelay {
		delay = w.config.RetryMaxDelay
	}
	if w.config.RetryJitter > 0 {
		spread := float64(delay) * w.config.RetryJitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
		if delay < 0 {
			delay = 0
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isTimeoutClass reports whether the error came from a timeout rather
// than a hard navigation or write failure
func isTimeoutClass(err error) bool {
	return errors.Is(err, ErrWaitTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// isBrowserFault reports whether the failure should count against the
// browser's health
func isBrowserFault(err error) bool {
	if isTimeoutClass(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "target crashed") ||
		strings.Contains(msg, "context canceled")
}

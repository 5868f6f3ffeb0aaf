package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// contextDisposeTimeout bounds the incognito context teardown on release
const contextDisposeTimeout = 5 * time.Second

// Instance is one live Chrome process occupying a pool slot
type Instance struct {
	idx int

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	ctx             context.Context
	cancel          context.CancelFunc

	createdAt     time.Time
	lastUsedNano  atomic.Int64
	inFlight      atomic.Int32
	totalContexts atomic.Int32
	unhealthy     atomic.Bool

	logger *zap.Logger
}

// launch starts a Chrome process for the given slot
func launch(idx int, config *Config, logger *zap.Logger) (*Instance, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("hide-scrollbars", true),
	}
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}

	now := time.Now().UTC()
	inst := &Instance{
		idx:       idx,
		createdAt: now,
		logger:    logger,
	}
	inst.lastUsedNano.Store(now.UnixNano())

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	inst.allocatorCtx, inst.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	inst.ctx, inst.cancel = chromedp.NewContext(inst.allocatorCtx)

	// Starts the process without navigating anywhere
	if err := chromedp.Run(inst.ctx); err != nil {
		inst.close()
		return nil, fmt.Errorf("%w: slot %d: %v", ErrBrowserLaunchFailed, idx, err)
	}

	logger.Info("Browser launched",
		zap.Int("slot", idx))

	return inst, nil
}

// NewIsolatedContext opens a tab inside a fresh incognito browser context
// so concurrent captures in one process never share cookies, cache or
// storage. The returned cancel closes the tab and disposes the incognito
// context; it must be called exactly once, by ReleaseContext.
func (b *Instance) NewIsolatedContext() (context.Context, context.CancelFunc, error) {
	var bctxID cdp.BrowserContextID
	var targetID target.ID

	err := chromedp.Run(b.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		bctxID, err = target.CreateBrowserContext().Do(ctx)
		if err != nil {
			return fmt.Errorf("creating browser context: %w", err)
		}
		targetID, err = target.CreateTarget("about:blank").
			WithBrowserContextID(bctxID).
			Do(ctx)
		if err != nil {
			_ = target.DisposeBrowserContext(bctxID).Do(ctx)
			return fmt.Errorf("creating target: %w", err)
		}
		return nil
	}))
	if err != nil {
		return nil, nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx, chromedp.WithTargetID(targetID))

	cancel := func() {
		tabCancel()

		disposeCtx, disposeCancel := context.WithTimeout(b.ctx, contextDisposeTimeout)
		defer disposeCancel()
		err := chromedp.Run(disposeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return target.DisposeBrowserContext(bctxID).Do(ctx)
		}))
		if err != nil {
			b.logger.Debug("Incognito context disposal failed",
				zap.Int("slot", b.idx),
				zap.Error(err))
		}
	}

	return tabCtx, cancel, nil
}

// Age returns how long the process has been running
func (b *Instance) Age() time.Duration {
	return time.Now().UTC().Sub(b.createdAt)
}

// Idle returns the time since the browser last served a context
func (b *Instance) Idle() time.Duration {
	return time.Since(time.Unix(0, b.lastUsedNano.Load()))
}

// LastUsed returns the last checkout or release time
func (b *Instance) LastUsed() time.Time {
	return time.Unix(0, b.lastUsedNano.Load())
}

// MarkUsed refreshes the last-used timestamp
func (b *Instance) MarkUsed() {
	b.lastUsedNano.Store(time.Now().UTC().UnixNano())
}

// Healthy reports whether the browser is considered usable
func (b *Instance) Healthy() bool {
	return !b.unhealthy.Load()
}

// MarkUnhealthy flags the browser for retirement once it drains
func (b *Instance) MarkUnhealthy() {
	b.unhealthy.Store(true)
}

// InFlight returns the number of contexts currently open in this browser
func (b *Instance) InFlight() int {
	return int(b.inFlight.Load())
}

// TotalContexts returns the cumulative context count
func (b *Instance) TotalContexts() int {
	return int(b.totalContexts.Load())
}

// close terminates the Chrome process
func (b *Instance) close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocatorCancel != nil {
		b.allocatorCancel()
	}
}

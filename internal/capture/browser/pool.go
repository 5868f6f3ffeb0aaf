// Package browser manages the pool of headless Chrome processes and the
// contexts checked out of them.
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/web2img/engine/internal/metrics"
)

// Checkout is a context borrowed from the pool. It must be returned with
// ReleaseContext on every exit path and never retained across requests.
type Checkout struct {
	Slot   int
	Ctx    context.Context
	cancel context.CancelFunc
}

// Stats is a point-in-time pool summary
type Stats struct {
	Browsers         int     `json:"browsers"`
	MinBrowsers      int     `json:"min_browsers"`
	MaxBrowsers      int     `json:"max_browsers"`
	ContextsInFlight int     `json:"contexts_in_flight"`
	MaxContexts      int     `json:"max_contexts"`
	TotalLaunched    int64   `json:"total_launched"`
	TotalRetired     int64   `json:"total_retired"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// Pool holds a fixed slot table of browser processes. A semaphore caps the
// total number of checked-out contexts across all browsers.
type Pool struct {
	config  *Config
	logger  *zap.Logger
	metrics *metrics.MetricsCollector

	mu        sync.Mutex
	slots     []*Instance
	launching []bool // slot reserved by an in-progress launch

	sem      chan struct{} // counting semaphore, cap = MaxConcurrentContexts
	released chan struct{} // closed and replaced to broadcast capacity changes

	launchFn func(idx int, config *Config, logger *zap.Logger) (*Instance, error)

	totalLaunched atomic.Int64
	totalRetired  atomic.Int64
	createdAt     time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates the pool, launches the minimum number of browsers and
// starts the watchdog
func NewPool(config *Config, mc *metrics.MetricsCollector, logger *zap.Logger) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	maxSize := config.ResolveMaxSize()
	logger.Info("Initializing browser pool",
		zap.Int("min_size", config.MinSize),
		zap.Int("max_size", maxSize),
		zap.Int("max_contexts", config.MaxConcurrentContexts))

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		config:    config,
		logger:    logger,
		metrics:   mc,
		slots:     make([]*Instance, maxSize),
		launching: make([]bool, maxSize),
		sem:       make(chan struct{}, config.MaxConcurrentContexts),
		released:  make(chan struct{}),
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		launchFn:  launch,
	}
	if config.launchFn != nil {
		p.launchFn = config.launchFn
	}

	for i := 0; i < config.MinSize; i++ {
		inst, err := p.launchFn(i, config, logger)
		if err != nil {
			p.Shutdown()
			return nil, fmt.Errorf("launching initial browser %d: %w", i, err)
		}
		p.slots[i] = inst
		p.totalLaunched.Add(1)
		mc.RecordBrowserLaunched()
	}
	mc.UpdateBrowserPoolSize(p.liveCount())

	p.wg.Add(1)
	go p.watchdog()

	logger.Info("Browser pool initialized",
		zap.Int("browsers", config.MinSize))

	return p, nil
}

// AcquireContext checks out an isolated context with the given viewport.
// It blocks on the context semaphore, then picks a warm browser, grows the
// pool, or waits for a release up to the checkout timeout.
func (p *Pool) AcquireContext(ctx context.Context, width, height int) (*Checkout, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolShutdown
	}

	co, err := p.acquireSlot(ctx, width, height)
	if err != nil {
		<-p.sem
		return nil, err
	}
	p.metrics.UpdateContextsInFlight(len(p.sem))
	return co, nil
}

func (p *Pool) acquireSlot(ctx context.Context, width, height int) (*Checkout, error) {
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	for {
		inst, growIdx, released := p.pickOrReserve()

		if inst == nil && growIdx >= 0 {
			var err error
			inst, err = p.grow(growIdx)
			if err != nil {
				return nil, err
			}
		}

		if inst != nil {
			co, err := p.openTab(inst, width, height)
			if err != nil {
				return nil, err
			}
			return co, nil
		}

		select {
		case <-released:
		case <-timer.C:
			p.logger.Warn("Context checkout timed out",
				zap.Duration("timeout", p.config.AcquireTimeout))
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, ErrPoolShutdown
		}
	}
}

// pickOrReserve selects a warm healthy browser with tab capacity,
// preferring the most recently used. With no candidate it reserves a free
// slot for growth. When the pool is saturated it returns a channel that is
// closed on the next capacity change; the channel is snapshotted under the
// same lock as the capacity probe so a concurrent release is never missed.
func (p *Pool) pickOrReserve() (*Instance, int, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Instance
	for _, inst := range p.slots {
		if inst == nil || !inst.Healthy() {
			continue
		}
		if inst.InFlight() >= p.config.MaxTabsPerBrowser {
			continue
		}
		if best == nil || inst.LastUsed().After(best.LastUsed()) {
			best = inst
		}
	}
	if best != nil {
		best.inFlight.Add(1)
		best.totalContexts.Add(1)
		best.MarkUsed()
		return best, -1, nil
	}

	for i := range p.slots {
		if p.slots[i] == nil && !p.launching[i] {
			p.launching[i] = true
			return nil, i, nil
		}
	}

	return nil, -1, p.released
}

// notifyReleased wakes every checkout waiter after tab or slot capacity
// changes
func (p *Pool) notifyReleased() {
	p.mu.Lock()
	close(p.released)
	p.released = make(chan struct{})
	p.mu.Unlock()
}

// grow launches a browser into a reserved slot
func (p *Pool) grow(idx int) (*Instance, error) {
	inst, err := p.launchFn(idx, p.config, p.logger)

	p.mu.Lock()
	p.launching[idx] = false
	if err == nil {
		p.slots[idx] = inst
		inst.inFlight.Add(1)
		inst.totalContexts.Add(1)
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("Pool growth failed",
			zap.Int("slot", idx),
			zap.Error(err))
		p.notifyReleased()
		return nil, err
	}

	p.totalLaunched.Add(1)
	p.metrics.RecordBrowserLaunched()
	p.metrics.UpdateBrowserPoolSize(p.liveCount())
	return inst, nil
}

// openTab creates the isolated context and applies the viewport
func (p *Pool) openTab(inst *Instance, width, height int) (*Checkout, error) {
	tabCtx, tabCancel, err := inst.NewIsolatedContext()
	if err != nil {
		inst.MarkUnhealthy()
		p.releaseSlot(inst)
		return nil, fmt.Errorf("%w: slot %d: %v", ErrContextCreationFailed, inst.idx, err)
	}

	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(width), int64(height))); err != nil {
		tabCancel()
		inst.MarkUnhealthy()
		p.releaseSlot(inst)
		return nil, fmt.Errorf("%w: slot %d: %v", ErrContextCreationFailed, inst.idx, err)
	}

	return &Checkout{
		Slot:   inst.idx,
		Ctx:    tabCtx,
		cancel: tabCancel,
	}, nil
}

// ReleaseContext destroys the context and returns its semaphore slot.
// healthy=false flags the owning browser for retirement once it drains.
func (p *Pool) ReleaseContext(co *Checkout, healthy bool) {
	if co == nil {
		return
	}
	co.cancel()

	p.mu.Lock()
	inst := p.slots[co.Slot]
	p.mu.Unlock()

	if inst != nil {
		if !healthy {
			inst.MarkUnhealthy()
			p.logger.Warn("Browser flagged unhealthy on release",
				zap.Int("slot", co.Slot))
		}
		p.releaseSlot(inst)
	}

	<-p.sem
	p.metrics.UpdateContextsInFlight(len(p.sem))
}

func (p *Pool) releaseSlot(inst *Instance) {
	inst.inFlight.Add(-1)
	inst.MarkUsed()
	p.notifyReleased()
}

// watchdog periodically retires aged, idle, unhealthy and recycled
// browsers and re-hydrates the pool to its minimum size
func (p *Pool) watchdog() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.retireEligible()
			p.rehydrate()
		}
	}
}

func (p *Pool) retireEligible() {
	type retirement struct {
		inst   *Instance
		reason string
	}
	var retiring []retirement

	p.mu.Lock()
	live := 0
	for _, inst := range p.slots {
		if inst != nil {
			live++
		}
	}
	for i, inst := range p.slots {
		if inst == nil {
			continue
		}

		reason := ""
		switch {
		case inst.Age() > p.config.MaxAge:
			reason = "age"
		case !inst.Healthy() && inst.InFlight() == 0:
			reason = "unhealthy"
		case inst.TotalContexts() > p.config.RecycleThreshold:
			reason = "recycled"
		case inst.Idle() > p.config.IdleTimeout && live > p.config.MinSize:
			reason = "idle"
		}
		if reason == "" {
			continue
		}

		if inst.InFlight() > 0 {
			// Retire once drained; unhealthy flag survives until then
			inst.MarkUnhealthy()
			continue
		}

		p.slots[i] = nil
		live--
		retiring = append(retiring, retirement{inst, reason})
	}
	p.mu.Unlock()

	for _, r := range retiring {
		p.logger.Info("Retiring browser",
			zap.Int("slot", r.inst.idx),
			zap.String("reason", r.reason),
			zap.Duration("age", r.inst.Age()),
			zap.Int("total_contexts", r.inst.TotalContexts()))
		r.inst.close()
		p.totalRetired.Add(1)
		p.metrics.RecordBrowserRetired(r.reason)
	}
	if len(retiring) > 0 {
		p.metrics.UpdateBrowserPoolSize(p.liveCount())
		p.notifyReleased()
	}
}

// rehydrate launches replacements asynchronously until the live count is
// back at the minimum
func (p *Pool) rehydrate() {
	p.mu.Lock()
	var reserve []int
	count := 0
	for i := range p.slots {
		if p.slots[i] != nil || p.launching[i] {
			count++
		}
	}
	for i := range p.slots {
		if count+len(reserve) >= p.config.MinSize {
			break
		}
		if p.slots[i] == nil && !p.launching[i] {
			p.launching[i] = true
			reserve = append(reserve, i)
		}
	}
	p.mu.Unlock()

	for _, idx := range reserve {
		p.wg.Add(1)
		go func(idx int) {
			defer p.wg.Done()

			inst, err := p.launchFn(idx, p.config, p.logger)

			p.mu.Lock()
			p.launching[idx] = false
			if err == nil {
				select {
				case <-p.ctx.Done():
					// Shutdown raced the launch; do not install
					p.mu.Unlock()
					inst.close()
					return
				default:
				}
				p.slots[idx] = inst
			}
			p.mu.Unlock()

			if err != nil {
				p.logger.Error("Pool re-hydration launch failed",
					zap.Int("slot", idx),
					zap.Error(err))
				p.notifyReleased()
				return
			}
			p.totalLaunched.Add(1)
			p.metrics.RecordBrowserLaunched()
			p.metrics.UpdateBrowserPoolSize(p.liveCount())
			p.notifyReleased()
		}(idx)
	}
}

// Shutdown drains active contexts up to the shutdown timeout, then
// terminates every browser
func (p *Pool) Shutdown() {
	p.logger.Info("Initiating browser pool shutdown",
		zap.Int("contexts_in_flight", len(p.sem)))

	p.cancel()
	p.wg.Wait()

	if p.waitForActiveContexts(p.config.ShutdownTimeout) {
		p.logger.Info("All active contexts completed gracefully")
	} else {
		p.logger.Warn("Shutdown timeout exceeded, forcing termination",
			zap.Int("stuck_contexts", len(p.sem)))
	}

	p.mu.Lock()
	for i, inst := range p.slots {
		if inst == nil {
			continue
		}
		inst.close()
		p.slots[i] = nil
		p.totalRetired.Add(1)
		p.metrics.RecordBrowserRetired("shutdown")
	}
	p.mu.Unlock()

	p.logger.Info("Browser pool shut down",
		zap.Int64("total_launched", p.totalLaunched.Load()),
		zap.Int64("total_retired", p.totalRetired.Load()),
		zap.Duration("uptime", time.Since(p.createdAt)))
}

// waitForActiveContexts polls until all contexts are released or the
// timeout is reached
func (p *Pool) waitForActiveContexts(timeout time.Duration) bool {
	deadline := time.Now().UTC().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(p.sem) == 0 {
			return true
		}
		<-ticker.C
		if time.Now().UTC().After(deadline) {
			return false
		}
	}
}

func (p *Pool) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, inst := range p.slots {
		if inst != nil {
			n++
		}
	}
	return n
}

// GetStats returns current pool statistics
func (p *Pool) GetStats() Stats {
	return Stats{
		Browsers:         p.liveCount(),
		MinBrowsers:      p.config.MinSize,
		MaxBrowsers:      len(p.slots),
		ContextsInFlight: len(p.sem),
		MaxContexts:      p.config.MaxConcurrentContexts,
		TotalLaunched:    p.totalLaunched.Load(),
		TotalRetired:     p.totalRetired.Load(),
		UptimeSeconds:    time.Since(p.createdAt).Seconds(),
	}
}

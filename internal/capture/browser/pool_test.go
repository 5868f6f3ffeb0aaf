package browser

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeInstance builds an Instance without a Chrome process behind it. The
// nil cancel funcs make close a no-op, so pool bookkeeping can be
// exercised in full.
func fakeInstance(idx int) *Instance {
	now := time.Now().UTC()
	inst := &Instance{
		idx:       idx,
		createdAt: now,
		logger:    zap.NewNop(),
	}
	inst.lastUsedNano.Store(now.UnixNano())
	return inst
}

func fakeLaunch(launches *atomic.Int32) func(int, *Config, *zap.Logger) (*Instance, error) {
	return func(idx int, _ *Config, _ *zap.Logger) (*Instance, error) {
		launches.Add(1)
		return fakeInstance(idx), nil
	}
}

func newFakePool(t *testing.T, cfg *Config) (*Pool, *atomic.Int32) {
	t.Helper()

	var launches atomic.Int32
	cfg.launchFn = fakeLaunch(&launches)

	p, err := NewPool(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p, &launches
}

func TestNewPoolWithoutWarmBrowsers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 0
	cfg.MaxSize = "4"
	cfg.CleanupInterval = 50 * time.Millisecond

	p, err := NewPool(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer p.Shutdown()

	stats := p.GetStats()
	assert.Equal(t, 0, stats.Browsers)
	assert.Equal(t, 0, stats.MinBrowsers)
	assert.Equal(t, 4, stats.MaxBrowsers)
	assert.Equal(t, 0, stats.ContextsInFlight)
	assert.Equal(t, cfg.MaxConcurrentContexts, stats.MaxContexts)
	assert.Equal(t, int64(0), stats.TotalLaunched)
}

func TestNewPoolRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = "none"

	_, err := NewPool(cfg, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestNewPoolLaunchesMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 2
	cfg.MaxSize = "4"

	p, launches := newFakePool(t, cfg)

	assert.Equal(t, int32(2), launches.Load())
	assert.Equal(t, 2, p.GetStats().Browsers)
	assert.Equal(t, int64(2), p.GetStats().TotalLaunched)
}

func TestPickOrReservePrefersMostRecentlyUsed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 2
	cfg.MaxSize = "4"

	p, _ := newFakePool(t, cfg)

	p.slots[1].lastUsedNano.Store(time.Now().UTC().Add(time.Second).UnixNano())

	inst, growIdx, released := p.pickOrReserve()
	require.NotNil(t, inst)
	assert.Equal(t, 1, inst.idx)
	assert.Equal(t, -1, growIdx)
	assert.Nil(t, released)
	assert.Equal(t, 1, inst.InFlight())
	assert.Equal(t, 1, inst.TotalContexts())
}

func TestPickOrReserveSkipsSaturatedAndUnhealthy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 2
	cfg.MaxSize = "3"
	cfg.MaxTabsPerBrowser = 1

	p, _ := newFakePool(t, cfg)

	p.slots[0].inFlight.Store(1)
	p.slots[1].MarkUnhealthy()

	// No eligible browser, so the free slot is reserved for growth
	inst, growIdx, _ := p.pickOrReserve()
	assert.Nil(t, inst)
	assert.Equal(t, 2, growIdx)
	assert.True(t, p.launching[2])

	// Saturated now; the waiter gets a wakeup channel
	inst, growIdx, released := p.pickOrReserve()
	assert.Nil(t, inst)
	assert.Equal(t, -1, growIdx)
	assert.NotNil(t, released)
}

func TestGrowInstallsIntoReservedSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 0
	cfg.MaxSize = "2"

	p, launches := newFakePool(t, cfg)

	_, growIdx, _ := p.pickOrReserve()
	require.Equal(t, 0, growIdx)

	inst, err := p.grow(growIdx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), launches.Load())
	assert.Equal(t, 1, inst.InFlight())
	assert.Same(t, inst, p.slots[0])
	assert.False(t, p.launching[0])
	assert.Equal(t, int64(1), p.totalLaunched.Load())
}

func TestGrowFailureFreesSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 0
	cfg.MaxSize = "2"
	cfg.launchFn = func(int, *Config, *zap.Logger) (*Instance, error) {
		return nil, errors.New("chrome exploded")
	}

	p, err := NewPool(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer p.Shutdown()

	_, growIdx, _ := p.pickOrReserve()
	require.Equal(t, 0, growIdx)

	_, err = p.grow(growIdx)
	assert.Error(t, err)
	assert.Nil(t, p.slots[0])
	assert.False(t, p.launching[0], "failed launch must release the reservation")
}

func TestRetireEligible(t *testing.T) {
	newPool := func(t *testing.T) *Pool {
		cfg := DefaultConfig()
		cfg.MinSize = 0
		cfg.MaxSize = "4"
		cfg.MaxAge = time.Hour
		cfg.IdleTimeout = 5 * time.Minute
		cfg.RecycleThreshold = 100
		cfg.CleanupInterval = time.Minute
		p, _ := newFakePool(t, cfg)
		return p
	}

	t.Run("aged browser retired once drained", func(t *testing.T) {
		p := newPool(t)
		inst := fakeInstance(0)
		inst.createdAt = time.Now().UTC().Add(-2 * time.Hour)
		p.slots[0] = inst

		p.retireEligible()

		assert.Nil(t, p.slots[0])
		assert.Equal(t, int64(1), p.totalRetired.Load())
	})

	t.Run("busy aged browser drains before retirement", func(t *testing.T) {
		p := newPool(t)
		inst := fakeInstance(0)
		inst.createdAt = time.Now().UTC().Add(-2 * time.Hour)
		inst.inFlight.Store(1)
		p.slots[0] = inst

		p.retireEligible()
		assert.Same(t, inst, p.slots[0], "in-flight browser must survive the tick")
		assert.False(t, inst.Healthy(), "draining browser stays flagged for the next tick")

		inst.inFlight.Store(0)
		p.retireEligible()
		assert.Nil(t, p.slots[0])
	})

	t.Run("unhealthy browser retired when drained", func(t *testing.T) {
		p := newPool(t)
		inst := fakeInstance(1)
		inst.MarkUnhealthy()
		p.slots[1] = inst

		p.retireEligible()
		assert.Nil(t, p.slots[1])
	})

	t.Run("recycle threshold retires veterans", func(t *testing.T) {
		p := newPool(t)
		inst := fakeInstance(0)
		inst.totalContexts.Store(int32(p.config.RecycleThreshold + 1))
		p.slots[0] = inst

		p.retireEligible()
		assert.Nil(t, p.slots[0])
	})

	t.Run("idle browsers kept at minimum size", func(t *testing.T) {
		p := newPool(t)
		p.config.MinSize = 1
		inst := fakeInstance(0)
		inst.lastUsedNano.Store(time.Now().UTC().Add(-time.Hour).UnixNano())
		p.slots[0] = inst

		p.retireEligible()
		assert.Same(t, inst, p.slots[0], "last browser at min size must not be idle-retired")

		spare := fakeInstance(1)
		spare.lastUsedNano.Store(time.Now().UTC().Add(-time.Hour).UnixNano())
		p.slots[1] = spare

		p.retireEligible()
		assert.Equal(t, 1, p.liveCount())
	})

	t.Run("fresh healthy browser untouched", func(t *testing.T) {
		p := newPool(t)
		inst := fakeInstance(0)
		p.slots[0] = inst

		p.retireEligible()
		assert.Same(t, inst, p.slots[0])
		assert.Equal(t, int64(0), p.totalRetired.Load())
	})
}

func TestRehydrateRestoresMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 2
	cfg.MaxSize = "4"
	cfg.MaxAge = time.Hour
	cfg.CleanupInterval = time.Minute

	p, launches := newFakePool(t, cfg)
	require.Equal(t, int32(2), launches.Load())

	for i := range p.slots[:2] {
		p.slots[i].createdAt = time.Now().UTC().Add(-2 * cfg.MaxAge)
	}
	p.retireEligible()
	require.Equal(t, 0, p.liveCount())

	p.rehydrate()

	assert.Eventually(t, func() bool {
		return p.liveCount() == 2
	}, 2*time.Second, 10*time.Millisecond, "pool should relaunch up to min size")
	assert.Equal(t, int32(4), launches.Load())
	assert.Equal(t, int64(2), p.totalRetired.Load())
}

func TestWatchdogRetiresAndRehydrates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 1
	cfg.MaxSize = "2"
	cfg.MaxAge = 20 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond

	p, launches := newFakePool(t, cfg)

	assert.Eventually(t, func() bool {
		return p.totalRetired.Load() >= 1 && launches.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond, "watchdog should retire aged browsers and relaunch replacements")
}

func TestReleaseWakesAllWaiters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 1
	cfg.MaxSize = "1"
	cfg.MaxTabsPerBrowser = 1
	cfg.CleanupInterval = time.Minute

	p, _ := newFakePool(t, cfg)

	inst, growIdx, _ := p.pickOrReserve()
	require.NotNil(t, inst)
	require.Equal(t, -1, growIdx)
	p.sem <- struct{}{}

	// Two waiters probe the saturated pool before the release lands
	_, _, first := p.pickOrReserve()
	require.NotNil(t, first)
	_, _, second := p.pickOrReserve()
	require.NotNil(t, second)

	p.ReleaseContext(&Checkout{Slot: 0, Ctx: context.Background(), cancel: func() {}}, true)

	select {
	case <-first:
	default:
		t.Fatal("first waiter missed the release broadcast")
	}
	select {
	case <-second:
	default:
		t.Fatal("second waiter missed the release broadcast")
	}
	assert.Equal(t, 0, inst.InFlight())
	assert.Equal(t, 0, len(p.sem))
}

func TestUnhealthyReleaseFlagsBrowser(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 1
	cfg.MaxSize = "1"
	cfg.CleanupInterval = time.Minute

	p, _ := newFakePool(t, cfg)

	inst, _, _ := p.pickOrReserve()
	require.NotNil(t, inst)
	p.sem <- struct{}{}

	p.ReleaseContext(&Checkout{Slot: 0, Ctx: context.Background(), cancel: func() {}}, false)

	assert.False(t, inst.Healthy())

	p.retireEligible()
	assert.Nil(t, p.slots[0])
}

func TestPoolShutdownStopsWatchdog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 0
	cfg.CleanupInterval = 10 * time.Millisecond

	p, err := NewPool(cfg, nil, zap.NewNop())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

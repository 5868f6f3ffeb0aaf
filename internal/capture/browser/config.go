package browser

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

// Config holds the browser pool configuration
type Config struct {
	MinSize               int
	MaxSize               string // integer string or "auto"
	IdleTimeout           time.Duration
	MaxAge                time.Duration
	CleanupInterval       time.Duration
	MaxConcurrentContexts int
	MaxTabsPerBrowser     int
	RecycleThreshold      int // cumulative contexts before a browser is retired
	AcquireTimeout        time.Duration
	UserAgent             string
	ShutdownTimeout       time.Duration

	// launchFn replaces the Chrome launcher in tests
	launchFn func(idx int, config *Config, logger *zap.Logger) (*Instance, error)
}

// DefaultConfig is used in tests to avoid constructing full Config structs
func DefaultConfig() *Config {
	return &Config{
		MinSize:               1,
		MaxSize:               "3",
		IdleTimeout:           5 * time.Minute,
		MaxAge:                time.Hour,
		CleanupInterval:       time.Minute,
		MaxConcurrentContexts: 10,
		MaxTabsPerBrowser:     5,
		RecycleThreshold:      100,
		AcquireTimeout:        30 * time.Second,
		ShutdownTimeout:       30 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MaxSize != "auto" {
		size, err := strconv.Atoi(c.MaxSize)
		if err != nil {
			return fmt.Errorf("max pool size must be 'auto' or a valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("max pool size must be positive")
		}
		if c.MinSize > size {
			return fmt.Errorf("min pool size %d exceeds max pool size %d", c.MinSize, size)
		}
	}
	if c.MinSize < 0 {
		return fmt.Errorf("min pool size cannot be negative")
	}
	if c.MaxConcurrentContexts <= 0 {
		return fmt.Errorf("max concurrent contexts must be positive")
	}
	if c.MaxTabsPerBrowser <= 0 {
		return fmt.Errorf("max tabs per browser must be positive")
	}
	if c.RecycleThreshold <= 0 {
		return fmt.Errorf("recycle threshold must be positive")
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire timeout must be positive")
	}
	return nil
}

// ResolveMaxSize determines the slot table length. "auto" sizes from
// available RAM: (total - 2GB) / 500MB per Chrome, clamped to [2, 50].
func (c *Config) ResolveMaxSize() int {
	if c.MaxSize == "auto" {
		return c.autoMaxSize()
	}

	size, err := strconv.Atoi(c.MaxSize)
	if err != nil || size <= 0 {
		return c.autoMaxSize()
	}
	return size
}

func (c *Config) autoMaxSize() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64
	if err != nil {
		totalRAMBytes = 8 * 1024 * 1024 * 1024 // assume 8GB when unreadable
	} else {
		totalRAMBytes = int64(v.Total)
	}

	reservedBytes := int64(2 * 1024 * 1024 * 1024)
	chromeInstanceBytes := int64(500 * 1024 * 1024)

	size := int((totalRAMBytes - reservedBytes) / chromeInstanceBytes)

	if size < 2 {
		size = 2
	}
	if size > 50 {
		size = 50
	}
	if size < c.MinSize {
		size = c.MinSize
	}
	return size
}

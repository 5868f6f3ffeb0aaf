// Package config loads service settings from the environment.
//
// Every recognized key is enumerated in Settings. Malformed values are
// logged as warnings and fall back to defaults; missing required values
// (secrets, storage endpoints) fail Validate and abort startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/web2img/engine/internal/common/configtypes"
)

// Storage modes
const (
	StorageModeRemote = "remote"
	StorageModeLocal  = "local"
)

// PoolSizeAuto sizes the browser pool from available system memory
const PoolSizeAuto = "auto"

// ServerSettings configures the public HTTP listener
type ServerSettings struct {
	Listen         string        // LISTEN
	RequestTimeout time.Duration // REQUEST_TIMEOUT, overall deadline per request
}

// PoolSettings configures the browser pool
type PoolSettings struct {
	MinSize               int           // BROWSER_POOL_MIN_SIZE
	MaxSize               string        // BROWSER_POOL_MAX_SIZE, number or "auto"
	IdleTimeout           time.Duration // BROWSER_POOL_IDLE_TIMEOUT
	MaxAge                time.Duration // BROWSER_POOL_MAX_AGE
	CleanupInterval       time.Duration // BROWSER_POOL_CLEANUP_INTERVAL
	MaxConcurrentContexts int           // MAX_CONCURRENT_CONTEXTS
	MaxTabsPerBrowser     int           // MAX_TABS_PER_BROWSER
	RecycleThreshold      int           // BROWSER_RECYCLE_THRESHOLD, cumulative contexts before retirement
	AcquireTimeout        time.Duration // CONTEXT_ACQUIRE_TIMEOUT
}

// CaptureSettings configures navigation, retries and the emergency fallback
type CaptureSettings struct {
	NavigationTimeoutRegular time.Duration // NAVIGATION_TIMEOUT_REGULAR
	NavigationTimeoutComplex time.Duration // NAVIGATION_TIMEOUT_COMPLEX
	ScreenshotTimeout        time.Duration // SCREENSHOT_TIMEOUT
	MaxRetriesRegular        int           // MAX_RETRIES_REGULAR
	MaxRetriesComplex        int           // MAX_RETRIES_COMPLEX
	RetryBaseDelay           time.Duration // RETRY_BASE_DELAY
	RetryMaxDelay            time.Duration // RETRY_MAX_DELAY
	RetryJitter              float64       // RETRY_JITTER, fraction of the delay
	EnableEmergencyContext   bool          // ENABLE_EMERGENCY_CONTEXT
	EmergencyContextTimeout  time.Duration // EMERGENCY_CONTEXT_TIMEOUT
	ForceEmergencyOnTimeout  bool          // FORCE_EMERGENCY_ON_TIMEOUT
	UserAgent                string        // USER_AGENT
	ComplexSitePatterns      []string      // COMPLEX_SITE_PATTERNS, comma-separated
	ScreenshotDir            string        // SCREENSHOT_DIR
	TempFileRetention        time.Duration // TEMP_FILE_RETENTION_HOURS
}

// QueueSettings configures admission control
type QueueSettings struct {
	Enabled                  bool          // ENABLE_REQUEST_QUEUE
	MaxQueueSize             int           // MAX_QUEUE_SIZE
	QueueTimeout             time.Duration // QUEUE_TIMEOUT
	MaxConcurrentScreenshots int           // MAX_CONCURRENT_SCREENSHOTS
	EnableLoadShedding       bool          // ENABLE_LOAD_SHEDDING
	LoadSheddingThreshold    float64       // LOAD_SHEDDING_THRESHOLD
}

// CacheSettings configures the result cache
type CacheSettings struct {
	TTL      time.Duration // CACHE_TTL_SECONDS
	MaxItems int           // CACHE_MAX_ITEMS
}

// StorageSettings selects and configures the storage backend
type StorageSettings struct {
	Mode                   string // STORAGE_MODE, "remote" or "local"
	R2Endpoint             string // R2_ENDPOINT
	R2AccessKeyID          string // R2_ACCESS_KEY_ID
	R2SecretAccessKey      string // R2_SECRET_ACCESS_KEY
	R2Bucket               string // R2_BUCKET
	R2PublicURL            string // R2_PUBLIC_URL
	R2ObjectExpirationDays int    // R2_OBJECT_EXPIRATION_DAYS
	LocalDir               string // LOCAL_STORAGE_DIR
	LocalBaseURL           string // LOCAL_STORAGE_BASE_URL
	UseImgproxyForLocal    bool   // USE_IMGPROXY_FOR_LOCAL
	MaxConcurrentUploads   int    // STORAGE_MAX_CONCURRENT_UPLOADS
}

// ImgproxySettings holds the signer secrets
type ImgproxySettings struct {
	Key     string // IMGPROXY_KEY, hex
	Salt    string // IMGPROXY_SALT, hex
	BaseURL string // IMGPROXY_BASE_URL
}

// MetricsSettings configures the Prometheus listener
type MetricsSettings struct {
	Enabled   bool   // METRICS_ENABLED
	Listen    string // METRICS_LISTEN
	Path      string // METRICS_PATH
	Namespace string // METRICS_NAMESPACE
}

// Settings is the full service configuration
type Settings struct {
	Server       ServerSettings
	Log          configtypes.LogConfig
	Pool         PoolSettings
	Capture      CaptureSettings
	Queue        QueueSettings
	Cache        CacheSettings
	Storage      StorageSettings
	Imgproxy     ImgproxySettings
	Metrics      MetricsSettings
	HostMappings map[string]string // HOST_MAPPINGS or HOST_MAPPINGS_FILE
}

// DefaultUserAgent is used when USER_AGENT is not set
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// defaultComplexSitePatterns mirror the site categories that historically
// needed the longer navigation budget
var defaultComplexSitePatterns = []string{
	"*instagram.com*",
	"*facebook.com*",
	"*canva.com*",
}

// Load reads all settings from the environment. Malformed optional values
// produce warnings and defaults; call Validate before using the result.
func Load(log *zap.Logger) *Settings {
	env := &reader{log: log}

	s := &Settings{
		Server: ServerSettings{
			Listen:         env.str("LISTEN", ":8000"),
			RequestTimeout: env.seconds("REQUEST_TIMEOUT", 120*time.Second),
		},
		Log: configtypes.LogConfig{
			Level:    env.str("LOG_LEVEL", configtypes.LogLevelInfo),
			Format:   env.str("LOG_FORMAT", configtypes.LogFormatConsole),
			FilePath: env.str("LOG_FILE_PATH", ""),
			Rotation: configtypes.DefaultLogConfig().Rotation,
		},
		Pool: PoolSettings{
			MinSize:               env.integer("BROWSER_POOL_MIN_SIZE", 2),
			MaxSize:               env.str("BROWSER_POOL_MAX_SIZE", "10"),
			IdleTimeout:           env.seconds("BROWSER_POOL_IDLE_TIMEOUT", 300*time.Second),
			MaxAge:                env.seconds("BROWSER_POOL_MAX_AGE", 3600*time.Second),
			CleanupInterval:       env.seconds("BROWSER_POOL_CLEANUP_INTERVAL", 60*time.Second),
			MaxConcurrentContexts: env.integer("MAX_CONCURRENT_CONTEXTS", 20),
			MaxTabsPerBrowser:     env.integer("MAX_TABS_PER_BROWSER", 5),
			RecycleThreshold:      env.integer("BROWSER_RECYCLE_THRESHOLD", 100),
			AcquireTimeout:        env.seconds("CONTEXT_ACQUIRE_TIMEOUT", 30*time.Second),
		},
		Capture: CaptureSettings{
			NavigationTimeoutRegular: env.seconds("NAVIGATION_TIMEOUT_REGULAR", 30*time.Second),
			NavigationTimeoutComplex: env.seconds("NAVIGATION_TIMEOUT_COMPLEX", 60*time.Second),
			ScreenshotTimeout:        env.seconds("SCREENSHOT_TIMEOUT", 30*time.Second),
			MaxRetriesRegular:        env.integer("MAX_RETRIES_REGULAR", 2),
			MaxRetriesComplex:        env.integer("MAX_RETRIES_COMPLEX", 3),
			RetryBaseDelay:           env.seconds("RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:            env.seconds("RETRY_MAX_DELAY", 10*time.Second),
			RetryJitter:              env.fraction("RETRY_JITTER", 0.25),
			EnableEmergencyContext:   env.boolean("ENABLE_EMERGENCY_CONTEXT", true),
			EmergencyContextTimeout:  env.seconds("EMERGENCY_CONTEXT_TIMEOUT", 10*time.Second),
			ForceEmergencyOnTimeout:  env.boolean("FORCE_EMERGENCY_ON_TIMEOUT", false),
			UserAgent:                env.str("USER_AGENT", DefaultUserAgent),
			ComplexSitePatterns:      env.list("COMPLEX_SITE_PATTERNS", defaultComplexSitePatterns),
			ScreenshotDir:            env.str("SCREENSHOT_DIR", "/tmp/web2img"),
			TempFileRetention:        env.hours("TEMP_FILE_RETENTION_HOURS", time.Hour),
		},
		Queue: QueueSettings{
			Enabled:                  env.boolean("ENABLE_REQUEST_QUEUE", true),
			MaxQueueSize:             env.integer("MAX_QUEUE_SIZE", 100),
			QueueTimeout:             env.seconds("QUEUE_TIMEOUT", 30*time.Second),
			MaxConcurrentScreenshots: env.integer("MAX_CONCURRENT_SCREENSHOTS", 10),
			EnableLoadShedding:       env.boolean("ENABLE_LOAD_SHEDDING", true),
			LoadSheddingThreshold:    env.fraction("LOAD_SHEDDING_THRESHOLD", 0.9),
		},
		Cache: CacheSettings{
			TTL:      env.seconds("CACHE_TTL_SECONDS", 3600*time.Second),
			MaxItems: env.integer("CACHE_MAX_ITEMS", 1000),
		},
		Storage: StorageSettings{
			Mode:                   env.str("STORAGE_MODE", StorageModeLocal),
			R2Endpoint:             env.str("R2_ENDPOINT", ""),
			R2AccessKeyID:          env.str("R2_ACCESS_KEY_ID", ""),
			R2SecretAccessKey:      env.str("R2_SECRET_ACCESS_KEY", ""),
			R2Bucket:               env.str("R2_BUCKET", ""),
			R2PublicURL:            env.str("R2_PUBLIC_URL", ""),
			R2ObjectExpirationDays: env.integer("R2_OBJECT_EXPIRATION_DAYS", 1),
			LocalDir:               env.str("LOCAL_STORAGE_DIR", "/tmp/web2img-storage"),
			LocalBaseURL:           env.str("LOCAL_STORAGE_BASE_URL", "http://localhost:8000/files"),
			UseImgproxyForLocal:    env.boolean("USE_IMGPROXY_FOR_LOCAL", true),
			MaxConcurrentUploads:   env.integer("STORAGE_MAX_CONCURRENT_UPLOADS", 4),
		},
		Imgproxy: ImgproxySettings{
			Key:     env.str("IMGPROXY_KEY", ""),
			Salt:    env.str("IMGPROXY_SALT", ""),
			BaseURL: env.str("IMGPROXY_BASE_URL", ""),
		},
		Metrics: MetricsSettings{
			Enabled:   env.boolean("METRICS_ENABLED", true),
			Listen:    env.str("METRICS_LISTEN", ":9090"),
			Path:      env.str("METRICS_PATH", "/metrics"),
			Namespace: env.str("METRICS_NAMESPACE", "web2img"),
		},
	}

	mappings, err := loadHostMappings(env)
	if err != nil {
		log.Warn("Failed to load host mappings, continuing without",
			zap.Error(err))
		mappings = map[string]string{}
	}
	s.HostMappings = mappings

	return s
}

// SigningRequired reports whether imgproxy secrets must be present
func (s *Settings) SigningRequired() bool {
	return s.Storage.Mode == StorageModeRemote || s.Storage.UseImgproxyForLocal
}

// Validate checks required values. An error here is fatal at startup.
func (s *Settings) Validate() error {
	switch s.Storage.Mode {
	case StorageModeRemote:
		for key, val := range map[string]string{
			"R2_ENDPOINT":          s.Storage.R2Endpoint,
			"R2_ACCESS_KEY_ID":     s.Storage.R2AccessKeyID,
			"R2_SECRET_ACCESS_KEY": s.Storage.R2SecretAccessKey,
			"R2_BUCKET":            s.Storage.R2Bucket,
			"R2_PUBLIC_URL":        s.Storage.R2PublicURL,
		} {
			if val == "" {
				return fmt.Errorf("%s is required when STORAGE_MODE=remote", key)
			}
		}
	case StorageModeLocal:
		if s.Storage.LocalDir == "" {
			return fmt.Errorf("LOCAL_STORAGE_DIR is required when STORAGE_MODE=local")
		}
	default:
		return fmt.Errorf("STORAGE_MODE must be %q or %q, got %q",
			StorageModeRemote, StorageModeLocal, s.Storage.Mode)
	}

	if s.SigningRequired() {
		if s.Imgproxy.Key == "" || s.Imgproxy.Salt == "" {
			return fmt.Errorf("IMGPROXY_KEY and IMGPROXY_SALT are required")
		}
		if s.Imgproxy.BaseURL == "" {
			return fmt.Errorf("IMGPROXY_BASE_URL is required")
		}
	}

	if s.Pool.MinSize < 0 || s.Pool.MinSize > 50 {
		return fmt.Errorf("BROWSER_POOL_MIN_SIZE must be in [0, 50], got %d", s.Pool.MinSize)
	}
	if s.Queue.LoadSheddingThreshold <= 0 || s.Queue.LoadSheddingThreshold > 1 {
		return fmt.Errorf("LOAD_SHEDDING_THRESHOLD must be in (0, 1], got %v",
			s.Queue.LoadSheddingThreshold)
	}
	if s.Queue.MaxQueueSize < 1 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be at least 1, got %d", s.Queue.MaxQueueSize)
	}
	if s.Queue.MaxConcurrentScreenshots < 1 {
		return fmt.Errorf("MAX_CONCURRENT_SCREENSHOTS must be at least 1, got %d",
			s.Queue.MaxConcurrentScreenshots)
	}

	return nil
}

// reader wraps os.Getenv with typed parsing that warns on malformed values
type reader struct {
	log *zap.Logger
}

func (r *reader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.warn(key, v, def)
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.warn(key, v, def)
		return def
	}
	return b
}

func (r *reader) fraction(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.warn(key, v, def)
		return def
	}
	return f
}

// seconds parses either a bare number of seconds ("30") or a Go
// duration string ("30s", "2m")
func (r *reader) seconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	r.warn(key, v, def)
	return def
}

// hours parses a bare number of hours or a Go duration string
func (r *reader) hours(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Hour))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	r.warn(key, v, def)
	return def
}

func (r *reader) list(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (r *reader) warn(key, value string, def interface{}) {
	r.log.Warn("Malformed environment value, using default",
		zap.String("key", key),
		zap.String("value", value),
		zap.Any("default", def))
}

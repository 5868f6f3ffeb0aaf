// Package configtypes holds the shared configuration value types used by
// the settings loader and the logger.
package configtypes

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log output formats
const (
	LogFormatConsole = "console" // human-readable with color
	LogFormatText    = "text"    // human-readable without color
	LogFormatJSON    = "json"
)

// LogConfig controls the process logger
type LogConfig struct {
	Level    string
	Format   string
	FilePath string // empty disables file output
	Rotation RotationConfig
}

// RotationConfig controls rotation of the log file
type RotationConfig struct {
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// DefaultLogConfig returns the settings used before configuration is loaded
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  LogLevelInfo,
		Format: LogFormatConsole,
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
		},
	}
}

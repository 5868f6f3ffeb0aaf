// Package logger builds the process zap logger from configuration.
//
// Console output is always on; file output with rotation is added when a
// path is configured. The console level is atomic so shutdown logging can
// be forced to INFO even when the service runs at WARN or above.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/web2img/engine/internal/common/configtypes"
)

// Logger wraps zap.Logger with a runtime-adjustable level
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// NewLogger creates a logger per config
func NewLogger(config configtypes.LogConfig) *Logger {
	level := zap.NewAtomicLevelAt(parseLevel(config.Level))

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(config.Format), zapcore.Lock(os.Stdout), level),
	}

	if config.FilePath != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.Rotation.MaxSize,
			MaxAge:     config.Rotation.MaxAge,
			MaxBackups: config.Rotation.MaxBackups,
			Compress:   config.Rotation.Compress,
		})
		// Files never get color codes regardless of the console format
		fileFormat := config.Format
		if fileFormat == configtypes.LogFormatConsole {
			fileFormat = configtypes.LogFormatText
		}
		cores = append(cores, zapcore.NewCore(newEncoder(fileFormat), fileWriter, level))
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return &Logger{
		Logger: zap.New(core),
		level:  level,
	}
}

// NewDefaultLogger creates the logger used before configuration is loaded
func NewDefaultLogger() *Logger {
	return NewLogger(configtypes.DefaultLogConfig())
}

// EnsureInfoLevelForShutdown raises verbosity so the shutdown sequence is
// visible even when the service normally logs at WARN or above
func (l *Logger) EnsureInfoLevelForShutdown() {
	if l.level.Level() > zap.InfoLevel {
		l.level.SetLevel(zap.InfoLevel)
		l.Info("Switched to INFO level for shutdown visibility")
	}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case configtypes.LogLevelDebug:
		return zap.DebugLevel
	case configtypes.LogLevelWarn:
		return zap.WarnLevel
	case configtypes.LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func newEncoder(format string) zapcore.Encoder {
	switch format {
	case configtypes.LogFormatJSON:
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case configtypes.LogFormatText:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	default:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
}

package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string
	// ServiceName is attached to every log line
	ServiceName string
	// Development enables console encoding and debug level by default
	Development bool
}

// Logger wraps zap.Logger with service context
type Logger struct {
	zap *zap.Logger
}

var (
	mu     sync.RWMutex
	global *Logger
)

// Init initializes the global logger. Must be called once at startup.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{Level: "info", ServiceName: "unknown"}
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level, err := zapcore.ParseLevel(normalizeLevel(cfg.Level, cfg.Development))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	l, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	global = &Logger{zap: l.With(zap.String("service", cfg.ServiceName))}
	mu.Unlock()
	return nil
}

// Get returns the global logger, initializing a no-frills fallback if Init
// was never called (tests, tooling).
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		z, _ := zap.NewProduction(zap.AddCallerSkip(1))
		global = &Logger{zap: z}
	}
	return global
}

// Sync flushes buffered log entries
func Sync() {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		_ = l.zap.Sync()
	}
}

func normalizeLevel(level string, development bool) string {
	switch level {
	case "debug", "info", "warn", "error":
		return level
	case "development":
		return "debug"
	case "production", "staging", "":
		return "info"
	default:
		if development {
			return "debug"
		}
		return "info"
	}
}

// With returns a child logger with additional fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zap.Fatal(msg, fields...) }

// Zap returns the underlying zap.Logger
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

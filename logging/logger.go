// Package logging provides structured logging for the engine via zap.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction. Field names follow the
// logging.* configuration keys.
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
}

// Logger wraps zap.Logger with task/pid-scoped helpers used throughout the
// engine.
type Logger struct {
	zap *zap.Logger
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
)

// Default returns the process-wide default logger, built lazily on first
// use with info level and an environment-appropriate format.
func Default() *Logger {
	defaultLoggerOnce.Do(func() {
		l, err := New(Config{Level: "info", Format: detectFormat()})
		if err != nil {
			zapLogger, _ := zap.NewProduction()
			defaultLogger = &Logger{zap: zapLogger}
			return
		}
		defaultLogger = l
	})
	return defaultLogger
}

// SetDefault overrides the process-wide default logger; primarily for
// tests that want a buffer-backed or no-op logger.
func SetDefault(l *Logger) {
	defaultLoggerOnce.Do(func() {}) // keep a later Default() from replacing l
	defaultLogger = l
}

// New builds a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" || cfg.Format == "text" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	writer := zapcore.AddSync(os.Stdout)
	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err == nil {
			path := cfg.Directory + string(os.PathSeparator) + "parallel.log"
			if f, ferr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); ferr == nil {
				writer = zapcore.AddSync(f)
			}
		}
	}

	core := zapcore.NewCore(encoder, writer, level)
	return &Logger{zap: zap.New(core, zap.AddCaller())}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

// detectFormat mirrors the heuristic used for config-less default loggers:
// structured JSON in container/production environments, console text
// everywhere else.
func detectFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("PARALLEL_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error { return l.zap.Sync() }

// With returns a child Logger carrying the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// WithTaskID returns a child Logger tagged with task_id.
func (l *Logger) WithTaskID(taskID string) *Logger {
	return l.With(zap.String("task_id", taskID))
}

// WithPID returns a child Logger tagged with pid.
func (l *Logger) WithPID(pid int) *Logger {
	return l.With(zap.Int("pid", pid))
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

// Zap exposes the underlying zap.Logger for call sites that want raw zap
// field helpers.
func (l *Logger) Zap() *zap.Logger { return l.zap }

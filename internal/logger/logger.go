package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared across packages so log lines can be joined on them
const (
	KeyComponent = "component"
	KeyRun       = "run"
	KeyEpisode   = "episode_id"
	KeyError     = "error"
)

const redacted = "********"

// secretKeys are never written in clear text
var secretKeys = map[string]bool{
	"password":      true,
	"smtp_password": true,
	"auth":          true,
}

// Logger wraps zap.Logger with key/value helpers
type Logger struct {
	*zap.Logger
}

// LogConfig contains logging configuration.
// Output is a comma separated list of "stdout", "stderr" or file paths.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// New creates a new logger based on configuration. An unknown level falls back to info.
func New(cfg LogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var config zap.Config
	if cfg.Format == "json" {
		config = zap.NewProductionConfig()
		config.Encoding = "json"
	} else {
		config = zap.NewDevelopmentConfig()
		config.Encoding = "console"
	}

	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = outputPaths(cfg.Output)
	config.ErrorOutputPaths = config.OutputPaths

	zapLogger, err := config.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{zapLogger}, nil
}

func outputPaths(output string) []string {
	var paths []string
	for _, p := range strings.Split(output, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return []string{"stdout"}
	}
	return paths
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// Named returns a child logger tagged with a component name
func (l *Logger) Named(component string) *Logger {
	return &Logger{l.Logger.With(zap.String(KeyComponent, component))}
}

// ForRun tags every line with a capture run number
func (l *Logger) ForRun(run uint64) *Logger {
	return &Logger{l.Logger.With(zap.Uint64(KeyRun, run))}
}

// ForEpisode tags every line with a violence episode id
func (l *Logger) ForEpisode(id string) *Logger {
	return &Logger{l.Logger.With(zap.String(KeyEpisode, id))}
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{l.Logger.With(convertFields(fields...)...)}
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.Logger.Info(msg, convertFields(fields...)...)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.Logger.Error(msg, convertFields(fields...)...)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.Logger.Warn(msg, convertFields(fields...)...)
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.Logger.Debug(msg, convertFields(fields...)...)
}

// convertFields turns alternating key/value pairs into zap fields.
// Pairs with a non-string key are dropped. Errors render as their message
// and secret keys are masked.
func convertFields(fields ...interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case error:
			zapFields = append(zapFields, zap.NamedError(key, v))
		default:
			if secretKeys[strings.ToLower(key)] {
				zapFields = append(zapFields, zap.String(key, redacted))
				continue
			}
			zapFields = append(zapFields, zap.Any(key, v))
		}
	}
	return zapFields
}

// NewNopLogger creates a no-op logger for testing
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}

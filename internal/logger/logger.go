package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a no-op logger until InitLogger runs.
var Log = zap.NewNop()

// InitLogger builds the global logger. format is "json" or "console".
func InitLogger(level, format string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json", "":
		cfg = zap.NewProductionConfig()
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	Log = l
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Log.Sync()
}

// GooseLogger adapts the global logger to goose's migration logger.
type GooseLogger struct{}

func (GooseLogger) Printf(format string, v ...interface{}) {
	Log.Sugar().Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (GooseLogger) Fatalf(format string, v ...interface{}) {
	Log.Sugar().Fatalf(strings.TrimSuffix(format, "\n"), v...)
}

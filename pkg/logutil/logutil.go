// Package logutil wraps zap the way the rest of the task's components
// expect: a package-level sugared logger configured once at process start,
// with Infof/Errorf/Debugf/Fatalf helpers so call sites stay terse.
package logutil

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar = newDefault()

func newDefault() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// fall back to a no-op logger rather than panic on misconfigured
		// encoder sinks; Init should be called during normal startup.
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// Init replaces the package logger, e.g. with a development config or a
// different log level/output path read from the task's runtime config.
func Init(l *zap.Logger) {
	sugar = l.Sugar()
}

// SetLevel adjusts verbosity without rebuilding the whole logger config.
func SetLevel(level zapcore.Level) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if logger, err := cfg.Build(zap.AddCallerSkip(1)); err == nil {
		sugar = logger.Sugar()
	}
}

func Debugf(template string, args ...interface{}) { sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { sugar.Errorf(template, args...) }
func Fatalf(template string, args ...interface{}) { sugar.Fatalf(template, args...) }

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	_ = sugar.Sync()
}

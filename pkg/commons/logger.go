// Package commons provides small cross-cutting helpers shared by every
// package in the server: logging today, nothing else yet.
package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface every other package depends on. Nothing
// outside this package imports zap directly.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalf(format string, args ...interface{})
	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapLogger) Debug(args ...interface{})                        { l.sugar.Debug(args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})        { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Debugw(msg string, kv ...interface{})             { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(args ...interface{})                          { l.sugar.Info(args...) }
func (l *zapLogger) Infof(format string, args ...interface{})        { l.sugar.Infof(format, args...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})               { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(args ...interface{})                          { l.sugar.Warn(args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})        { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})               { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(args ...interface{})                         { l.sugar.Error(args...) }
func (l *zapLogger) Errorf(format string, args ...interface{})       { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})              { l.sugar.Errorw(msg, kv...) }
func (l *zapLogger) Fatalf(format string, args ...interface{})       { l.sugar.Fatalf(format, args...) }
func (l *zapLogger) Sync() error                                       { return l.sugar.Sync() }

// Options controls how NewLogger builds its zap core.
type Options struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Development selects a human-readable console encoder instead of JSON.
	Development bool
	// FilePath, when non-empty, tees output through a rotating lumberjack
	// writer alongside stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger builds a Logger from Options, matching the zap+lumberjack
// pairing the rest of the stack uses for on-disk log rotation.
func NewLogger(opts Options) (Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if opts.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if opts.FilePath != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{sugar: base.Sugar()}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Noop returns a Logger that discards everything, for tests that do not
// want to assert on log content.
func Noop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

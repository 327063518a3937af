package log

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger used across the agent.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	// Error logs err under the "error" key. err may be nil.
	Error(err error, msg string, keysAndValues ...any)

	WithName(name string) Logger
	WithValues(keysAndValues ...any) Logger

	// SetLevel changes the level of this logger and of every logger sharing its root.
	SetLevel(level string) error

	// Sync flushes buffered entries. Restarters call it before the process goes away.
	Sync() error

	// Logr adapts the logger for libraries that take a logr.Logger.
	Logr() logr.Logger
}

var _ Logger = (*zapLogger)(nil)

// zapLogger shares one atomic level between a root logger and everything derived from it.
type zapLogger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// NewLogger builds a logger from opts. An output path that cannot be opened
// falls back to stderr; the agent must keep running to validate or roll back firmware.
func NewLogger(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}

	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))
	cfg := zap.Config{
		Level:            level,
		DisableCaller:    opts.DisableCaller,
		Encoding:         opts.Format,
		EncoderConfig:    encoderConfig(opts),
		OutputPaths:      opts.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}
	if opts.SampleInitial > 0 {
		cfg.Sampling = &zap.SamplingConfig{Initial: opts.SampleInitial, Thereafter: 100}
	}

	buildOpts := []zap.Option{zap.AddCallerSkip(opts.CallerSkip), zap.AddStacktrace(zapcore.ErrorLevel)}
	z, err := cfg.Build(buildOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: %v, writing to stderr\n", err)
		cfg.OutputPaths = []string{"stderr"}
		if z, err = cfg.Build(buildOpts...); err != nil {
			z = zap.NewNop()
		}
	}
	if opts.Name != "" {
		z = z.Named(opts.Name)
	}

	return &zapLogger{z: z, level: level}
}

func encoderConfig(opts *Options) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: millisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if opts.Format == "console" && opts.EnableColor {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return ec
}

// millisDurationEncoder writes durations as fractional milliseconds.
func millisDurationEncoder(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendFloat64(float64(d) / float64(time.Millisecond))
}

func parseLevel(text string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(text)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func (l *zapLogger) Debug(msg string, keysAndValues ...any) {
	l.z.Debug(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...any) {
	l.z.Info(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...any) {
	l.z.Warn(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

func (l *zapLogger) WithName(name string) Logger {
	return &zapLogger{z: l.z.Named(name), level: l.level}
}

func (l *zapLogger) WithValues(keysAndValues ...any) Logger {
	return &zapLogger{z: l.z.With(toFields(keysAndValues...)...), level: l.level}
}

func (l *zapLogger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.level.SetLevel(lvl)
	return nil
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

func (l *zapLogger) Logr() logr.Logger {
	return zapr.NewLogger(l.z)
}

var (
	once sync.Once
	std  = NewNopLogger()
)

// Init replaces the package logger. Only the first call has an effect.
func Init(opts *Options) {
	once.Do(func() {
		std = NewLogger(opts)
	})
}

// Std returns the package logger.
func Std() Logger {
	return std
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &zapLogger{z: zap.NewNop(), level: zap.NewAtomicLevel()}
}

func Debug(msg string, keysAndValues ...any)            { std.Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...any)             { std.Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...any)             { std.Warn(msg, keysAndValues...) }
func Error(err error, msg string, keysAndValues ...any) { std.Error(err, msg, keysAndValues...) }
func WithName(name string) Logger                       { return std.WithName(name) }
func WithValues(keysAndValues ...any) Logger            { return std.WithValues(keysAndValues...) }
func SetLevel(level string) error                       { return std.SetLevel(level) }
func Sync() error                                       { return std.Sync() }
func Logr() logr.Logger                                 { return std.Logr() }

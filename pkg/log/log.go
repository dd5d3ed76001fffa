// Package log is a structured logger built on zap, shared by every widgetauth component.
package log

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var errFileStorageWithoutFile = errors.New("log: file storage enabled without file-config.filename")

// Logger is the logging contract accepted by widgetauth packages.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, kvs ...any)
	Infof(format string, args ...any)
	Infow(msg string, kvs ...any)
	Warnf(format string, args ...any)
	Warnw(msg string, kvs ...any)
	Errorf(format string, args ...any)
	Errorw(err error, msg string, kvs ...any)
	Panicw(msg string, kvs ...any)
	Fatalw(msg string, kvs ...any)
	Sync()
}

// ContextExtractors maps a log field name to a function reading its value from a context.
type ContextExtractors map[string]func(context.Context) string

// Option customizes a logger beyond what Options covers.
type Option func(*zapLogger)

// WithContextExtractor registers the fields W(ctx) adds to each entry.
func WithContextExtractor(extractors ContextExtractors) Option {
	return func(l *zapLogger) {
		for k, fn := range extractors {
			l.extractors[k] = fn
		}
	}
}

type zapLogger struct {
	z          *zap.Logger
	opts       *Options
	extractors ContextExtractors
}

var _ Logger = (*zapLogger)(nil)

var (
	mu  sync.RWMutex
	std = NewLogger(NewOptions())
)

// Init replaces the package level logger.
func Init(opts *Options, options ...Option) {
	mu.Lock()
	defer mu.Unlock()

	std = NewLogger(opts, options...)
	zap.RedirectStdLog(std.z)
}

// Default returns the package level logger.
func Default() *zapLogger { //nolint:revive
	mu.RLock()
	defer mu.RUnlock()

	return std
}

// Nop returns a logger that discards everything.
func Nop() *zapLogger { //nolint:revive
	return &zapLogger{z: zap.NewNop(), opts: NewOptions(), extractors: ContextExtractors{}}
}

// NewLogger builds a zap backed logger from opts.
func NewLogger(opts *Options, options ...Option) *zapLogger { //nolint:revive
	if opts == nil {
		opts = NewOptions()
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.MessageKey = "message"
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	encoderConfig.EncodeDuration = func(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendFloat64(float64(d) / float64(time.Millisecond))
	}

	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)

	var encoder zapcore.Encoder
	if opts.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		if opts.EnableColor {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	paths := opts.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	sink, _, err := zap.Open(paths...)
	if err != nil {
		sink = zapcore.Lock(os.Stdout)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, sink, zapLevel)}
	if opts.EnableFileStorage && opts.FileConfig != nil && opts.FileConfig.Filename != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FileConfig.Filename,
			MaxSize:    opts.FileConfig.MaxSize,
			MaxBackups: opts.FileConfig.MaxBackups,
			MaxAge:     opts.FileConfig.MaxAge,
			Compress:   opts.FileConfig.Compress,
			LocalTime:  opts.FileConfig.LocalTime,
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), zapLevel))
	}

	zapOpts := []zap.Option{zap.AddCallerSkip(1)}
	if !opts.DisableCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	if !opts.DisableStacktrace {
		zapOpts = append(zapOpts, zap.AddStacktrace(zapcore.PanicLevel))
	}

	l := &zapLogger{
		z:          zap.New(zapcore.NewTee(cores...), zapOpts...),
		opts:       opts,
		extractors: ContextExtractors{},
	}
	for _, o := range options {
		o(l)
	}

	return l
}

// Z exposes the underlying zap logger for libraries that take *zap.Logger.
func (l *zapLogger) Z() *zap.Logger {
	return l.z
}

// W returns a logger carrying the fields the context extractors find in ctx.
func (l *zapLogger) W(ctx context.Context) *zapLogger {
	lc := l.clone()
	for key, fn := range l.extractors {
		if v := fn(ctx); v != "" {
			lc.z = lc.z.With(zap.String(key, v))
		}
	}
	return lc
}

// With returns a child logger with the key/value pairs attached to every entry.
func (l *zapLogger) With(kvs ...any) *zapLogger {
	lc := l.clone()
	lc.z = lc.z.Sugar().With(kvs...).Desugar()
	return lc
}

// AddCallerSkip increases the number of callers skipped by caller annotation.
func (l *zapLogger) AddCallerSkip(skip int) *zapLogger {
	lc := l.clone()
	lc.z = lc.z.WithOptions(zap.AddCallerSkip(skip))
	return lc
}

func (l *zapLogger) clone() *zapLogger {
	copied := *l
	return &copied
}

func (l *zapLogger) Debugf(format string, args ...any) { l.z.Sugar().Debugf(format, args...) }
func (l *zapLogger) Debugw(msg string, kvs ...any)     { l.z.Sugar().Debugw(msg, kvs...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.z.Sugar().Infof(format, args...) }
func (l *zapLogger) Infow(msg string, kvs ...any)      { l.z.Sugar().Infow(msg, kvs...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.z.Sugar().Warnf(format, args...) }
func (l *zapLogger) Warnw(msg string, kvs ...any)      { l.z.Sugar().Warnw(msg, kvs...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.z.Sugar().Errorf(format, args...) }
func (l *zapLogger) Panicw(msg string, kvs ...any)     { l.z.Sugar().Panicw(msg, kvs...) }
func (l *zapLogger) Fatalw(msg string, kvs ...any)     { l.z.Sugar().Fatalw(msg, kvs...) }

func (l *zapLogger) Errorw(err error, msg string, kvs ...any) {
	l.z.Sugar().Errorw(msg, append(kvs, "err", err)...)
}

// Sync flushes any buffered log entries.
func (l *zapLogger) Sync() {
	_ = l.z.Sync()
}

func Debugf(format string, args ...any) { Default().z.Sugar().Debugf(format, args...) }
func Debugw(msg string, kvs ...any)     { Default().z.Sugar().Debugw(msg, kvs...) }
func Infof(format string, args ...any)  { Default().z.Sugar().Infof(format, args...) }
func Infow(msg string, kvs ...any)      { Default().z.Sugar().Infow(msg, kvs...) }
func Warnf(format string, args ...any)  { Default().z.Sugar().Warnf(format, args...) }
func Warnw(msg string, kvs ...any)      { Default().z.Sugar().Warnw(msg, kvs...) }
func Errorf(format string, args ...any) { Default().z.Sugar().Errorf(format, args...) }
func Panicw(msg string, kvs ...any)     { Default().z.Sugar().Panicw(msg, kvs...) }
func Fatalw(msg string, kvs ...any)     { Default().z.Sugar().Fatalw(msg, kvs...) }

func Errorw(err error, msg string, kvs ...any) {
	Default().z.Sugar().Errorw(msg, append(kvs, "err", err)...)
}

// W returns the package level logger enriched from ctx.
func W(ctx context.Context) *zapLogger { //nolint:revive
	return Default().W(ctx)
}

// AddCallerSkip returns the package level logger with extra caller skip.
func AddCallerSkip(skip int) *zapLogger { //nolint:revive
	return Default().AddCallerSkip(skip)
}

// Z returns the package level zap logger.
func Z() *zap.Logger {
	return Default().z
}

// Sync flushes the package level logger.
func Sync() {
	Default().Sync()
}

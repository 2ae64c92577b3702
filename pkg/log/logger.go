package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Format selects the output encoding.
type Format string

// Output formats
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Field is a single structured logging attribute.
type Field = zap.Field

// F creates a Field from a key and an arbitrary value.
func F(key string, value interface{}) Field { return zap.Any(key, value) }

// Str creates a string Field.
func Str(key, value string) Field { return zap.String(key, value) }

// Int creates an int Field.
func Int(key string, value int) Field { return zap.Int(key, value) }

// Int64 creates an int64 Field.
func Int64(key string, value int64) Field { return zap.Int64(key, value) }

// Dur creates a duration Field.
func Dur(key string, value time.Duration) Field { return zap.Duration(key, value) }

// Err creates an error Field under the conventional "error" key.
func Err(err error) Field { return zap.Error(err) }

// Component tags logs with the owning component name.
func Component(name string) Field { return zap.String("component", name) }

// Logger defines the core logging interface for forq components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger carrying the extra fields.
	With(fields ...Field) Logger
}

// LoggerOption configures a logger under construction.
type LoggerOption func(*options)

type options struct {
	level  Level
	format Format
	out    io.Writer
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(o *options) { o.level = level }
}

// WithFormat sets the output encoding.
func WithFormat(format Format) LoggerOption {
	return func(o *options) { o.format = format }
}

// WithOutput redirects log output; defaults to stderr.
func WithOutput(w io.Writer) LoggerOption {
	return func(o *options) { o.out = w }
}

type zapLogger struct {
	z *zap.Logger
}

// NewLogger creates a new logger with the given options.
func NewLogger(opts ...LoggerOption) Logger {
	o := options{level: InfoLevel, format: FormatText, out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	if o.format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(o.out), toZapLevel(o.level))
	return &zapLogger{z: zap.New(core)}
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() Logger { return &zapLogger{z: zap.NewNop()} }

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

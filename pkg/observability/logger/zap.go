package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity written.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogFormat selects the encoder.
type LogFormat string

const (
	// JSONFormat writes one JSON object per entry.
	JSONFormat LogFormat = "json"
	// TextFormat writes aligned console lines for a terminal.
	TextFormat LogFormat = "text"
)

// Config holds configuration for the logger.
type Config struct {
	Level  LogLevel
	Format LogFormat
	// Service, when set, is added to every entry.
	Service string
	// Output defaults to os.Stderr so command output on stdout stays clean.
	Output io.Writer
}

// ZapLogger is the Logger used outside tests.
type ZapLogger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a logger from cfg. An unknown level logs at info and an
// unknown format falls back to text.
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if parsed, err := ParseLogLevel(string(cfg.Level)); err == nil {
		if err := level.UnmarshalText([]byte(parsed)); err != nil {
			return nil, fmt.Errorf("failed to set log level %q: %w", parsed, err)
		}
	}

	format, err := ParseLogFormat(string(cfg.Format))
	if err != nil {
		format = TextFormat
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(newEncoder(format), zapcore.AddSync(out), level)
	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if cfg.Service != "" {
		opts = append(opts, zap.Fields(zap.String("service", cfg.Service)))
	}
	base := zap.New(core, opts...)

	return &ZapLogger{base: base, sugar: base.Sugar()}, nil
}

func newEncoder(format LogFormat) zapcore.Encoder {
	if format == JSONFormat {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.MessageKey = "message"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encCfg.EncodeDuration = zapcore.StringDurationEncoder
		return zapcore.NewJSONEncoder(encCfg)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	encCfg.EncodeDuration = zapcore.StringDurationEncoder
	return zapcore.NewConsoleEncoder(encCfg)
}

func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With returns a child logger carrying args on every entry.
func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{base: l.base, sugar: l.sugar.With(args...)}
}

// WithContext adds the run id found in ctx, if any.
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	runID := RunIDFromContext(ctx)
	if runID == "" {
		return l
	}
	return l.With("run_id", runID)
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

// ParseLogLevel accepts the level names case-insensitively, plus "warning".
func ParseLogLevel(level string) (LogLevel, error) {
	normalized := LogLevel(strings.ToLower(strings.TrimSpace(level)))
	switch normalized {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		return normalized, nil
	case "warning":
		return WarnLevel, nil
	}
	return "", fmt.Errorf("invalid log level: %s", level)
}

// ParseLogFormat accepts "json", and "text" or "console".
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case string(JSONFormat):
		return JSONFormat, nil
	case string(TextFormat), "console":
		return TextFormat, nil
	}
	return "", fmt.Errorf("invalid log format: %s", format)
}

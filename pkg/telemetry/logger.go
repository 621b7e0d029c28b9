package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process logger. Components derive children from it so every
// line about a failover group or device carries the same field names.
type Logger struct {
	zerolog.Logger
}

type loggerKey struct{}

// NewLogger opens cfg.Output ("stdout", "stderr" or a file path appended to)
// and returns a logger writing to it.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	w, err := openLogOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewLoggerTo(w, cfg), nil
}

// NewLoggerTo returns a logger writing to w regardless of cfg.Output.
func NewLoggerTo(w io.Writer, cfg LoggingConfig) *Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return &Logger{Logger: zl}
}

func openLogOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Zerolog returns the underlying logger for packages that take a
// zerolog.Logger by value.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.Logger
}

func (l *Logger) child(key, value string) *Logger {
	return &Logger{Logger: l.With().Str(key, value).Logger()}
}

// Component tags every line with the subsystem that wrote it.
func (l *Logger) Component(name string) *Logger { return l.child("component", name) }

// ForGroup tags lines with a failover group name.
func (l *Logger) ForGroup(group string) *Logger { return l.child("group", group) }

// ForDevice tags lines with a device name.
func (l *Logger) ForDevice(device string) *Logger { return l.child("device", device) }

// ForOperation tags lines with the operation in progress.
func (l *Logger) ForOperation(op string) *Logger { return l.child("operation", op) }

// WithContext stores l in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFrom returns the logger stored in ctx, or one that discards
// everything.
func LoggerFrom(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return &Logger{Logger: zerolog.Nop()}
}

// ParseLevel maps a configured level name to a zerolog level. Empty or
// unrecognised names give info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

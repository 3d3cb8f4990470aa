package coljar

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with coljar-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithDir adds a directory field to the logger.
func (l *Logger) WithDir(dir string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dir", dir),
	}
}

// WithRows adds a row count field to the logger.
func (l *Logger) WithRows(rows uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("rows", rows),
	}
}

// LogAppend logs an append operation.
func (l *Logger) LogAppend(ctx context.Context, row uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "append failed",
			"row", row,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "append completed",
			"row", row,
		)
	}
}

// LogFreeze logs a freeze operation.
func (l *Logger) LogFreeze(ctx context.Context, dir string, rows uint64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "freeze failed",
			"dir", dir,
			"rows", rows,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "freeze completed",
			"dir", dir,
			"rows", rows,
			"elapsed", elapsed,
		)
	}
}

// LogOpen logs an open operation.
func (l *Logger) LogOpen(ctx context.Context, dir string, rows uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"dir", dir,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "jar opened",
			"dir", dir,
			"rows", rows,
		)
	}
}

// LogLookup logs a keyed lookup.
func (l *Logger) LogLookup(ctx context.Context, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "lookup failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "lookup completed",
			"found", found,
		)
	}
}

// LogScan logs a range scan.
func (l *Logger) LogScan(ctx context.Context, start, count uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "scan failed",
			"start", start,
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "scan completed",
			"start", start,
			"count", count,
		)
	}
}

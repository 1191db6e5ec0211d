package cloudtree

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with index-specific context. This provides
// structured logging with consistent field names.
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
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithDepth adds a depth field to the logger.
func (l *Logger) WithDepth(depth uint64) *Logger {
	return &Logger{Logger: l.Logger.With("depth", depth)}
}

// WithChunk adds a chunk id field to the logger.
func (l *Logger) WithChunk(id string) *Logger {
	return &Logger{Logger: l.Logger.With("chunk", id)}
}

// WithSubset adds a subset field to the logger.
func (l *Logger) WithSubset(subset uint64) *Logger {
	return &Logger{Logger: l.Logger.With("subset", subset)}
}

// LogIngest logs an ingest batch.
func (l *Logger) LogIngest(ctx context.Context, count int, maxDepth uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			"count", count,
			"max_depth", maxDepth,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "ingest completed",
			"count", count,
			"max_depth", maxDepth,
		)
	}
}

// LogSave logs an index save.
func (l *Logger) LogSave(ctx context.Context, numPoints uint64, numChunks uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"points", numPoints,
			"chunks", numChunks,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "save completed",
			"points", numPoints,
			"chunks", numChunks,
		)
	}
}

// LogQuery logs a point query.
func (l *Logger) LogQuery(ctx context.Context, depthBegin, depthEnd, numPoints uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"depth_begin", depthBegin,
			"depth_end", depthEnd,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"depth_begin", depthBegin,
			"depth_end", depthEnd,
			"points", numPoints,
		)
	}
}

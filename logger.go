package nexus

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with nexus-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, id uint64, modality string, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"id", id,
			"modality", modality,
			"dimension", dimension,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"id", id,
			"modality", modality,
			"dimension", dimension,
		)
	}
}

// LogSearch logs a similarity search.
func (l *Logger) LogSearch(ctx context.Context, modality string, topK, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"modality", modality,
			"top_k", topK,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"modality", modality,
			"top_k", topK,
			"results", resultsFound,
		)
	}
}

// LogPurge logs a source purge.
func (l *Logger) LogPurge(ctx context.Context, sourceID string, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "purge failed",
			"source", sourceID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "purge completed",
			"source", sourceID,
			"removed", removed,
		)
	}
}

// LogCorrelate logs a correlation computation.
func (l *Logger) LogCorrelate(ctx context.Context, theme, counterpart string, score float64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "correlation failed",
			"theme", theme,
			"counterpart", counterpart,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "correlation completed",
			"theme", theme,
			"counterpart", counterpart,
			"score", score,
		)
	}
}

// LogCheckpoint logs a checkpoint operation.
func (l *Logger) LogCheckpoint(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed", "error", err)
	} else {
		l.InfoContext(ctx, "checkpoint completed")
	}
}

// LogBackup logs a backup upload.
func (l *Logger) LogBackup(ctx context.Context, name string, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "backup completed",
			"name", name,
			"bytes", bytes,
		)
	}
}

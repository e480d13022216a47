package syncengine

import (
	"context"
	"log/slog"
	"time"
)

// SyncProgress is the heartbeat snapshot reported roughly every 5 seconds
// while a sync runs (spec.md §4.4 step 8).
type SyncProgress struct {
	SourceKey string
	Processed int
	Added     int
	Deleted   int
	Skipped   int
	Errors    int
	Elapsed   time.Duration
}

// ProgressReporter receives heartbeat snapshots. Implementations must not
// block the caller for long; the engine does not buffer reports.
type ProgressReporter interface {
	Report(ctx context.Context, p SyncProgress)
}

// LogReporter reports progress through a structured logger, grounded on
// the slog.Logger convention used by the store catalog's migration runner.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, p SyncProgress) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "sync progress",
		"source_key", p.SourceKey,
		"processed", p.Processed,
		"added", p.Added,
		"deleted", p.Deleted,
		"skipped", p.Skipped,
		"errors", p.Errors,
		"elapsed", p.Elapsed,
	)
}

// NoopReporter discards all progress reports.
type NoopReporter struct{}

func (NoopReporter) Report(ctx context.Context, p SyncProgress) {}

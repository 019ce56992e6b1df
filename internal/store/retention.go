package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionInterval = time.Hour

// StartRetentionWorker periodically deletes quotations older than retention.
// It returns immediately; the worker stops when ctx is done. A non-positive
// retention disables pruning.
func StartRetentionWorker(ctx context.Context, repo Repository, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(retentionInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Archive retention worker started", "interval", retentionInterval, "retention", retention)

		pruneExpired(ctx, repo, retention, time.Now())
		for {
			select {
			case now := <-ticker.C:
				pruneExpired(ctx, repo, retention, now)
			case <-ctx.Done():
				slog.Info("Archive retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneExpired(ctx context.Context, repo Repository, retention time.Duration, now time.Time) {
	deleted, err := repo.PruneQuotations(ctx, now.Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Archive retention worker failed to prune quotations", "error", err)
		}
		return
	}
	if deleted > 0 {
		slog.Info("Archive retention worker pruned quotations", "count", deleted)
	}
}

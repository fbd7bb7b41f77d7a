package store

import (
	"context"
	"log/slog"
	"time"
)

const ttlWorkerInterval = 1 * time.Hour

// StartTTLWorker runs a background goroutine that periodically deletes
// session records whose last save is older than ttl. Abandoned
// assessments disappear instead of accumulating forever.
func StartTTLWorker(ctx context.Context, repo Repository, ttl time.Duration) {
	ticker := time.NewTicker(ttlWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", ttlWorkerInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, repo Repository, ttl time.Duration) {
	deleted, err := repo.CleanupExpired(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to cleanup expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("TTL worker removed expired sessions", "count", deleted)
	}
}

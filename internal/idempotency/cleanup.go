package idempotency

import (
	"context"
	"log/slog"
	"time"
)

const cleanupBatchSize = 500

// RunCleanup deletes expired records every interval until ctx is done.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", "count", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

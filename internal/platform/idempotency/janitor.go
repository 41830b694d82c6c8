package idempotency

import (
	"context"
	"time"
)

// RunJanitor calls CleanupExpired every interval until ctx is done.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batchSize int, logger Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), batchSize)
			cancel()
			if err != nil {
				logger(ctx, "idempotency.cleanup.failed", map[string]any{"error": err})
				continue
			}
			if removed > 0 {
				logger(ctx, "idempotency.cleanup.removed", map[string]any{"count": removed})
			}
		}
	}
}

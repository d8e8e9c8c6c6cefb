package app

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

type staleOrderExpirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
}

// sweepStaleOrders cancels unpaid PENDING orders older than ttl every
// interval until ctx is done. A non-positive ttl or interval disables it.
func sweepStaleOrders(ctx context.Context, orders staleOrderExpirer, ttl, interval time.Duration) {
	lg := zctx.From(ctx).Named("sweeper")
	if ttl <= 0 || interval <= 0 {
		lg.Info("Stale order sweeper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := orders.ExpireStale(ctx, ttl)
			switch {
			case err != nil && ctx.Err() == nil:
				lg.Error("Expire stale orders", zap.Error(err))
			case n > 0:
				lg.Info("Expired stale orders", zap.Int("count", n), zap.Duration("ttl", ttl))
			}
		}
	}
}

// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/model"
)

// StateSnapshotter returns the current runtime state of every registered
// source; the Coordinator satisfies this.
type StateSnapshotter interface {
	Snapshot() []model.SourceState
}

// StartDeferredTicksUpdater periodically samples each source's deferred
// tick counter and breaker state into gauges, so backpressure and breaker
// trips are visible without querying the admin surface.
func StartDeferredTicksUpdater(ctx context.Context, interval time.Duration, snap StateSnapshotter, log *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range snap.Snapshot() {
					DeferredTicks.WithLabelValues(s.SourceID).Set(float64(s.DeferredTicks))
					CircuitBreakerState.WithLabelValues(s.SourceID).Set(breakerStateValue(s.BreakerState))
				}
			}
		}
	}()
}

func breakerStateValue(s model.BreakerState) float64 {
	switch s {
	case model.BreakerOpen:
		return 1
	case model.BreakerHalfOpen:
		return 2
	default:
		return 0
	}
}

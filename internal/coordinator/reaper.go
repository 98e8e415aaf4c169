// Copyright 2025 James Ross
package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/model"
)

// RunReaper periodically sweeps registered sources for ones stuck in a
// non-terminal FSM state (Fetching/Processing/Storing) past stuckAfter,
// forcing them back to Backoff so the normal recovery path picks them up
// again. This guards against a worker goroutine dying mid-batch without
// reporting failure.
func (c *Coordinator) RunReaper(ctx context.Context, interval, stuckAfter time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepStuck(stuckAfter)
		}
	}
}

func (c *Coordinator) sweepStuck(stuckAfter time.Duration) {
	c.mu.RLock()
	entries := make([]*sourceEntry, 0, len(c.sources))
	for _, e := range c.sources {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	now := time.Now()
	for _, entry := range entries {
		entry.mu.Lock()
		inFlight := entry.state.FSMState == model.StateFetching ||
			entry.state.FSMState == model.StateProcessing ||
			entry.state.FSMState == model.StateStoring
		stale := inFlight && now.Sub(entry.stateEnteredAt) > stuckAfter
		if stale {
			entry.state.FSMState = model.StateBackoff
			entry.state.ConsecutiveFailures++
			entry.stateEnteredAt = now
		}
		sourceID := entry.cfg.SourceID
		entry.mu.Unlock()

		if stale {
			c.log.Warn("reaper recovered stuck source", zap.String("source_id", sourceID))
			go func(e *sourceEntry) {
				time.Sleep(time.Second)
				_ = c.advance(e, evRecovered)
			}(entry)
		}
	}
}

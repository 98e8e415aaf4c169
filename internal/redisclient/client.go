// Copyright 2025 James Ross
package redisclient

import (
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/regulens/ingestion-engine/internal/config"
)

// New returns a configured go-redis client for the duplicate-hash cache's
// Redis tier, pooled proportionally to available CPUs. It returns nil
// when no Redis address is configured, so callers fall back to the
// in-process LRU alone.
func New(cfg *config.Config) *redis.Client {
	if cfg.DuplicateCache.RedisAddr == "" {
		return nil
	}
	poolSize := 10 * runtime.NumCPU()
	return redis.NewClient(&redis.Options{
		Addr:         cfg.DuplicateCache.RedisAddr,
		PoolSize:     poolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

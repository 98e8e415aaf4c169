// Copyright 2025 James Ross
package pipeline

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/regulens/ingestion-engine/internal/model"
)

// DuplicateIndex reports whether a content hash has been seen before and
// records new hashes, per spec §4.2's in-memory-LRU-with-authoritative-
// fallback design.
type DuplicateIndex interface {
	// Seen reports whether hash was already recorded for sourceID.
	// LocalLRUIndex and RedisLRUIndex consult only their own cache;
	// TieredIndex also falls through to its storage-backed
	// AuthoritativeChecker when both cache tiers miss.
	Seen(ctx context.Context, sourceID, hash string) (bool, error)
	// Record marks hash as seen for sourceID.
	Record(ctx context.Context, sourceID, hash string) error
}

// LocalLRUIndex is an in-process bounded LRU of content hashes keyed by
// source and hash. One capacity bounds all sources together; there is no
// separate bound per source. Used standalone or as the fast tier in front
// of RedisLRUIndex.
type LocalLRUIndex struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

type lruEntry struct {
	key string
}

// NewLocalLRUIndex builds an in-process LRU capped at capacity entries
// across all sources.
func NewLocalLRUIndex(capacity int) *LocalLRUIndex {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LocalLRUIndex{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

func (l *LocalLRUIndex) cacheKey(sourceID, hash string) string { return sourceID + ":" + hash }

func (l *LocalLRUIndex) Seen(ctx context.Context, sourceID, hash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.cacheKey(sourceID, hash)
	if elem, ok := l.index[key]; ok {
		l.order.MoveToFront(elem)
		return true, nil
	}
	return false, nil
}

func (l *LocalLRUIndex) Record(ctx context.Context, sourceID, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.cacheKey(sourceID, hash)
	if elem, ok := l.index[key]; ok {
		l.order.MoveToFront(elem)
		return nil
	}
	elem := l.order.PushFront(lruEntry{key: key})
	l.index[key] = elem
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.index, oldest.Value.(lruEntry).key)
		}
	}
	return nil
}

// RedisLRUIndex backs the duplicate hash set in Redis with a TTL, so
// multiple engine instances share one duplicate window larger than any
// single process's in-memory LRU (spec §4.2: "an in-memory LRU per
// source" backed authoritatively by storage — Redis sits between the two,
// giving cross-instance reach without a DB round trip on every record).
type RedisLRUIndex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLRUIndex wraps an existing go-redis client.
func NewRedisLRUIndex(client *redis.Client, ttl time.Duration) *RedisLRUIndex {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLRUIndex{client: client, ttl: ttl}
}

func (r *RedisLRUIndex) key(sourceID, hash string) string {
	return "ingestion:dup:" + sourceID + ":" + hash
}

func (r *RedisLRUIndex) Seen(ctx context.Context, sourceID, hash string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(sourceID, hash)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisLRUIndex) Record(ctx context.Context, sourceID, hash string) error {
	return r.client.Set(ctx, r.key(sourceID, hash), 1, r.ttl).Err()
}

// TieredIndex checks a fast local tier before an optional Redis tier,
// falling through to the AuthoritativeChecker (the storage adapter's
// content_hash lookup) only on a miss from both caches.
type TieredIndex struct {
	local         *LocalLRUIndex
	redis         *RedisLRUIndex // nil when Redis isn't configured
	authoritative AuthoritativeChecker
}

// AuthoritativeChecker is the storage-backed final word on whether a hash
// has ever been persisted, used when both cache tiers miss.
type AuthoritativeChecker interface {
	HashExists(ctx context.Context, sourceID, hash string) (bool, error)
}

// NewTieredIndex builds the duplicate index described in spec §4.2.
func NewTieredIndex(local *LocalLRUIndex, redisTier *RedisLRUIndex, authoritative AuthoritativeChecker) *TieredIndex {
	return &TieredIndex{local: local, redis: redisTier, authoritative: authoritative}
}

func (t *TieredIndex) Seen(ctx context.Context, sourceID, hash string) (bool, error) {
	if ok, _ := t.local.Seen(ctx, sourceID, hash); ok {
		return true, nil
	}
	if t.redis != nil {
		if ok, err := t.redis.Seen(ctx, sourceID, hash); err == nil && ok {
			return true, nil
		}
	}
	if t.authoritative != nil {
		return t.authoritative.HashExists(ctx, sourceID, hash)
	}
	return false, nil
}

func (t *TieredIndex) Record(ctx context.Context, sourceID, hash string) error {
	_ = t.local.Record(ctx, sourceID, hash)
	if t.redis != nil {
		_ = t.redis.Record(ctx, sourceID, hash)
	}
	return nil
}

// DuplicateDetectionStage tags duplicate records rather than rejecting
// them; the storage adapter skips "duplicate"-tagged records under every
// write strategy.
type DuplicateDetectionStage struct {
	Index DuplicateIndex
}

func (s *DuplicateDetectionStage) Name() model.Stage { return model.StageDuplicate }

func (s *DuplicateDetectionStage) Process(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) error {
	for _, r := range batch.Records {
		if r.Quality == model.QualityRejected {
			continue
		}
		r.ContentHash = model.ContentHash(r.Content)
		if s.Index == nil {
			continue
		}
		seen, err := s.Index.Seen(ctx, r.SourceID, r.ContentHash)
		if err != nil {
			r.Annotate(string(model.StageDuplicate), "dup_check_failed", err.Error())
			continue
		}
		if seen {
			r.Tags = append(r.Tags, "duplicate")
			continue
		}
		if err := s.Index.Record(ctx, r.SourceID, r.ContentHash); err != nil {
			r.Annotate(string(model.StageDuplicate), "dup_record_failed", err.Error())
		}
	}
	return nil
}

package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// CounterStore increments a fixed-window counter and reports the count
// inside the current window. Implementations must be safe for concurrent
// use from every transport's hot path.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

const memoryStoreShards = 32

type windowCounter struct {
	windowStart time.Time
	count       int64
}

type memoryShard struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

// MemoryStore is the default in-process counter backend: sharded maps so
// concurrent requests for different keys do not serialize on one lock.
// Expired windows are reset lazily on next access.
type MemoryStore struct {
	shards [memoryStoreShards]memoryShard
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i].counters = make(map[string]*windowCounter)
	}
	return s
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	shard := &s.shards[shardFor(key)]
	now := s.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	c, ok := shard.counters[key]
	if !ok || now.Sub(c.windowStart) >= window {
		c = &windowCounter{windowStart: now}
		shard.counters[key] = c
	}
	c.count++
	return c.count, nil
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % memoryStoreShards
}

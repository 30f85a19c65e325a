package ratelimit

import (
	"hash/fnv"
	"sync"
)

// numShards bounds lock contention on the bucket map; grounded verbatim on
// the teacher's internal/middleware/ratelimit/shard.go sharding scheme.
const numShards = 64

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

type shardedMap[V any] struct {
	shards [numShards]shard[V]
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

func (m *shardedMap[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%numShards]
}

func (m *shardedMap[V]) getOrCreate(key string, init func() V) V {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v
	}
	v := init()
	s.items[key] = v
	return v
}

// deleteFunc removes any entry for which fn returns true. Each shard is
// locked only for the duration of its own sweep, never the whole map, so a
// sweep cannot starve foreground Allow calls on other shards (spec §4.C).
func (m *shardedMap[V]) deleteFunc(fn func(key string, v V) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.items {
			if fn(k, v) {
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
}

func (m *shardedMap[V]) len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

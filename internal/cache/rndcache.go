// Package cache implements the bytes-bounded, O(1) random-eviction caches
// from spec.md §4.7, a direct Go port of original_source/src/rndcache.rs's
// IndexMap+StdRng design: an append-order slice doubles as the eviction
// pool so both insertion and eviction are O(1) instead of a strict-LRU
// structure's O(log n) touch.
package cache

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

type entry[V any] struct {
	val  V
	size int64
}

type shard[K comparable, V any] struct {
	mu        sync.Mutex
	items     map[K]entry[V]
	order     []K
	pos       map[K]int
	bytes     int64
	max       int64
	evictions int64
}

func newShard[K comparable, V any](max int64) *shard[K, V] {
	return &shard[K, V]{
		items: make(map[K]entry[V]),
		pos:   make(map[K]int),
		max:   max,
	}
}

// RndCache is a sharded, bytes-bounded cache with random eviction.
// Sharding follows teacher's dbpebble.Store batching-mutex pattern of one
// lock guarding one bounded resource, generalized to N shards keyed by a
// caller-supplied byte selector so unrelated keys rarely contend.
type RndCache[K comparable, V any] struct {
	shards  []*shard[K, V]
	keyByte func(K) byte

	hits, misses atomic.Int64
}

// New builds a cache with maxBytes total capacity spread across shardCount
// shards. keyByte selects the shard for a key (e.g. its first hash byte).
func New[K comparable, V any](maxBytes int64, shardCount int, keyByte func(K) byte) *RndCache[K, V] {
	if shardCount < 1 {
		shardCount = 1
	}
	c := &RndCache[K, V]{shards: make([]*shard[K, V], shardCount), keyByte: keyByte}
	perShard := maxBytes / int64(shardCount)
	if perShard < 1 {
		perShard = 1
	}
	for i := range c.shards {
		c.shards[i] = newShard[K, V](perShard)
	}
	return c
}

func (c *RndCache[K, V]) shardFor(k K) *shard[K, V] {
	b := c.keyByte(k)
	return c.shards[int(b)%len(c.shards)]
}

func (c *RndCache[K, V]) Get(k K) (V, bool) {
	s := c.shardFor(k)
	s.mu.Lock()
	e, ok := s.items[k]
	s.mu.Unlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return e.val, ok
}

// Set inserts or updates k, evicting random entries from the same shard
// until the shard's byte budget is respected.
func (c *RndCache[K, V]) Set(k K, v V, size int64) {
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.items[k]; ok {
		s.bytes += size - old.size
		s.items[k] = entry[V]{val: v, size: size}
	} else {
		s.items[k] = entry[V]{val: v, size: size}
		s.pos[k] = len(s.order)
		s.order = append(s.order, k)
		s.bytes += size
	}

	for s.bytes > s.max && len(s.order) > 0 {
		s.evictRandomLocked()
	}
}

func (s *shard[K, V]) evictRandomLocked() {
	i := rand.IntN(len(s.order))
	k := s.order[i]

	last := len(s.order) - 1
	s.order[i] = s.order[last]
	s.pos[s.order[i]] = i
	s.order = s.order[:last]
	delete(s.pos, k)

	if e, ok := s.items[k]; ok {
		s.bytes -= e.size
		delete(s.items, k)
		s.evictions++
	}
}

func (c *RndCache[K, V]) Delete(k K) {
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[k]
	if !ok {
		return
	}
	i := s.pos[k]
	last := len(s.order) - 1
	s.order[i] = s.order[last]
	s.pos[s.order[i]] = i
	s.order = s.order[:last]
	delete(s.pos, k)
	delete(s.items, k)
	s.bytes -= e.size
}

// Stats exposes the churn/hit/miss counters spec.md §4.7 requires.
type Stats struct {
	Hits, Misses, Evictions int64
	Bytes                   int64
	Len                     int
}

func (c *RndCache[K, V]) Stats() Stats {
	var st Stats
	st.Hits = c.hits.Load()
	st.Misses = c.misses.Load()
	for _, s := range c.shards {
		s.mu.Lock()
		st.Bytes += s.bytes
		st.Len += len(s.items)
		st.Evictions += s.evictions
		s.mu.Unlock()
	}
	return st
}

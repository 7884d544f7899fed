package container

import (
	"hash/maphash"
	"sync"
)

// shardCount is fixed rather than configurable: callers of SyncMap hold at
// most a few thousand in-flight invocations, so contention on any one shard
// never becomes the bottleneck the entry itself is.
const shardCount = 16

// SyncMap is a thread-safe generic map split into a fixed number of
// independently-locked shards, so a Range over one shard never blocks a
// Load/Store against another. Lookups hash the key with a process-local
// maphash seed to pick a shard; within a shard it's a plain mutex-guarded
// Go map.
type SyncMap[K comparable, V any] struct {
	seed   maphash.Seed
	shards [shardCount]syncMapShard[K, V]
}

type syncMapShard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewSyncMap creates an empty SyncMap.
func NewSyncMap[K comparable, V any]() SyncMap[K, V] {
	s := SyncMap[K, V]{seed: maphash.MakeSeed()}
	for i := range s.shards {
		s.shards[i].m = make(map[K]V)
	}
	return s
}

func (s *SyncMap[K, V]) shardFor(key K) *syncMapShard[K, V] {
	h := maphash.Comparable(s.seed, key)
	return &s.shards[h%shardCount]
}

// Load returns the value stored for key, if any.
func (s *SyncMap[K, V]) Load(key K) (V, bool) {
	shard := s.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	val, ok := shard.m[key]
	return val, ok
}

// Store sets the value for key.
func (s *SyncMap[K, V]) Store(key K, val V) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.m[key] = val
}

// Delete removes key from the map.
func (s *SyncMap[K, V]) Delete(key K) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.m, key)
}

// Range calls f for every entry across every shard, stopping early if f
// returns false. Shards are visited independently, so a concurrent Store
// into a shard not yet visited may or may not be observed.
func (s *SyncMap[K, V]) Range(f func(k K, v V) bool) {
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		entries := make(map[K]V, len(shard.m))
		for k, v := range shard.m {
			entries[k] = v
		}
		shard.mu.RUnlock()

		for k, v := range entries {
			if !f(k, v) {
				return
			}
		}
	}
}

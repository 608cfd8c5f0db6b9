// This module implements the storage backend behind the skipmap ports. A skipmap.Map is not safe for concurrent use,
// so the backend distributes keys uniformly across shards, each guarding its own map with a lock. Goroutines touching
// different shards don't block each other; only listing the whole store needs every shard at once.

package port

import (
	"cmp"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/skipmap/pkg/scan"
	"github.com/nobletooth/skipmap/pkg/skipmap"
	"github.com/nobletooth/skipmap/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	shardCount           = flag.Int("shard_count", 8, "Number of independently locked skip maps holding the keys.")
	promotionProbability = flag.Float64("promotion_probability", skipmap.DefaultPromotionProbability,
		"Probability of promoting a skip map node to the next level, in [0, 1].")
	levelSeed = flag.Int64("level_seed", 0,
		"Seed for skip map node heights; 0 seeds from the clock. Shard i uses seed+i.")
	bloomExpectedKeys = flag.Uint64("bloom_expected_keys", 100_000,
		"Expected number of keys per shard used to size its bloom filter; 0 disables the filters.")
	bloomFalsePositiveRate = flag.Float64("bloom_false_positive_rate", 0.01,
		"Target false positive rate of the per shard bloom filters, in (0, 1).")
)

// ErrKeyNotFound is returned by lookups of absent keys.
var ErrKeyNotFound = errors.New("key not found")

var (
	entriesMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skipmap_entries",
		Help: "The number of entries held by the storage backend",
	})
	bloomLookupsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloom_lookups_total",
		Help: "The total number of key lookups answered with the help of bloom filters",
	}, []string{
		"result", // One of: filtered, hit, false_positive.
	})
)

// storeShard is one lock domain of SkipMapStorage.
type storeShard struct {
	mux       sync.RWMutex
	entries   *skipmap.Map
	filter    *bloom.BloomFilter // Nil when filters are disabled.
	staleKeys int                // Removed keys whose bits are still set in `filter`.
}

// SkipMapStorage is the storage backend used by skipmap ports, e.g. Redis.
type SkipMapStorage struct {
	shards []*storeShard
}

// NewSkipMapStorage creates a storage with the shape given by the --shard_count, --promotion_probability,
// --level_seed and --bloom_* flags.
func NewSkipMapStorage() (*SkipMapStorage, error) {
	if *shardCount <= 0 {
		return nil, fmt.Errorf("expected a positive --shard_count, got %d", *shardCount)
	}
	if *bloomExpectedKeys > 0 && (*bloomFalsePositiveRate <= 0 || *bloomFalsePositiveRate >= 1) {
		return nil, fmt.Errorf("expected --bloom_false_positive_rate in (0, 1), got %v", *bloomFalsePositiveRate)
	}

	seed := *levelSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	store := &SkipMapStorage{shards: make([]*storeShard, *shardCount)}
	for i := range store.shards {
		entries, err := skipmap.New(
			skipmap.WithPromotionProbability(*promotionProbability), skipmap.WithSeed(seed+int64(i)))
		if err != nil {
			return nil, fmt.Errorf("failed to create shard %d: %w", i, err)
		}
		shard := &storeShard{entries: entries}
		if *bloomExpectedKeys > 0 {
			shard.filter = bloom.NewWithEstimates(uint(*bloomExpectedKeys), *bloomFalsePositiveRate)
		}
		store.shards[i] = shard
	}
	slog.Info("Created skip map storage.", "shards", len(store.shards), "p", *promotionProbability,
		"bloom_expected_keys", *bloomExpectedKeys)
	return store, nil
}

// encodeKey returns the fixed size binary form of `key` used for hashing and bloom filters.
func encodeKey(key int) [8]byte {
	var b [8]byte
	// Since int's size is architecture-dependent, cast it to a fixed-size type before encoding.
	binary.LittleEndian.PutUint64(b[:], uint64(key))
	return b
}

// getShard determines which shard a given key belongs to by hashing it onto the shard list.
func (s *SkipMapStorage) getShard(encodedKey [8]byte) *storeShard {
	return s.shards[xxhash.Sum64(encodedKey[:])%uint64(len(s.shards))]
}

// Get looks up the given `key` and returns its value or ErrKeyNotFound.
func (s *SkipMapStorage) Get(key int) (int, error) {
	encodedKey := encodeKey(key)
	shard := s.getShard(encodedKey)
	shard.mux.RLock()
	defer shard.mux.RUnlock()

	if shard.filter != nil && !shard.filter.Test(encodedKey[:]) {
		bloomLookupsMetric.WithLabelValues("filtered").Inc()
		return 0, ErrKeyNotFound
	}
	value, found := shard.entries.TryGet(key)
	if shard.filter != nil {
		if found {
			bloomLookupsMetric.WithLabelValues("hit").Inc()
		} else {
			bloomLookupsMetric.WithLabelValues("false_positive").Inc()
		}
	}
	if !found {
		return 0, ErrKeyNotFound
	}
	return value, nil
}

// Contains reports whether `key` is present.
func (s *SkipMapStorage) Contains(key int) bool {
	_, err := s.Get(key)
	return err == nil
}

// Add inserts `key` with `value`; an existing key is left untouched and skipmap.ErrDuplicateKey is returned.
func (s *SkipMapStorage) Add(key, value int) error {
	encodedKey := encodeKey(key)
	shard := s.getShard(encodedKey)
	shard.mux.Lock()
	defer shard.mux.Unlock()

	if err := shard.entries.Add(key, value); err != nil {
		return err
	}
	if shard.filter != nil {
		shard.filter.Add(encodedKey[:])
	}
	entriesMetric.Inc()
	return nil
}

// Remove deletes `key` and reports whether it was present.
func (s *SkipMapStorage) Remove(key int) bool {
	shard := s.getShard(encodeKey(key))
	shard.mux.Lock()
	defer shard.mux.Unlock()

	if !shard.entries.Remove(key) {
		return false
	}
	entriesMetric.Dec()
	if shard.filter != nil {
		shard.staleKeys++
		if shard.staleKeys > shard.entries.Count() {
			shard.rebuildFilter()
		}
	}
	return true
}

// rebuildFilter drops the bits of removed keys by refilling the filter from the live entries.
// The caller must hold the shard's write lock.
func (shard *storeShard) rebuildFilter() {
	shard.filter.ClearAll()
	for pair := range shard.entries.Iterate() {
		encodedKey := encodeKey(pair.Key)
		shard.filter.Add(encodedKey[:])
	}
	shard.staleKeys = 0
}

// Count returns the number of entries over all shards.
func (s *SkipMapStorage) Count() int {
	count := 0
	for _, shard := range s.shards {
		shard.mux.RLock()
		count += shard.entries.Count()
		shard.mux.RUnlock()
	}
	return count
}

// Keys returns every key matching the glob `pattern` in ascending order.
// All shards are read locked, in index order, while they are merged.
func (s *SkipMapStorage) Keys(pattern string) ([]int, error) {
	for _, shard := range s.shards {
		shard.mux.RLock()
		defer shard.mux.RUnlock()
	}

	sequences := make([]iter.Seq[utils.IntPair], len(s.shards))
	for i, shard := range s.shards {
		sequences[i] = shard.entries.Iterate()
	}
	merged, err := scan.MultiHead(cmp.Compare[int], sequences)
	if err != nil {
		return nil, fmt.Errorf("failed to merge shards: %w", err)
	}
	keys := make([]int, 0)
	for pair := range scan.MatchKeys(pattern, merged) {
		keys = append(keys, pair.Key)
	}
	return keys, nil
}

// Clear removes every entry from every shard.
func (s *SkipMapStorage) Clear() {
	for _, shard := range s.shards {
		shard.mux.Lock()
		entriesMetric.Sub(float64(shard.entries.Count()))
		shard.entries.Clear()
		if shard.filter != nil {
			shard.filter.ClearAll()
			shard.staleKeys = 0
		}
		shard.mux.Unlock()
	}
}

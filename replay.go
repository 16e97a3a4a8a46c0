package gateway

import (
	"fmt"
	"hash/fnv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const replayShardCount = 16

// ReplayCache tracks recently observed message identifiers per device. Each
// device holds at most cap identifiers; once full, the oldest is evicted.
// The cache is process-local and volatile: after a restart, previously seen
// identifiers become acceptable again. Freshness checking bounds that window
// to the skew budget, so an identifier old enough to have been forgotten can
// no longer pass validation anyway.
type ReplayCache struct {
	cap    int
	shards [replayShardCount]replayShard
}

type replayShard struct {
	mu      sync.Mutex
	devices map[string]*lru.Cache[string, struct{}]
}

// NewReplayCache creates a cache retaining up to capPerDevice identifiers per device.
func NewReplayCache(capPerDevice int) (*ReplayCache, error) {
	if capPerDevice <= 0 {
		return nil, fmt.Errorf("replay cache size must be positive, got %d", capPerDevice)
	}
	c := &ReplayCache{cap: capPerDevice}
	for i := range c.shards {
		c.shards[i].devices = make(map[string]*lru.Cache[string, struct{}])
	}
	return c, nil
}

// CheckAndAdd atomically tests whether (deviceID, messageID) was already
// observed and records it if not. It returns true if the identifier is fresh
// and was inserted, false on a replay. Lookups never disturb eviction order:
// identifiers are inserted exactly once each, so the per-device set evicts in
// insertion (FIFO) order when the cap is exceeded.
func (c *ReplayCache) CheckAndAdd(deviceID, messageID string) bool {
	sh := &c.shards[shardIndex(deviceID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	seen, ok := sh.devices[deviceID]
	if !ok {
		// Size was validated in NewReplayCache; lru.New only fails on a
		// non-positive size.
		seen, _ = lru.New[string, struct{}](c.cap)
		sh.devices[deviceID] = seen
	}
	if seen.Contains(messageID) {
		return false
	}
	seen.Add(messageID, struct{}{})
	return true
}

// Len reports how many identifiers are currently retained for deviceID.
func (c *ReplayCache) Len(deviceID string) int {
	sh := &c.shards[shardIndex(deviceID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	seen, ok := sh.devices[deviceID]
	if !ok {
		return 0
	}
	return seen.Len()
}

func shardIndex(deviceID string) int {
	return fnvIndex(deviceID, replayShardCount)
}

// fnvIndex buckets s into [0, n) by FNV-1a hash.
func fnvIndex(s string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(n))
}

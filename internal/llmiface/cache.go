// Package llmiface implements the LLM Compile/Mutate Interface (spec
// §4.6): Compile/Mutate over a pluggable Provider, a content-addressed
// response cache, the three-step normalization pipeline (reused from
// pkg/graph), and the single-shot repair loop.
//
// It is grounded on internal/data/store.go for the directory-backed
// persistence shape (load-on-miss, write-through, in-memory cache in
// front of disk) and on sawpanic-cryptorun's
// internal/infrastructure/datafacade/cache/ttl_cache.go for the
// sharded-lock cache idiom, adapted to drop TTL expiry entirely: spec
// §4.6 requires cache entries to be authoritative and to survive
// process restarts, so nothing here ever evicts.
package llmiface

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"go.uber.org/zap"
)

// CacheEntry is the persisted unit the content-addressed cache stores:
// enough to reconstruct a Transcript without re-querying the provider.
type CacheEntry struct {
	Response   string            `json:"response"`
	TokenUsage domain.TokenUsage `json:"token_usage"`
	Cost       float64           `json:"cost"`
}

// shardCount sets how many independent mutexes guard the in-memory
// index, so concurrent lookups on distinct keys never block each other
// -- the same technique TTLCache's janitor/mutex split demonstrates,
// applied to sharding instead of expiry.
const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// Cache is a directory-backed, content-addressed, never-expiring
// response cache. One JSON file per key lives under dir; a sharded
// in-memory index serves repeat lookups without touching disk.
type Cache struct {
	logger *zap.Logger
	dir    string
	shards [shardCount]*shard

	inflight   sync.Map // key -> *sync.WaitGroup, for same-key call deduplication
	hits       int64
	misses     int64
	hitsMu     sync.Mutex
}

// NewCache creates a Cache rooted at dir, creating it if absent.
func NewCache(logger *zap.Logger, dir string) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("llmiface: create cache dir: %w", err)
	}
	c := &Cache{logger: logger, dir: dir}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*CacheEntry)}
	}
	return c, nil
}

// Key computes spec §4.6's cache key: sha256(provider+model+prompt+params).
func Key(provider, model, prompt string, params map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|", provider, model, prompt)
	// params are rarely present for this interface's two operations, but
	// the key function covers them so a future caller (e.g. provider
	// temperature/seed) changes the cache key if they change.
	for _, k := range sortedKeys(params) {
		fmt.Fprintf(h, "%s=%s;", k, params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func (c *Cache) shardFor(key string) *shard {
	var h byte
	for i := 0; i < len(key) && i < 8; i++ {
		h ^= key[i]
	}
	return c.shards[int(h)%shardCount]
}

// Get returns the cached entry for key, reading through to disk on an
// in-memory miss.
func (c *Cache) Get(key string) (*CacheEntry, bool) {
	sh := c.shardFor(key)
	sh.mu.RLock()
	entry, ok := sh.entries[key]
	sh.mu.RUnlock()
	if ok {
		c.recordHit()
		return entry, true
	}

	path := c.pathFor(key)
	data, err := os.ReadFile(path)
	if err != nil {
		c.recordMiss()
		return nil, false
	}
	var loaded CacheEntry
	if err := json.Unmarshal(data, &loaded); err != nil {
		c.logger.Warn("llmiface: cache file corrupt, treating as miss", zap.String("key", key), zap.Error(err))
		c.recordMiss()
		return nil, false
	}
	sh.mu.Lock()
	sh.entries[key] = &loaded
	sh.mu.Unlock()
	c.recordHit()
	return &loaded, true
}

// Put persists entry under key, in memory and on disk.
func (c *Cache) Put(key string, entry *CacheEntry) error {
	sh := c.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = entry
	sh.mu.Unlock()

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("llmiface: marshal cache entry: %w", err)
	}
	if err := os.WriteFile(c.pathFor(key), data, 0o644); err != nil {
		return fmt.Errorf("llmiface: write cache entry: %w", err)
	}
	return nil
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cache) recordHit() {
	c.hitsMu.Lock()
	c.hits++
	c.hitsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.hitsMu.Lock()
	c.misses++
	c.hitsMu.Unlock()
}

// Stats returns the cache's cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	c.hitsMu.Lock()
	defer c.hitsMu.Unlock()
	return c.hits, c.misses
}

// singleflightGroup returns the wait group other callers with the same
// key should wait on, creating it if this is the first caller. The
// second return value is true when the caller owns the call (must
// resolve it by calling done()).
func (c *Cache) singleflightGroup(key string) (wg *sync.WaitGroup, owner bool) {
	newWG := &sync.WaitGroup{}
	newWG.Add(1)
	actual, loaded := c.inflight.LoadOrStore(key, newWG)
	if loaded {
		return actual.(*sync.WaitGroup), false
	}
	return newWG, true
}

func (c *Cache) releaseGroup(key string, wg *sync.WaitGroup) {
	c.inflight.Delete(key)
	wg.Done()
}

// Package cache implements the in-memory response cache: a TTL'd map keyed
// by a stable fingerprint of the request, swept periodically in the
// background so expired entries don't accumulate.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// maxKeyMessages bounds how many trailing messages feed the fingerprint, so
// a long conversation doesn't produce an ever-growing cache key.
const maxKeyMessages = 10

// Entry is one cached value plus its expiry and category label.
type Entry struct {
	Value     any
	ExpiresAt time.Time
	Category  string
}

// Stats is a snapshot of the cache's hit/miss counters.
type Stats struct {
	Hits       int64          `json:"hits"`
	Misses     int64          `json:"misses"`
	Size       int            `json:"size"`
	Categories map[string]int `json:"categories"`
	HitRate    float64        `json:"hitRate"`
}

// Cache is a concurrent, TTL'd, in-memory map. A background goroutine
// sweeps expired entries every sweepInterval without blocking Get/Set.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	enabled bool

	hits   int64
	misses int64

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepOnce     sync.Once
}

// New creates a cache and starts its background sweep loop. Call Close to
// stop the sweep goroutine.
func New(enabled bool, sweepInterval time.Duration) *Cache {
	if sweepInterval <= 0 {
		sweepInterval = 300 * time.Second
	}
	c := &Cache{
		entries:       make(map[string]Entry),
		enabled:       enabled,
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, k)
		}
	}
}

// Close stops the background sweep goroutine.
func (c *Cache) Close() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

// Enabled reports whether the cache is active; callers bypass get/set
// entirely when it returns false.
func (c *Cache) Enabled() bool { return c.enabled }

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.ExpiresAt) {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return e.Value, true
}

// Set stores value under key with the given TTL and category.
func (c *Cache) Set(key string, value any, ttl time.Duration, category string) {
	if category == "" {
		category = "general"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
		Category:  category,
	}
}

// Factory produces a value to cache on a miss.
type Factory func(ctx context.Context) (any, error)

// GetOrSet returns the cached value for key, or calls factory on a miss and
// caches its result. A per-key mutex serializes concurrent misses for the
// same key so factory runs at most once per miss window, per the "exactly
// once for concurrent miss+set" testable property.
func (c *Cache) GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration, category string) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl, category)
	return v, nil
}

var keyLocks sync.Map // string -> *sync.Mutex, process-wide but cheap: one mutex per distinct key ever seen

func (c *Cache) keyLock(key string) *sync.Mutex {
	actual, _ := keyLocks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Stats returns current hit/miss/size counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	categories := make(map[string]int)
	for _, e := range c.entries {
		categories[e.Category]++
	}

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Size:       len(c.entries),
		Categories: categories,
		HitRate:    hitRate,
	}
}

// ---------------------------------------------------------------------------
// Fingerprint key generation
// ---------------------------------------------------------------------------

// GenerateKey builds a stable "sha256-<hex>" fingerprint from input plus any
// extra string components. When input is a map, keys are sorted at every
// level before stringification so two structurally-equal inputs that differ
// only in insertion order produce the same key. A "messages" entry, if
// present and a slice, is truncated to its last maxKeyMessages elements
// before hashing, so long conversation histories don't grow the key
// unboundedly and stale early turns don't change the fingerprint; each kept
// message contributes a "role:content" string.
func GenerateKey(input any, extras ...string) string {
	var raw string
	switch v := input.(type) {
	case string:
		raw = v
	case nil:
		raw = "null"
	default:
		normalized := normalizeForKey(input)
		b, err := json.Marshal(normalized)
		if err != nil {
			raw = fallbackString(v)
		} else {
			raw = string(b)
		}
	}

	if len(extras) > 0 {
		raw = raw + "-" + joinDash(extras)
	}

	sum := sha256.Sum256([]byte(raw))
	return "sha256-" + hex.EncodeToString(sum[:])
}

func joinDash(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "-" + p
	}
	return out
}

func fallbackString(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// normalizeForKey turns an arbitrary JSON-ish value (map[string]any, []any,
// or a struct) into plain maps and slices by a JSON round trip. Since
// encoding/json always emits map[string]any keys in sorted order, sorting
// applies uniformly at every nesting level without further work; the only
// extra rule is the "messages" handling in truncateMessages.
func normalizeForKey(input any) any {
	// Round-trip through JSON once to turn structs into map[string]any /
	// []any, the two shapes the rest of this function understands. Go's
	// encoding/json already emits object keys in sorted order for
	// map[string]any, which gives us "sorted keys at each level" for free;
	// the only extra work is bounding the "messages" array.
	b, err := json.Marshal(input)
	if err != nil {
		return input
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return input
	}
	return truncateMessages(generic)
}

func truncateMessages(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		if k == "messages" {
			if arr, ok := val.([]any); ok {
				if len(arr) > maxKeyMessages {
					arr = arr[len(arr)-maxKeyMessages:]
				}
				// Each kept message becomes "role:content"; non-string
				// content is JSON-encoded, which sorts its object keys.
				parts := make([]any, len(arr))
				for i, m := range arr {
					msg, _ := m.(map[string]any)
					role, _ := msg["role"].(string)
					content, isString := msg["content"].(string)
					if !isString {
						b, _ := json.Marshal(msg["content"])
						content = string(b)
					}
					parts[i] = role + ":" + content
				}
				val = parts
			}
		}
		out[k] = val
	}
	return out
}

package durablecache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// defaultTTL is used when the caller doesn't configure one.
const defaultTTL = 1 * time.Hour

// envelope is the on-disk payload shape: the value plus the bookkeeping
// the read-through policy needs to decide staleness and detect upstream
// drift without re-fetching first.
type envelope struct {
	Data       []byte    `json:"data"`
	Compressed bool      `json:"compressed"`
	Hash       string    `json:"hash"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Fetch is the upstream call a GetOrRefresh caller supplies. It must return
// a JSON-marshalable value.
type Fetch func(ctx context.Context) (any, error)

// Cache implements the two-tier read-through policy over a DurableStore.
type Cache struct {
	store      DurableStore
	enabled    bool
	ttl        time.Duration
	compress   bool
	logger     *zap.Logger
}

// Options configures a Cache.
type Options struct {
	Store    DurableStore
	Enabled  bool
	TTL      time.Duration
	Compress bool
	Logger   *zap.Logger
}

func New(opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:    opts.Store,
		enabled:  opts.Enabled,
		ttl:      ttl,
		compress: opts.Compress,
		logger:   logger,
	}
}

// IsEnabled gates all cache access per C8: when disabled, GetOrRefresh
// always forwards to upstream synchronously without touching the store.
func (c *Cache) IsEnabled() bool { return c.enabled }

// Key builds the per-user cache key. Anonymous callers share one bucket
// ("anonymous"), since this gateway has no identity layer of its own.
func Key(userID, cacheKey string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("%s:%s", userID, cacheKey)
}

// GetOrRefresh implements the stale-while-revalidate policy:
//
//  1. Cache hit, not expired: return the cached value immediately. A
//     background goroutine then calls fetch, hashes the result, and
//     refreshes the stored entry only if the hash changed.
//  2. Cache miss or expired: call fetch synchronously, return its result,
//     and write the new entry to the store in the background.
//
// The returned bool reports whether the value came from cache (true) or
// was freshly fetched (false); background refresh failures are logged and
// swallowed, never surfaced to the caller who already got a response.
func (c *Cache) GetOrRefresh(ctx context.Context, userID, cacheKey string, fetch Fetch) (any, bool, error) {
	if !c.enabled {
		val, err := fetch(ctx)
		return val, false, err
	}

	key := Key(userID, cacheKey)

	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("durable cache read failed, falling through to upstream", zap.String("key", key), zap.Error(err))
		found = false
	}

	if found {
		env, decodeErr := decodeEnvelope(raw)
		if decodeErr != nil {
			c.logger.Warn("durable cache entry corrupt, discarding", zap.String("key", key), zap.Error(decodeErr))
		} else if time.Now().Before(env.ExpiresAt) {
			var cached any
			if unmarshalErr := json.Unmarshal(env.Data, &cached); unmarshalErr == nil {
				go c.refreshInBackground(key, env.Hash, fetch)
				return cached, true, nil
			}
		}
	}

	val, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}

	go c.writeInBackground(key, val)

	return val, false, nil
}

// refreshInBackground re-fetches upstream and overwrites the stored entry
// only if the content actually changed, so a cache hit that's still fresh
// doesn't churn writes every request.
func (c *Cache) refreshInBackground(key, existingHash string, fetch Fetch) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	val, err := fetch(ctx)
	if err != nil {
		c.logger.Warn("background cache refresh failed", zap.String("key", key), zap.Error(err))
		return
	}

	data, err := json.Marshal(val)
	if err != nil {
		c.logger.Warn("background cache refresh: marshaling value failed", zap.String("key", key), zap.Error(err))
		return
	}

	if hashOf(data) == existingHash {
		return
	}

	if err := c.putEnvelope(ctx, key, data); err != nil {
		c.logger.Warn("background cache refresh: write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) writeInBackground(key string, val any) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := json.Marshal(val)
	if err != nil {
		c.logger.Warn("background cache write: marshaling value failed", zap.String("key", key), zap.Error(err))
		return
	}

	if err := c.putEnvelope(ctx, key, data); err != nil {
		c.logger.Warn("background cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// putEnvelope builds the stored envelope (optionally gzip-compressing the
// payload) and writes it through the DurableStore.
func (c *Cache) putEnvelope(ctx context.Context, key string, data []byte) error {
	env := envelope{
		Data:      data,
		Hash:      hashOf(data),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(c.ttl),
	}

	if c.compress {
		compressed, err := gzipBytes(data)
		if err != nil {
			return err
		}
		env.Data = compressed
		env.Compressed = true
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return c.store.Set(ctx, key, raw, int(c.ttl.Seconds()))
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, err
	}
	if env.Compressed {
		decompressed, err := gunzip(env.Data)
		if err != nil {
			return envelope{}, err
		}
		env.Data = decompressed
	}
	return env, nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Package cache implements the two-tier Search Cache (C4): an in-process
// LRU (Tier 1) in front of an optional Redis store (Tier 2), with
// single-flight recomputation, gzip compression of large values, and
// tag-based invalidation.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// Config controls MultiLevel's behavior, matching SPEC_FULL.md §4.7's named
// parameters.
type Config struct {
	MaxKeys             int
	MemoryThresholdMB   int
	DefaultTTL          time.Duration
	CompressionEnabled  bool
	CompressionMinBytes int
	SweepInterval       time.Duration
}

// DefaultConfig mirrors internal/cache/multilevel_cache.go's defaults
// (L1MaxSize=1000, DefaultTTL=15min) adjusted to this service's tighter
// sub-200ms search budget.
func DefaultConfig() Config {
	return Config{
		MaxKeys:             1000,
		MemoryThresholdMB:   256,
		DefaultTTL:          5 * time.Minute,
		CompressionEnabled:  true,
		CompressionMinBytes: compressionMinBytes,
		SweepInterval:       60 * time.Second,
	}
}

// Executor computes a fresh value on a cache miss. It is invoked at most
// once per key among concurrently waiting callers (single-flight).
type Executor func(ctx context.Context) (interface{}, error)

// MultiLevel is the Search Cache. Tier2 is optional: when nil, MultiLevel
// serves Tier1-only and every Tier2 error is swallowed, never surfaced to
// callers, per SPEC_FULL.md §4.7's "Tier-2 errors MUST NOT fail callers".
type MultiLevel struct {
	tier1  *Tier1
	tier2  Tier2
	config Config
	group  singleflight.Group
	logger  observability.Logger
	metrics *observability.PromMetricsClient

	stopSweep chan struct{}
}

// New constructs a MultiLevel cache. tier2 may be nil to run Tier1-only.
func New(config Config, tier2 Tier2, logger observability.Logger, metrics *observability.PromMetricsClient) (*MultiLevel, error) {
	tier1, err := NewTier1(config.MaxKeys, config.MemoryThresholdMB)
	if err != nil {
		return nil, err
	}

	m := &MultiLevel{
		tier1:     tier1,
		tier2:     tier2,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		stopSweep: make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		go m.sweepLoop(config.SweepInterval)
	}

	return m, nil
}

func (m *MultiLevel) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n := m.tier1.SweepExpired(time.Now())
			if n > 0 && m.logger != nil {
				m.logger.Debug("cache sweep removed expired entries", map[string]interface{}{"count": n})
			}
		case <-m.stopSweep:
			return
		}
	}
}

// Close stops the background sweep and, if present, the Tier2 client.
func (m *MultiLevel) Close() error {
	close(m.stopSweep)
	if m.tier2 != nil {
		return m.tier2.Close()
	}
	return nil
}

// GetOrCompute is the cache's main entry point: on hit it returns the
// decoded value from whichever tier held it; on miss it calls exec exactly
// once across concurrent callers for the same key (single-flight) and
// stores the result in both tiers.
func (m *MultiLevel) GetOrCompute(ctx context.Context, key string, tags model.CacheTags, ttl time.Duration, exec Executor) (interface{}, bool, error) {
	start := time.Now()

	if value, ok := m.getDecoded(ctx, key); ok {
		m.recordCache("tier1", "get", true, time.Since(start))
		return value, true, nil
	}

	result, err, _ := m.group.Do(key, func() (interface{}, error) {
		if value, ok := m.getDecoded(ctx, key); ok {
			return value, nil
		}
		value, err := exec(ctx)
		if err != nil {
			return nil, err
		}
		if serr := m.set(ctx, key, value, tags, ttl); serr != nil && m.logger != nil {
			m.logger.Warn("cache store failed", map[string]interface{}{"key": key, "error": serr.Error()})
		}
		return value, nil
	})

	m.recordCache("tier1", "get", false, time.Since(start))
	if err != nil {
		return nil, false, err
	}
	return result, false, nil
}

// Get returns a decoded value directly, without the single-flight
// recomputation GetOrCompute wraps around a miss. Callers that need to
// separate the hit-check from the store step (the Semantic Engine only
// caches a result set when it has ≤100 documents, which it can't know
// until after computing it) use Get+Set instead of GetOrCompute.
func (m *MultiLevel) Get(ctx context.Context, key string) (interface{}, bool) {
	start := time.Now()
	value, ok := m.getDecoded(ctx, key)
	m.recordCache("tier1", "get", ok, time.Since(start))
	return value, ok
}

// Set stores value under key across both tiers, tagged for later
// invalidation. A non-positive ttl is a deliberate no-op, matching
// SPEC_FULL.md §8's "ttl of 0 → entries are never cached".
func (m *MultiLevel) Set(ctx context.Context, key string, value interface{}, tags model.CacheTags, ttl time.Duration) error {
	return m.set(ctx, key, value, tags, ttl)
}

func (m *MultiLevel) getDecoded(ctx context.Context, key string) (interface{}, bool) {
	now := time.Now()

	if entry, ok := m.tier1.Get(key, now); ok {
		var value interface{}
		if m.decode(entry, &value) {
			return value, true
		}
		m.tier1.Delete(key) // corrupt entry: evict rather than serve garbage
	}

	if m.tier2 == nil {
		return nil, false
	}

	start := time.Now()
	raw, err := m.tier2.Get(ctx, key)
	m.recordCache("tier2", "get", err == nil, time.Since(start))
	if err != nil {
		return nil, false
	}

	var entry model.CacheEntry
	if jsonErr := json.Unmarshal(raw, &entry); jsonErr != nil {
		// Corrupt Tier-2 payload: treat as miss and evict, matching the
		// declared disposition for a compressed-flag/payload mismatch.
		_ = m.tier2.Del(ctx, key)
		return nil, false
	}

	var value interface{}
	if !m.decode(&entry, &value) {
		_ = m.tier2.Del(ctx, key)
		return nil, false
	}

	entry.LastAccessed = now
	entry.AccessCount++
	m.tier1.Set(key, &entry) // promote to Tier1

	return value, true
}

func (m *MultiLevel) decode(entry *model.CacheEntry, out interface{}) bool {
	payload := entry.Value
	if entry.Compressed {
		decompressed, err := decompress(payload)
		if err != nil {
			return false
		}
		payload = decompressed
	}
	return json.Unmarshal(payload, out) == nil
}

func (m *MultiLevel) set(ctx context.Context, key string, value interface{}, tags model.CacheTags, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	compressed := false
	if m.config.CompressionEnabled && len(payload) >= m.config.CompressionMinBytes {
		if c, cerr := compress(payload); cerr == nil {
			payload = c
			compressed = true
		}
	}

	now := time.Now()
	entry := &model.CacheEntry{
		Key:          key,
		Value:        payload,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		TTLSeconds:   int64(ttl.Seconds()),
		SizeBytes:    int64(len(payload)),
		Compressed:   compressed,
		Tags:         tags,
	}

	if ttl <= 0 {
		// TTL of 0 → entries are never cached, per SPEC_FULL.md §8.
		return nil
	}

	m.tier1.Set(key, entry)

	if m.tier2 != nil {
		raw, merr := json.Marshal(entry)
		if merr == nil {
			start := time.Now()
			err := m.tier2.Set(ctx, key, raw, ttl)
			m.recordCache("tier2", "set", err == nil, time.Since(start))
			// Tier-2 write failures are logged, never surfaced.
			if err != nil && m.logger != nil {
				m.logger.Warn("tier2 cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
			}
		}
	}

	return nil
}

// Invalidate removes every entry tagged with tag from both tiers and
// returns the count removed from Tier1 (Tier2's pattern-scan count is
// best-effort and folded in when available).
func (m *MultiLevel) Invalidate(ctx context.Context, tag string) int {
	count := m.tier1.Invalidate(tag)

	if m.tier2 != nil {
		keys, err := m.tier2.Keys(ctx, "*"+tag+"*")
		if err == nil && len(keys) > 0 {
			_ = m.tier2.Del(ctx, keys...)
			count += len(keys)
		}
	}

	return count
}

// Warmup executes exec for each query in queries and stores the result,
// used for optional startup cache pre-warming (SPEC_FULL.md §4.7).
func (m *MultiLevel) Warmup(ctx context.Context, queries []string, ttl time.Duration, exec func(ctx context.Context, query string) (interface{}, error)) {
	for _, q := range queries {
		key := Key(q, nil)
		_, _, _ = m.GetOrCompute(ctx, key, model.CacheTags{QueryHash: key}, ttl, func(ctx context.Context) (interface{}, error) {
			return exec(ctx, q)
		})
	}
}

func (m *MultiLevel) recordCache(tier, op string, hit bool, d time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordCacheOperation(tier, op, hit, d.Seconds())
	}
}

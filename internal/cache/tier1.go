package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// Tier1 is the in-process LRU cache described in SPEC_FULL.md §4.7: bounded
// by both entry count (max_keys) and total bytes (memory_threshold_mb), with
// O(1) amortized get/put backed by hashicorp/golang-lru/v2, and tag-indexed
// for invalidate(tag).
//
// The LRU's own head/tail/map invariants are hashicorp's responsibility;
// Tier1 only adds byte-budget eviction and the tag index on top.
type Tier1 struct {
	mu                  sync.Mutex
	entries             *lru.Cache[string, *model.CacheEntry]
	maxKeys             int
	memoryThresholdBytes int64
	currentBytes        int64
	tagIndex            map[string]map[string]struct{} // tag -> set of keys
}

// NewTier1 constructs a Tier1 bounded by maxKeys entries and
// memoryThresholdMB megabytes.
func NewTier1(maxKeys int, memoryThresholdMB int) (*Tier1, error) {
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	t := &Tier1{
		maxKeys:              maxKeys,
		memoryThresholdBytes: int64(memoryThresholdMB) * 1024 * 1024,
		tagIndex:             make(map[string]map[string]struct{}),
	}

	c, err := lru.NewWithEvict[string, *model.CacheEntry](maxKeys, t.onEvict)
	if err != nil {
		return nil, err
	}
	t.entries = c

	return t, nil
}

// onEvict is hashicorp/golang-lru's eviction callback; it must not take
// t.mu itself since it fires synchronously from within Add/Remove while the
// caller already holds it.
func (t *Tier1) onEvict(key string, entry *model.CacheEntry) {
	t.currentBytes -= entry.SizeBytes
	t.untagLocked(key, entry)
}

// Get returns the entry for key and bumps it to most-recently-used, or
// (nil, false) on miss. Expired entries are treated as a miss and removed
// lazily, per SPEC_FULL.md §4.7.
func (t *Tier1) Get(key string, now time.Time) (*model.CacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries.Get(key)
	if !ok {
		return nil, false
	}
	if entry.Expired(now) {
		t.entries.Remove(key) // triggers onEvict, which untags and debits bytes
		return nil, false
	}

	entry.LastAccessed = now
	entry.AccessCount++
	return entry, true
}

// Set inserts or replaces the entry for key, evicting by LRU order (via the
// underlying cache) and, if the byte budget is exceeded, by further
// oldest-first eviction until the budget is satisfied.
func (t *Tier1) Set(key string, entry *model.CacheEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries.Peek(key); ok {
		t.currentBytes -= old.SizeBytes
		t.untagLocked(key, old)
	}

	t.entries.Add(key, entry)
	t.currentBytes += entry.SizeBytes
	t.tagLocked(key, entry)

	for t.memoryThresholdBytes > 0 && t.currentBytes > t.memoryThresholdBytes && t.entries.Len() > 0 {
		t.entries.RemoveOldest() // triggers onEvict
	}
}

// Delete removes key if present.
func (t *Tier1) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Remove(key)
}

// Len returns the current entry count.
func (t *Tier1) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}

// Invalidate removes every entry tagged with tag and returns the count
// removed, per SPEC_FULL.md §4.7's invalidate(tag) contract.
func (t *Tier1) Invalidate(tag string) int {
	t.mu.Lock()
	keys, ok := t.tagIndex[tag]
	if !ok {
		t.mu.Unlock()
		return 0
	}
	toRemove := make([]string, 0, len(keys))
	for k := range keys {
		toRemove = append(toRemove, k)
	}
	t.mu.Unlock()

	for _, k := range toRemove {
		t.Delete(k)
	}
	return len(toRemove)
}

// SweepExpired proactively removes expired entries; called by the periodic
// sweep (default 60s) and under memory pressure.
func (t *Tier1) SweepExpired(now time.Time) int {
	t.mu.Lock()
	keys := t.entries.Keys()
	expired := make([]string, 0)
	for _, k := range keys {
		if entry, ok := t.entries.Peek(k); ok && entry.Expired(now) {
			expired = append(expired, k)
		}
	}
	t.mu.Unlock()

	for _, k := range expired {
		t.Delete(k)
	}
	return len(expired)
}

func (t *Tier1) tagLocked(key string, entry *model.CacheEntry) {
	for _, tag := range nonEmptyTags(entry.Tags) {
		set, ok := t.tagIndex[tag]
		if !ok {
			set = make(map[string]struct{})
			t.tagIndex[tag] = set
		}
		set[key] = struct{}{}
	}
}

func (t *Tier1) untagLocked(key string, entry *model.CacheEntry) {
	for _, tag := range nonEmptyTags(entry.Tags) {
		if set, ok := t.tagIndex[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(t.tagIndex, tag)
			}
		}
	}
}

func nonEmptyTags(tags model.CacheTags) []string {
	var out []string
	for _, v := range []string{tags.QueryHash, tags.TableName, tags.SourceType, tags.Category} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Package opcache memoizes expensive operations (model responses, tool
// results, API calls, memory retrievals) with per-type TTLs and combined
// entry-count and byte-size ceilings. It is the only long-lived mutable
// shared resource in the runtime and is accessed exclusively through this
// contract.
package opcache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// OpType names a class of cached operation. TTLs differ per type to match
// volatility: model output goes stale fastest, retrieved memories slowest.
type OpType string

const (
	OpModelResponse   OpType = "model_response"
	OpAPICall         OpType = "api_call"
	OpToolResult      OpType = "tool_result"
	OpMemoryRetrieval OpType = "memory_retrieval"
)

// DefaultTTL returns the default lifetime for an operation type.
func DefaultTTL(t OpType) time.Duration {
	switch t {
	case OpModelResponse:
		return 5 * time.Minute
	case OpAPICall:
		return 10 * time.Minute
	case OpToolResult:
		return 15 * time.Minute
	case OpMemoryRetrieval:
		return time.Hour
	default:
		return 10 * time.Minute
	}
}

type entry struct {
	key       string
	opType    OpType
	userID    string
	data      json.RawMessage
	timestamp time.Time
	ttl       time.Duration
	size      int64
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) >= e.ttl
}

// Cache is a TTL + size bounded memoization cache.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	totalBytes int64
	maxEntries int
	maxBytes   int64
	now        func() time.Time
}

// New creates a cache bounded by maxEntries entries and maxBytes of
// serialized payload.
func New(maxEntries int, maxBytes int64) *Cache {
	return &Cache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		now:        time.Now,
	}
}

// Get returns the cached payload for (opType, params), or ok=false on miss.
// An expired entry behaves exactly like a miss and is evicted on the way out.
func (c *Cache) Get(opType OpType, params any) (json.RawMessage, bool) {
	key, err := Key(opType, params)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.remove(e)
		return nil, false
	}
	return e.data, true
}

// Has reports whether a live entry exists. Expired entries are evicted here
// too: no entry may outlive its TTL through any code path.
func (c *Cache) Has(opType OpType, params any) bool {
	_, ok := c.Get(opType, params)
	return ok
}

// Set stores value under (opType, params). ttl <= 0 selects the type's
// default. Every Set first sweeps expired entries, then evicts
// oldest-by-timestamp entries until both ceilings are satisfied.
func (c *Cache) Set(opType OpType, params, value any, userID string, ttl time.Duration) error {
	key, err := Key(opType, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL(opType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepExpired(now)

	if old, ok := c.entries[key]; ok {
		c.remove(old)
	}
	e := &entry{
		key:       key,
		opType:    opType,
		userID:    userID,
		data:      data,
		timestamp: now,
		ttl:       ttl,
		size:      int64(len(data)),
	}
	c.entries[key] = e
	c.totalBytes += e.size

	c.evictOldest()
	return nil
}

// Invalidate removes the entry for (opType, params) if present.
func (c *Cache) Invalidate(opType OpType, params any) {
	key, err := Key(opType, params)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.remove(e)
	}
}

// InvalidateType removes every entry of the given type. Returns the number
// of entries removed.
func (c *Cache) InvalidateType(opType OpType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.opType == opType {
			c.remove(e)
			n++
		}
	}
	return n
}

// InvalidateUser removes every entry recorded for the given user.
func (c *Cache) InvalidateUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.userID == userID {
			c.remove(e)
			n++
		}
	}
	return n
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.totalBytes = 0
}

// Len returns the number of live entries (expired entries may still be
// counted until the next sweep touches them).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SizeBytes returns the tracked serialized size of all entries.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

// remove deletes an entry and keeps the byte accounting in step.
// Caller holds c.mu.
func (c *Cache) remove(e *entry) {
	if _, ok := c.entries[e.key]; !ok {
		return
	}
	delete(c.entries, e.key)
	c.totalBytes -= e.size
}

// sweepExpired removes every expired entry. Caller holds c.mu.
func (c *Cache) sweepExpired(now time.Time) {
	for _, e := range c.entries {
		if e.expired(now) {
			c.remove(e)
		}
	}
}

// evictOldest removes oldest-by-timestamp entries until both the entry
// count and byte ceilings hold. Caller holds c.mu.
func (c *Cache) evictOldest() {
	if len(c.entries) <= c.maxEntries && c.totalBytes <= c.maxBytes {
		return
	}

	ordered := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].timestamp.Before(ordered[j].timestamp)
	})

	for _, e := range ordered {
		if len(c.entries) <= c.maxEntries && c.totalBytes <= c.maxBytes {
			return
		}
		c.remove(e)
	}
}

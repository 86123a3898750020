// Package cache implements the byte-budgeted, TTL-bounded, recency-ordered
// response cache (spec §4.D): a single mutex-guarded map plus an intrusive
// LRU list, keyed on the request fingerprint ("name|qtype").
package cache

import (
	"container/list"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var cacheBytesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "gravastar_cache_bytes",
	Help: "Current total size in bytes of cached responses",
})

func init() {
	if err := prometheus.Register(cacheBytesGauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			cacheBytesGauge = are.ExistingCollector.(prometheus.Gauge)
		}
	}
}

// Key builds the cache key from a canonical name and numeric qtype, per
// spec §3 ("lowercased_name_without_trailing_dot + \"|\" + decimal_qtype").
// Callers are expected to have already canonicalized name.
func Key(canonicalName string, qtype int) string {
	return canonicalName + "|" + strconv.Itoa(qtype)
}

type entry struct {
	key     string
	bytes   []byte
	size    int
	expiry  time.Time
	element *list.Element
}

// Cache is a byte-budgeted, TTL + LRU response cache. It is not internally
// synchronized beyond its own mutex; the resolution engine owns no
// additional locking over it (spec §4.D: "the resolution engine serializes
// calls through a dedicated lock" refers to this mutex).
type Cache struct {
	mu           sync.Mutex
	maxBytes     int
	ttl          time.Duration
	currentBytes int
	lru          *list.List // front = least-recent, back = most-recent
	entries      map[uint64]*entry
}

// New returns a Cache bounded to maxBytes total entry size, with new entries
// expiring ttlSeconds after insertion.
func New(maxBytes int, ttlSeconds int) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		ttl:      time.Duration(ttlSeconds) * time.Second,
		lru:      list.New(),
		entries:  make(map[uint64]*entry),
	}
}

func hash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Get returns a copy of the cached bytes for key, or (nil, false) on miss or
// expiry. Expired entries are swept first; a hit promotes the entry to
// most-recent.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()
	cacheBytesGauge.Set(float64(c.currentBytes))

	e, ok := c.entries[hash(key)]
	if !ok {
		return nil, false
	}

	c.lru.MoveToBack(e.element)

	out := make([]byte, len(e.bytes))
	copy(out, e.bytes)
	return out, true
}

// Put inserts or replaces the entry for key. Replacing an existing key
// subtracts its old size before accounting for the new one. After insertion,
// entries are evicted from the least-recent end until current_bytes fits
// max_bytes or the cache is empty, so an entry larger than max_bytes is
// evicted as well.
func (c *Cache) Put(key string, response []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()

	h := hash(key)
	if old, ok := c.entries[h]; ok {
		c.lru.Remove(old.element)
		c.currentBytes -= old.size
		delete(c.entries, h)
	}

	buf := make([]byte, len(response))
	copy(buf, response)

	e := &entry{
		key:    key,
		bytes:  buf,
		size:   len(buf),
		expiry: time.Now().Add(c.ttl),
	}
	e.element = c.lru.PushBack(e)
	c.entries[h] = e
	c.currentBytes += e.size

	c.evictIfNeededLocked()
	cacheBytesGauge.Set(float64(c.currentBytes))
}

// SetLimits updates the byte budget and TTL. The new TTL only affects
// entries inserted from this point on; existing expiries are not rewritten.
// Triggers eviction if the new budget is now exceeded.
func (c *Cache) SetLimits(maxBytes int, ttlSeconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxBytes = maxBytes
	c.ttl = time.Duration(ttlSeconds) * time.Second
	c.evictIfNeededLocked()
	cacheBytesGauge.Set(float64(c.currentBytes))
}

// SizeBytes reports the current total size of cached entries.
func (c *Cache) SizeBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBytes
}

func (c *Cache) evictExpiredLocked() {
	now := time.Now()
	for el := c.lru.Front(); el != nil; {
		e := el.Value.(*entry)
		next := el.Next()
		if e.expiry.After(now) {
			el = next
			continue
		}
		c.lru.Remove(el)
		delete(c.entries, hash(e.key))
		c.currentBytes -= e.size
		el = next
	}
}

func (c *Cache) evictIfNeededLocked() {
	for c.currentBytes > c.maxBytes && c.lru.Len() > 0 {
		front := c.lru.Front()
		e := front.Value.(*entry)
		c.lru.Remove(front)
		delete(c.entries, hash(e.key))
		c.currentBytes -= e.size
	}
}

package cache

import (
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// Entry is a cached payload with its write time and ttl
type Entry struct {
	Key       string        `json:"key"`
	Value     interface{}   `json:"value"`
	WrittenAt time.Time     `json:"written_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether now - WrittenAt > TTL
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.WrittenAt) > e.TTL
}

// Observer receives hit/miss notifications (metrics)
type Observer interface {
	CacheHit()
	CacheMiss()
}

// Stats is a point-in-time view of cache activity
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// HitRate returns hits / (hits + misses)
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a keyed TTL cache shared by all engines
// ⭐ SSOT: 엔진 결과 캐싱은 이 구조체에서만
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	defaultTTL time.Duration
	now        func() time.Time
	observer   Observer
	logger     *logger.Logger

	stripes [lockStripes]sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// GetOrCompute 키 잠금 스트라이프 수
const lockStripes = 64

// Option configures a Cache
type Option func(*Cache)

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithObserver reports hits and misses to o
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// New creates a cache whose Set falls back to defaultTTL when ttl <= 0
func New(defaultTTL time.Duration, log *logger.Logger, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
		logger:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set writes value under key, overwriting any existing entry
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.entries[key] = &Entry{
		Key:       key,
		Value:     value,
		WrittenAt: c.now(),
		TTL:       ttl,
	}
	c.mu.Unlock()
}

// Get returns the value for key. Expired entries are a miss and are dropped.
func (c *Cache) Get(key string) (interface{}, bool) {
	entry, ok := c.GetEntry(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// GetEntry is Get returning the full entry
func (c *Cache) GetEntry(key string) (Entry, bool) {
	now := c.now()

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordMiss()
		return Entry{}, false
	}

	if entry.Expired(now) {
		// lazy expiry: 다른 goroutine이 그 사이 덮어썼으면 유지
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && current == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()

		c.recordMiss()
		return Entry{}, false
	}

	c.recordHit()
	return *entry, true
}

// GetOrCompute returns the cached value or computes and stores it.
// Concurrent callers for the same key compute once.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, fn func() (interface{}, error)) (interface{}, bool, error) {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if value, ok := c.Get(key); ok {
		return value, true, nil
	}

	value, err := fn()
	if err != nil {
		return nil, false, err
	}

	c.Set(key, value, ttl)
	return value, false, nil
}

// Delete removes key
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Keys returns the live keys with the given prefix
func (c *Cache) Keys(prefix string) []string {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for key, entry := range c.entries {
		if strings.HasPrefix(key, prefix) && !entry.Expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Sweep removes every expired entry and returns how many were dropped
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.logger.WithFields(map[string]interface{}{
			"removed":   removed,
			"remaining": remaining,
		}).Debug("Swept expired cache entries")
	}

	return removed
}

// Stats returns hit/miss counters and the entry count
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: n,
	}
}

func (c *Cache) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.stripes[h.Sum32()%lockStripes]
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}

package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// Config tunes the cache.
type Config struct {
	// TTL bounds the age of a served entry.
	TTL time.Duration

	// FastCapacity bounds the fast tier.
	FastCapacity int

	// PromotionThreshold is the access count an entry must exceed before it
	// is written to the slow tier.
	PromotionThreshold int

	// SweepEvery runs an expiry sweep of the fast tier every n writes.
	SweepEvery int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:                5 * time.Minute,
		FastCapacity:       100,
		PromotionThreshold: 2,
		SweepEvery:         32,
	}
}

// Stats describes cache activity.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	FastHits    int64   `json:"fast_hits"`
	SlowHits    int64   `json:"slow_hits"`
	Writes      int64   `json:"writes"`
	Promotions  int64   `json:"promotions"`
	Expirations int64   `json:"expirations"`
	Evictions   int64   `json:"evictions"`
	SlowErrors  int64   `json:"slow_errors"`
	FastSize    int     `json:"fast_size"`
	SlowTier    string  `json:"slow_tier,omitempty"`
	HitRate     float64 `json:"hit_rate"`
}

// ComputeFunc produces a fresh result on a miss. A false cacheable result is
// returned to the caller but not stored.
type ComputeFunc func(ctx context.Context) (result *types.CheckResult, cacheable bool, err error)

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSlowTier sets the slow tier.
func WithSlowTier(tier Tier) Option {
	return func(c *Cache) { c.slow = tier }
}

// Cache is a two-tier TTL cache of check results.
//
// Entries start in the fast tier only. An entry accessed more than
// PromotionThreshold times is also written to the slow tier; a slow-tier hit
// repopulates the fast tier. Expiry is evaluated on read, and expired fast
// entries are swept opportunistically on writes. Slow-tier failures are
// logged and bypassed.
type Cache struct {
	mu     sync.Mutex
	fast   *MemoryTier
	slow   Tier
	config Config
	now    func() time.Time
	logger *slog.Logger
	stats  Stats
}

// New creates a cache.
func New(config Config, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.FastCapacity <= 0 {
		config.FastCapacity = def.FastCapacity
	}
	if config.PromotionThreshold < 0 {
		config.PromotionThreshold = def.PromotionThreshold
	}
	if config.SweepEvery <= 0 {
		config.SweepEvery = def.SweepEvery
	}

	c := &Cache{
		fast:   NewMemoryTier("fast", config.FastCapacity),
		config: config,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.config.TTL
}

// Get returns a copy of the cached result for key, if fresh and computed for
// the same exact text.
func (c *Cache) Get(ctx context.Context, key Key, fingerprint uint64) (*types.CheckResult, bool) {
	k := key.String()
	now := c.now()

	if entry, ok, _ := c.fast.Get(ctx, k); ok {
		if c.expired(entry, now) {
			_ = c.fast.Delete(ctx, k)
			c.count(func(s *Stats) { s.Expirations++ })
		} else if entry.TextFingerprint == fingerprint {
			c.touch(ctx, entry)
			c.count(func(s *Stats) { s.Hits++; s.FastHits++ })
			return entry.Payload.Clone(), true
		}
	}

	if c.slow != nil {
		entry, ok, err := c.slow.Get(ctx, k)
		if err != nil {
			c.slowFailed("get", err)
		} else if ok && !c.expired(entry, now) && entry.TextFingerprint == fingerprint {
			entry.Promoted = true
			_ = c.fast.Set(ctx, entry, c.config.TTL)
			c.count(func(s *Stats) { s.Hits++; s.SlowHits++ })
			return entry.Payload.Clone(), true
		}
	}

	c.count(func(s *Stats) { s.Misses++ })
	return nil, false
}

// Set stores a copy of result under key.
func (c *Cache) Set(ctx context.Context, key Key, fingerprint uint64, result *types.CheckResult) {
	entry := &Entry{
		Key:             key.String(),
		Payload:         *result.Clone(),
		InsertedAt:      c.now(),
		TextFingerprint: fingerprint,
	}
	before := c.fast.Evicted()
	_ = c.fast.Set(ctx, entry, c.config.TTL)
	evicted := c.fast.Evicted() - before

	var writes int64
	c.count(func(s *Stats) {
		s.Writes++
		s.Evictions += evicted
		writes = s.Writes
	})

	if evicted > 0 || writes%int64(c.config.SweepEvery) == 0 {
		c.sweep()
	}
}

// GetOrCompute returns the cached result for key or computes, stores and
// returns a fresh one. The boolean reports a cache hit.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, fingerprint uint64, compute ComputeFunc) (*types.CheckResult, bool, error) {
	if result, ok := c.Get(ctx, key, fingerprint); ok {
		return result, true, nil
	}

	result, cacheable, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	if cacheable && result != nil {
		c.Set(ctx, key, fingerprint, result)
	}
	return result, false, nil
}

// Clear drops every entry from both tiers.
func (c *Cache) Clear(ctx context.Context) error {
	_ = c.fast.Clear(ctx)
	if c.slow != nil {
		if err := c.slow.Clear(ctx); err != nil {
			c.slowFailed("clear", err)
			return &sdk.CacheError{Tier: c.slow.Name(), Op: "clear", Err: err}
		}
	}
	c.logger.Info("cache cleared")
	return nil
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	s := c.stats
	c.mu.Unlock()

	s.FastSize, _ = c.fast.Len(ctx)
	if c.slow != nil {
		s.SlowTier = c.slow.Name()
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache) expired(entry *Entry, now time.Time) bool {
	return now.Sub(entry.InsertedAt) >= c.config.TTL
}

// touch counts an access and promotes the entry once it is popular.
func (c *Cache) touch(ctx context.Context, entry *Entry) {
	c.mu.Lock()
	entry.AccessCount++
	promote := c.slow != nil && !entry.Promoted && entry.AccessCount > c.config.PromotionThreshold
	if promote {
		entry.Promoted = true
	}
	snapshot := entry.clone()
	c.mu.Unlock()

	if !promote {
		return
	}

	remaining := c.config.TTL - c.now().Sub(snapshot.InsertedAt)
	if remaining <= 0 {
		// Expired between the read and the promotion.
		c.mu.Lock()
		entry.Promoted = false
		c.mu.Unlock()
		return
	}
	if err := c.slow.Set(ctx, snapshot, remaining); err != nil {
		c.slowFailed("set", err)
		c.mu.Lock()
		entry.Promoted = false
		c.mu.Unlock()
		return
	}
	c.count(func(s *Stats) { s.Promotions++ })
	c.logger.Debug("cache entry promoted", "cache_key", snapshot.Key, "tier", c.slow.Name())
}

func (c *Cache) sweep() {
	removed := c.fast.Sweep(c.now().Add(-c.config.TTL))
	if removed > 0 {
		c.count(func(s *Stats) { s.Expirations += int64(removed) })
	}
}

func (c *Cache) slowFailed(op string, err error) {
	cacheErr := &sdk.CacheError{Tier: c.slow.Name(), Op: op, Err: err}
	c.count(func(s *Stats) { s.SlowErrors++ })
	c.logger.Warn("cache tier unavailable, bypassing", "error", cacheErr)
}

func (c *Cache) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

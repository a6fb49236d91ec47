// Package sessioncache holds resolved auth snapshots keyed by session token.
//
// Entries are immutable; refreshing a revalidation timestamp swaps in a new
// entry instead of mutating the old one, so concurrent readers always see a
// consistent snapshot. Staleness is bounded by two independent revalidation
// intervals: one for session liveness, one for the user's policy version.
package sessioncache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"orgcore.io/internal/rbac"
)

// Store is the slice of the authoritative store the cache revalidates
// against. Both calls are cheap single-row lookups.
type Store interface {
	SessionExpiry(ctx context.Context, sessionID string) (time.Time, error)
	PolicyVersion(ctx context.Context, userID string) (int64, error)
}

// Config bounds entry lifetime and cache size.
type Config struct {
	// TTL is the hard entry lifetime. After it the entry is dropped
	// unconditionally and the caller re-resolves from the store.
	TTL time.Duration
	// SessionCheckInterval bounds how long a store-side session deletion
	// can go unnoticed.
	SessionCheckInterval time.Duration
	// PolicyCheckInterval bounds how long a permission change can go
	// unnoticed. Keep it shorter than SessionCheckInterval: permission
	// changes are the more urgent signal.
	PolicyCheckInterval time.Duration
	// MaxEntries caps the cache. Zero means the default.
	MaxEntries int
}

const (
	defaultTTL                  = 5 * time.Minute
	defaultSessionCheckInterval = 60 * time.Second
	defaultPolicyCheckInterval  = 30 * time.Second
	defaultMaxEntries           = 10000
)

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.SessionCheckInterval <= 0 {
		c.SessionCheckInterval = defaultSessionCheckInterval
	}
	if c.PolicyCheckInterval <= 0 {
		c.PolicyCheckInterval = defaultPolicyCheckInterval
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	return c
}

type entry struct {
	snap *rbac.AuthSnapshot
	sess rbac.Session

	cachedAt         time.Time
	lastSessionCheck time.Time
	lastPolicyCheck  time.Time
}

// Cache is a concurrency-safe session-token cache over an authoritative
// store. A failed revalidation read degrades to a miss without evicting, so
// a store outage slows requests down but never grants stale access past the
// TTL and never locks users out while the store recovers.
type Cache struct {
	store Store
	cfg   Config
	now   func() time.Time

	entries sync.Map // session token -> *entry
	count   atomic.Int64
}

var _ rbac.SessionCache = (*Cache)(nil)

// Option configures the cache.
type Option func(*Cache)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Cache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// New builds a cache over the given store slice.
func New(store Store, cfg Config, opts ...Option) *Cache {
	registerMetrics()
	c := &Cache{
		store: store,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached snapshot for the token, revalidating it against the
// store when the corresponding interval has elapsed. ok=false means the
// caller must resolve from the store.
func (c *Cache) Get(ctx context.Context, token string) (*rbac.AuthSnapshot, rbac.Session, bool) {
	now := c.now()
	c.sweep(now, token)

	v, ok := c.entries.Load(token)
	if !ok {
		missesTotal.WithLabelValues("absent").Inc()
		return nil, rbac.Session{}, false
	}
	e := v.(*entry)

	if now.Sub(e.cachedAt) > c.cfg.TTL {
		c.evict(token, "ttl")
		missesTotal.WithLabelValues("ttl").Inc()
		return nil, rbac.Session{}, false
	}
	if now.After(e.sess.ExpiresAt) {
		c.evict(token, "session_expired")
		missesTotal.WithLabelValues("session_expired").Inc()
		return nil, rbac.Session{}, false
	}

	if now.Sub(e.lastSessionCheck) >= c.cfg.SessionCheckInterval {
		expiry, err := c.store.SessionExpiry(ctx, token)
		if err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				// Session was terminated server-side. Drop the entry so
				// the token stops working right now.
				c.evict(token, "session_revoked")
				missesTotal.WithLabelValues("session_revoked").Inc()
				return nil, rbac.Session{}, false
			}
			// Store unreachable: treat as a miss but keep the entry.
			// The caller's full resolution will fail closed on its own.
			missesTotal.WithLabelValues("store_error").Inc()
			return nil, rbac.Session{}, false
		}
		if now.After(expiry) {
			c.evict(token, "session_expired")
			missesTotal.WithLabelValues("session_expired").Inc()
			return nil, rbac.Session{}, false
		}
		refreshed := *e
		refreshed.lastSessionCheck = now
		refreshed.sess.ExpiresAt = expiry
		c.entries.Store(token, &refreshed)
		e = &refreshed
	}

	if now.Sub(e.lastPolicyCheck) >= c.cfg.PolicyCheckInterval {
		version, err := c.store.PolicyVersion(ctx, e.snap.UserID)
		if err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				c.evict(token, "user_gone")
				missesTotal.WithLabelValues("user_gone").Inc()
				return nil, rbac.Session{}, false
			}
			missesTotal.WithLabelValues("store_error").Inc()
			return nil, rbac.Session{}, false
		}
		if version != e.snap.PolicyVersion {
			// Permissions changed since resolution. Force a full
			// re-resolve rather than patching the snapshot in place.
			c.evict(token, "policy_version")
			missesTotal.WithLabelValues("policy_version").Inc()
			return nil, rbac.Session{}, false
		}
		refreshed := *e
		refreshed.lastPolicyCheck = now
		c.entries.Store(token, &refreshed)
		e = &refreshed
	}

	hitsTotal.Inc()
	return e.snap, e.sess, true
}

// Put stores a freshly resolved snapshot. Both revalidation clocks start at
// insertion time.
func (c *Cache) Put(token string, snap *rbac.AuthSnapshot, sess rbac.Session) {
	if snap == nil || token == "" {
		return
	}
	now := c.now()
	c.sweep(now, token)
	e := &entry{
		snap:             snap,
		sess:             sess,
		cachedAt:         now,
		lastSessionCheck: now,
		lastPolicyCheck:  now,
	}
	if _, loaded := c.entries.Swap(token, e); !loaded {
		entriesGauge.Set(float64(c.count.Add(1)))
	}
	if int(c.count.Load()) > c.cfg.MaxEntries {
		c.evictOldest()
	}
}

// Evict removes one entry. Used by explicit session invalidation.
func (c *Cache) Evict(token string) {
	c.evict(token, "explicit")
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	return int(c.count.Load())
}

func (c *Cache) evict(token, reason string) {
	if _, loaded := c.entries.LoadAndDelete(token); loaded {
		entriesGauge.Set(float64(c.count.Add(-1)))
		evictionsTotal.WithLabelValues(reason).Inc()
	}
}

// sweep drops every entry past its TTL or cached session expiry, so dead
// entries do not linger until individually requested or capacity-evicted.
// Runs on each cache touch. The touched token is skipped; Get handles it
// with precise miss accounting.
func (c *Cache) sweep(now time.Time, skipToken string) {
	c.entries.Range(func(k, v any) bool {
		token := k.(string)
		if token == skipToken {
			return true
		}
		e := v.(*entry)
		switch {
		case now.Sub(e.cachedAt) > c.cfg.TTL:
			c.evict(token, "ttl")
		case now.After(e.sess.ExpiresAt):
			c.evict(token, "session_expired")
		}
		return true
	})
}

// evictOldest drops the entry with the oldest cachedAt. A full scan is fine
// at the configured cap; overflow only happens on Put, not on the read path.
func (c *Cache) evictOldest() {
	var oldestToken string
	var oldestAt time.Time
	c.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		if oldestToken == "" || e.cachedAt.Before(oldestAt) {
			oldestToken = k.(string)
			oldestAt = e.cachedAt
		}
		return true
	})
	if oldestToken != "" {
		c.evict(oldestToken, "capacity")
	}
}

var (
	registerOnce sync.Once

	hitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessioncache_hits_total",
		Help: "Session cache hits.",
	})
	missesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessioncache_misses_total",
		Help: "Session cache misses by reason.",
	}, []string{"reason"})
	evictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessioncache_evictions_total",
		Help: "Session cache evictions by reason.",
	}, []string{"reason"})
	entriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessioncache_entries",
		Help: "Number of cached sessions.",
	})
)

func registerMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(hitsTotal, missesTotal, evictionsTotal, entriesGauge)
	})
}

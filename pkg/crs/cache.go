package crs

// cache.go - grid-keyed height delta cache

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geowerk/geoloader/internal/metrics"
)

// HeightDelta is one cached reference transform: an exactly transformed
// point plus the scalar height offset observed there. Nearby points reuse
// it through a local linear approximation instead of new service calls.
type HeightDelta struct {
	// RefE and RefN locate the reference point in LV95 metres.
	RefE, RefN float64

	// RefLon and RefLat are the service-computed WGS84 equivalent.
	RefLon, RefLat float64

	// HeightOffset is ellipsoidal height minus source height at the
	// reference. Valid only when HasOffset is set; a reference computed
	// from a heightless point cannot provide one.
	HeightOffset float64
	HasOffset    bool

	// Created is the computation time; entries older than the cache TTL
	// are invalid.
	Created time.Time

	// Radius is the validity radius in metres around the reference.
	Radius float64
}

// Contains reports whether a point lies within the delta's validity radius.
func (d HeightDelta) Contains(e, n float64) bool {
	return math.Hypot(e-d.RefE, n-d.RefN) <= d.Radius
}

// Apply shifts a point by the delta's local linear approximation. The
// longitude scale is derived from the reference latitude; the latitude
// scale is the metres-per-degree constant of the meridian.
func (d HeightDelta) Apply(e, n float64) (lon, lat float64) {
	latScale := 1.0 / metersPerDegree
	lonScale := 1.0 / (metersPerDegree * math.Cos(d.RefLat*math.Pi/180))
	lon = d.RefLon + (e-d.RefE)*lonScale
	lat = d.RefLat + (n-d.RefN)*latScale
	return lon, lat
}

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = 111_320.0

// CellKey identifies one grid cell for one transform direction.
type CellKey struct {
	From, To string
	CellX    int
	CellY    int
}

// String renders the key for de-duplication group lookups.
func (k CellKey) String() string {
	return fmt.Sprintf("%s>%s:%d:%d", k.From, k.To, k.CellX, k.CellY)
}

// DeltaCache stores height deltas keyed by grid cell. Implementations must
// tolerate concurrent readers and writers; per-cell writes are
// last-write-wins.
//
// The cache object is injected into the Transformer so tests can isolate or
// disable caching entirely.
type DeltaCache interface {
	// Lookup returns the cell's delta when it exists, is younger than the
	// TTL, and covers the given point. Expired entries are evicted here.
	Lookup(key CellKey, e, n float64, now time.Time) (HeightDelta, bool)

	// Store records the cell's delta, replacing any previous entry.
	Store(key CellKey, d HeightDelta)

	// Options exposes the cache geometry: the transformer derives cell
	// keys from CellSize and stamps new deltas with Radius.
	Options() CacheOptions

	// Stats returns cumulative cache counters.
	Stats() CacheStats
}

// CacheStats holds cumulative cache counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// HitRate returns the fraction of lookups served from the cache (0 to 1).
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// CacheOptions configure the grid cache.
type CacheOptions struct {
	// CellSize is the grid pitch in metres.
	// Default: 1000
	CellSize float64

	// Radius is the validity radius stored on new deltas, in metres.
	// Default: 1000
	Radius float64

	// TTL is the entry lifetime. Entries are evicted lazily when a lookup
	// finds them expired.
	// Default: 1h
	TTL time.Duration
}

// DefaultCacheOptions returns cache options with defaults.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		CellSize: 1000,
		Radius:   1000,
		TTL:      time.Hour,
	}
}

// GridCache is the standard DeltaCache: a mutex-guarded map with TTL
// eviction on read. Age is the only eviction policy.
type GridCache struct {
	opts CacheOptions

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	mu      sync.RWMutex
	entries map[CellKey]HeightDelta
}

// NewGridCache builds an empty cache.
func NewGridCache(opts CacheOptions) *GridCache {
	def := DefaultCacheOptions()
	if opts.CellSize <= 0 {
		opts.CellSize = def.CellSize
	}
	if opts.Radius <= 0 {
		opts.Radius = def.Radius
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	return &GridCache{
		opts:    opts,
		entries: make(map[CellKey]HeightDelta),
	}
}

// Options returns the cache geometry so the transformer can derive cell
// keys and stamp new deltas consistently.
func (c *GridCache) Options() CacheOptions { return c.opts }

// Lookup implements DeltaCache.
func (c *GridCache) Lookup(key CellKey, e, n float64, now time.Time) (HeightDelta, bool) {
	c.mu.RLock()
	d, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.miss()
		return HeightDelta{}, false
	}
	if now.Sub(d.Created) > c.opts.TTL {
		c.mu.Lock()
		// Re-check under the write lock: another goroutine may have
		// refreshed the cell.
		if cur, ok := c.entries[key]; ok && now.Sub(cur.Created) > c.opts.TTL {
			delete(c.entries, key)
			c.evictions.Add(1)
			metrics.DeltaCacheEvictions.Inc()
		}
		c.mu.Unlock()
		c.miss()
		return HeightDelta{}, false
	}
	if !d.Contains(e, n) {
		c.miss()
		return HeightDelta{}, false
	}
	c.hits.Add(1)
	metrics.DeltaCacheHits.Inc()
	return d, true
}

func (c *GridCache) miss() {
	c.misses.Add(1)
	metrics.DeltaCacheMisses.Inc()
}

// Store implements DeltaCache.
func (c *GridCache) Store(key CellKey, d HeightDelta) {
	c.mu.Lock()
	c.entries[key] = d
	c.mu.Unlock()
}

// Len returns the number of live entries.
func (c *GridCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats implements DeltaCache.
func (c *GridCache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
	}
}

// NopCache disables delta caching: every transform goes straight to the
// service. Callers needing exact results for every point inject it.
type NopCache struct{}

// Lookup implements DeltaCache; it never hits.
func (NopCache) Lookup(CellKey, float64, float64, time.Time) (HeightDelta, bool) {
	return HeightDelta{}, false
}

// Store implements DeltaCache; it drops the entry.
func (NopCache) Store(CellKey, HeightDelta) {}

// Options implements DeltaCache with the default geometry.
func (NopCache) Options() CacheOptions { return DefaultCacheOptions() }

// Stats implements DeltaCache; a cache that stores nothing counts nothing.
func (NopCache) Stats() CacheStats { return CacheStats{} }

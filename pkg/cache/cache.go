// Package cache is the in-memory candle store. Series are keyed by
// (exchange, symbol, interval); writes merge through a priority-aware
// dedup so a live tick, a historical refresh and a synthetic fill can
// land on the same timestamp without corrupting the series.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/logging"
)

// DefaultExpiry is how old the newest candle of a series may be before
// the series counts as stale.
const DefaultExpiry = 30 * time.Minute

// Cache is an in-memory time-series store for candles. All methods are
// safe for concurrent use; mutation of one series is serialized on a
// per-entry lock so a live tick and a concurrent historical refresh
// cannot interleave destructively.
type Cache struct {
	mu      sync.RWMutex
	entries map[candle.SeriesKey]*entry

	expiry time.Duration
	logger logging.Logger

	// now is swapped in freshness tests
	now func() time.Time
}

type stored struct {
	candle.Candle
	source candle.Source
}

type entry struct {
	mu          sync.Mutex
	byTime      map[int64]stored
	sorted      []candle.Candle
	lastUpdated time.Time
}

// Options configures a Cache.
type Options struct {
	// Expiry overrides DefaultExpiry
	Expiry time.Duration

	Logger logging.Logger
}

// New creates an empty cache.
func New(opts *Options) *Cache {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	return &Cache{
		entries: make(map[candle.SeriesKey]*entry),
		expiry:  opts.Expiry,
		logger:  opts.Logger,
		now:     time.Now,
	}
}

func (c *Cache) entryFor(key candle.SeriesKey, create bool) *entry {
	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e = c.entries[key]; e == nil {
		e = &entry{byTime: make(map[int64]stored)}
		c.entries[key] = e
	}
	return e
}

// Store merges candles into the series under key. On a timestamp
// collision the higher source wins; within equal sources the candle with
// the larger volume wins. Candles are replaced whole, never mutated.
// Storing the same input twice leaves the series unchanged.
func (c *Cache) Store(key candle.SeriesKey, candles []candle.Candle, source candle.Source) {
	if len(candles) == 0 {
		return
	}

	e := c.entryFor(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	for _, cdl := range candles {
		existing, ok := e.byTime[cdl.Time]
		switch {
		case !ok:
		case source > existing.source:
		case source == existing.source && cdl.Volume > existing.Volume:
		default:
			continue
		}
		e.byTime[cdl.Time] = stored{Candle: cdl, source: source}
		changed = true
	}

	if changed {
		e.rebuild()
		e.lastUpdated = c.now()
	}
}

// rebuild recomputes the sorted array view. Caller holds e.mu.
func (e *entry) rebuild() {
	sorted := make([]candle.Candle, 0, len(e.byTime))
	for _, s := range e.byTime {
		sorted = append(sorted, s.Candle)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	e.sorted = sorted
}

// Get returns up to the last limit candles of the series, ascending by
// time. limit <= 0 returns the whole series. The result is a copy.
func (c *Cache) Get(key candle.SeriesKey, limit int) []candle.Candle {
	e := c.entryFor(key, false)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.sorted)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]candle.Candle, n)
	copy(out, e.sorted[len(e.sorted)-n:])
	return out
}

// Has reports whether any candles are stored under key.
func (c *Cache) Has(key candle.SeriesKey) bool {
	return c.Len(key) > 0
}

// Len returns the number of candles stored under key.
func (c *Cache) Len(key candle.SeriesKey) int {
	e := c.entryFor(key, false)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sorted)
}

// Fresh reports whether the series under key can serve a request for
// limit candles without a refetch: it must hold at least limit candles
// and its newest candle must be younger than the expiry window.
func (c *Cache) Fresh(key candle.SeriesKey, limit int) bool {
	e := c.entryFor(key, false)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.sorted) == 0 || len(e.sorted) < limit {
		return false
	}
	newest := e.sorted[len(e.sorted)-1].Time
	return c.now().Unix()-newest < int64(c.expiry.Seconds())
}

// Purge drops all candles older than cutoff across every series and
// removes series that end up empty. Returns the number of dropped candles.
func (c *Cache) Purge(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit := cutoff.Unix()
	dropped := 0
	for key, e := range c.entries {
		e.mu.Lock()
		for ts := range e.byTime {
			if ts < limit {
				delete(e.byTime, ts)
				dropped++
			}
		}
		if len(e.byTime) == 0 {
			e.mu.Unlock()
			delete(c.entries, key)
			continue
		}
		e.rebuild()
		e.mu.Unlock()
	}

	if dropped > 0 {
		c.logger.Debug("purged old candles", logging.Int("dropped", dropped))
	}
	return dropped
}

// Keys returns every series key currently held.
func (c *Cache) Keys() []candle.SeriesKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]candle.SeriesKey, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// Package scheduler runs periodic background refreshes of cached series
// and garbage-collects old candles. Jobs are named, jittered so popular
// watchlist symbols never hit an exchange's REST endpoint in one
// synchronized burst, and isolated: a failing or panicking job is logged
// and never crashes the tick loop.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/veiloq/candlestream/pkg/cache"
	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/fetcher"
	"github.com/veiloq/candlestream/pkg/logging"
)

const (
	// DefaultTick is the fixed period of the scheduler loop
	DefaultTick = 60 * time.Second

	// DefaultMaxJitter staggers per-job effective intervals
	DefaultMaxJitter = 30 * time.Second

	// purgeProbability is the chance any job run also purges the cache
	purgeProbability = 0.1

	// purgeHorizon is how far back purged series are kept
	purgeHorizon = 24 * time.Hour
)

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	lastRun  time.Time
	running  bool
	fn       JobFunc
}

// Scheduler owns the named background jobs and the tick loop.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job

	tick      time.Duration
	maxJitter time.Duration
	cache     *cache.Cache
	logger    logging.Logger
	rng       *rand.Rand

	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Options configures a Scheduler.
type Options struct {
	// Tick overrides DefaultTick
	Tick time.Duration

	// MaxJitter overrides DefaultMaxJitter
	MaxJitter time.Duration

	Logger logging.Logger
}

// New creates a scheduler over the given cache.
func New(c *cache.Cache, opts *Options) *Scheduler {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.MaxJitter <= 0 {
		opts.MaxJitter = DefaultMaxJitter
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger()
	}

	return &Scheduler{
		jobs:      make(map[string]*job),
		tick:      opts.Tick,
		maxJitter: opts.MaxJitter,
		cache:     c,
		logger:    opts.Logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddJob registers or replaces a named job. The job first becomes due one
// interval after registration.
func (s *Scheduler) AddJob(name string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{
		name:     name,
		interval: interval,
		lastRun:  time.Now(),
		fn:       fn,
	}
}

// RemoveJob deletes a named job. A run already in flight finishes.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// WatchEntry is one symbol of the popular-symbols watchlist.
type WatchEntry struct {
	Exchange string
	Symbol   string
}

// SchedulePopularSymbols registers one refresh job per watchlist entry
// and interval. Each job's effective period is the refresh interval plus
// a random jitter so the matrix never fires in one synchronized burst
// against exchange REST endpoints.
func (s *Scheduler) SchedulePopularSymbols(f *fetcher.Service, watchlist []WatchEntry, intervals []candle.Interval, refreshEvery time.Duration) {
	for _, entry := range watchlist {
		for _, iv := range intervals {
			entry, iv := entry, iv
			name := fmt.Sprintf("refresh:%s:%s:%s", entry.Exchange, entry.Symbol, iv)
			s.mu.Lock()
			jitter := time.Duration(s.rng.Int63n(int64(s.maxJitter)))
			s.mu.Unlock()
			s.AddJob(name, refreshEvery+jitter, func(ctx context.Context) error {
				_, err := f.Fetch(ctx, fetcher.FetchOptions{
					Exchange:   entry.Exchange,
					Symbol:     entry.Symbol,
					Interval:   iv,
					Limit:      100,
					TryCache:   true,
					ForceFresh: true,
				})
				return err
			})
		}
	}
	s.logger.Info("popular symbol refresh scheduled",
		logging.Int("symbols", len(watchlist)),
		logging.Int("intervals", len(intervals)),
	)
}

// Start launches the tick loop. It is a no-op when already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
}

// Stop cancels the tick loop and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue launches every job whose interval has elapsed and that is not
// already running.
func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.running && now.Sub(j.lastRun) >= j.interval {
			j.running = true
			j.lastRun = now
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()
			s.runJob(ctx, j)
		}(j)
	}
}

// runJob executes one job, isolating errors and panics from the loop,
// and occasionally piggybacks a cache purge to bound memory growth.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panic recovered",
				logging.String("job", j.name),
				logging.String("panic", fmt.Sprintf("%v", r)),
			)
		}
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()

	if err := j.fn(ctx); err != nil {
		s.logger.Warn("scheduled job failed",
			logging.String("job", j.name),
			logging.Error(err),
		)
	}

	s.mu.Lock()
	purge := s.rng.Float64() < purgeProbability
	s.mu.Unlock()
	if purge && s.cache != nil {
		s.cache.Purge(time.Now().Add(-purgeHorizon))
	}
}

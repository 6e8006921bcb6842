// Package discovery polls for newly created pools, filters and scores them,
// and hands each fresh discovery to registered listeners exactly once.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/alanyoungcy/poolwatch/internal/marketdata"
	"github.com/alanyoungcy/poolwatch/internal/metrics"
)

// ErrAlreadyRunning is returned by Start and Run while the tracker is active.
var ErrAlreadyRunning = errors.New("discovery: tracker already running")

const defaultRecentLimit = 20

// Source provides the newest pools for a chain. *marketdata.Client
// satisfies it.
type Source interface {
	NewPools(ctx context.Context, chain string, limit int) []domain.Pool
}

// Config controls polling, filtering and retention.
type Config struct {
	Chains          []string
	PollInterval    time.Duration
	MinLiquidityUSD float64
	MaxAge          time.Duration
	FetchLimit      int
	Retention       time.Duration
	SweepInterval   time.Duration
}

// DefaultConfig returns the stock tracker settings for chains.
func DefaultConfig(chains []string) Config {
	return Config{
		Chains:          chains,
		PollInterval:    15 * time.Second,
		MinLiquidityUSD: 1000,
		MaxAge:          time.Hour,
		FetchLimit:      50,
		Retention:       24 * time.Hour,
		SweepInterval:   time.Hour,
	}
}

type listenerEntry struct {
	id       uint64
	listener domain.DiscoveryListener
}

// Tracker owns the seen-set and the listener registry.
type Tracker struct {
	source  Source
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.Metrics
	seen    *SeenSet

	lmu       sync.RWMutex
	listeners []listenerEntry
	nextID    uint64

	runMu   sync.Mutex
	running bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the clock used for discovery timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMetrics records ticks and seen-set size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a Tracker. Zero config fields fall back to
// DefaultConfig.
func NewTracker(source Source, cfg Config, logger *slog.Logger, opts ...Option) *Tracker {
	def := DefaultConfig(cfg.Chains)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = def.FetchLimit
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		source: source,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "discovery")),
		now:    time.Now,
		seen:   NewSeenSet(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Subscribe registers l. Listeners are called in registration order. The
// returned func removes the listener and is safe to call more than once.
func (t *Tracker) Subscribe(l domain.DiscoveryListener) (unregister func()) {
	t.lmu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, listenerEntry{id: id, listener: l})
	t.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.lmu.Lock()
			defer t.lmu.Unlock()
			for i, e := range t.listeners {
				if e.id == id {
					t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// PollOnce runs one poll over every configured chain and returns the number
// of discoveries emitted.
func (t *Tracker) PollOnce(ctx context.Context) int {
	emitted := 0
	for _, ch := range t.cfg.Chains {
		if ctx.Err() != nil {
			break
		}
		emitted += t.pollChain(ctx, ch)
	}
	t.metrics.SetSeenPools(t.seen.Len())
	return emitted
}

func (t *Tracker) pollChain(ctx context.Context, ch string) int {
	t.metrics.RecordTick(ch)
	pools := t.source.NewPools(ctx, ch, t.cfg.FetchLimit)
	maxAge := int64(t.cfg.MaxAge / time.Second)

	emitted := 0
	for _, pool := range pools {
		if pool.Chain == "" {
			pool.Chain = ch
		}
		if t.seen.Contains(pool.Key()) {
			continue
		}
		if pool.Liquidity < t.cfg.MinLiquidityUSD {
			continue
		}
		if pool.AgeSeconds != nil && *pool.AgeSeconds > maxAge {
			continue
		}

		pool.SnipeScore = marketdata.CalculateSnipeScore(pool)
		d := domain.Discovery{
			Pool:         pool,
			IsNew:        true,
			DiscoveredAt: t.now().UTC(),
		}
		if !t.seen.Admit(d) {
			continue
		}

		t.logger.Info("new pool discovered",
			slog.String("chain", d.Chain),
			slog.String("address", d.Address),
			slog.String("pair", d.BaseToken.Symbol+"/"+d.QuoteToken.Symbol),
			slog.Float64("liquidity", d.Liquidity),
			slog.Int("snipe_score", d.SnipeScore),
		)
		t.emit(ctx, d)
		emitted++
	}
	return emitted
}

// emit delivers d to each listener in turn. A failing or panicking listener
// is logged and does not stop delivery to the rest.
func (t *Tracker) emit(ctx context.Context, d domain.Discovery) {
	t.lmu.RLock()
	listeners := make([]listenerEntry, len(t.listeners))
	copy(listeners, t.listeners)
	t.lmu.RUnlock()

	for _, e := range listeners {
		t.notify(ctx, e, d)
	}
}

func (t *Tracker) notify(ctx context.Context, e listenerEntry, d domain.Discovery) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("discovery listener panicked",
				slog.Uint64("listener", e.id),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := e.listener.OnDiscovery(ctx, d); err != nil {
		t.logger.Warn("discovery listener failed",
			slog.Uint64("listener", e.id),
			slog.String("pool", d.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// Observe admits a discovery produced by another instance without emitting
// it, so recent lists match the producer and a later takeover does not
// announce the pool again. It reports whether the pool was new here.
func (t *Tracker) Observe(d domain.Discovery) bool {
	if !t.seen.Admit(d) {
		return false
	}
	t.metrics.SetSeenPools(t.seen.Len())
	return true
}

// Sweep drops entries older than the retention window and returns how many
// were removed.
func (t *Tracker) Sweep() int {
	removed := t.seen.Sweep(t.now().Add(-t.cfg.Retention))
	if removed > 0 {
		t.logger.Info("swept seen pools", slog.Int("removed", removed), slog.Int("remaining", t.seen.Len()))
	}
	t.metrics.SetSeenPools(t.seen.Len())
	return removed
}

// RecentDiscoveries returns up to limit discoveries, newest first, with the
// time since discovery filled in. An empty chain matches every chain.
func (t *Tracker) RecentDiscoveries(limit int, chain string) []domain.Discovery {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	all := t.seen.Snapshot(chain)
	if len(all) > limit {
		all = all[:limit]
	}
	now := t.now()
	for i := range all {
		since := int64(now.Sub(all[i].DiscoveredAt) / time.Second)
		all[i].TimeSinceDiscovery = &since
	}
	return all
}

// Stats summarises the seen-set.
func (t *Tracker) Stats() domain.DetectorStats {
	all := t.seen.Snapshot("")
	stats := domain.DetectorStats{
		TotalPoolsTracked: len(all),
		PoolsByChain:      make(map[string]int),
	}
	if len(all) == 0 {
		return stats
	}
	total := 0
	for _, d := range all {
		stats.PoolsByChain[d.Chain]++
		total += d.SnipeScore
	}
	stats.AverageSnipeScore = float64(total) / float64(len(all))
	return stats
}

// Start runs the tracker in the background: one immediate poll, then the
// poll and sweep tickers. stop cancels both loops and waits for them.
func (t *Tracker) Start(ctx context.Context) (stop func(), err error) {
	if !t.begin() {
		return nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer t.end()
		t.run(ctx)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// Run is the blocking form of Start; it returns when ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.begin() {
		return ErrAlreadyRunning
	}
	defer t.end()
	t.run(ctx)
	return nil
}

func (t *Tracker) run(ctx context.Context) {
	t.logger.Info("tracker started",
		slog.Any("chains", t.cfg.Chains),
		slog.Duration("poll_interval", t.cfg.PollInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.safePoll(gctx)
		ticker := time.NewTicker(t.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				t.safePoll(gctx)
			}
		}
	})
	g.Go(func() error { return t.RunSweeper(gctx) })
	_ = g.Wait()

	t.logger.Info("tracker stopped")
}

// RunSweeper runs only the retention sweep until ctx is cancelled. Instances
// that observe rather than poll use it to bound their seen-set.
func (t *Tracker) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// safePoll keeps a panicking tick from killing the poll loop.
func (t *Tracker) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.RecordTaskFailure("tracker")
			t.logger.Error("tracker tick panicked",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	start := time.Now()
	n := t.PollOnce(ctx)
	t.logger.Debug("tracker tick complete",
		slog.Int("discovered", n),
		slog.Int("tracked", t.seen.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)
}

func (t *Tracker) begin() bool {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	return true
}

func (t *Tracker) end() {
	t.runMu.Lock()
	t.running = false
	t.runMu.Unlock()
}

// MetricsListener counts each discovery by chain.
func MetricsListener(m *metrics.Metrics) domain.DiscoveryListener {
	return domain.DiscoveryListenerFunc(func(_ context.Context, d domain.Discovery) error {
		m.RecordDiscovery(d.Chain)
		return nil
	})
}

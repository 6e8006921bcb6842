// Package broadcast drives the WebSocket topics: it relays tracker
// discoveries and runs the trending, price and stats tickers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/alanyoungcy/poolwatch/internal/metrics"
	"github.com/alanyoungcy/poolwatch/internal/server/ws"
)

// Publisher sends one event to a set of topics. *ws.Hub and
// *ws.BusPublisher satisfy it.
type Publisher interface {
	Publish(topics []string, event string, data any) error
}

// MarketSource supplies the trending snapshots. *marketdata.Client
// satisfies it.
type MarketSource interface {
	TrendingPools(ctx context.Context, chain string, limit int) []domain.Pool
}

// Tracker is the discovery tracker the broadcaster drives.
// *discovery.Tracker satisfies it.
type Tracker interface {
	Subscribe(l domain.DiscoveryListener) (unregister func())
	Run(ctx context.Context) error
	Stats() domain.DetectorStats
}

// Config sets ticker intervals and snapshot sizes.
type Config struct {
	Chains             []string
	TrendingInterval   time.Duration
	PriceInterval      time.Duration
	StatsInterval      time.Duration
	TrendingLimit      int
	PricePoolsPerChain int
	ChainPoolsLimit    int
}

// DefaultConfig returns the stock intervals for chains.
func DefaultConfig(chains []string) Config {
	return Config{
		Chains:             chains,
		TrendingInterval:   30 * time.Second,
		PriceInterval:      10 * time.Second,
		StatsInterval:      60 * time.Second,
		TrendingLimit:      20,
		PricePoolsPerChain: 5,
		ChainPoolsLimit:    10,
	}
}

// PriceUpdate is the price:update payload.
type PriceUpdate struct {
	PairID    string  `json:"pairId"`
	Chain     string  `json:"chain"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
	Change1h  float64 `json:"change1h"`
	Volume24h float64 `json:"volume24h"`
	Liquidity float64 `json:"liquidity"`
	Timestamp int64   `json:"timestamp"`
}

// ChainUpdate is the chainUpdate payload.
type ChainUpdate struct {
	Chain     string        `json:"chain"`
	Pools     []domain.Pool `json:"pools"`
	Timestamp int64         `json:"timestamp"`
}

// Relay returns a listener that publishes each discovery to the global and
// per-chain new-pool topics.
func Relay(p Publisher) domain.DiscoveryListener {
	return domain.DiscoveryListenerFunc(func(_ context.Context, d domain.Discovery) error {
		return p.Publish(
			[]string{ws.NewPoolsTopic(""), ws.NewPoolsTopic(d.Chain)},
			ws.EventNewPool,
			d,
		)
	})
}

// Broadcaster owns the tracker lifecycle and the snapshot tickers.
type Broadcaster struct {
	pub     Publisher
	market  MarketSource
	tracker Tracker
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	started time.Time
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithClock overrides the clock used for timestamps and uptime.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// WithMetrics counts failed ticks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// New creates a Broadcaster. Zero config fields fall back to DefaultConfig.
func New(pub Publisher, market MarketSource, tracker Tracker, cfg Config, logger *slog.Logger, opts ...Option) *Broadcaster {
	def := DefaultConfig(cfg.Chains)
	if cfg.TrendingInterval <= 0 {
		cfg.TrendingInterval = def.TrendingInterval
	}
	if cfg.PriceInterval <= 0 {
		cfg.PriceInterval = def.PriceInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = def.TrendingLimit
	}
	if cfg.PricePoolsPerChain <= 0 {
		cfg.PricePoolsPerChain = def.PricePoolsPerChain
	}
	if cfg.ChainPoolsLimit <= 0 {
		cfg.ChainPoolsLimit = def.ChainPoolsLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Broadcaster{
		pub:     pub,
		market:  market,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "broadcast")),
		now:     time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	b.started = b.now()
	return b
}

// Run subscribes the relay, starts the tracker and runs every ticker until
// ctx is cancelled. It is RunDiscovery and RunTickers together, for a single
// instance producing everything.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.logger.Info("broadcaster started",
		slog.Duration("trending_interval", b.cfg.TrendingInterval),
		slog.Duration("price_interval", b.cfg.PriceInterval),
		slog.Duration("stats_interval", b.cfg.StatsInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.RunDiscovery(gctx) })
	g.Go(func() error { return b.RunTickers(gctx) })

	err := g.Wait()
	b.logger.Info("broadcaster stopped")
	return err
}

// RunDiscovery relays tracker discoveries to the new-pool topics while the
// tracker runs. It returns when ctx is cancelled.
func (b *Broadcaster) RunDiscovery(ctx context.Context) error {
	unregister := b.tracker.Subscribe(Relay(b.pub))
	defer unregister()

	if err := b.tracker.Run(ctx); err != nil {
		return fmt.Errorf("broadcast: tracker: %w", err)
	}
	return nil
}

// RunTickers runs the trending, price and stats tickers until ctx is
// cancelled.
func (b *Broadcaster) RunTickers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.every(gctx, "trending", b.cfg.TrendingInterval, b.PushTrending) })
	g.Go(func() error { return b.every(gctx, "prices", b.cfg.PriceInterval, b.PushPrices) })
	g.Go(func() error { return b.every(gctx, "stats", b.cfg.StatsInterval, b.PushStats) })
	return g.Wait()
}

// every runs task on each tick. Ticks never overlap; a failed or panicking
// tick is logged and counted and the ticker keeps going.
func (b *Broadcaster) every(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.runTask(ctx, name, task)
		}
	}
}

func (b *Broadcaster) runTask(ctx context.Context, name string, task func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordTaskFailure(name)
			b.logger.Error("broadcast task panicked",
				slog.String("task", name),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := task(ctx); err != nil {
		b.metrics.RecordTaskFailure(name)
		b.logger.Warn("broadcast task failed",
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
	}
}

// PushTrending publishes the cross-chain trending list.
func (b *Broadcaster) PushTrending(ctx context.Context) error {
	pools := b.market.TrendingPools(ctx, "", b.cfg.TrendingLimit)
	if err := b.pub.Publish([]string{ws.TopicTrending}, ws.EventTrendingUpdate, pools); err != nil {
		return fmt.Errorf("broadcast: trending: %w", err)
	}
	return nil
}

// PushPrices publishes price ticks for each chain's leading trending pools
// and a chainUpdate per chain.
func (b *Broadcaster) PushPrices(ctx context.Context) error {
	var errs []error
	for _, ch := range b.cfg.Chains {
		if ctx.Err() != nil {
			break
		}
		limit := max(b.cfg.ChainPoolsLimit, b.cfg.PricePoolsPerChain)
		pools := b.market.TrendingPools(ctx, ch, limit)
		ts := b.now().UnixMilli()

		for i, p := range pools {
			if i == b.cfg.PricePoolsPerChain {
				break
			}
			update := PriceUpdate{
				PairID:    p.Address,
				Chain:     ch,
				Price:     p.PriceUSD,
				Change24h: p.PriceChange.H24,
				Change1h:  p.PriceChange.H1,
				Volume24h: p.Volume.H24,
				Liquidity: p.Liquidity,
				Timestamp: ts,
			}
			if err := b.pub.Publish([]string{ws.PriceTopic(p.Address)}, ws.EventPriceUpdate, update); err != nil {
				errs = append(errs, fmt.Errorf("price %s: %w", p.Address, err))
			}
		}

		top := pools
		if len(top) > b.cfg.ChainPoolsLimit {
			top = top[:b.cfg.ChainPoolsLimit]
		}
		update := ChainUpdate{Chain: ch, Pools: top, Timestamp: ts}
		if err := b.pub.Publish([]string{ws.ChainTopic(ch)}, ws.EventChainUpdate, update); err != nil {
			errs = append(errs, fmt.Errorf("chain %s: %w", ch, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("broadcast: prices: %w", errors.Join(errs...))
	}
	return nil
}

// PushStats publishes the tracker summary with uptime to new-pool
// subscribers.
func (b *Broadcaster) PushStats(_ context.Context) error {
	stats := b.tracker.Stats()
	uptime := int64(b.now().Sub(b.started) / time.Second)
	stats.Uptime = &uptime
	if err := b.pub.Publish([]string{ws.NewPoolsTopic("")}, ws.EventDetectorStats, stats); err != nil {
		return fmt.Errorf("broadcast: stats: %w", err)
	}
	return nil
}

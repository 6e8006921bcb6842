package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

// EventNewPool is the event name used for discovery alerts.
const EventNewPool = "new_pool"

// DefaultAlertQueueSize bounds the alerts waiting for delivery.
const DefaultAlertQueueSize = 64

// ErrAlertQueueFull is returned by OnDiscovery when the queue is full and the
// alert was dropped.
var ErrAlertQueueFull = errors.New("notify: alert queue full")

// Alerter is a tracker listener that queues alerts for discoveries scoring
// at least minScore. Run delivers them, so webhook latency never reaches the
// tracker's call chain.
type Alerter struct {
	notifier *Notifier
	minScore int
	queue    chan domain.Discovery
	logger   *slog.Logger
}

// NewAlerter creates an Alerter. A non-positive size uses
// DefaultAlertQueueSize.
func NewAlerter(n *Notifier, minScore, size int, logger *slog.Logger) *Alerter {
	if size <= 0 {
		size = DefaultAlertQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		notifier: n,
		minScore: minScore,
		queue:    make(chan domain.Discovery, size),
		logger:   logger.With(slog.String("component", "alerter")),
	}
}

// OnDiscovery enqueues d without blocking.
func (a *Alerter) OnDiscovery(_ context.Context, d domain.Discovery) error {
	if d.SnipeScore < a.minScore {
		return nil
	}
	select {
	case a.queue <- d:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s", ErrAlertQueueFull, d.Key())
	}
}

// Run sends queued alerts one at a time until ctx is cancelled. Send
// failures are logged by the Notifier and do not stop the loop.
func (a *Alerter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-a.queue:
			if err := a.notifier.Notify(ctx, EventNewPool, discoveryTitle(d), discoveryMessage(d)); err != nil {
				a.logger.Warn("alert not delivered",
					slog.String("pool", d.Key()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func discoveryTitle(d domain.Discovery) string {
	return fmt.Sprintf("New pool %s/%s on %s (score %d)",
		d.BaseToken.Symbol, d.QuoteToken.Symbol, d.Chain, d.SnipeScore)
}

func discoveryMessage(d domain.Discovery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DEX: %s\n", d.DEX)
	fmt.Fprintf(&b, "Age: %s\n", d.AgeFormatted)
	fmt.Fprintf(&b, "Liquidity: $%.0f\n", d.Liquidity)
	fmt.Fprintf(&b, "Price: $%g\n", d.PriceUSD)
	fmt.Fprintf(&b, "24h txns: %d buys / %d sells\n", d.Txns24h.Buys, d.Txns24h.Sells)
	fmt.Fprintf(&b, "Pool: %s", d.Address)
	return b.String()
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

const (
	// DefaultLeaseTTL is how long a producer lease survives without renewal.
	DefaultLeaseTTL = 15 * time.Second

	// Lease keys for the singleton producers.
	DiscoveryLeaseKey = "producer:discovery"
	BroadcastLeaseKey = "producer:broadcast"
)

// Elector runs a task on exactly one instance at a time. The instance
// holding the lease runs the task; the rest retry until it is released or
// expires. A lost lease cancels the running task.
type Elector struct {
	leases domain.LeaseManager
	key    string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewElector creates an Elector for key. A non-positive ttl uses
// DefaultLeaseTTL. Renewal runs every ttl/3 and campaigning retries every
// ttl/3.
func NewElector(leases domain.LeaseManager, key string, ttl time.Duration, logger *slog.Logger) *Elector {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Elector{
		leases: leases,
		key:    key,
		ttl:    ttl,
		retry:  ttl / 3,
		logger: logger.With(slog.String("component", "elector"), slog.String("lease", key)),
	}
}

// Run campaigns for the lease until ctx is cancelled, running task whenever
// it is held. A task error other than cancellation is returned.
func (e *Elector) Run(ctx context.Context, task func(context.Context) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		lease, err := e.leases.Lease(ctx, e.key, e.ttl)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) && ctx.Err() == nil {
				e.logger.Warn("lease acquire failed", slog.String("error", err.Error()))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.retry):
			}
			continue
		}

		e.logger.Info("lease acquired, running as producer")
		err = e.lead(ctx, lease, task)
		lease.Release()
		if err != nil {
			return fmt.Errorf("pipeline: %s: %w", e.key, err)
		}
		if ctx.Err() == nil {
			e.logger.Warn("lease lost, standing by")
		}
	}
}

// lead runs task while renewing lease. The task context is cancelled when a
// renewal fails.
func (e *Elector) lead(ctx context.Context, lease domain.Lease, task func(context.Context) error) error {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		ticker := time.NewTicker(e.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				if err := lease.Renew(taskCtx); err != nil {
					if taskCtx.Err() == nil {
						e.logger.Warn("lease renewal failed", slog.String("error", err.Error()))
					}
					cancel()
					return
				}
			}
		}
	}()

	err := task(taskCtx)
	cancel()
	<-renewDone
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

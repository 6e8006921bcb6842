package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

type recordingArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (r *recordingArchiver) ArchiveDiscoveries(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, before)
	return 3, r.err
}

func (r *recordingArchiver) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cutoffs)
}

type fakeLocks struct {
	held     bool
	err      error
	released int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.held {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}
	return func() { f.released++ }, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRun_UsesRetentionCutoff(t *testing.T) {
	rec := &recordingArchiver{}
	locks := &fakeLocks{}
	a := NewArchiver(rec, locks, 30, quiet())
	a.now = func() time.Time { return time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, rec.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 9, 16, 3, 0, 0, 0, time.UTC), rec.cutoffs[0])
	assert.Equal(t, 1, locks.released)
}

func TestRun_SkipsWhenLockHeld(t *testing.T) {
	rec := &recordingArchiver{}
	a := NewArchiver(rec, &fakeLocks{held: true}, 30, quiet())

	require.NoError(t, a.Run(context.Background()))
	assert.Zero(t, rec.calls())
}

func TestRun_Errors(t *testing.T) {
	a := NewArchiver(&recordingArchiver{}, &fakeLocks{err: errors.New("redis down")}, 30, quiet())
	assert.Error(t, a.Run(context.Background()))

	locks := &fakeLocks{}
	a = NewArchiver(&recordingArchiver{err: errors.New("s3 down")}, locks, 30, quiet())
	assert.Error(t, a.Run(context.Background()))
	assert.Equal(t, 1, locks.released)
}

func TestRun_WithoutLocks(t *testing.T) {
	rec := &recordingArchiver{}
	require.NoError(t, NewArchiver(rec, nil, 7, quiet()).Run(context.Background()))
	assert.Equal(t, 1, rec.calls())
}

func TestRunCron(t *testing.T) {
	rec := &recordingArchiver{}
	a := NewArchiver(rec, nil, 30, quiet())

	assert.Error(t, a.RunCron(context.Background(), "not a cron"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "* * * * * *") }()

	require.Eventually(t, func() bool { return rec.calls() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not return after cancel")
	}
}

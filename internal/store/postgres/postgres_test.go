package postgres

import (
	"context"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/pw?sslmode=disable", DSN(ClientConfig{
		Host: "db", Database: "pw", User: "u", Password: "p",
	}))
	assert.Equal(t, "postgres://u:p@db:6543/pw?sslmode=require", DSN(ClientConfig{
		Host: "db", Port: 6543, Database: "pw", User: "u", Password: "p", SSLMode: "require",
	}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"001_discoveries.sql", "002_watchlist.sql"}, names)
}

// newTestClient connects to POOLWATCH_TEST_POSTGRES_DSN and applies the
// migrations, skipping when the variable is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("POOLWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POOLWATCH_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	_, err = c.Pool().Exec(ctx, `TRUNCATE discoveries, watchlist`)
	require.NoError(t, err)
	return c
}

func TestDiscoveryStore(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	store := NewDiscoveryStore(c.Pool())

	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i, addr := range []string{"0xa", "0xb", "0xc"} {
		d := domain.Discovery{
			Pool:         domain.Pool{Chain: "bsc", Address: addr, SnipeScore: 60 + i},
			IsNew:        true,
			DiscoveredAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, store.OnDiscovery(ctx, d))
	}
	// Duplicate pools are ignored.
	require.NoError(t, store.Record(ctx, domain.Discovery{Pool: domain.Pool{Chain: "bsc", Address: "0xa"}, DiscoveredAt: base}))

	all, err := store.List(ctx, "bsc", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "0xc", all[0].Address)
	assert.Equal(t, 62, all[0].SnipeScore)

	none, err := store.List(ctx, "solana", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, none)

	old, err := store.ListBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "0xa", old[0].Address)

	n, err := store.DeleteBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWatchlistStore(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	store := NewWatchlistStore(c.Pool())

	item, err := store.Add(ctx, domain.WatchlistItem{UserID: "alice", Chain: "bsc", Address: "0xa"})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.False(t, item.CreatedAt.IsZero())

	_, err = store.Add(ctx, domain.WatchlistItem{UserID: "alice", Chain: "bsc", Address: "0xa"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	items, err := store.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	assert.ErrorIs(t, store.Remove(ctx, "bob", item.ID), domain.ErrNotFound)
	require.NoError(t, store.Remove(ctx, "alice", item.ID))
	assert.ErrorIs(t, store.Remove(ctx, "alice", item.ID), domain.ErrNotFound)
}

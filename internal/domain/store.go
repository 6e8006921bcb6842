package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// WatchlistItem is a pool or token a user has pinned.
type WatchlistItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Chain     string    `json:"chain"`
	Address   string    `json:"address"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DiscoveryStore persists discovery history.
type DiscoveryStore interface {
	Record(ctx context.Context, d Discovery) error
	List(ctx context.Context, chain string, opts ListOpts) ([]Discovery, error)
	ListBefore(ctx context.Context, before time.Time) ([]Discovery, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// WatchlistStore persists per-user watchlists.
type WatchlistStore interface {
	Add(ctx context.Context, item WatchlistItem) (WatchlistItem, error)
	List(ctx context.Context, userID string) ([]WatchlistItem, error)
	Remove(ctx context.Context, userID, id string) error
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// WatchlistStore implements domain.WatchlistStore.
type WatchlistStore struct {
	pool *pgxpool.Pool
}

// NewWatchlistStore creates a WatchlistStore backed by the given pool.
func NewWatchlistStore(pool *pgxpool.Pool) *WatchlistStore {
	return &WatchlistStore{pool: pool}
}

// Add stores item under a fresh id. Pinning the same chain/address twice
// for one user fails with domain.ErrAlreadyExists.
func (s *WatchlistStore) Add(ctx context.Context, item domain.WatchlistItem) (domain.WatchlistItem, error) {
	const query = `
		INSERT INTO watchlist (id, user_id, chain, address, label)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	item.ID = uuid.NewString()
	err := s.pool.QueryRow(ctx, query,
		item.ID, item.UserID, item.Chain, item.Address, item.Label,
	).Scan(&item.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.WatchlistItem{}, fmt.Errorf("postgres: add watchlist %s/%s: %w", item.Chain, item.Address, domain.ErrAlreadyExists)
		}
		return domain.WatchlistItem{}, fmt.Errorf("postgres: add watchlist %s/%s: %w", item.Chain, item.Address, err)
	}
	return item, nil
}

// List returns a user's entries, newest first.
func (s *WatchlistStore) List(ctx context.Context, userID string) ([]domain.WatchlistItem, error) {
	const query = `
		SELECT id, user_id, chain, address, label, created_at
		FROM watchlist
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list watchlist: %w", err)
	}
	defer rows.Close()

	var items []domain.WatchlistItem
	for rows.Next() {
		var it domain.WatchlistItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.Chain, &it.Address, &it.Label, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan watchlist: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate watchlist: %w", err)
	}
	return items, nil
}

// Remove deletes one of the user's entries. Entries owned by someone else
// are reported as domain.ErrNotFound.
func (s *WatchlistStore) Remove(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watchlist WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: remove watchlist %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: remove watchlist %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

// DiscoveryStore implements domain.DiscoveryStore. The full pool snapshot is
// kept as JSONB next to the indexed columns used for filtering.
type DiscoveryStore struct {
	pool *pgxpool.Pool
}

// NewDiscoveryStore creates a DiscoveryStore backed by the given pool.
func NewDiscoveryStore(pool *pgxpool.Pool) *DiscoveryStore {
	return &DiscoveryStore{pool: pool}
}

// Record inserts a discovery. A pool already recorded for the chain is left
// untouched.
func (s *DiscoveryStore) Record(ctx context.Context, d domain.Discovery) error {
	const query = `
		INSERT INTO discoveries (chain, address, snipe_score, liquidity_usd, discovered_at, pool)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain, address) DO NOTHING`

	raw, err := json.Marshal(d.Pool)
	if err != nil {
		return fmt.Errorf("postgres: encode discovery %s/%s: %w", d.Chain, d.Address, err)
	}
	if _, err := s.pool.Exec(ctx, query,
		d.Chain, d.Address, d.SnipeScore, d.Liquidity, d.DiscoveredAt, raw,
	); err != nil {
		return fmt.Errorf("postgres: record discovery %s/%s: %w", d.Chain, d.Address, err)
	}
	return nil
}

// OnDiscovery lets the store subscribe to the tracker directly.
func (s *DiscoveryStore) OnDiscovery(ctx context.Context, d domain.Discovery) error {
	return s.Record(ctx, d)
}

// List returns discoveries newest first. An empty chain lists every chain.
func (s *DiscoveryStore) List(ctx context.Context, chain string, opts domain.ListOpts) ([]domain.Discovery, error) {
	query := `SELECT pool, discovered_at FROM discoveries WHERE ($1 = '' OR chain = $1)`
	args := []any{chain}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND discovered_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND discovered_at < $%d", len(args))
	}
	query += " ORDER BY discovered_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list discoveries: %w", err)
	}
	return scanDiscoveries(rows)
}

// ListBefore returns every discovery older than before, oldest first.
func (s *DiscoveryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Discovery, error) {
	const query = `
		SELECT pool, discovered_at FROM discoveries
		WHERE discovered_at < $1
		ORDER BY discovered_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list discoveries before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanDiscoveries(rows)
}

// DeleteBefore removes discoveries older than before and reports how many
// rows went.
func (s *DiscoveryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM discoveries WHERE discovered_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete discoveries before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanDiscoveries(rows pgx.Rows) ([]domain.Discovery, error) {
	defer rows.Close()

	var out []domain.Discovery
	for rows.Next() {
		var (
			raw []byte
			d   domain.Discovery
		)
		if err := rows.Scan(&raw, &d.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan discovery: %w", err)
		}
		if err := json.Unmarshal(raw, &d.Pool); err != nil {
			return nil, fmt.Errorf("postgres: decode discovery pool: %w", err)
		}
		d.IsNew = true
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate discoveries: %w", err)
	}
	return out, nil
}

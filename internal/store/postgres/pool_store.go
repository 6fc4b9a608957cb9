package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL. The pooled value
// lives in a single row seeded by the initial migration.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

var _ domain.PoolStore = (*PoolStore)(nil)

// Get returns the pooled balance. A missing row reads as zero.
func (s *PoolStore) Get(ctx context.Context) (uint64, error) {
	var balance uint64
	err := s.pool.QueryRow(ctx, "SELECT balance FROM pool WHERE id").Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get pool: %w", err)
	}
	return balance, nil
}

// Set overwrites the pooled balance.
func (s *PoolStore) Set(ctx context.Context, amount uint64) error {
	const query = `
		INSERT INTO pool (id, balance) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET
			balance    = EXCLUDED.balance,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, amount); err != nil {
		return fmt.Errorf("postgres: set pool: %w", err)
	}
	return nil
}

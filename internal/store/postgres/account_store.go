package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// AccountStore implements domain.Vault using PostgreSQL. An absent row is
// a zero balance; rows appear on first deposit.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

var _ domain.Vault = (*AccountStore)(nil)

// Balance returns the account's native-unit balance.
func (s *AccountStore) Balance(ctx context.Context, owner common.Address) (uint64, error) {
	var balance uint64
	err := s.pool.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE address = $1", owner.Hex()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", owner, err)
	}
	return balance, nil
}

// Withdraw debits the account. The balance guard lives in the WHERE clause
// so a concurrent withdrawal can never overdraw.
func (s *AccountStore) Withdraw(ctx context.Context, owner common.Address, amount uint64) error {
	const query = `
		UPDATE accounts SET balance = balance - $2, updated_at = NOW()
		WHERE address = $1 AND balance >= $2`

	tag, err := s.pool.Exec(ctx, query, owner.Hex(), amount)
	if err != nil {
		return fmt.Errorf("postgres: withdraw %s: %w", owner, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: withdraw %s: %w", owner, domain.ErrInsufficientFunds)
	}
	return nil
}

// Deposit credits the account, creating it on first use.
func (s *AccountStore) Deposit(ctx context.Context, owner common.Address, amount uint64) error {
	const query = `
		INSERT INTO accounts (address, balance) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET
			balance    = accounts.balance + EXCLUDED.balance,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, owner.Hex(), amount)
	if err != nil {
		return fmt.Errorf("postgres: deposit %s: %w", owner, err)
	}
	return nil
}

// Package testutil has in-memory stand-ins for the ledger's external
// dependencies: a hand-cranked clock and an account vault that lives in
// a map.
package testutil

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Clock is a manual clock. Now never moves unless a test advances it.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

// Now returns the current test time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// MemVault is an in-memory account vault. DepositErr, when set, makes
// every deposit fail with it; tests use that to exercise transfer
// rollback paths.
type MemVault struct {
	mu       sync.Mutex
	balances map[common.Address]uint64

	DepositErr error
}

var _ domain.Vault = (*MemVault)(nil)

// NewMemVault returns an empty vault.
func NewMemVault() *MemVault {
	return &MemVault{balances: make(map[common.Address]uint64)}
}

// Credit adds funds to an account outside any ledger flow.
func (v *MemVault) Credit(owner common.Address, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[owner] += amount
}

// Balance returns the current balance of owner.
func (v *MemVault) Balance(ctx context.Context, owner common.Address) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[owner], nil
}

// Withdraw removes amount from owner's balance.
func (v *MemVault) Withdraw(ctx context.Context, owner common.Address, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balances[owner] < amount {
		return fmt.Errorf("testutil: withdraw %s: %w", owner, domain.ErrInsufficientFunds)
	}
	v.balances[owner] -= amount
	return nil
}

// Deposit adds amount to owner's balance, or fails with DepositErr.
func (v *MemVault) Deposit(ctx context.Context, owner common.Address, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.DepositErr != nil {
		return v.DepositErr
	}
	if v.balances[owner] > math.MaxUint64-amount {
		return fmt.Errorf("testutil: deposit %s: %w", owner, domain.ErrArithmeticOverflow)
	}
	v.balances[owner] += amount
	return nil
}

// MustBalance returns owner's balance ignoring the error, for test
// assertions.
func (v *MemVault) MustBalance(owner common.Address) uint64 {
	b, _ := v.Balance(context.Background(), owner)
	return b
}

package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Vault holds participants' native-unit balances. The ledger engine moves
// value between vault accounts and the pooled balance through exactly this
// surface: a bet withdraws from the bettor, a payout or refund deposits
// back. Withdraw fails with ErrInsufficientFunds rather than overdrawing.
type Vault interface {
	Balance(ctx context.Context, owner common.Address) (uint64, error)
	Withdraw(ctx context.Context, owner common.Address, amount uint64) error
	Deposit(ctx context.Context, owner common.Address, amount uint64) error
}

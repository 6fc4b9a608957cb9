// Package engine is the encrypted-state market core: the registry and
// lifecycle state machine, the per-user encrypted bet ledger, the
// two-phase reveal protocol and settlement. Every mutation is serialized
// behind one mutex and completes fully before the next begins; waiting on
// the coprocessor between reveal phases happens outside the engine,
// as separate calls.
package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
)

// Params configures a ledger engine.
type Params struct {
	// Owner has full control: reassigning the oracle, sweeping residual
	// pooled value, plus everything the oracle may do.
	Owner common.Address
	// Oracle is the initial oracle authority for market administration.
	// Defaults to the owner.
	Oracle common.Address
	// StakeScale is the number of native units per encrypted credit.
	StakeScale uint64
	// Now supplies the clock; defaults to time.Now.
	Now func() time.Time
}

// Engine owns every market and bet record. It talks to the coprocessor
// for encrypted state and to the vault for value transfer; persistence
// and event fan-out belong to the caller.
type Engine struct {
	mu    sync.Mutex
	cop   fhe.Coprocessor
	vault domain.Vault
	now   func() time.Time

	owner      common.Address
	oracle     common.Address
	stakeScale uint64

	markets map[uint64]*domain.Market
	bets    map[uint64]map[common.Address]*domain.Bet
	nextID  uint64
	pool    uint64
}

// New creates an empty engine.
func New(cop fhe.Coprocessor, vault domain.Vault, p Params) (*Engine, error) {
	if cop == nil || vault == nil {
		return nil, fmt.Errorf("engine: coprocessor and vault are required")
	}
	if p.StakeScale == 0 {
		return nil, fmt.Errorf("engine: stake scale must be positive")
	}
	if (p.Owner == common.Address{}) {
		return nil, fmt.Errorf("engine: owner must be set")
	}

	oracle := p.Oracle
	if (oracle == common.Address{}) {
		oracle = p.Owner
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		cop:        cop,
		vault:      vault,
		now:        now,
		owner:      p.Owner,
		oracle:     oracle,
		stakeScale: p.StakeScale,
		markets:    make(map[uint64]*domain.Market),
		bets:       make(map[uint64]map[common.Address]*domain.Bet),
	}, nil
}

// Restore loads persisted state into an empty engine before it serves
// traffic. A nil oracle keeps the configured one.
func (e *Engine) Restore(markets []domain.Market, bets []domain.Bet, pool uint64, oracle *common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.markets) != 0 {
		return fmt.Errorf("engine: restore into a non-empty engine")
	}

	for i := range markets {
		m := markets[i]
		e.markets[m.ID] = &m
		if m.ID >= e.nextID {
			e.nextID = m.ID + 1
		}
	}
	for i := range bets {
		b := bets[i]
		if _, ok := e.markets[b.MarketID]; !ok {
			return fmt.Errorf("engine: restore: bet references unknown market %d", b.MarketID)
		}
		byBettor := e.bets[b.MarketID]
		if byBettor == nil {
			byBettor = make(map[common.Address]*domain.Bet)
			e.bets[b.MarketID] = byBettor
		}
		byBettor[b.Bettor] = &b
	}
	e.pool = pool
	if oracle != nil {
		e.oracle = *oracle
	}
	return nil
}

// isAuthority reports whether addr passes the oracle-gated checks. The
// owner implicitly does.
func (e *Engine) isAuthority(addr common.Address) bool {
	return addr == e.owner || addr == e.oracle
}

// market returns the live record for id. Callers hold the lock.
func (e *Engine) market(id uint64) (*domain.Market, error) {
	m, ok := e.markets[id]
	if !ok {
		return nil, fmt.Errorf("engine: market %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// credits validates an attached value and converts it to encrypted
// credits.
func (e *Engine) credits(attachedValue uint64) (uint64, error) {
	if attachedValue == 0 {
		return 0, domain.ErrZeroStake
	}
	if attachedValue%e.stakeScale != 0 {
		return 0, domain.ErrStakeNotAligned
	}
	c := attachedValue / e.stakeScale
	if c > math.MaxUint32 {
		return 0, domain.ErrStakeTooLarge
	}
	return c, nil
}

// toNative rescales credits to native units.
func (e *Engine) toNative(credits uint64) (uint64, error) {
	if credits != 0 && credits > math.MaxUint64/e.stakeScale {
		return 0, domain.ErrArithmeticOverflow
	}
	return credits * e.stakeScale, nil
}

// Pool returns the current pooled balance in native units.
func (e *Engine) Pool() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool
}

// Owner returns the owner address.
func (e *Engine) Owner() common.Address {
	return e.owner
}

// OracleAddress returns the current oracle authority.
func (e *Engine) OracleAddress() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.oracle
}

// StakeScale returns the native units per credit.
func (e *Engine) StakeScale() uint64 {
	return e.stakeScale
}

// MarketCount returns the number of markets the engine holds.
func (e *Engine) MarketCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.markets)
}

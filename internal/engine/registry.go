package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// CreateMarket registers a new market in the Open state. Both encrypted
// volume accumulators exist from the start so the first bet has
// something to add onto.
func (e *Engine) CreateMarket(ctx context.Context, caller common.Address, question string, endTime, resolutionTime time.Time) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isAuthority(caller) {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", domain.ErrNotAuthority)
	}
	now := e.now()
	if !endTime.After(now) || !resolutionTime.After(endTime) {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", domain.ErrInvalidScheduling)
	}

	totalYes, err := e.cop.Zero(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: total yes: %w", err)
	}
	totalNo, err := e.cop.Zero(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: total no: %w", err)
	}

	m := &domain.Market{
		ID:             e.nextID,
		Question:       question,
		Authority:      caller,
		Status:         domain.MarketStatusOpen,
		EndTime:        endTime.UTC(),
		ResolutionTime: resolutionTime.UTC(),
		TotalYes:       totalYes,
		TotalNo:        totalNo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.markets[m.ID] = m
	e.nextID++

	return *m, nil
}

// CloseMarket moves an open market to Closed. After the betting deadline
// anyone may close; the authority may close early.
func (e *Engine) CloseMarket(ctx context.Context, caller common.Address, id uint64) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: close market: %w", err)
	}
	if m.Status != domain.MarketStatusOpen {
		return domain.Market{}, fmt.Errorf("engine: close market %d: %w", id, domain.ErrMarketNotOpen)
	}
	now := e.now()
	if now.Before(m.EndTime) && !e.isAuthority(caller) {
		return domain.Market{}, fmt.Errorf("engine: close market %d: %w", id, domain.ErrTooEarly)
	}

	m.Status = domain.MarketStatusClosed
	m.ClosedAt = &now
	m.UpdatedAt = now
	return *m, nil
}

// SetOutcome records the encrypted winning side and moves a closed
// market to Resolved. The ciphertext must carry a valid input
// attestation for an encrypted boolean.
func (e *Engine) SetOutcome(ctx context.Context, caller common.Address, id uint64, ciphertext, proof []byte) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: set outcome: %w", err)
	}
	if !e.isAuthority(caller) {
		return domain.Market{}, fmt.Errorf("engine: set outcome %d: %w", id, domain.ErrNotAuthority)
	}
	if m.Status == domain.MarketStatusResolved {
		return domain.Market{}, fmt.Errorf("engine: set outcome %d: %w", id, domain.ErrAlreadyResolved)
	}
	if m.Status != domain.MarketStatusClosed {
		return domain.Market{}, fmt.Errorf("engine: set outcome %d: %w", id, domain.ErrMarketNotClosed)
	}
	now := e.now()
	if now.Before(m.ResolutionTime) {
		return domain.Market{}, fmt.Errorf("engine: set outcome %d: %w", id, domain.ErrResolutionTimeNotReached)
	}

	outcome, err := e.cop.ImportWithProof(ctx, fhe.KindBool, ciphertext, proof)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: set outcome %d: %w", id, err)
	}

	m.Outcome = outcome
	m.Status = domain.MarketStatusResolved
	m.ResolvedAt = &now
	m.UpdatedAt = now
	return *m, nil
}

// CancelMarket voids a market so stakes can be refunded. Resolution and
// any verified reveal make a market permanent.
func (e *Engine) CancelMarket(ctx context.Context, caller common.Address, id uint64) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: cancel market: %w", err)
	}
	if !e.isAuthority(caller) {
		return domain.Market{}, fmt.Errorf("engine: cancel market %d: %w", id, domain.ErrNotAuthority)
	}
	if m.Status.Terminal() || m.AnyRevealVerified() {
		return domain.Market{}, fmt.Errorf("engine: cancel market %d: %w", id, domain.ErrCannotCancelResolved)
	}

	now := e.now()
	m.Status = domain.MarketStatusCancelled
	m.CancelledAt = &now
	m.UpdatedAt = now
	return *m, nil
}

// SetOracle reassigns the oracle authority. Owner only. Returns the
// previous oracle.
func (e *Engine) SetOracle(ctx context.Context, caller, next common.Address) (common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return common.Address{}, fmt.Errorf("engine: set oracle: %w", domain.ErrNotOwner)
	}
	if (next == common.Address{}) {
		return common.Address{}, fmt.Errorf("engine: set oracle: zero address")
	}

	prev := e.oracle
	e.oracle = next
	return prev, nil
}

package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ClaimResult carries a settled claim for persistence and announcement.
type ClaimResult struct {
	Market       domain.Market
	Bet          domain.Bet
	PayoutNative uint64
	Pool         uint64
}

// ClaimProfit settles the caller's bet on a fully revealed market. The
// caller presents the plaintexts of their own bet handles, yes stake,
// no stake, side, with an oracle attestation covering them in that
// order. Winners receive their stake back plus a proportional share of
// the losing side, in credits:
//
//	payout = stake * (winTotal + loseTotal) / winTotal
//
// with truncating division, computed in 256-bit intermediates so the
// multiply cannot wrap. The bet is marked claimed and the pool reduced
// before the vault transfer; if the transfer fails both are restored.
func (e *Engine) ClaimProfit(ctx context.Context, caller common.Address, marketID uint64, claimedYes, claimedNo uint64, claimedSide bool, proof []byte) (ClaimResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("engine: claim profit: %w", err)
	}
	if m.Status != domain.MarketStatusResolved || !m.OutcomeDecrypted() || !m.VolumesDecrypted() {
		return ClaimResult{}, fmt.Errorf("engine: claim profit %d: %w", marketID, domain.ErrNotReadyForClaim)
	}
	b := e.bets[marketID][caller]
	if b != nil && b.Claimed {
		return ClaimResult{}, fmt.Errorf("engine: claim profit %d: %w", marketID, domain.ErrAlreadyClaimed)
	}
	if b == nil || !b.Initialized() {
		return ClaimResult{}, fmt.Errorf("engine: claim profit %d: %w", marketID, domain.ErrBetHandlesUninitialized)
	}

	sideVal := uint64(0)
	if claimedSide {
		sideVal = 1
	}
	handles := []fhe.Handle{b.AmountYes, b.AmountNo, b.Side}
	values := []uint64{claimedYes, claimedNo, sideVal}
	if err := e.cop.VerifyPlaintext(ctx, handles, values, proof); err != nil {
		return ClaimResult{}, fmt.Errorf("engine: claim profit %d: %w", marketID, err)
	}

	stake := claimedNo
	if claimedSide {
		stake = claimedYes
	}
	if stake == 0 {
		return ClaimResult{}, fmt.Errorf("engine: claim profit %d: %w", marketID, domain.ErrNoStake)
	}
	outcome := *m.RevealedOutcome
	if claimedSide != outcome {
		return ClaimResult{}, fmt.Errorf("engine: claim profit %d: %w", marketID, domain.ErrLostBet)
	}

	winTotal, loseTotal := *m.RevealedTotalNo, *m.RevealedTotalYes
	if outcome {
		winTotal, loseTotal = *m.RevealedTotalYes, *m.RevealedTotalNo
	}
	payoutCredits, err := proportionalPayout(stake, winTotal, loseTotal)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("engine: claim profit %d: %w", marketID, err)
	}
	payout, err := e.toNative(payoutCredits)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("engine: claim profit %d: %w", marketID, err)
	}
	if payout > e.pool {
		return ClaimResult{}, fmt.Errorf("engine: claim profit %d: %w", marketID, domain.ErrInsufficientPool)
	}

	prevUpdated := b.UpdatedAt
	now := e.now()
	b.Claimed = true
	b.UpdatedAt = now
	e.pool -= payout
	if payout > 0 {
		if err := e.vault.Deposit(ctx, caller, payout); err != nil {
			b.Claimed = false
			b.UpdatedAt = prevUpdated
			e.pool += payout
			return ClaimResult{}, fmt.Errorf("engine: claim profit %d: transfer: %w", marketID, err)
		}
	}

	return ClaimResult{Market: *m, Bet: *b, PayoutNative: payout, Pool: e.pool}, nil
}

// ClaimRefund returns the caller's full stake on a cancelled market.
// The caller presents both stake plaintexts with an oracle attestation
// over [amountYes, amountNo, side] like a profit claim; the refund is
// the sum of the two columns, one of which is always zero.
func (e *Engine) ClaimRefund(ctx context.Context, caller common.Address, marketID uint64, claimedYes, claimedNo uint64, claimedSide bool, proof []byte) (ClaimResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("engine: claim refund: %w", err)
	}
	if m.Status != domain.MarketStatusCancelled {
		return ClaimResult{}, fmt.Errorf("engine: claim refund %d: %w", marketID, domain.ErrMarketNotCancelled)
	}
	b := e.bets[marketID][caller]
	if b != nil && b.Claimed {
		return ClaimResult{}, fmt.Errorf("engine: claim refund %d: %w", marketID, domain.ErrAlreadyClaimed)
	}
	if b == nil || !b.Initialized() {
		return ClaimResult{}, fmt.Errorf("engine: claim refund %d: %w", marketID, domain.ErrBetHandlesUninitialized)
	}

	sideVal := uint64(0)
	if claimedSide {
		sideVal = 1
	}
	handles := []fhe.Handle{b.AmountYes, b.AmountNo, b.Side}
	values := []uint64{claimedYes, claimedNo, sideVal}
	if err := e.cop.VerifyPlaintext(ctx, handles, values, proof); err != nil {
		return ClaimResult{}, fmt.Errorf("engine: claim refund %d: %w", marketID, err)
	}

	refundCredits := claimedYes + claimedNo
	if refundCredits == 0 {
		return ClaimResult{}, fmt.Errorf("engine: claim refund %d: %w", marketID, domain.ErrNoStake)
	}
	refund, err := e.toNative(refundCredits)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("engine: claim refund %d: %w", marketID, err)
	}
	if refund > e.pool {
		return ClaimResult{}, fmt.Errorf("engine: claim refund %d: %w", marketID, domain.ErrInsufficientPool)
	}

	prevUpdated := b.UpdatedAt
	now := e.now()
	b.Claimed = true
	b.UpdatedAt = now
	e.pool -= refund
	if err := e.vault.Deposit(ctx, caller, refund); err != nil {
		b.Claimed = false
		b.UpdatedAt = prevUpdated
		e.pool += refund
		return ClaimResult{}, fmt.Errorf("engine: claim refund %d: transfer: %w", marketID, err)
	}

	return ClaimResult{Market: *m, Bet: *b, PayoutNative: refund, Pool: e.pool}, nil
}

// EmergencyWithdraw sweeps amount native units from the pool to the
// owner. Owner only. Returns the remaining pool.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller common.Address, amount uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return 0, fmt.Errorf("engine: emergency withdraw: %w", domain.ErrNotOwner)
	}
	if amount == 0 {
		return 0, fmt.Errorf("engine: emergency withdraw: zero amount")
	}
	if amount > e.pool {
		return 0, fmt.Errorf("engine: emergency withdraw: %w", domain.ErrInsufficientPool)
	}

	e.pool -= amount
	if err := e.vault.Deposit(ctx, e.owner, amount); err != nil {
		e.pool += amount
		return 0, fmt.Errorf("engine: emergency withdraw: transfer: %w", err)
	}
	return e.pool, nil
}

// proportionalPayout computes stake*(winTotal+loseTotal)/winTotal in
// credits with truncating division, using 256-bit intermediates. A zero
// winning total pays zero.
func proportionalPayout(stake, winTotal, loseTotal uint64) (uint64, error) {
	if winTotal == 0 {
		return 0, nil
	}
	total := new(uint256.Int).Add(uint256.NewInt(winTotal), uint256.NewInt(loseTotal))
	num := new(uint256.Int).Mul(uint256.NewInt(stake), total)
	q := new(uint256.Int).Div(num, uint256.NewInt(winTotal))
	if !q.IsUint64() {
		return 0, domain.ErrArithmeticOverflow
	}
	return q.Uint64(), nil
}

package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
)

// PlaceBetResult carries an accepted bet for persistence and
// announcement. Only handles leave the engine; plaintext stake and side
// never do.
type PlaceBetResult struct {
	Market   domain.Market
	Bet      domain.Bet
	FirstBet bool
	Pool     uint64
}

// PlaceBet stakes attachedValue native units on the encrypted side. The
// amount and side ciphertexts must carry valid input attestations. A
// repeat bet accumulates onto whichever side the bettor chose the first
// time; the fresh side input is imported but the stored one decides
// where the stake lands, so a bettor cannot split across sides.
//
// All fallible work, imports, arithmetic and the vault withdrawal, runs
// before any ledger state is touched. A failure anywhere leaves the
// market exactly as it was.
func (e *Engine) PlaceBet(ctx context.Context, caller common.Address, marketID uint64, encAmount, amountProof, encSide, sideProof []byte, attachedValue uint64) (PlaceBetResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet: %w", err)
	}
	if m.Status != domain.MarketStatusOpen {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, domain.ErrMarketNotOpen)
	}
	now := e.now()
	if !now.Before(m.EndTime) {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, domain.ErrBettingEnded)
	}
	if _, err := e.credits(attachedValue); err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}

	amount, err := e.cop.ImportWithProof(ctx, fhe.KindUint32, encAmount, amountProof)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: amount: %w", marketID, err)
	}
	side, err := e.cop.ImportWithProof(ctx, fhe.KindBool, encSide, sideProof)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: side: %w", marketID, err)
	}

	cur := e.bets[marketID][caller]
	first := cur == nil

	// The stored side pins repeat bets to their original column.
	effectiveSide := side
	if !first {
		effectiveSide = cur.Side
	}

	truth, err := e.cop.ConstBool(ctx, true)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}
	isYes, err := e.cop.Eq(ctx, effectiveSide, truth)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}
	isNo, err := e.cop.Ne(ctx, effectiveSide, truth)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}
	zero, err := e.cop.Zero(ctx)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}
	forYes, err := e.cop.Select(ctx, isYes, amount, zero)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}
	forNo, err := e.cop.Select(ctx, isNo, amount, zero)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}

	// Both per-user columns get a value on the very first bet, so a
	// later claim can always verify the pair.
	newYes, newNo := forYes, forNo
	if !first {
		newYes, err = e.cop.Add(ctx, cur.AmountYes, forYes)
		if err != nil {
			return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
		}
		newNo, err = e.cop.Add(ctx, cur.AmountNo, forNo)
		if err != nil {
			return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
		}
	}
	newTotalYes, err := e.cop.Add(ctx, m.TotalYes, forYes)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}
	newTotalNo, err := e.cop.Add(ctx, m.TotalNo, forNo)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}

	if e.pool > math.MaxUint64-attachedValue {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: pool: %w", marketID, domain.ErrArithmeticOverflow)
	}
	if err := e.vault.Withdraw(ctx, caller, attachedValue); err != nil {
		return PlaceBetResult{}, fmt.Errorf("engine: place bet %d: %w", marketID, err)
	}

	if first {
		cur = &domain.Bet{
			MarketID:  marketID,
			Bettor:    caller,
			AmountYes: newYes,
			AmountNo:  newNo,
			Side:      side,
			CreatedAt: now,
			UpdatedAt: now,
		}
		byBettor := e.bets[marketID]
		if byBettor == nil {
			byBettor = make(map[common.Address]*domain.Bet)
			e.bets[marketID] = byBettor
		}
		byBettor[caller] = cur
	} else {
		cur.AmountYes = newYes
		cur.AmountNo = newNo
		cur.UpdatedAt = now
	}
	m.TotalYes = newTotalYes
	m.TotalNo = newTotalNo
	m.UpdatedAt = now
	e.pool += attachedValue

	return PlaceBetResult{Market: *m, Bet: *cur, FirstBet: first, Pool: e.pool}, nil
}

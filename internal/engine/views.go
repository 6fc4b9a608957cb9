package engine

import (
	"fmt"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
)

// GetMarketInfo returns a snapshot of the market record.
func (e *Engine) GetMarketInfo(id uint64) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.Market{}, err
	}
	return *m, nil
}

// GetEncryptedOutcome returns the outcome handle. Zero until the market
// is resolved.
func (e *Engine) GetEncryptedOutcome(id uint64) (fhe.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return fhe.Handle{}, err
	}
	return m.Outcome, nil
}

// GetEncryptedVolumes returns both volume accumulator handles.
func (e *Engine) GetEncryptedVolumes(id uint64) (fhe.Handle, fhe.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	return m.TotalYes, m.TotalNo, nil
}

// GetEncryptedBets returns the caller's bet handles.
func (e *Engine) GetEncryptedBets(id uint64, bettor common.Address) (domain.EncryptedBets, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.market(id); err != nil {
		return domain.EncryptedBets{}, err
	}
	b := e.bets[id][bettor]
	if b == nil {
		return domain.EncryptedBets{}, fmt.Errorf("engine: encrypted bets %d: %w", id, domain.ErrNoBetPlaced)
	}
	return domain.EncryptedBets{
		AmountYes: b.AmountYes,
		AmountNo:  b.AmountNo,
		Side:      b.Side,
	}, nil
}

// GetUserBetInfo returns bet metadata for bettor; Placed is false when
// no bet exists.
func (e *Engine) GetUserBetInfo(id uint64, bettor common.Address) (domain.UserBetInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.market(id); err != nil {
		return domain.UserBetInfo{}, err
	}
	b := e.bets[id][bettor]
	if b == nil {
		return domain.UserBetInfo{MarketID: id, Bettor: bettor}, nil
	}
	placedAt := b.CreatedAt
	return domain.UserBetInfo{
		MarketID:        id,
		Bettor:          bettor,
		Placed:          true,
		Claimed:         b.Claimed,
		RevealRequested: b.RevealRequested,
		PlacedAt:        &placedAt,
	}, nil
}

// GetMarketStats returns public counters for a market. Nothing here
// depends on encrypted values.
func (e *Engine) GetMarketStats(id uint64) (domain.MarketStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.MarketStats{}, err
	}
	claims := 0
	for _, b := range e.bets[id] {
		if b.Claimed {
			claims++
		}
	}
	stats := domain.MarketStats{
		MarketID:        id,
		Status:          m.Status,
		BettorCount:     len(e.bets[id]),
		ClaimCount:      claims,
		BettingOpen:     m.Status == domain.MarketStatusOpen && e.now().Before(m.EndTime),
		OutcomeRevealed: m.OutcomeDecrypted(),
		VolumesRevealed: m.VolumesDecrypted(),
	}
	if m.RevealedOutcome != nil {
		v := *m.RevealedOutcome
		stats.RevealedOutcome = &v
	}
	if m.VolumesDecrypted() {
		yes, no := *m.RevealedTotalYes, *m.RevealedTotalNo
		stats.RevealedTotalYes = &yes
		stats.RevealedTotalNo = &no
	}
	return stats, nil
}

// CanClaimProfit reports whether bettor could claim right now, with a
// human-readable reason when they cannot. It never touches the oracle;
// the plaintext verification still happens at claim time.
func (e *Engine) CanClaimProfit(id uint64, bettor common.Address) (domain.ClaimStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.ClaimStatus{}, err
	}
	b := e.bets[id][bettor]
	switch {
	case m.Status != domain.MarketStatusResolved || !m.OutcomeDecrypted() || !m.VolumesDecrypted():
		return domain.ClaimStatus{Reason: "market not ready for claims"}, nil
	case b == nil:
		return domain.ClaimStatus{Reason: "no bet placed"}, nil
	case b.Claimed:
		return domain.ClaimStatus{Reason: "already claimed"}, nil
	default:
		return domain.ClaimStatus{Eligible: true}, nil
	}
}

// Markets returns snapshots of all markets, unordered.
func (e *Engine) Markets() []domain.Market {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Market, 0, len(e.markets))
	for _, m := range e.markets {
		out = append(out, *m)
	}
	return out
}

// BetsForMarket returns snapshots of all bets on a market, unordered.
func (e *Engine) BetsForMarket(id uint64) []domain.Bet {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Bet, 0, len(e.bets[id]))
	for _, b := range e.bets[id] {
		out = append(out, *b)
	}
	return out
}

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/engine"
)

// SettlementService handles claims against settled markets and the owner's
// residual-pool sweep.
type SettlementService struct {
	eng     *engine.Engine
	bets    domain.BetStore
	pool    domain.PoolStore
	audit   domain.AuditStore
	emitter domain.Emitter
	logger  *slog.Logger
}

// NewSettlementService creates a SettlementService with all required dependencies.
func NewSettlementService(
	eng *engine.Engine,
	bets domain.BetStore,
	pool domain.PoolStore,
	audit domain.AuditStore,
	emitter domain.Emitter,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		eng:     eng,
		bets:    bets,
		pool:    pool,
		audit:   audit,
		emitter: emitter,
		logger:  logger,
	}
}

// ClaimProfit settles the caller's winning bet on a fully revealed market.
func (s *SettlementService) ClaimProfit(ctx context.Context, caller common.Address, marketID uint64, claimedYes, claimedNo uint64, claimedSide bool, proof []byte) (engine.ClaimResult, error) {
	res, err := s.eng.ClaimProfit(ctx, caller, marketID, claimedYes, claimedNo, claimedSide, proof)
	if err != nil {
		return engine.ClaimResult{}, err
	}

	mirrorBet(ctx, s.bets, s.logger, res.Bet)
	mirrorPool(ctx, s.pool, s.logger, res.Pool)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventProfitClaimed), map[string]any{
		"market_id": marketID,
		"bettor":    caller.Hex(),
		"payout":    res.PayoutNative,
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventProfitClaimed,
		MarketID: marketID,
		Actor:    caller,
		At:       res.Bet.UpdatedAt,
		Detail:   map[string]any{"payout": res.PayoutNative},
	})

	s.logger.InfoContext(ctx, "settlement_service: profit claimed",
		slog.Uint64("market_id", marketID),
		slog.String("bettor", caller.Hex()),
		slog.Uint64("payout", res.PayoutNative),
	)
	return res, nil
}

// ClaimRefund returns the caller's full stake on a cancelled market.
func (s *SettlementService) ClaimRefund(ctx context.Context, caller common.Address, marketID uint64, claimedYes, claimedNo uint64, claimedSide bool, proof []byte) (engine.ClaimResult, error) {
	res, err := s.eng.ClaimRefund(ctx, caller, marketID, claimedYes, claimedNo, claimedSide, proof)
	if err != nil {
		return engine.ClaimResult{}, err
	}

	mirrorBet(ctx, s.bets, s.logger, res.Bet)
	mirrorPool(ctx, s.pool, s.logger, res.Pool)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventRefundClaimed), map[string]any{
		"market_id": marketID,
		"bettor":    caller.Hex(),
		"refund":    res.PayoutNative,
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventRefundClaimed,
		MarketID: marketID,
		Actor:    caller,
		At:       res.Bet.UpdatedAt,
		Detail:   map[string]any{"refund": res.PayoutNative},
	})

	s.logger.InfoContext(ctx, "settlement_service: refund claimed",
		slog.Uint64("market_id", marketID),
		slog.String("bettor", caller.Hex()),
		slog.Uint64("refund", res.PayoutNative),
	)
	return res, nil
}

// CanClaimProfit is the claim preflight: public preconditions only.
func (s *SettlementService) CanClaimProfit(ctx context.Context, marketID uint64, bettor common.Address) (domain.ClaimStatus, error) {
	return s.eng.CanClaimProfit(marketID, bettor)
}

// EmergencyWithdraw sweeps residual pooled value to the owner. Residue
// accrues from truncating payout division and forfeited zero-credit stakes.
func (s *SettlementService) EmergencyWithdraw(ctx context.Context, caller common.Address, amount uint64) (uint64, error) {
	remaining, err := s.eng.EmergencyWithdraw(ctx, caller, amount)
	if err != nil {
		return 0, err
	}

	mirrorPool(ctx, s.pool, s.logger, remaining)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventPoolSwept), map[string]any{
		"amount":    amount,
		"remaining": remaining,
		"to":        caller.Hex(),
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:  domain.EventPoolSwept,
		Actor: caller,
		At:    time.Now().UTC(),
		Detail: map[string]any{
			"amount":    amount,
			"remaining": remaining,
		},
	})

	s.logger.InfoContext(ctx, "settlement_service: pool swept",
		slog.Uint64("amount", amount),
		slog.Uint64("remaining", remaining),
	)
	return remaining, nil
}

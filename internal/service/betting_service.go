package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/engine"
)

// BettingService handles stake placement and vault accounts.
type BettingService struct {
	eng     *engine.Engine
	markets domain.MarketStore
	bets    domain.BetStore
	pool    domain.PoolStore
	vault   domain.Vault
	cache   domain.MarketCache
	audit   domain.AuditStore
	emitter domain.Emitter
	logger  *slog.Logger
}

// NewBettingService creates a BettingService with all required dependencies.
func NewBettingService(
	eng *engine.Engine,
	markets domain.MarketStore,
	bets domain.BetStore,
	pool domain.PoolStore,
	vault domain.Vault,
	cache domain.MarketCache,
	audit domain.AuditStore,
	emitter domain.Emitter,
	logger *slog.Logger,
) *BettingService {
	return &BettingService{
		eng:     eng,
		markets: markets,
		bets:    bets,
		pool:    pool,
		vault:   vault,
		cache:   cache,
		audit:   audit,
		emitter: emitter,
		logger:  logger,
	}
}

// PlaceBet stakes attached value on an encrypted side of an open market.
// The attached value is debited from the caller's vault account; the
// amount and side stay ciphertext end to end.
func (s *BettingService) PlaceBet(ctx context.Context, caller common.Address, marketID uint64, encAmount, amountProof, encSide, sideProof []byte, attachedValue uint64) (engine.PlaceBetResult, error) {
	res, err := s.eng.PlaceBet(ctx, caller, marketID, encAmount, amountProof, encSide, sideProof, attachedValue)
	if err != nil {
		return engine.PlaceBetResult{}, err
	}

	mirrorMarketUpdate(ctx, s.markets, s.cache, s.logger, res.Market)
	mirrorBet(ctx, s.bets, s.logger, res.Bet)
	mirrorPool(ctx, s.pool, s.logger, res.Pool)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventBetPlaced), map[string]any{
		"market_id":      marketID,
		"bettor":         caller.Hex(),
		"attached_value": attachedValue,
		"first_bet":      res.FirstBet,
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventBetPlaced,
		MarketID: marketID,
		Actor:    caller,
		At:       res.Bet.UpdatedAt,
		Detail:   map[string]any{"first_bet": res.FirstBet},
	})

	s.logger.InfoContext(ctx, "betting_service: bet placed",
		slog.Uint64("market_id", marketID),
		slog.String("bettor", caller.Hex()),
		slog.Bool("first_bet", res.FirstBet),
	)
	return res, nil
}

// GetUserBetInfo returns the plaintext-free view of a position.
func (s *BettingService) GetUserBetInfo(ctx context.Context, marketID uint64, bettor common.Address) (domain.UserBetInfo, error) {
	return s.eng.GetUserBetInfo(marketID, bettor)
}

// GetEncryptedBets returns the three ciphertext handles of a position.
func (s *BettingService) GetEncryptedBets(ctx context.Context, marketID uint64, bettor common.Address) (domain.EncryptedBets, error) {
	return s.eng.GetEncryptedBets(marketID, bettor)
}

// Balance returns an account's native-unit vault balance.
func (s *BettingService) Balance(ctx context.Context, owner common.Address) (uint64, error) {
	balance, err := s.vault.Balance(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("betting_service: balance: %w", err)
	}
	return balance, nil
}

// CreditAccount funds a vault account. Owner only; deployments with a real
// payment rail disable the endpoint that reaches this.
func (s *BettingService) CreditAccount(ctx context.Context, caller, to common.Address, amount uint64) error {
	if caller != s.eng.Owner() {
		return fmt.Errorf("betting_service: credit account: %w", domain.ErrNotOwner)
	}
	if amount == 0 {
		return fmt.Errorf("betting_service: credit account: zero amount")
	}

	if err := s.vault.Deposit(ctx, to, amount); err != nil {
		return fmt.Errorf("betting_service: credit account: %w", err)
	}
	auditEvent(ctx, s.audit, s.logger, "account_credited", map[string]any{
		"account": to.Hex(),
		"amount":  amount,
	})

	s.logger.InfoContext(ctx, "betting_service: account credited",
		slog.String("account", to.Hex()),
		slog.Uint64("amount", amount),
	)
	return nil
}

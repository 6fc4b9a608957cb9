package service

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/engine"
)

// RevealService drives the two-phase reveal protocol: phase one marks
// handles publicly revealable, phase two verifies the oracle's plaintext
// attestation and records the result.
type RevealService struct {
	eng     *engine.Engine
	markets domain.MarketStore
	bets    domain.BetStore
	cache   domain.MarketCache
	audit   domain.AuditStore
	emitter domain.Emitter
	logger  *slog.Logger
}

// NewRevealService creates a RevealService with all required dependencies.
func NewRevealService(
	eng *engine.Engine,
	markets domain.MarketStore,
	bets domain.BetStore,
	cache domain.MarketCache,
	audit domain.AuditStore,
	emitter domain.Emitter,
	logger *slog.Logger,
) *RevealService {
	return &RevealService{
		eng:     eng,
		markets: markets,
		bets:    bets,
		cache:   cache,
		audit:   audit,
		emitter: emitter,
		logger:  logger,
	}
}

// RequestOutcomeDecryption marks a resolved market's outcome revealable.
func (s *RevealService) RequestOutcomeDecryption(ctx context.Context, caller common.Address, id uint64) (domain.Market, error) {
	m, err := s.eng.RequestOutcomeDecryption(ctx, caller, id)
	if err != nil {
		return domain.Market{}, err
	}

	mirrorMarketUpdate(ctx, s.markets, s.cache, s.logger, m)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventDecryptionRequested), map[string]any{
		"market_id":      m.ID,
		"outcome_handle": m.Outcome.String(),
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventDecryptionRequested,
		MarketID: m.ID,
		Actor:    caller,
		At:       m.UpdatedAt,
		Detail:   map[string]any{"outcome_handle": m.Outcome.String()},
	})

	s.logger.InfoContext(ctx, "reveal_service: outcome decryption requested",
		slog.Uint64("market_id", m.ID),
	)
	return m, nil
}

// VerifyOutcome records the attested outcome plaintext. Write-once.
func (s *RevealService) VerifyOutcome(ctx context.Context, caller common.Address, id uint64, outcome bool, proof []byte) (domain.Market, error) {
	m, err := s.eng.VerifyAndSetDecryptedOutcome(ctx, caller, id, outcome, proof)
	if err != nil {
		return domain.Market{}, err
	}

	mirrorMarketUpdate(ctx, s.markets, s.cache, s.logger, m)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventOutcomeDecrypted), map[string]any{
		"market_id": m.ID,
		"outcome":   outcome,
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventOutcomeDecrypted,
		MarketID: m.ID,
		Actor:    caller,
		At:       m.UpdatedAt,
		Detail:   map[string]any{"outcome": outcome},
	})

	s.logger.InfoContext(ctx, "reveal_service: outcome decrypted",
		slog.Uint64("market_id", m.ID),
		slog.Bool("outcome", outcome),
	)
	return m, nil
}

// RequestVolumeDecryption marks both volume accumulators revealable.
func (s *RevealService) RequestVolumeDecryption(ctx context.Context, caller common.Address, id uint64) (domain.Market, error) {
	m, err := s.eng.RequestVolumeDecryption(ctx, caller, id)
	if err != nil {
		return domain.Market{}, err
	}

	mirrorMarketUpdate(ctx, s.markets, s.cache, s.logger, m)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventVolumeDecryptionRequested), map[string]any{
		"market_id":        m.ID,
		"total_yes_handle": m.TotalYes.String(),
		"total_no_handle":  m.TotalNo.String(),
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventVolumeDecryptionRequested,
		MarketID: m.ID,
		Actor:    caller,
		At:       m.UpdatedAt,
		Detail: map[string]any{
			"total_yes_handle": m.TotalYes.String(),
			"total_no_handle":  m.TotalNo.String(),
		},
	})

	s.logger.InfoContext(ctx, "reveal_service: volume decryption requested",
		slog.Uint64("market_id", m.ID),
	)
	return m, nil
}

// VerifyVolumes records the attested volume plaintexts, yes first. Write-once.
func (s *RevealService) VerifyVolumes(ctx context.Context, caller common.Address, id uint64, totalYes, totalNo uint64, proof []byte) (domain.Market, error) {
	m, err := s.eng.VerifyAndSetDecryptedVolumes(ctx, caller, id, totalYes, totalNo, proof)
	if err != nil {
		return domain.Market{}, err
	}

	mirrorMarketUpdate(ctx, s.markets, s.cache, s.logger, m)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventVolumesDecrypted), map[string]any{
		"market_id": m.ID,
		"total_yes": totalYes,
		"total_no":  totalNo,
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventVolumesDecrypted,
		MarketID: m.ID,
		Actor:    caller,
		At:       m.UpdatedAt,
		Detail: map[string]any{
			"total_yes": totalYes,
			"total_no":  totalNo,
		},
	})

	s.logger.InfoContext(ctx, "reveal_service: volumes decrypted",
		slog.Uint64("market_id", m.ID),
		slog.Uint64("total_yes", totalYes),
		slog.Uint64("total_no", totalNo),
	)
	return m, nil
}

// MakeUserBetsDecryptable marks the caller's own bet handles revealable so
// they can obtain the plaintexts a claim requires.
func (s *RevealService) MakeUserBetsDecryptable(ctx context.Context, caller common.Address, marketID uint64) (domain.Bet, error) {
	b, err := s.eng.MakeUserBetsDecryptable(ctx, caller, marketID)
	if err != nil {
		return domain.Bet{}, err
	}

	mirrorBet(ctx, s.bets, s.logger, b)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventBetsRevealRequested), map[string]any{
		"market_id": marketID,
		"bettor":    caller.Hex(),
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventBetsRevealRequested,
		MarketID: marketID,
		Actor:    caller,
		At:       b.UpdatedAt,
	})

	s.logger.InfoContext(ctx, "reveal_service: user bets marked decryptable",
		slog.Uint64("market_id", marketID),
		slog.String("bettor", caller.Hex()),
	)
	return b, nil
}

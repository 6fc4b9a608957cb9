package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/engine"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

// MarketService handles the market registry: lifecycle transitions, oracle
// reassignment and the public read surface.
type MarketService struct {
	eng      *engine.Engine
	markets  domain.MarketStore
	settings domain.SettingsStore
	cache    domain.MarketCache
	audit    domain.AuditStore
	emitter  domain.Emitter
	logger   *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	eng *engine.Engine,
	markets domain.MarketStore,
	settings domain.SettingsStore,
	cache domain.MarketCache,
	audit domain.AuditStore,
	emitter domain.Emitter,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		eng:      eng,
		markets:  markets,
		settings: settings,
		cache:    cache,
		audit:    audit,
		emitter:  emitter,
		logger:   logger,
	}
}

// CreateMarket opens a new market. Authority-gated in the engine.
func (s *MarketService) CreateMarket(ctx context.Context, caller common.Address, question string, endTime, resolutionTime time.Time) (domain.Market, error) {
	m, err := s.eng.CreateMarket(ctx, caller, question, endTime, resolutionTime)
	if err != nil {
		return domain.Market{}, err
	}

	mirrorMarketCreate(ctx, s.markets, s.cache, s.logger, m)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventMarketCreated), map[string]any{
		"market_id":       m.ID,
		"question":        m.Question,
		"authority":       m.Authority.Hex(),
		"end_time":        m.EndTime,
		"resolution_time": m.ResolutionTime,
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventMarketCreated,
		MarketID: m.ID,
		Actor:    caller,
		At:       m.CreatedAt,
		Detail: map[string]any{
			"question":        m.Question,
			"end_time":        m.EndTime,
			"resolution_time": m.ResolutionTime,
		},
	})

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.Uint64("market_id", m.ID),
		slog.String("authority", m.Authority.Hex()),
		slog.Time("end_time", m.EndTime),
	)
	return m, nil
}

// CloseMarket ends the betting phase. Before the end time only the
// authority may close; after it, anyone.
func (s *MarketService) CloseMarket(ctx context.Context, caller common.Address, id uint64) (domain.Market, error) {
	m, err := s.eng.CloseMarket(ctx, caller, id)
	if err != nil {
		return domain.Market{}, err
	}

	mirrorMarketUpdate(ctx, s.markets, s.cache, s.logger, m)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventMarketClosed), map[string]any{
		"market_id": m.ID,
		"closed_by": caller.Hex(),
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventMarketClosed,
		MarketID: m.ID,
		Actor:    caller,
		At:       m.UpdatedAt,
	})

	s.logger.InfoContext(ctx, "market_service: market closed",
		slog.Uint64("market_id", m.ID),
		slog.String("closed_by", caller.Hex()),
	)
	return m, nil
}

// SetOutcome resolves a closed market with an externally encrypted winning
// side. The plaintext outcome stays hidden until the reveal completes.
func (s *MarketService) SetOutcome(ctx context.Context, caller common.Address, id uint64, ciphertext, proof []byte) (domain.Market, error) {
	m, err := s.eng.SetOutcome(ctx, caller, id, ciphertext, proof)
	if err != nil {
		return domain.Market{}, err
	}

	mirrorMarketUpdate(ctx, s.markets, s.cache, s.logger, m)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventMarketResolved), map[string]any{
		"market_id":      m.ID,
		"resolved_by":    caller.Hex(),
		"outcome_handle": m.Outcome.String(),
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: m.ID,
		Actor:    caller,
		At:       m.UpdatedAt,
		Detail:   map[string]any{"outcome_handle": m.Outcome.String()},
	})

	s.logger.InfoContext(ctx, "market_service: market resolved",
		slog.Uint64("market_id", m.ID),
		slog.String("outcome_handle", m.Outcome.String()),
	)
	return m, nil
}

// CancelMarket voids a market so stakes become refundable. Barred once any
// reveal has been verified.
func (s *MarketService) CancelMarket(ctx context.Context, caller common.Address, id uint64) (domain.Market, error) {
	m, err := s.eng.CancelMarket(ctx, caller, id)
	if err != nil {
		return domain.Market{}, err
	}

	mirrorMarketUpdate(ctx, s.markets, s.cache, s.logger, m)
	auditEvent(ctx, s.audit, s.logger, string(domain.EventMarketCancelled), map[string]any{
		"market_id":    m.ID,
		"cancelled_by": caller.Hex(),
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:     domain.EventMarketCancelled,
		MarketID: m.ID,
		Actor:    caller,
		At:       m.UpdatedAt,
	})

	s.logger.InfoContext(ctx, "market_service: market cancelled",
		slog.Uint64("market_id", m.ID),
		slog.String("cancelled_by", caller.Hex()),
	)
	return m, nil
}

// SetOracle hands the oracle role to a new address. Owner only. The new
// address is persisted so it survives restarts.
func (s *MarketService) SetOracle(ctx context.Context, caller, next common.Address) (common.Address, error) {
	prev, err := s.eng.SetOracle(ctx, caller, next)
	if err != nil {
		return common.Address{}, err
	}

	if err := s.settings.Set(ctx, SettingOracle, next.Hex()); err != nil {
		// The in-memory role has changed either way; losing the setting
		// means a restart falls back to the configured oracle.
		s.logger.ErrorContext(ctx, "market_service: persist oracle failed",
			slog.String("oracle", next.Hex()),
			slog.String("error", err.Error()),
		)
	}
	auditEvent(ctx, s.audit, s.logger, string(domain.EventOracleChanged), map[string]any{
		"previous": prev.Hex(),
		"next":     next.Hex(),
	})
	s.emitter.Emit(ctx, domain.Event{
		Type:  domain.EventOracleChanged,
		Actor: caller,
		At:    time.Now().UTC(),
		Detail: map[string]any{
			"previous": prev.Hex(),
			"next":     next.Hex(),
		},
	})

	s.logger.InfoContext(ctx, "market_service: oracle changed",
		slog.String("previous", prev.Hex()),
		slog.String("next", next.Hex()),
	)
	return prev, nil
}

// GetMarket retrieves a market's public record, checking the cache first
// and falling back to the ledger on a miss. Hot polling stays off the
// engine mutex this way.
func (s *MarketService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := s.cache.Get(ctx, id)
	if err == nil {
		return m, nil
	}

	m, err = s.eng.GetMarketInfo(id)
	if err != nil {
		return domain.Market{}, err
	}

	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.Uint64("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}

// ListMarkets returns markets from the persistent store, newest first.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// ListMarketsByStatus returns markets in one lifecycle state, newest first.
func (s *MarketService) ListMarketsByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list by status: %w", err)
	}
	return markets, nil
}

// GetMarketStats returns the live public summary of a market.
func (s *MarketService) GetMarketStats(ctx context.Context, id uint64) (domain.MarketStats, error) {
	return s.eng.GetMarketStats(id)
}

// GetEncryptedOutcome returns the outcome handle, zero until resolution.
func (s *MarketService) GetEncryptedOutcome(ctx context.Context, id uint64) (fhe.Handle, error) {
	return s.eng.GetEncryptedOutcome(id)
}

// GetEncryptedVolumes returns the yes and no volume accumulator handles.
func (s *MarketService) GetEncryptedVolumes(ctx context.Context, id uint64) (fhe.Handle, fhe.Handle, error) {
	return s.eng.GetEncryptedVolumes(id)
}

// Count returns the total number of markets.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

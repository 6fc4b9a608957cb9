package service

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// The engine commits before anything is mirrored, so a store or cache
// failure here is an operational fault, not a failed call. Mirrors are
// rewritten by the next successful mutation of the same row; failing the
// caller would invite retries of operations that already took effect.

func mirrorMarketCreate(ctx context.Context, store domain.MarketStore, cache domain.MarketCache, logger *slog.Logger, m domain.Market) {
	if err := store.Create(ctx, m); err != nil {
		logger.ErrorContext(ctx, "service: persist market create failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	invalidateMarket(ctx, cache, logger, m.ID)
}

func mirrorMarketUpdate(ctx context.Context, store domain.MarketStore, cache domain.MarketCache, logger *slog.Logger, m domain.Market) {
	if err := store.Update(ctx, m); err != nil {
		logger.ErrorContext(ctx, "service: persist market update failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	invalidateMarket(ctx, cache, logger, m.ID)
}

func mirrorBet(ctx context.Context, store domain.BetStore, logger *slog.Logger, b domain.Bet) {
	if err := store.Upsert(ctx, b); err != nil {
		logger.ErrorContext(ctx, "service: persist bet failed",
			slog.Uint64("market_id", b.MarketID),
			slog.String("bettor", b.Bettor.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func mirrorPool(ctx context.Context, store domain.PoolStore, logger *slog.Logger, amount uint64) {
	if err := store.Set(ctx, amount); err != nil {
		logger.ErrorContext(ctx, "service: persist pool failed",
			slog.Uint64("pool", amount),
			slog.String("error", err.Error()),
		)
	}
}

func invalidateMarket(ctx context.Context, cache domain.MarketCache, logger *slog.Logger, id uint64) {
	if err := cache.Invalidate(ctx, id); err != nil {
		logger.WarnContext(ctx, "service: cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// auditEvent writes an audit row, logging instead of failing the mutation.
func auditEvent(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if err := audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

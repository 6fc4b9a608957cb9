package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/engine"
)

// SettingOracle is the settings key holding the current oracle address.
const SettingOracle = "oracle_address"

// Rehydrate loads the durable ledger image, markets, bets, pool and the
// persisted oracle role, into an empty engine. It runs once at startup,
// before any traffic is served; a restart is invisible to clients.
func Rehydrate(
	ctx context.Context,
	eng *engine.Engine,
	markets domain.MarketStore,
	bets domain.BetStore,
	pool domain.PoolStore,
	settings domain.SettingsStore,
	logger *slog.Logger,
) error {
	ms, err := markets.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("service: rehydrate markets: %w", err)
	}
	bs, err := bets.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("service: rehydrate bets: %w", err)
	}
	pooled, err := pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("service: rehydrate pool: %w", err)
	}

	var oracle *common.Address
	switch v, err := settings.Get(ctx, SettingOracle); {
	case err == nil:
		if !common.IsHexAddress(v) {
			return fmt.Errorf("service: rehydrate: persisted oracle %q is not an address", v)
		}
		a := common.HexToAddress(v)
		oracle = &a
	case errors.Is(err, domain.ErrNotFound):
		// Never reassigned; the engine keeps its configured oracle.
	default:
		return fmt.Errorf("service: rehydrate oracle: %w", err)
	}

	if err := eng.Restore(ms, bs, pooled, oracle); err != nil {
		return fmt.Errorf("service: rehydrate: %w", err)
	}

	logger.InfoContext(ctx, "service: ledger rehydrated",
		slog.Int("markets", len(ms)),
		slog.Int("bets", len(bs)),
		slog.Uint64("pool", pooled),
	)
	return nil
}

// Package service orchestrates ledger mutations: every inbound call runs
// against the engine, then the committed result is persisted, audited and
// announced on the signal bus. The engine is the source of truth while the
// process runs; stores mirror it for restarts and offline consumers.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// EventStream is the durable stream every committed ledger event lands on.
const EventStream = "events"

// EventChannel returns the pub/sub channel for one event type. Live
// subscribers match all of them with the "events:*" pattern.
func EventChannel(t domain.EventType) string {
	return "events:" + string(t)
}

// BusEmitter publishes ledger events to the signal bus, fanning each one
// out over pub/sub and appending it to the durable stream. Emit never
// fails the mutation that produced the event; delivery problems are
// logged and dropped.
type BusEmitter struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewBusEmitter creates a BusEmitter publishing through the given bus.
func NewBusEmitter(bus domain.SignalBus, logger *slog.Logger) *BusEmitter {
	return &BusEmitter{bus: bus, logger: logger}
}

// Emit serializes the event and sends it to both delivery paths.
func (e *BusEmitter) Emit(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.ErrorContext(ctx, "emitter: marshal event",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := e.bus.Publish(ctx, EventChannel(ev.Type), payload); err != nil {
		e.logger.WarnContext(ctx, "emitter: publish failed",
			slog.String("type", string(ev.Type)),
			slog.Uint64("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		e.logger.WarnContext(ctx, "emitter: stream append failed",
			slog.String("type", string(ev.Type)),
			slog.Uint64("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

var _ domain.Emitter = (*BusEmitter)(nil)

// MultiEmitter fans one event out to several emitters in order.
type MultiEmitter []domain.Emitter

// Emit delivers the event to every constituent emitter.
func (m MultiEmitter) Emit(ctx context.Context, ev domain.Event) {
	for _, e := range m {
		e.Emit(ctx, ev)
	}
}

var _ domain.Emitter = (MultiEmitter)(nil)

package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names an observable ledger state change.
type EventType string

const (
	EventMarketCreated             EventType = "market_created"
	EventBetPlaced                 EventType = "bet_placed"
	EventMarketClosed              EventType = "market_closed"
	EventMarketResolved            EventType = "market_resolved"
	EventMarketCancelled           EventType = "market_cancelled"
	EventDecryptionRequested       EventType = "decryption_requested"
	EventVolumeDecryptionRequested EventType = "volume_decryption_requested"
	EventBetsRevealRequested       EventType = "bets_reveal_requested"
	EventOutcomeDecrypted          EventType = "outcome_decrypted"
	EventVolumesDecrypted          EventType = "volumes_decrypted"
	EventProfitClaimed             EventType = "profit_claimed"
	EventRefundClaimed             EventType = "refund_claimed"
	EventOracleChanged             EventType = "oracle_changed"
	EventPoolSwept                 EventType = "pool_swept"
)

// Event is fired after a ledger mutation has been committed. Events about
// encrypted state carry ciphertext handles only; plaintext amounts and
// sides appear exclusively in events that follow a verified reveal.
type Event struct {
	Type     EventType      `json:"type"`
	MarketID uint64         `json:"market_id"`
	Actor    common.Address `json:"actor"`
	At       time.Time      `json:"at"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// Emitter publishes ledger events to interested subscribers. Emit is
// best-effort: implementations deal with delivery failures themselves and
// never fail the mutation that produced the event.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

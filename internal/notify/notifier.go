// Package notify forwards ledger events to operator alert channels.
// Delivery is fire-and-forget from the mutation path: a slow or failing
// channel never holds up the ledger.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// sendTimeout bounds one delivery attempt across all senders.
const sendTimeout = 10 * time.Second

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// EventNotifier implements domain.Emitter by rendering ledger events into
// short operator alerts. Only events whose type is in the configured set
// are forwarded; an empty set forwards everything.
type EventNotifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewEventNotifier creates an EventNotifier delivering to the given
// senders. events lists the event types to forward; empty means all.
func NewEventNotifier(senders []Sender, events []string, logger *slog.Logger) *EventNotifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &EventNotifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

var _ domain.Emitter = (*EventNotifier)(nil)

// Emit renders and dispatches the event in the background. The mutation
// that produced the event has already committed; delivery is detached
// from its request context so an HTTP timeout here cannot reach back.
func (n *EventNotifier) Emit(ctx context.Context, ev domain.Event) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[ev.Type] {
		return
	}

	title, message := render(ev)

	go func(parent context.Context) {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), sendTimeout)
		defer cancel()
		n.dispatch(sendCtx, title, message)
	}(ctx)
}

// dispatch sends to every sender. A single sender failure does not
// prevent delivery to the remaining senders.
func (n *EventNotifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// render turns an event into an alert title and body.
func render(ev domain.Event) (string, string) {
	title, ok := titles[ev.Type]
	if !ok {
		title = strings.ReplaceAll(string(ev.Type), "_", " ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "market #%d", ev.MarketID)
	if (ev.Actor != common.Address{}) {
		fmt.Fprintf(&b, "\nactor: %s", ev.Actor.Hex())
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&b, "\nat: %s", ev.At.UTC().Format(time.RFC3339))
	}
	for _, k := range sortedKeys(ev.Detail) {
		fmt.Fprintf(&b, "\n%s: %v", k, ev.Detail[k])
	}
	return title, b.String()
}

var titles = map[domain.EventType]string{
	domain.EventMarketCreated:    "Market created",
	domain.EventBetPlaced:        "Bet placed",
	domain.EventMarketClosed:     "Market closed",
	domain.EventMarketResolved:   "Market resolved",
	domain.EventMarketCancelled:  "Market cancelled",
	domain.EventOutcomeDecrypted: "Outcome revealed",
	domain.EventVolumesDecrypted: "Volumes revealed",
	domain.EventProfitClaimed:    "Profit claimed",
	domain.EventRefundClaimed:    "Refund claimed",
	domain.EventOracleChanged:    "Oracle rotated",
	domain.EventPoolSwept:        "Pool swept",
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

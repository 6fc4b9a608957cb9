package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

type recordedSend struct {
	title   string
	message string
}

type fakeSender struct {
	mu    sync.Mutex
	sends []recordedSend
	err   error
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, recordedSend{title: title, message: message})
	return s.err
}

func (s *fakeSender) Name() string { return "fake" }

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func (s *fakeSender) last() recordedSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[len(s.sends)-1]
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRenderFormatsEvent(t *testing.T) {
	actor := common.HexToAddress("0x00000000000000000000000000000000000000CC")
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	title, message := render(domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: 42,
		Actor:    actor,
		At:       at,
		Detail:   map[string]any{"question": "Will it rain?"},
	})

	assert.Equal(t, "Market resolved", title)
	assert.Contains(t, message, "market #42")
	assert.Contains(t, message, actor.Hex())
	assert.Contains(t, message, "2025-03-01T10:00:00Z")
	assert.Contains(t, message, "question: Will it rain?")
}

func TestRenderFallsBackToEventType(t *testing.T) {
	title, _ := render(domain.Event{Type: domain.EventBetsRevealRequested})
	assert.Equal(t, "bets reveal requested", title)
}

func TestEmitForwardsAllowedEvents(t *testing.T) {
	sender := &fakeSender{}
	n := NewEventNotifier([]Sender{sender}, []string{"market_resolved"}, silentLogger())

	n.Emit(context.Background(), domain.Event{Type: domain.EventMarketResolved, MarketID: 7})

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "Market resolved", sender.last().title)
}

func TestEmitFiltersOtherEvents(t *testing.T) {
	sender := &fakeSender{}
	n := NewEventNotifier([]Sender{sender}, []string{"market_resolved"}, silentLogger())

	n.Emit(context.Background(), domain.Event{Type: domain.EventBetPlaced, MarketID: 7})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sender.count())
}

func TestEmitSurvivesCancelledRequestContext(t *testing.T) {
	sender := &fakeSender{}
	n := NewEventNotifier([]Sender{sender}, nil, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Emit(ctx, domain.Event{Type: domain.EventPoolSwept})

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	failing := &fakeSender{err: errors.New("webhook down")}
	healthy := &fakeSender{}
	n := NewEventNotifier([]Sender{failing, healthy}, nil, silentLogger())

	n.dispatch(context.Background(), "t", "m")

	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, healthy.count())
}

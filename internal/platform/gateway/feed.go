package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/veilmarket/internal/crypto"
	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// DecryptionReadyChannel is the signal bus channel the feed republishes
// coprocessor completions onto. The reveal executor subscribes here
// alongside the ledger's own decryption-request events.
const DecryptionReadyChannel = "gateway:decryption_ready"

// DecryptionReady announces that every listed handle now has a plaintext
// available from the coprocessor's decrypt endpoint.
type DecryptionReady struct {
	RequestID string       `json:"request_id"`
	Handles   []fhe.Handle `json:"handles"`
}

// DecryptionReadyHandler is called for every completion announced on the feed.
type DecryptionReadyHandler func(DecryptionReady)

// DecryptionFeed is a WebSocket client for the coprocessor's push feed.
// The connection is scoped to the gateway key used in the handshake, so
// there is no subscription protocol: the coprocessor pushes completions
// for every decryption this key requested.
type DecryptionFeed struct {
	wsURL string
	auth  *crypto.HMACAuth
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	handlers  []DecryptionReadyHandler
	handlerMu sync.RWMutex

	logger *slog.Logger

	// done is closed when the feed is shut down.
	done chan struct{}
}

// NewDecryptionFeed creates a feed client for the coprocessor's WebSocket
// endpoint. The same key pair signs the handshake that signs REST calls.
func NewDecryptionFeed(cfg Config, logger *slog.Logger) *DecryptionFeed {
	return &DecryptionFeed{
		wsURL: cfg.WsURL,
		auth: &crypto.HMACAuth{
			KeyID:  cfg.KeyID,
			Secret: cfg.Secret,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and
// ping loops.
func (f *DecryptionFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("gateway/feed: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, f.handshakeHeader())
	if err != nil {
		return fmt.Errorf("gateway/feed: connect: %w", err)
	}

	f.conn = conn

	// Set up pong handler for keep-alive.
	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go f.readLoop()
	go f.pingLoop()

	return nil
}

// handshakeHeader signs the upgrade request with the gateway key.
func (f *DecryptionFeed) handshakeHeader() http.Header {
	path := "/"
	if u, err := url.Parse(f.wsURL); err == nil && u.Path != "" {
		path = u.Path
	}

	header := http.Header{}
	for k, v := range f.auth.Headers(http.MethodGet, path, "") {
		header.Set(k, v)
	}
	return header
}

// Close shuts down the WebSocket connection and stops the read loop.
func (f *DecryptionFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true
	close(f.done)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}

	return nil
}

// OnDecryptionReady registers a handler that is called for every
// completion announced on the feed.
func (f *DecryptionFeed) OnDecryptionReady(handler DecryptionReadyHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.handlers = append(f.handlers, handler)
}

// RepublishTo forwards every completion onto the signal bus under
// DecryptionReadyChannel, decoupling downstream consumers from the
// WebSocket lifecycle.
func (f *DecryptionFeed) RepublishTo(bus domain.SignalBus) {
	f.OnDecryptionReady(func(ev DecryptionReady) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := bus.Publish(ctx, DecryptionReadyChannel, payload); err != nil {
			f.logger.Warn("gateway feed republish failed",
				slog.String("request_id", ev.RequestID),
				slog.String("error", err.Error()))
		}
	})
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// readLoop continuously reads messages from the WebSocket and dispatches
// them to registered handlers. It runs in its own goroutine. On
// disconnect, it attempts to reconnect with exponential backoff.
func (f *DecryptionFeed) readLoop() {
	defer func() {
		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-f.done:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-f.done:
				return
			default:
			}

			f.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		f.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (f *DecryptionFeed) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.mu.RLock()
			conn := f.conn
			f.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes it by envelope
// type. Unknown types are dropped so the coprocessor can add new
// announcements without breaking old clients.
func (f *DecryptionFeed) handleMessage(raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	switch envelope.Type {
	case "decryption_ready":
		var ev DecryptionReady
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}

		f.handlerMu.RLock()
		handlers := f.handlers
		f.handlerMu.RUnlock()

		for _, h := range handlers {
			h(ev)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the feed is closed.
func (f *DecryptionFeed) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-f.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		if f.logger != nil {
			f.logger.Warn("gateway feed reconnect failed",
				slog.String("error", err.Error()),
				slog.Duration("next_attempt", delay))
		}

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

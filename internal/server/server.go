// Package server exposes the ledger over HTTP and WebSocket. Reads are
// plain GETs; mutations additionally carry the signature identity headers
// so the engine always knows which address it is acting for.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/server/handler"
	"github.com/alanyoungcy/veilmarket/internal/server/middleware"
	"github.com/alanyoungcy/veilmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimitPerMin int    // if zero, rate limiting is disabled
	DevEndpoints    bool   // expose the plaintext encryption helper
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Dev may be nil; its routes are then never registered.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Bets        *handler.BetHandler
	Reveals     *handler.RevealHandler
	Settlements *handler.SettlementHandler
	Accounts    *handler.AccountHandler
	Admin       *handler.AdminHandler
	Audit       *handler.AuditHandler
	Events      *handler.EventsHandler
	Dev         *handler.DevHandler
}

// Server is the HTTP + WebSocket API server for the ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, signature identity, logging, auth, rate
// limiting) and attaches the WebSocket hub. limiter may be nil when rate
// limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health and status.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Admin.GetStatus)

	// Market lifecycle and reads.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/stats", handlers.Markets.GetStats)
	mux.HandleFunc("POST /api/markets/{id}/close", handlers.Markets.CloseMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)
	mux.HandleFunc("GET /api/markets/{id}/outcome/encrypted", handlers.Markets.GetEncryptedOutcome)
	mux.HandleFunc("GET /api/markets/{id}/volumes/encrypted", handlers.Markets.GetEncryptedVolumes)

	// Two-phase reveals.
	mux.HandleFunc("POST /api/markets/{id}/reveal/outcome", handlers.Reveals.RequestOutcome)
	mux.HandleFunc("POST /api/markets/{id}/reveal/outcome/verify", handlers.Reveals.VerifyOutcome)
	mux.HandleFunc("POST /api/markets/{id}/reveal/volumes", handlers.Reveals.RequestVolumes)
	mux.HandleFunc("POST /api/markets/{id}/reveal/volumes/verify", handlers.Reveals.VerifyVolumes)

	// Bets.
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Bets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/bets/reveal", handlers.Reveals.MakeBetsDecryptable)
	mux.HandleFunc("GET /api/markets/{id}/bets/{address}", handlers.Bets.GetUserBet)
	mux.HandleFunc("GET /api/markets/{id}/bets/{address}/encrypted", handlers.Bets.GetEncryptedBets)

	// Settlement.
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Settlements.ClaimProfit)
	mux.HandleFunc("POST /api/markets/{id}/refund", handlers.Settlements.ClaimRefund)
	mux.HandleFunc("GET /api/markets/{id}/claims/{address}", handlers.Settlements.GetClaimStatus)

	// Accounts.
	mux.HandleFunc("GET /api/accounts/{address}", handlers.Accounts.GetBalance)
	mux.HandleFunc("POST /api/accounts/{address}/credit", handlers.Accounts.Credit)

	// Administration.
	mux.HandleFunc("POST /api/admin/oracle", handlers.Admin.SetOracle)
	mux.HandleFunc("POST /api/admin/sweep", handlers.Admin.Sweep)

	// Audit log and event replay.
	mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	mux.HandleFunc("GET /api/markets/{id}/audit", handlers.Audit.ListByMarket)
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// Development helpers.
	if cfg.DevEndpoints && handlers.Dev != nil {
		mux.HandleFunc("POST /api/dev/encrypt", handlers.Dev.Encrypt)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	// Apply per-IP rate limiting (skips if disabled).
	if cfg.RateLimitPerMin > 0 && limiter != nil {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(h)
	}

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply signature identity middleware so the access log and the
	// handlers below see the verified caller.
	h = middleware.Identity()(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

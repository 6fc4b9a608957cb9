package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// OracleRotator rotates the oracle authority.
type OracleRotator interface {
	SetOracle(ctx context.Context, caller, next common.Address) (common.Address, error)
}

// PoolSweeper withdraws residual native units from the pool.
type PoolSweeper interface {
	EmergencyWithdraw(ctx context.Context, caller common.Address, amount uint64) (uint64, error)
}

// LedgerStatus exposes the engine's public counters for the status
// endpoint.
type LedgerStatus interface {
	Owner() common.Address
	OracleAddress() common.Address
	StakeScale() uint64
	Pool() uint64
	MarketCount() int
}

// AdminHandler serves the owner-facing endpoints and the public ledger
// status snapshot.
type AdminHandler struct {
	rotator   OracleRotator
	sweeper   PoolSweeper
	ledger    LedgerStatus
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler. mode is the process run mode
// reported in status snapshots.
func NewAdminHandler(rotator OracleRotator, sweeper PoolSweeper, ledger LedgerStatus, mode string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		rotator:   rotator,
		sweeper:   sweeper,
		ledger:    ledger,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logHandler(logger, "admin"),
	}
}

// GetStatus responds with the ledger's public counters and process info.
// GET /api/status
func (h *AdminHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": uptime,
		"owner":          h.ledger.Owner().Hex(),
		"oracle":         h.ledger.OracleAddress().Hex(),
		"stake_scale":    h.ledger.StakeScale(),
		"pool":           h.ledger.Pool(),
		"markets":        h.ledger.MarketCount(),
	})
}

// setOracleRequest carries the next oracle authority address.
type setOracleRequest struct {
	Oracle string `json:"oracle"`
}

// SetOracle hands the oracle role to a new address. Owner or current
// oracle only.
// POST /api/admin/oracle
func (h *AdminHandler) SetOracle(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req setOracleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Oracle) {
		writeError(w, http.StatusBadRequest, "malformed oracle address")
		return
	}

	next, err := h.rotator.SetOracle(r.Context(), caller, common.HexToAddress(req.Oracle))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to set oracle")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"oracle": next.Hex(),
	})
}

// sweepRequest carries the amount of native units to withdraw.
type sweepRequest struct {
	Amount uint64 `json:"amount"`
}

// Sweep withdraws residual native units from the pool to the owner.
// Residue accrues from truncating payout division and forfeited
// zero-credit stakes.
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req sweepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	remaining, err := h.sweeper.EmergencyWithdraw(r.Context(), caller, req.Amount)
	if err != nil {
		// Asking for more than the pool holds is a caller mistake here,
		// not the accounting fault it would be during settlement.
		if errors.Is(err, domain.ErrInsufficientPool) {
			writeError(w, http.StatusConflict, domain.ErrInsufficientPool.Error())
			return
		}
		writeServiceError(w, r, h.logger, err, "failed to sweep pool")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"withdrawn": req.Amount,
		"pool":      remaining,
	})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/engine"
)

// SettlementService defines the claim operations the settlement handler
// requires from the service layer.
type SettlementService interface {
	ClaimProfit(ctx context.Context, caller common.Address, marketID uint64, claimedYes, claimedNo uint64, claimedSide bool, proof []byte) (engine.ClaimResult, error)
	ClaimRefund(ctx context.Context, caller common.Address, marketID uint64, claimedYes, claimedNo uint64, claimedSide bool, proof []byte) (engine.ClaimResult, error)
	CanClaimProfit(ctx context.Context, marketID uint64, bettor common.Address) (domain.ClaimStatus, error)
}

// SettlementHandler serves profit claims, cancellation refunds and the
// claim preflight check.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler with the given service
// and logger.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		logger:      logHandler(logger, "settlement"),
	}
}

// claimRequest carries the caller's decrypted bet plaintexts, yes stake
// first, with the oracle attestation covering all three in order.
type claimRequest struct {
	ClaimedYes  uint64        `json:"claimed_yes"`
	ClaimedNo   uint64        `json:"claimed_no"`
	ClaimedSide bool          `json:"claimed_side"`
	Proof       hexutil.Bytes `json:"proof"`
}

// claimResponse returns the settled position with the transferred amount
// and the pool after the transfer.
type claimResponse struct {
	Market marketResponse `json:"market"`
	Bet    betResponse    `json:"bet"`
	Payout uint64         `json:"payout"`
	Pool   uint64         `json:"pool"`
}

// ClaimProfit settles the caller's winning bet on a fully revealed market.
// POST /api/markets/{id}/claim
func (h *SettlementHandler) ClaimProfit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.settlements.ClaimProfit(r.Context(), caller, id,
		req.ClaimedYes, req.ClaimedNo, req.ClaimedSide, req.Proof)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to claim profit")
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		Market: toMarketResponse(res.Market),
		Bet:    toBetResponse(res.Bet),
		Payout: res.PayoutNative,
		Pool:   res.Pool,
	})
}

// ClaimRefund returns the caller's stake on a cancelled market.
// POST /api/markets/{id}/refund
func (h *SettlementHandler) ClaimRefund(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.settlements.ClaimRefund(r.Context(), caller, id,
		req.ClaimedYes, req.ClaimedNo, req.ClaimedSide, req.Proof)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to claim refund")
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		Market: toMarketResponse(res.Market),
		Bet:    toBetResponse(res.Bet),
		Payout: res.PayoutNative,
		Pool:   res.Pool,
	})
}

// GetClaimStatus answers whether the public claim preconditions hold for a
// position. The claim itself can still fail once plaintexts are verified.
// GET /api/markets/{id}/claims/{address}
func (h *SettlementHandler) GetClaimStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	bettor, ok := addressParam(w, r, "address")
	if !ok {
		return
	}

	status, err := h.settlements.CanClaimProfit(r.Context(), id, bettor)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to check claim status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

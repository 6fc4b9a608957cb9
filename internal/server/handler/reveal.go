package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// RevealService defines the two-phase reveal operations the reveal handler
// requires from the service layer.
type RevealService interface {
	RequestOutcomeDecryption(ctx context.Context, caller common.Address, id uint64) (domain.Market, error)
	VerifyOutcome(ctx context.Context, caller common.Address, id uint64, outcome bool, proof []byte) (domain.Market, error)
	RequestVolumeDecryption(ctx context.Context, caller common.Address, id uint64) (domain.Market, error)
	VerifyVolumes(ctx context.Context, caller common.Address, id uint64, totalYes, totalNo uint64, proof []byte) (domain.Market, error)
	MakeUserBetsDecryptable(ctx context.Context, caller common.Address, marketID uint64) (domain.Bet, error)
}

// RevealHandler serves the two-phase reveal endpoints. Phase one marks
// handles publicly revealable; phase two submits the decrypted plaintexts
// with the oracle's attestation.
type RevealHandler struct {
	reveals RevealService
	logger  *slog.Logger
}

// NewRevealHandler creates a RevealHandler with the given service and logger.
func NewRevealHandler(reveals RevealService, logger *slog.Logger) *RevealHandler {
	return &RevealHandler{
		reveals: reveals,
		logger:  logHandler(logger, "reveal"),
	}
}

// RequestOutcome marks a resolved market's outcome revealable. Authority only.
// POST /api/markets/{id}/reveal/outcome
func (h *RevealHandler) RequestOutcome(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	m, err := h.reveals.RequestOutcomeDecryption(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to request outcome decryption")
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// verifyOutcomeRequest carries the decrypted winning side and the oracle
// attestation covering it.
type verifyOutcomeRequest struct {
	Outcome bool          `json:"outcome"`
	Proof   hexutil.Bytes `json:"proof"`
}

// VerifyOutcome checks the attestation and records the plaintext outcome.
// POST /api/markets/{id}/reveal/outcome/verify
func (h *RevealHandler) VerifyOutcome(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var req verifyOutcomeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m, err := h.reveals.VerifyOutcome(r.Context(), caller, id, req.Outcome, req.Proof)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to verify outcome")
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// RequestVolumes marks both volume accumulators revealable. Authority only.
// POST /api/markets/{id}/reveal/volumes
func (h *RevealHandler) RequestVolumes(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	m, err := h.reveals.RequestVolumeDecryption(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to request volume decryption")
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// verifyVolumesRequest carries both decrypted totals, yes first, and the
// attestation covering them in that order.
type verifyVolumesRequest struct {
	TotalYes uint64        `json:"total_yes"`
	TotalNo  uint64        `json:"total_no"`
	Proof    hexutil.Bytes `json:"proof"`
}

// VerifyVolumes checks the attestation and records both plaintext totals.
// POST /api/markets/{id}/reveal/volumes/verify
func (h *RevealHandler) VerifyVolumes(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var req verifyVolumesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m, err := h.reveals.VerifyVolumes(r.Context(), caller, id, req.TotalYes, req.TotalNo, req.Proof)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to verify volumes")
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// MakeBetsDecryptable marks the caller's own bet handles revealable so the
// decrypted plaintexts can later back a claim.
// POST /api/markets/{id}/bets/reveal
func (h *RevealHandler) MakeBetsDecryptable(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	b, err := h.reveals.MakeUserBetsDecryptable(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to mark bets decryptable")
		return
	}

	writeJSON(w, http.StatusOK, toBetResponse(b))
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/engine"
)

// BettingService defines the methods that the bet handler requires from the
// service layer.
type BettingService interface {
	PlaceBet(ctx context.Context, caller common.Address, marketID uint64, encAmount, amountProof, encSide, sideProof []byte, attachedValue uint64) (engine.PlaceBetResult, error)
	GetUserBetInfo(ctx context.Context, marketID uint64, bettor common.Address) (domain.UserBetInfo, error)
	GetEncryptedBets(ctx context.Context, marketID uint64, bettor common.Address) (domain.EncryptedBets, error)
}

// BetHandler serves bet placement and position read endpoints.
type BetHandler struct {
	bets   BettingService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BettingService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logHandler(logger, "bet"),
	}
}

// betResponse is the wire form of an encrypted position. All three handles
// are ciphertext references; nothing here says which side was chosen or how
// much was staked beyond the public attached value recorded in the audit log.
type betResponse struct {
	MarketID uint64 `json:"market_id"`
	Bettor   string `json:"bettor"`

	AmountYes string `json:"amount_yes"`
	AmountNo  string `json:"amount_no"`
	Side      string `json:"side"`

	Claimed         bool `json:"claimed"`
	RevealRequested bool `json:"reveal_requested"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toBetResponse(b domain.Bet) betResponse {
	return betResponse{
		MarketID:        b.MarketID,
		Bettor:          b.Bettor.Hex(),
		AmountYes:       b.AmountYes.String(),
		AmountNo:        b.AmountNo.String(),
		Side:            b.Side.String(),
		Claimed:         b.Claimed,
		RevealRequested: b.RevealRequested,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

// placeBetRequest carries the externally encrypted stake and side with
// their input attestations, plus the public native value attached to the
// bet.
type placeBetRequest struct {
	AmountCiphertext hexutil.Bytes `json:"amount_ciphertext"`
	AmountProof      hexutil.Bytes `json:"amount_proof"`
	SideCiphertext   hexutil.Bytes `json:"side_ciphertext"`
	SideProof        hexutil.Bytes `json:"side_proof"`
	AttachedValue    uint64        `json:"attached_value"`
}

// placeBetResponse returns the updated market, the caller's position and
// the pool after the stake moved.
type placeBetResponse struct {
	Market   marketResponse `json:"market"`
	Bet      betResponse    `json:"bet"`
	FirstBet bool           `json:"first_bet"`
	Pool     uint64         `json:"pool"`
}

// PlaceBet stakes the attached value on the encrypted side.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var req placeBetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.AmountCiphertext) == 0 || len(req.SideCiphertext) == 0 {
		writeError(w, http.StatusBadRequest, "amount and side ciphertexts must not be empty")
		return
	}

	res, err := h.bets.PlaceBet(r.Context(), caller, id,
		req.AmountCiphertext, req.AmountProof,
		req.SideCiphertext, req.SideProof,
		req.AttachedValue,
	)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to place bet")
		return
	}

	writeJSON(w, http.StatusOK, placeBetResponse{
		Market:   toMarketResponse(res.Market),
		Bet:      toBetResponse(res.Bet),
		FirstBet: res.FirstBet,
		Pool:     res.Pool,
	})
}

// GetUserBet returns the plaintext-free view of one participant's position.
// GET /api/markets/{id}/bets/{address}
func (h *BetHandler) GetUserBet(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	bettor, ok := addressParam(w, r, "address")
	if !ok {
		return
	}

	info, err := h.bets.GetUserBetInfo(r.Context(), id, bettor)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get bet info")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// GetEncryptedBets returns the three ciphertext handles of a position, in
// the order settlement verifies them.
// GET /api/markets/{id}/bets/{address}/encrypted
func (h *BetHandler) GetEncryptedBets(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	bettor, ok := addressParam(w, r, "address")
	if !ok {
		return
	}

	enc, err := h.bets.GetEncryptedBets(r.Context(), id, bettor)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get encrypted bets")
		return
	}

	writeJSON(w, http.StatusOK, enc)
}

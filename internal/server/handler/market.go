package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, caller common.Address, question string, endTime, resolutionTime time.Time) (domain.Market, error)
	CloseMarket(ctx context.Context, caller common.Address, id uint64) (domain.Market, error)
	SetOutcome(ctx context.Context, caller common.Address, id uint64, ciphertext, proof []byte) (domain.Market, error)
	CancelMarket(ctx context.Context, caller common.Address, id uint64) (domain.Market, error)
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListMarketsByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	GetMarketStats(ctx context.Context, id uint64) (domain.MarketStats, error)
	GetEncryptedOutcome(ctx context.Context, id uint64) (fhe.Handle, error)
	GetEncryptedVolumes(ctx context.Context, id uint64) (fhe.Handle, fhe.Handle, error)
	Count(ctx context.Context) (int64, error)
}

// MarketHandler serves market lifecycle and read endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

// marketResponse is the wire form of a market. Ciphertext handles serialize
// as 0x-hex strings; plaintext volume and outcome fields appear only after
// the matching reveal has been verified.
type marketResponse struct {
	ID             uint64    `json:"id"`
	Question       string    `json:"question"`
	Authority      string    `json:"authority"`
	Status         string    `json:"status"`
	EndTime        time.Time `json:"end_time"`
	ResolutionTime time.Time `json:"resolution_time"`

	TotalYes string `json:"total_yes"`
	TotalNo  string `json:"total_no"`
	Outcome  string `json:"outcome,omitempty"`

	OutcomeRevealRequested bool  `json:"outcome_reveal_requested"`
	RevealedOutcome        *bool `json:"revealed_outcome,omitempty"`

	VolumeRevealRequested bool    `json:"volume_reveal_requested"`
	RevealedTotalYes      *uint64 `json:"revealed_total_yes,omitempty"`
	RevealedTotalNo       *uint64 `json:"revealed_total_no,omitempty"`

	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
	ArchiveBundleID string     `json:"archive_bundle_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toMarketResponse(m domain.Market) marketResponse {
	resp := marketResponse{
		ID:             m.ID,
		Question:       m.Question,
		Authority:      m.Authority.Hex(),
		Status:         string(m.Status),
		EndTime:        m.EndTime,
		ResolutionTime: m.ResolutionTime,

		TotalYes: m.TotalYes.String(),
		TotalNo:  m.TotalNo.String(),

		OutcomeRevealRequested: m.OutcomeRevealRequested,
		RevealedOutcome:        m.RevealedOutcome,
		VolumeRevealRequested:  m.VolumeRevealRequested,
		RevealedTotalYes:       m.RevealedTotalYes,
		RevealedTotalNo:        m.RevealedTotalNo,

		ClosedAt:    m.ClosedAt,
		ResolvedAt:  m.ResolvedAt,
		CancelledAt: m.CancelledAt,

		ArchivedAt:      m.ArchivedAt,
		ArchiveBundleID: m.ArchiveBundleID,

		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if !m.Outcome.IsZero() {
		resp.Outcome = m.Outcome.String()
	}
	return resp
}

// createMarketRequest is the body for market creation. Times are RFC 3339.
type createMarketRequest struct {
	Question       string    `json:"question"`
	EndTime        time.Time `json:"end_time"`
	ResolutionTime time.Time `json:"resolution_time"`
}

// CreateMarket opens a new market with the caller as its authority.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req createMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), caller, req.Question, req.EndTime, req.ResolutionTime)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, toMarketResponse(m))
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// validStatuses guards the ?status= filter.
var validStatuses = map[domain.MarketStatus]bool{
	domain.MarketStatusOpen:      true,
	domain.MarketStatusClosed:    true,
	domain.MarketStatusResolved:  true,
	domain.MarketStatusCancelled: true,
}

// ListMarkets returns markets with pagination, optionally filtered by status.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		markets []domain.Market
		err     error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.MarketStatus(raw)
		if !validStatuses[status] {
			writeError(w, http.StatusBadRequest, "unknown market status")
			return
		}
		markets, err = h.markets.ListMarketsByStatus(r.Context(), status, opts)
	} else {
		markets, err = h.markets.ListMarkets(r.Context(), opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list markets")
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to count markets")
		return
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketResponse(m))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: out,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// GetStats returns the public summary of a market.
// GET /api/markets/{id}/stats
func (h *MarketHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	stats, err := h.markets.GetMarketStats(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get market stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// CloseMarket ends the betting phase. Authority only.
// POST /api/markets/{id}/close
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	m, err := h.markets.CloseMarket(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to close market")
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// resolveMarketRequest carries the externally encrypted outcome and its
// input attestation.
type resolveMarketRequest struct {
	Ciphertext hexutil.Bytes `json:"ciphertext"`
	Proof      hexutil.Bytes `json:"proof"`
}

// ResolveMarket records the encrypted winning side. Authority only.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var req resolveMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Ciphertext) == 0 {
		writeError(w, http.StatusBadRequest, "ciphertext must not be empty")
		return
	}

	m, err := h.markets.SetOutcome(r.Context(), caller, id, req.Ciphertext, req.Proof)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to resolve market")
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// CancelMarket voids a market so stakes become refundable. Authority only.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	m, err := h.markets.CancelMarket(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to cancel market")
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// GetEncryptedOutcome returns the outcome ciphertext handle of a resolved
// market.
// GET /api/markets/{id}/outcome/encrypted
func (h *MarketHandler) GetEncryptedOutcome(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	handle, err := h.markets.GetEncryptedOutcome(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get encrypted outcome")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"outcome": handle.String(),
	})
}

// GetEncryptedVolumes returns both volume accumulator handles.
// GET /api/markets/{id}/volumes/encrypted
func (h *MarketHandler) GetEncryptedVolumes(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	yes, no, err := h.markets.GetEncryptedVolumes(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get encrypted volumes")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"total_yes": yes.String(),
		"total_no":  no.String(),
	})
}

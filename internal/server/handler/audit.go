package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// AuditReader defines the read side of the audit log the audit handler
// requires.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the append-only audit log, newest first.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler with the given store and logger.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logHandler(logger, "audit"),
	}
}

// auditEntryResponse is the wire form of one audit row.
type auditEntryResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// auditListResponse wraps the list endpoints' output.
type auditListResponse struct {
	Entries []auditEntryResponse `json:"entries"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

func toAuditList(entries []domain.AuditEntry, opts domain.ListOpts) auditListResponse {
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	return auditListResponse{
		Entries: out,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
}

// List returns audit entries across all markets.
// GET /api/audit?limit=50&offset=0&since=...&until=...
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, toAuditList(entries, opts))
}

// ListByMarket returns the audit entries touching one market.
// GET /api/markets/{id}/audit
func (h *AuditHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	opts := parseListOpts(r)

	entries, err := h.audit.ListByMarket(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, toAuditList(entries, opts))
}

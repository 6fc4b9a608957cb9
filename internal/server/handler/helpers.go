package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/alanyoungcy/veilmarket/internal/server/middleware"
)

// maxBodySize bounds JSON request bodies. Ciphertexts and proofs are a few
// KB each; nothing legitimate comes close.
const maxBodySize = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errStatus maps ledger errors to HTTP statuses. Anything a caller can fix
// by changing the request is 400, permission failures are 403, collisions
// with the current ledger state are 409. Errors not listed here are server
// faults and surface as a generic 500.
var errStatus = []struct {
	target error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},

	{domain.ErrNotAuthority, http.StatusForbidden},
	{domain.ErrNotOwner, http.StatusForbidden},
	{domain.ErrUnauthorized, http.StatusForbidden},

	{domain.ErrRateLimited, http.StatusTooManyRequests},

	{domain.ErrInvalidScheduling, http.StatusBadRequest},
	{domain.ErrZeroStake, http.StatusBadRequest},
	{domain.ErrStakeNotAligned, http.StatusBadRequest},
	{domain.ErrStakeTooLarge, http.StatusBadRequest},
	{fhe.ErrInvalidAttestation, http.StatusBadRequest},
	{fhe.ErrVerificationFailed, http.StatusBadRequest},
	{fhe.ErrKindMismatch, http.StatusBadRequest},

	{domain.ErrInsufficientFunds, http.StatusConflict},
	{domain.ErrMarketNotOpen, http.StatusConflict},
	{domain.ErrMarketNotClosed, http.StatusConflict},
	{domain.ErrMarketNotResolved, http.StatusConflict},
	{domain.ErrMarketNotCancelled, http.StatusConflict},
	{domain.ErrTooEarly, http.StatusConflict},
	{domain.ErrBettingEnded, http.StatusConflict},
	{domain.ErrResolutionTimeNotReached, http.StatusConflict},
	{domain.ErrAlreadyResolved, http.StatusConflict},
	{domain.ErrCannotCancelResolved, http.StatusConflict},
	{domain.ErrAlreadyDecrypted, http.StatusConflict},
	{domain.ErrDecryptionNotRequested, http.StatusConflict},
	{domain.ErrNoBetPlaced, http.StatusConflict},
	{domain.ErrBetHandlesUninitialized, http.StatusConflict},
	{domain.ErrNotReadyForClaim, http.StatusConflict},
	{domain.ErrAlreadyClaimed, http.StatusConflict},
	{domain.ErrNoStake, http.StatusConflict},
	{domain.ErrLostBet, http.StatusConflict},
	{fhe.ErrNotRevealable, http.StatusConflict},
}

// writeServiceError translates a service-layer error into an HTTP response.
// Known ledger errors map to 4xx with the bare reason; anything else is
// logged and answered with the generic operation message so internals never
// leak to clients.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, msg string) {
	for _, m := range errStatus {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.target.Error())
			return
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+msg,
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, msg)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. Optional since/until bounds are
// RFC 3339 timestamps.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}

	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}

	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// marketIDParam parses the {id} path segment as a market identifier. On
// failure it writes a 400 and returns false.
func marketIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed market id")
		return 0, false
	}
	return id, true
}

// addressParam parses a path segment as a hex account address. On failure
// it writes a 400 and returns false.
func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := pathParam(r, name)
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "malformed address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// requireCaller extracts the signature-verified caller address. Mutating
// endpoints refuse anonymous requests with a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
		return common.Address{}, false
	}
	return caller, true
}

// decodeBody decodes a JSON request body into dst. On failure it writes a
// 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return false
	}
	return true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// AccountService defines the vault operations the account handler requires
// from the service layer.
type AccountService interface {
	Balance(ctx context.Context, owner common.Address) (uint64, error)
	CreditAccount(ctx context.Context, caller, to common.Address, amount uint64) error
}

// AccountHandler serves account balance reads and the owner-gated credit
// endpoint that stands in for a deposit rail.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service and
// logger.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logHandler(logger, "account"),
	}
}

// GetBalance returns an account's native-unit balance. Unknown addresses
// hold zero.
// GET /api/accounts/{address}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(w, r, "address")
	if !ok {
		return
	}

	balance, err := h.accounts.Balance(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": owner.Hex(),
		"balance": balance,
	})
}

// creditRequest carries the amount of native units to credit.
type creditRequest struct {
	Amount uint64 `json:"amount"`
}

// Credit adds native units to an account. Owner only; deployments with a
// real payment rail disable this route.
// POST /api/accounts/{address}/credit
func (h *AccountHandler) Credit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	to, ok := addressParam(w, r, "address")
	if !ok {
		return
	}

	var req creditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if err := h.accounts.CreditAccount(r.Context(), caller, to, req.Amount); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to credit account")
		return
	}

	balance, err := h.accounts.Balance(r.Context(), to)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": to.Hex(),
		"balance": balance,
	})
}

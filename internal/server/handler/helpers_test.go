package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/engine"
	"github.com/alanyoungcy/veilmarket/internal/server/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	assert.Nil(t, opts.Since)
	assert.Nil(t, opts.Until)

	req = httptest.NewRequest(http.MethodGet, "/api/markets?limit=9000&offset=30", nil)
	opts = parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 30, opts.Offset)

	// Unparseable values fall back to the defaults.
	req = httptest.NewRequest(http.MethodGet, "/api/markets?limit=-3&offset=x", nil)
	opts = parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)

	req = httptest.NewRequest(http.MethodGet, "/api/markets?since=2025-01-01T00:00:00Z&until=bogus", nil)
	opts = parseListOpts(req)
	require.NotNil(t, opts.Since)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), opts.Since.UTC())
	assert.Nil(t, opts.Until)
}

func TestMarketIDParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/markets/42", nil)
	req.SetPathValue("id", "42")
	rec := httptest.NewRecorder()
	id, ok := marketIDParam(rec, req)
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)

	req = httptest.NewRequest(http.MethodGet, "/api/markets/forty", nil)
	req.SetPathValue("id", "forty")
	rec = httptest.NewRecorder()
	_, ok = marketIDParam(rec, req)
	require.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrNotAuthority, http.StatusForbidden},
		{domain.ErrZeroStake, http.StatusBadRequest},
		{domain.ErrMarketNotOpen, http.StatusConflict},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
		rec := httptest.NewRecorder()
		wrapped := errors.Join(errors.New("service: place bet"), tc.err)
		writeServiceError(rec, req, testLogger(), wrapped, "failed")
		assert.Equal(t, tc.status, rec.Code, "for %v", tc.err)
		assert.Contains(t, rec.Body.String(), tc.err.Error())
	}
}

func TestWriteServiceErrorHidesInternals(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
	rec := httptest.NewRecorder()
	writeServiceError(rec, req, testLogger(), errors.New("pgx: connection refused"), "failed to create market")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pgx")
	assert.Contains(t, rec.Body.String(), "failed to create market")
}

// stubBettingService returns canned results for the bet handler tests.
type stubBettingService struct {
	placeErr error
	placed   engine.PlaceBetResult
}

func (s *stubBettingService) PlaceBet(ctx context.Context, caller common.Address, marketID uint64, encAmount, amountProof, encSide, sideProof []byte, attachedValue uint64) (engine.PlaceBetResult, error) {
	if s.placeErr != nil {
		return engine.PlaceBetResult{}, s.placeErr
	}
	return s.placed, nil
}

func (s *stubBettingService) GetUserBetInfo(ctx context.Context, marketID uint64, bettor common.Address) (domain.UserBetInfo, error) {
	return domain.UserBetInfo{}, domain.ErrNoBetPlaced
}

func (s *stubBettingService) GetEncryptedBets(ctx context.Context, marketID uint64, bettor common.Address) (domain.EncryptedBets, error) {
	return domain.EncryptedBets{}, nil
}

func placeBetReq(t *testing.T, caller *common.Address, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/markets/7/bets", strings.NewReader(body))
	req.SetPathValue("id", "7")
	if caller != nil {
		req = req.WithContext(middleware.WithCaller(req.Context(), *caller))
	}
	return req
}

func TestPlaceBetRejectsAnonymous(t *testing.T) {
	h := NewBetHandler(&stubBettingService{}, testLogger())
	rec := httptest.NewRecorder()
	h.PlaceBet(rec, placeBetReq(t, nil, `{}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlaceBetRejectsMalformedBody(t *testing.T) {
	h := NewBetHandler(&stubBettingService{}, testLogger())
	caller := common.HexToAddress("0x1111111111111111111111111111111111111111")

	rec := httptest.NewRecorder()
	h.PlaceBet(rec, placeBetReq(t, &caller, `{not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Well-formed JSON but no ciphertexts.
	rec = httptest.NewRecorder()
	h.PlaceBet(rec, placeBetReq(t, &caller, `{"attached_value":1000}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceBetMapsLedgerErrors(t *testing.T) {
	h := NewBetHandler(&stubBettingService{placeErr: domain.ErrMarketNotOpen}, testLogger())
	caller := common.HexToAddress("0x1111111111111111111111111111111111111111")

	body := `{"amount_ciphertext":"0x01","amount_proof":"0x02","side_ciphertext":"0x03","side_proof":"0x04","attached_value":1000}`
	rec := httptest.NewRecorder()
	h.PlaceBet(rec, placeBetReq(t, &caller, body))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrMarketNotOpen.Error())
}

func TestPlaceBetReturnsPosition(t *testing.T) {
	caller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	stub := &stubBettingService{
		placed: engine.PlaceBetResult{
			Market:   domain.Market{ID: 7, Question: "Will it rain?"},
			Bet:      domain.Bet{MarketID: 7, Bettor: caller},
			FirstBet: true,
			Pool:     5000,
		},
	}
	h := NewBetHandler(stub, testLogger())

	body := `{"amount_ciphertext":"0x01","amount_proof":"0x02","side_ciphertext":"0x03","side_proof":"0x04","attached_value":1000}`
	rec := httptest.NewRecorder()
	h.PlaceBet(rec, placeBetReq(t, &caller, body))

	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `"first_bet":true`)
	assert.Contains(t, out, `"pool":5000`)
	assert.Contains(t, out, caller.Hex())
}

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/veilmarket/internal/crypto"
)

// Throwaway test key; never fund it.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func signedRequest(t *testing.T, att *crypto.Attestor, method, path string, body []byte) *http.Request {
	t.Helper()

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := att.SignPersonal(SignedMessage(method, path, ts, body))
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(headerAddress, att.Address().Hex())
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, hexutil.Encode(sig))
	return req
}

func callerEcho(t *testing.T) (http.Handler, *common.Address, *bool) {
	t.Helper()

	var caller common.Address
	var anonymous bool
	h := Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := CallerFrom(r.Context())
		if !ok {
			anonymous = true
			return
		}
		caller = addr
	}))
	return h, &caller, &anonymous
}

func TestIdentityVerifiesSignedRequest(t *testing.T) {
	att, err := crypto.NewAttestor(testKeyHex)
	require.NoError(t, err)

	h, caller, _ := callerEcho(t)
	body := []byte(`{"amount":"5"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, att, http.MethodPost, "/api/markets/0/bets", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, att.Address(), *caller)
}

func TestIdentityPassesAnonymousRequests(t *testing.T) {
	h, _, anonymous := callerEcho(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *anonymous)
}

func TestIdentityRejectsIncompleteHeaders(t *testing.T) {
	h, _, _ := callerEcho(t)
	req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
	req.Header.Set(headerAddress, "0x1111111111111111111111111111111111111111")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityRejectsWrongSigner(t *testing.T) {
	att, err := crypto.NewAttestor(testKeyHex)
	require.NoError(t, err)

	h, _, _ := callerEcho(t)
	req := signedRequest(t, att, http.MethodPost, "/api/markets", []byte(`{}`))
	req.Header.Set(headerAddress, "0x2222222222222222222222222222222222222222")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityRejectsTamperedBody(t *testing.T) {
	att, err := crypto.NewAttestor(testKeyHex)
	require.NoError(t, err)

	h, _, _ := callerEcho(t)
	req := signedRequest(t, att, http.MethodPost, "/api/markets", []byte(`{"question":"a"}`))
	req.Body = http.NoBody

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityRejectsStaleTimestamp(t *testing.T) {
	att, err := crypto.NewAttestor(testKeyHex)
	require.NoError(t, err)

	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	sig, err := att.SignPersonal(SignedMessage(http.MethodPost, "/api/markets", ts, body))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewReader(body))
	req.Header.Set(headerAddress, att.Address().Hex())
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, hexutil.Encode(sig))

	h, _, _ := callerEcho(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityRestoresBodyForHandler(t *testing.T) {
	att, err := crypto.NewAttestor(testKeyHex)
	require.NoError(t, err)

	body := []byte(`{"side":"..."}`)
	var seen []byte
	h := Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		seen = buf.Bytes()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, att, http.MethodPost, "/api/markets/0/bets", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, seen)
}

func TestSignedMessageIsCanonical(t *testing.T) {
	a := SignedMessage(http.MethodPost, "/api/markets", "1700000000", []byte(`{}`))
	b := SignedMessage(http.MethodPost, "/api/markets", "1700000000", []byte(`{}`))
	assert.Equal(t, a, b)

	c := SignedMessage(http.MethodPost, "/api/markets", "1700000000", []byte(`{"x":1}`))
	assert.NotEqual(t, a, c)
}

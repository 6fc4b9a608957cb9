package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/veilmarket/internal/crypto"
	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

func testHandle(kind fhe.Kind, fill byte) fhe.Handle {
	var id [fhe.IdentifierSize]byte
	for i := range id {
		id[i] = fill
	}
	return fhe.NewHandle(kind, id)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL: srv.URL,
		KeyID:   "test-key",
		Secret:  "test-secret",
	})
}

func TestClientEvalSignsRequests(t *testing.T) {
	want := testHandle(fhe.KindUint32, 0x11)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/eval", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		// The server recomputes the signature from the claimed timestamp.
		auth := crypto.HMACAuth{KeyID: "test-key", Secret: "test-secret"}
		ts := r.Header.Get("X-Veil-Timestamp")
		require.NotEmpty(t, ts)

		unixTS, err := strconv.ParseInt(ts, 10, 64)
		require.NoError(t, err)

		expect := auth.HeadersAt(r.Method, r.URL.Path, string(body), unixTS)
		assert.Equal(t, "test-key", r.Header.Get("X-Veil-Key"))
		assert.Equal(t, expect["X-Veil-Signature"], r.Header.Get("X-Veil-Signature"))

		var req evalRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "add", req.Op)
		assert.Len(t, req.Operands, 2)

		writeHandle(t, w, want)
	})

	got, err := client.Add(context.Background(), testHandle(fhe.KindUint32, 0x01), testHandle(fhe.KindUint32, 0x02))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientImportSendsKindString(t *testing.T) {
	want := testHandle(fhe.KindBool, 0x22)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/import", r.URL.Path)

		var req importRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ebool", req.Kind)
		assert.Equal(t, []byte{0xde, 0xad}, []byte(req.Ciphertext))
		assert.Equal(t, []byte{0xbe, 0xef}, []byte(req.Proof))

		writeHandle(t, w, want)
	})

	got, err := client.ImportWithProof(context.Background(), fhe.KindBool, []byte{0xde, 0xad}, []byte{0xbe, 0xef})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientMapsErrorCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{
			name:   "invalid attestation",
			status: http.StatusUnprocessableEntity,
			body:   `{"error":{"code":"invalid_attestation","message":"proof check failed"}}`,
			want:   fhe.ErrInvalidAttestation,
		},
		{
			name:   "verification failed",
			status: http.StatusConflict,
			body:   `{"error":{"code":"verification_failed"}}`,
			want:   fhe.ErrVerificationFailed,
		},
		{
			name:   "not revealable",
			status: http.StatusConflict,
			body:   `{"error":{"code":"not_revealable","message":"handle was never flagged"}}`,
			want:   fhe.ErrNotRevealable,
		},
		{
			name:   "unknown handle",
			status: http.StatusNotFound,
			body:   `{"error":{"code":"unknown_handle"}}`,
			want:   fhe.ErrUnknownHandle,
		},
		{
			name:   "bad key falls back to status mapping",
			status: http.StatusUnauthorized,
			body:   `unauthorized`,
			want:   domain.ErrUnauthorized,
		},
		{
			name:   "throttled",
			status: http.StatusTooManyRequests,
			body:   `slow down`,
			want:   domain.ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Zero(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClientVerifyPlaintextAcceptsEmptyBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/verify", r.URL.Path)

		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []uint64{1}, req.Plaintexts)

		w.WriteHeader(http.StatusNoContent)
	})

	err := client.VerifyPlaintext(context.Background(),
		[]fhe.Handle{testHandle(fhe.KindBool, 0x33)}, []uint64{1}, []byte{0x01})
	require.NoError(t, err)
}

func TestClientDecryptChecksPlaintextCount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(decryptResponse{Plaintexts: []uint64{1, 2}})
	})

	_, _, err := client.Decrypt(context.Background(), []fhe.Handle{testHandle(fhe.KindUint32, 0x44)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 2 plaintexts for 1 handles")
}

func writeHandle(t *testing.T, w http.ResponseWriter, h fhe.Handle) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(handleResponse{Handle: h}))
}

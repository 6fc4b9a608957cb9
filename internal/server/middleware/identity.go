package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/veilmarket/internal/crypto"
)

// Signature identity headers. Mutating endpoints need a caller address the
// ledger can hold accountable, so clients sign each request with the same
// secp256k1 key that owns their account:
//
//	X-Veil-Address:   0x-hex account address
//	X-Veil-Timestamp: unix seconds, must be within maxClockSkew of now
//	X-Veil-Signature: 0x-hex 65-byte personal-message signature over
//	                  "<method>\n<path>\n<timestamp>\n<keccak256(body) hex>"
//
// The timestamp keeps a captured signature from being replayed later; the
// body hash binds it to this exact payload.
const (
	headerAddress   = "X-Veil-Address"
	headerTimestamp = "X-Veil-Timestamp"
	headerSignature = "X-Veil-Signature"

	maxClockSkew = 5 * time.Minute

	// maxSignedBody bounds how much request body the middleware will buffer
	// for hashing. Ciphertexts and proofs are a few KB; anything near this
	// limit is abuse.
	maxSignedBody = 1 << 20
)

type callerKey struct{}

// CallerFrom returns the verified caller address attached by Identity, if
// the request carried a valid signature.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// WithCaller returns a context carrying addr as the verified caller. Test
// helpers use it to exercise handlers without real signatures.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// Identity returns middleware that verifies the signature identity headers
// when they are present and attaches the recovered address to the request
// context. Requests without the headers pass through anonymously; handlers
// that mutate state reject anonymous callers themselves. A request that
// presents headers which do not verify is rejected outright.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addrHex := r.Header.Get(headerAddress)
			sigHex := r.Header.Get(headerSignature)
			tsStr := r.Header.Get(headerTimestamp)

			if addrHex == "" && sigHex == "" && tsStr == "" {
				next.ServeHTTP(w, r)
				return
			}
			if addrHex == "" || sigHex == "" || tsStr == "" {
				writeIdentityError(w, "incomplete signature headers")
				return
			}

			if !common.IsHexAddress(addrHex) {
				writeIdentityError(w, "malformed caller address")
				return
			}
			claimed := common.HexToAddress(addrHex)

			ts, err := strconv.ParseInt(tsStr, 10, 64)
			if err != nil {
				writeIdentityError(w, "malformed signature timestamp")
				return
			}
			skew := time.Since(time.Unix(ts, 0))
			if skew > maxClockSkew || skew < -maxClockSkew {
				writeIdentityError(w, "signature timestamp outside the accepted window")
				return
			}

			sig, err := hexutil.Decode(sigHex)
			if err != nil || len(sig) != 65 {
				writeIdentityError(w, "malformed signature")
				return
			}

			body, err := readSignedBody(r)
			if err != nil {
				writeIdentityError(w, "request body too large to verify")
				return
			}

			msg := SignedMessage(r.Method, r.URL.Path, tsStr, body)
			signer, err := crypto.RecoverPersonalSigner(msg, sig)
			if err != nil || signer != claimed {
				writeIdentityError(w, "signature does not match the claimed address")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), claimed)))
		})
	}
}

// SignedMessage builds the canonical byte string a client signs for a
// request. Exported so tests and client code produce the identical bytes.
func SignedMessage(method, path, timestamp string, body []byte) []byte {
	bodyHash := hexutil.Encode(ethcrypto.Keccak256(body))
	var b strings.Builder
	b.Grow(len(method) + len(path) + len(timestamp) + len(bodyHash) + 3)
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(timestamp)
	b.WriteByte('\n')
	b.WriteString(bodyHash)
	return []byte(b.String())
}

// readSignedBody buffers the request body for hashing and restores it so
// the handler can still decode it.
func readSignedBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	if len(body) > maxSignedBody {
		return nil, io.ErrShortBuffer
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// writeIdentityError sends a 401 response with a JSON error body.
func writeIdentityError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// Package gateway is the client for a remote encryption coprocessor. The
// ledger's enclave backend keeps ciphertexts on local disk; this backend
// instead drives a coprocessor service over HTTPS with HMAC request
// signing, plus a WebSocket feed announcing finished decryptions.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/veilmarket/internal/crypto"
	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

// Client talks to the coprocessor's REST API. It implements the whole
// oracle surface the engine needs (fhe.Coprocessor) plus the encryption
// and decryption helpers used by development deployments and the reveal
// executor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// Config carries the connection parameters for the coprocessor gateway.
type Config struct {
	BaseURL string
	WsURL   string
	KeyID   string
	Secret  string
	Timeout time.Duration
}

// NewClient creates a gateway client. Every request is signed with the
// configured key.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		auth: &crypto.HMACAuth{
			KeyID:  cfg.KeyID,
			Secret: cfg.Secret,
		},
	}
}

var (
	_ fhe.Coprocessor = (*Client)(nil)
	_ fhe.Encryptor   = (*Client)(nil)
	_ fhe.Decrypter   = (*Client)(nil)
)

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type evalRequest struct {
	Op       string       `json:"op"`
	Operands []fhe.Handle `json:"operands,omitempty"`
	Value    *bool        `json:"value,omitempty"`
}

type handleResponse struct {
	Handle fhe.Handle `json:"handle"`
}

type importRequest struct {
	Kind       string        `json:"kind"`
	Ciphertext hexutil.Bytes `json:"ciphertext"`
	Proof      hexutil.Bytes `json:"proof"`
}

type revealRequest struct {
	Handles []fhe.Handle `json:"handles"`
}

type verifyRequest struct {
	Handles    []fhe.Handle  `json:"handles"`
	Plaintexts []uint64      `json:"plaintexts"`
	Proof      hexutil.Bytes `json:"proof"`
}

type encryptRequest struct {
	Kind  string `json:"kind"`
	Value uint64 `json:"value"`
}

type encryptResponse struct {
	Ciphertext hexutil.Bytes `json:"ciphertext"`
	Proof      hexutil.Bytes `json:"proof"`
}

type decryptRequest struct {
	Handles []fhe.Handle `json:"handles"`
}

type decryptResponse struct {
	Plaintexts []uint64      `json:"plaintexts"`
	Proof      hexutil.Bytes `json:"proof"`
}

// ---------------------------------------------------------------------------
// Evaluator
// ---------------------------------------------------------------------------

// Add returns a handle to the wrapping 32-bit sum of two encrypted integers.
func (c *Client) Add(ctx context.Context, a, b fhe.Handle) (fhe.Handle, error) {
	return c.eval(ctx, evalRequest{Op: "add", Operands: []fhe.Handle{a, b}})
}

// Eq returns an encrypted boolean holding true when the operands agree.
func (c *Client) Eq(ctx context.Context, a, b fhe.Handle) (fhe.Handle, error) {
	return c.eval(ctx, evalRequest{Op: "eq", Operands: []fhe.Handle{a, b}})
}

// Ne returns an encrypted boolean holding true when the operands differ.
func (c *Client) Ne(ctx context.Context, a, b fhe.Handle) (fhe.Handle, error) {
	return c.eval(ctx, evalRequest{Op: "ne", Operands: []fhe.Handle{a, b}})
}

// Select returns ifTrue where cond holds true and ifFalse elsewhere.
func (c *Client) Select(ctx context.Context, cond, ifTrue, ifFalse fhe.Handle) (fhe.Handle, error) {
	return c.eval(ctx, evalRequest{Op: "select", Operands: []fhe.Handle{cond, ifTrue, ifFalse}})
}

// Zero returns a handle to a freshly encrypted 32-bit zero.
func (c *Client) Zero(ctx context.Context) (fhe.Handle, error) {
	return c.eval(ctx, evalRequest{Op: "zero"})
}

// ConstBool returns a handle to a freshly encrypted boolean constant.
func (c *Client) ConstBool(ctx context.Context, v bool) (fhe.Handle, error) {
	return c.eval(ctx, evalRequest{Op: "const_bool", Value: &v})
}

func (c *Client) eval(ctx context.Context, req evalRequest) (fhe.Handle, error) {
	var resp handleResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/eval", req, &resp); err != nil {
		return fhe.Handle{}, fmt.Errorf("gateway: eval %s: %w", req.Op, err)
	}
	return resp.Handle, nil
}

// ---------------------------------------------------------------------------
// Oracle
// ---------------------------------------------------------------------------

// ImportWithProof admits an externally encrypted value after the
// coprocessor verifies its input attestation.
func (c *Client) ImportWithProof(ctx context.Context, kind fhe.Kind, ciphertext, proof []byte) (fhe.Handle, error) {
	req := importRequest{
		Kind:       kind.String(),
		Ciphertext: ciphertext,
		Proof:      proof,
	}
	var resp handleResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/import", req, &resp); err != nil {
		return fhe.Handle{}, fmt.Errorf("gateway: import: %w", err)
	}
	return resp.Handle, nil
}

// MarkPubliclyRevealable flags handles for later public decryption.
func (c *Client) MarkPubliclyRevealable(ctx context.Context, handles ...fhe.Handle) error {
	if err := c.doRequest(ctx, http.MethodPost, "/v1/reveal", revealRequest{Handles: handles}, nil); err != nil {
		return fmt.Errorf("gateway: mark revealable: %w", err)
	}
	return nil
}

// VerifyPlaintext checks a decryption attestation pairing plaintexts with
// handles position by position.
func (c *Client) VerifyPlaintext(ctx context.Context, handles []fhe.Handle, plaintexts []uint64, proof []byte) error {
	req := verifyRequest{
		Handles:    handles,
		Plaintexts: plaintexts,
		Proof:      proof,
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/verify", req, nil); err != nil {
		return fmt.Errorf("gateway: verify plaintext: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Encryptor / Decrypter
// ---------------------------------------------------------------------------

// Encrypt produces a well-formed external ciphertext with an input
// attestation bound to this gateway key.
func (c *Client) Encrypt(ctx context.Context, kind fhe.Kind, value uint64) ([]byte, []byte, error) {
	req := encryptRequest{
		Kind:  kind.String(),
		Value: value,
	}
	var resp encryptResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/encrypt", req, &resp); err != nil {
		return nil, nil, fmt.Errorf("gateway: encrypt: %w", err)
	}
	return resp.Ciphertext, resp.Proof, nil
}

// Decrypt returns the plaintexts of publicly revealable handles together
// with the oracle attestation that VerifyPlaintext accepts.
func (c *Client) Decrypt(ctx context.Context, handles []fhe.Handle) ([]uint64, []byte, error) {
	var resp decryptResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/decrypt", decryptRequest{Handles: handles}, &resp); err != nil {
		return nil, nil, fmt.Errorf("gateway: decrypt: %w", err)
	}
	if len(resp.Plaintexts) != len(handles) {
		return nil, nil, fmt.Errorf("gateway: decrypt: got %d plaintexts for %d handles", len(resp.Plaintexts), len(handles))
	}
	return resp.Plaintexts, resp.Proof, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// doRequest builds, signs, sends and decodes one API request. out may be
// nil for endpoints whose success response carries no body the caller
// needs.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := checkResponse(resp.StatusCode, respBody); err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError is the coprocessor's error envelope. The code string selects
// the sentinel error callers match on; the message is human detail.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// errorCodes maps coprocessor error codes onto the oracle sentinel errors
// so callers cannot tell a remote coprocessor from the local enclave.
var errorCodes = map[string]error{
	"invalid_attestation": fhe.ErrInvalidAttestation,
	"verification_failed": fhe.ErrVerificationFailed,
	"unknown_handle":      fhe.ErrUnknownHandle,
	"not_revealable":      fhe.ErrNotRevealable,
	"kind_mismatch":       fhe.ErrKindMismatch,
}

// checkResponse maps non-2xx responses to sentinel errors where possible.
func checkResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Code != "" {
		if sentinel, ok := errorCodes[apiErr.Error.Code]; ok {
			if apiErr.Error.Message != "" {
				return fmt.Errorf("%w: %s", sentinel, apiErr.Error.Message)
			}
			return sentinel
		}
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, string(body))
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, string(body))
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, string(body))
	}
}

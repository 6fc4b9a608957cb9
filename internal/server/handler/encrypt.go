package handler

import (
	"log/slog"
	"math"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

// DevHandler serves the development-only encryption helper. Real clients
// encrypt with their own SDK; this endpoint exists so a local deployment
// can be driven end to end with curl. It is registered only when dev
// endpoints are enabled in the server configuration.
type DevHandler struct {
	enc    fhe.Encryptor
	logger *slog.Logger
}

// NewDevHandler creates a DevHandler with the given encryptor and logger.
func NewDevHandler(enc fhe.Encryptor, logger *slog.Logger) *DevHandler {
	return &DevHandler{
		enc:    enc,
		logger: logHandler(logger, "dev"),
	}
}

// encryptRequest selects the plaintext kind and value to encrypt. For
// booleans the value must be 0 or 1.
type encryptRequest struct {
	Kind  string `json:"kind"` // "uint32" or "bool"
	Value uint64 `json:"value"`
}

// encryptResponse carries a ciphertext and input attestation ready for any
// endpoint that imports external ciphertexts.
type encryptResponse struct {
	Ciphertext hexutil.Bytes `json:"ciphertext"`
	Proof      hexutil.Bytes `json:"proof"`
}

// Encrypt produces a well-formed external ciphertext with an input
// attestation.
// POST /api/dev/encrypt
func (h *DevHandler) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req encryptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var kind fhe.Kind
	switch req.Kind {
	case "uint32":
		kind = fhe.KindUint32
		if req.Value > math.MaxUint32 {
			writeError(w, http.StatusBadRequest, "value exceeds uint32 range")
			return
		}
	case "bool":
		kind = fhe.KindBool
		if req.Value > 1 {
			writeError(w, http.StatusBadRequest, "boolean value must be 0 or 1")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "kind must be \"uint32\" or \"bool\"")
		return
	}

	ciphertext, proof, err := h.enc.Encrypt(r.Context(), kind, req.Value)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to encrypt value")
		return
	}

	writeJSON(w, http.StatusOK, encryptResponse{
		Ciphertext: ciphertext,
		Proof:      proof,
	})
}

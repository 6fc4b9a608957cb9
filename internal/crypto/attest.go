package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Attestation domain tags. Every digest is domain-separated so a signature
// produced for one purpose can never be replayed for another.
const (
	TagInput  = "veilmarket/input/v1"  // binds an external ciphertext to its import
	TagReveal = "veilmarket/reveal/v1" // binds decrypted plaintexts to their handles
)

// Attestor signs attestation digests with a secp256k1 key. The oracle side
// uses it to issue import and decryption attestations; verifiers only need
// the address.
type Attestor struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAttestor creates an Attestor from a hex-encoded secp256k1 private key.
func NewAttestor(privateKeyHex string) (*Attestor, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid attestor key: %w", err)
	}
	return &Attestor{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the attestor's private key.
func (a *Attestor) Address() common.Address {
	return a.address
}

// Sign signs a 32-byte digest and returns the 65-byte r||s||v signature
// with v normalized to {27,28}.
func (a *Attestor) Sign(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: signing attestation: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignPersonal signs the Ethereum personal-message digest of msg. Clients
// authenticate API requests with exactly this scheme.
func (a *Attestor) SignPersonal(msg []byte) ([]byte, error) {
	return a.Sign(PersonalDigest(msg))
}

// AttestationDigest computes keccak256(tag || chunks...). The tag keeps
// digests from different attestation purposes disjoint.
func AttestationDigest(tag string, chunks ...[]byte) []byte {
	all := make([][]byte, 0, len(chunks)+1)
	all = append(all, []byte(tag))
	all = append(all, chunks...)
	return ethcrypto.Keccak256(concatBytes(all...))
}

// PersonalDigest computes the Ethereum personal-message digest:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func PersonalDigest(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return ethcrypto.Keccak256(concatBytes([]byte(prefix), msg))
}

// RecoverSigner recovers the address that signed a 32-byte digest. It
// accepts v in {0,1} or {27,28}.
func RecoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	norm := make([]byte, 65)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recovering signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RecoverPersonalSigner recovers the address behind a personal-message
// signature over msg.
func RecoverPersonalSigner(msg, sig []byte) (common.Address, error) {
	return RecoverSigner(PersonalDigest(msg), sig)
}

// VerifySignature reports whether sig over digest was produced by signer.
func VerifySignature(digest, sig []byte, signer common.Address) bool {
	got, err := RecoverSigner(digest, sig)
	if err != nil {
		return false
	}
	return got == signer
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}

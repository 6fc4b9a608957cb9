package fhe

import "context"

// Evaluator performs homomorphic operations on ciphertext handles. Every
// operation allocates a fresh handle for its result and never mutates its
// operands. Implementations reject operands whose kinds do not fit the
// operation.
type Evaluator interface {
	// Add returns a handle to the wrapping 32-bit sum of two encrypted
	// integers.
	Add(ctx context.Context, a, b Handle) (Handle, error)

	// Eq returns an encrypted boolean holding true when the two encrypted
	// booleans agree.
	Eq(ctx context.Context, a, b Handle) (Handle, error)

	// Ne returns an encrypted boolean holding true when the two encrypted
	// booleans differ.
	Ne(ctx context.Context, a, b Handle) (Handle, error)

	// Select returns ifTrue where cond holds true and ifFalse elsewhere,
	// without revealing which branch was taken. Both branches must share
	// a kind.
	Select(ctx context.Context, cond, ifTrue, ifFalse Handle) (Handle, error)

	// Zero returns a handle to a freshly encrypted 32-bit zero.
	Zero(ctx context.Context) (Handle, error)

	// ConstBool returns a handle to a freshly encrypted boolean constant.
	ConstBool(ctx context.Context, v bool) (Handle, error)
}

// Oracle is the trust boundary between plaintext and ciphertext. Imports
// carry an input attestation binding the ciphertext to its submitter;
// decryption results come back as plaintexts plus an oracle attestation
// that VerifyPlaintext checks fail-closed.
type Oracle interface {
	// ImportWithProof admits an externally encrypted value. A proof that
	// does not verify fails with ErrInvalidAttestation and imports
	// nothing.
	ImportWithProof(ctx context.Context, kind Kind, ciphertext, proof []byte) (Handle, error)

	// MarkPubliclyRevealable flags handles whose plaintexts may later be
	// verified against oracle attestations. Marking is idempotent and
	// cannot be undone.
	MarkPubliclyRevealable(ctx context.Context, handles ...Handle) error

	// VerifyPlaintext checks an oracle attestation that plaintexts[i] is
	// the decryption of handles[i] for every position i, in order.
	// Booleans are presented as 0 or 1. Verification is all-or-nothing:
	// any mismatch fails the whole call with ErrVerificationFailed.
	VerifyPlaintext(ctx context.Context, handles []Handle, plaintexts []uint64, proof []byte) error
}

// Coprocessor combines homomorphic evaluation with the oracle boundary.
// The ledger engine depends on exactly this surface.
type Coprocessor interface {
	Evaluator
	Oracle
}

// Encryptor produces well-formed external ciphertexts with input
// attestations, ready for ImportWithProof. Only development deployments
// and tests use it server-side; real clients encrypt with their own SDK.
type Encryptor interface {
	Encrypt(ctx context.Context, kind Kind, value uint64) (ciphertext, proof []byte, err error)
}

// Decrypter decrypts publicly revealable handles, returning plaintexts in
// handle order plus a decryption attestation that VerifyPlaintext accepts.
// Handles never marked revealable fail with ErrNotRevealable.
type Decrypter interface {
	Decrypt(ctx context.Context, handles []Handle) ([]uint64, []byte, error)
}

package fhe

import "errors"

var (
	// ErrInvalidAttestation means an input proof did not verify; the
	// ciphertext was not imported.
	ErrInvalidAttestation = errors.New("invalid input attestation")

	// ErrVerificationFailed means a claimed plaintext/attestation pair did
	// not match the handles it was presented for.
	ErrVerificationFailed = errors.New("plaintext verification failed")

	// ErrUnknownHandle means an operation referenced a handle the
	// coprocessor has never allocated.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrNotRevealable means a plaintext was presented for a handle that
	// was never marked publicly revealable.
	ErrNotRevealable = errors.New("handle not marked revealable")

	// ErrKindMismatch means an operand's kind does not fit the operation.
	ErrKindMismatch = errors.New("operand kind mismatch")
)

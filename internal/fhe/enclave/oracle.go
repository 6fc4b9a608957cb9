package enclave

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	vcrypto "github.com/alanyoungcy/veilmarket/internal/crypto"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	bolt "go.etcd.io/bbolt"
)

// rangeOK reports whether a record's value fits its kind.
func rangeOK(r record) bool {
	switch r.kind {
	case fhe.KindBool:
		return r.value <= 1
	case fhe.KindUint32:
		return r.value <= math.MaxUint32
	default:
		return false
	}
}

// Encrypt produces an external ciphertext plus input attestation for a
// plaintext value, the exact artifact pair ImportWithProof accepts.
func (e *Enclave) Encrypt(ctx context.Context, kind fhe.Kind, value uint64) ([]byte, []byte, error) {
	r := record{kind: kind, value: value}
	if !kind.Valid() || !rangeOK(r) {
		return nil, nil, fmt.Errorf("enclave: encrypt: value %d does not fit %s", value, kind)
	}

	ciphertext, err := e.seal(encodeRecord(r), []byte(vcrypto.TagInput))
	if err != nil {
		return nil, nil, fmt.Errorf("enclave: encrypt: %w", err)
	}

	digest := vcrypto.AttestationDigest(vcrypto.TagInput, []byte{byte(kind)}, ciphertext)
	proof, err := e.attestor.Sign(digest)
	if err != nil {
		return nil, nil, fmt.Errorf("enclave: encrypt: %w", err)
	}
	return ciphertext, proof, nil
}

// ImportWithProof admits an externally encrypted value after checking its
// input attestation. Anything wrong with the proof, the ciphertext or the
// declared kind fails with fhe.ErrInvalidAttestation and imports nothing.
func (e *Enclave) ImportWithProof(ctx context.Context, kind fhe.Kind, ciphertext, proof []byte) (fhe.Handle, error) {
	if !kind.Valid() {
		return fhe.Handle{}, fmt.Errorf("enclave: import: %w", fhe.ErrKindMismatch)
	}

	digest := vcrypto.AttestationDigest(vcrypto.TagInput, []byte{byte(kind)}, ciphertext)
	if !vcrypto.VerifySignature(digest, proof, e.attestor.Address()) {
		return fhe.Handle{}, fmt.Errorf("enclave: import: %w", fhe.ErrInvalidAttestation)
	}

	plain, err := e.open(ciphertext, []byte(vcrypto.TagInput))
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("enclave: import: %w", fhe.ErrInvalidAttestation)
	}
	r, err := decodeRecord(plain)
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("enclave: import: %w", fhe.ErrInvalidAttestation)
	}
	if r.kind != kind || !rangeOK(r) {
		return fhe.Handle{}, fmt.Errorf("enclave: import: %w", fhe.ErrInvalidAttestation)
	}

	h, err := e.alloc(tagImport, r)
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("enclave: import: %w", err)
	}
	return h, nil
}

// MarkPubliclyRevealable flags handles as eligible for decryption.
// Marking an already marked handle is a no-op; unknown handles fail the
// whole call.
func (e *Enclave) MarkPubliclyRevealable(ctx context.Context, handles ...fhe.Handle) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		for _, h := range handles {
			if tx.Bucket(bucketValues).Get(h.Bytes()) == nil {
				return fmt.Errorf("%w: %s", fhe.ErrUnknownHandle, h)
			}
			if err := tx.Bucket(bucketRevealable).Put(h.Bytes(), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enclave: mark revealable: %w", err)
	}
	return nil
}

// Decrypt returns the plaintexts behind revealable handles, in handle
// order, plus a decryption attestation over the whole batch.
func (e *Enclave) Decrypt(ctx context.Context, handles []fhe.Handle) ([]uint64, []byte, error) {
	if len(handles) == 0 {
		return nil, nil, fmt.Errorf("enclave: decrypt: no handles")
	}

	plaintexts := make([]uint64, len(handles))
	err := e.db.View(func(tx *bolt.Tx) error {
		for i, h := range handles {
			if tx.Bucket(bucketRevealable).Get(h.Bytes()) == nil {
				return fmt.Errorf("%w: %s", fhe.ErrNotRevealable, h)
			}
			r, err := e.getRecord(tx, h)
			if err != nil {
				return err
			}
			plaintexts[i] = r.value
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("enclave: decrypt: %w", err)
	}

	proof, err := e.attestor.Sign(revealDigest(handles, plaintexts))
	if err != nil {
		return nil, nil, fmt.Errorf("enclave: decrypt: %w", err)
	}

	e.logger.Debug("enclave: decrypted batch", slog.Int("handles", len(handles)))
	return plaintexts, proof, nil
}

// VerifyPlaintext checks a decryption attestation and the claimed
// plaintexts against stored state. Fails closed: length mismatch, wrong
// order, a bad signature or any value mismatch rejects the whole batch.
func (e *Enclave) VerifyPlaintext(ctx context.Context, handles []fhe.Handle, plaintexts []uint64, proof []byte) error {
	if len(handles) == 0 || len(handles) != len(plaintexts) {
		return fmt.Errorf("enclave: verify: %w: %d handles, %d plaintexts",
			fhe.ErrVerificationFailed, len(handles), len(plaintexts))
	}

	if !vcrypto.VerifySignature(revealDigest(handles, plaintexts), proof, e.attestor.Address()) {
		return fmt.Errorf("enclave: verify: %w", fhe.ErrVerificationFailed)
	}

	err := e.db.View(func(tx *bolt.Tx) error {
		for i, h := range handles {
			if tx.Bucket(bucketRevealable).Get(h.Bytes()) == nil {
				return fmt.Errorf("%w: %s", fhe.ErrNotRevealable, h)
			}
			r, err := e.getRecord(tx, h)
			if err != nil {
				return err
			}
			if r.value != plaintexts[i] {
				return fmt.Errorf("%w: position %d", fhe.ErrVerificationFailed, i)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enclave: verify: %w", err)
	}
	return nil
}

// revealDigest folds (handle, plaintext) pairs, in order, into one
// attestation digest.
func revealDigest(handles []fhe.Handle, plaintexts []uint64) []byte {
	chunks := make([][]byte, 0, 2*len(handles))
	for i, h := range handles {
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, plaintexts[i])
		chunks = append(chunks, h.Bytes(), v)
	}
	return vcrypto.AttestationDigest(vcrypto.TagReveal, chunks...)
}

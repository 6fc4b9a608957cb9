// Package enclave is the in-process coprocessor backend. Plaintexts live
// sealed under ChaCha20-Poly1305 inside a bbolt store; every import and
// decryption carries a secp256k1 attestation from the enclave's attestor
// key, so the verification chain is identical to the one a remote
// coprocessor gateway provides.
package enclave

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"

	vcrypto "github.com/alanyoungcy/veilmarket/internal/crypto"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/chacha20poly1305"
)

// Operation tags folded into handle derivation so every allocation site
// yields a distinct identifier stream.
const (
	tagImport byte = iota + 1
	tagAdd
	tagEq
	tagNe
	tagSelect
	tagZero
	tagConstBool
)

const handleDomain = "veilmarket/handle/v1"

var (
	bucketMeta       = []byte("meta")
	bucketValues     = []byte("values")
	bucketRevealable = []byte("revealable")

	metaSalt     = []byte("salt")
	metaCounter  = []byte("counter")
	metaAttestor = []byte("attestor")
)

// Options configures an enclave store.
type Options struct {
	// Path is the bbolt database file.
	Path string
	// Password feeds the sealing-key derivation; the salt persists in the
	// store so the same password reopens it.
	Password string
	// AttestorKey is the hex-encoded secp256k1 key that signs attestations.
	AttestorKey string
	Logger      *slog.Logger
}

// Enclave implements fhe.Coprocessor, fhe.Encryptor and fhe.Decrypter
// against local sealed storage. bbolt serializes writers, so no extra
// locking is needed here.
type Enclave struct {
	db       *bolt.DB
	aead     cipher.AEAD
	attestor *vcrypto.Attestor
	logger   *slog.Logger
}

// Open opens (or initializes) the enclave store at opts.Path.
func Open(opts Options) (*Enclave, error) {
	if opts.Password == "" {
		return nil, fmt.Errorf("enclave: password must not be empty")
	}
	attestor, err := vcrypto.NewAttestor(opts.AttestorKey)
	if err != nil {
		return nil, fmt.Errorf("enclave: %w", err)
	}

	db, err := bolt.Open(opts.Path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("enclave: open store %s: %w", opts.Path, err)
	}

	var salt []byte
	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketValues); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketRevealable); err != nil {
			return err
		}

		// First open seeds the salt and pins the attestor address; later
		// opens must present the same attestor key.
		salt = append([]byte(nil), meta.Get(metaSalt)...)
		if len(salt) == 0 {
			salt = make([]byte, 16)
			if _, err := rand.Read(salt); err != nil {
				return fmt.Errorf("generating salt: %w", err)
			}
			if err := meta.Put(metaSalt, salt); err != nil {
				return err
			}
			if err := meta.Put(metaAttestor, attestor.Address().Bytes()); err != nil {
				return err
			}
			return nil
		}

		stored := meta.Get(metaAttestor)
		if len(stored) != 0 && common.BytesToAddress(stored) != attestor.Address() {
			return fmt.Errorf("attestor key does not match store (stored %s)",
				common.BytesToAddress(stored).Hex())
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("enclave: init store: %w", err)
	}

	aead, err := chacha20poly1305.New(vcrypto.DeriveSealingKey(opts.Password, salt))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("enclave: sealing cipher: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "enclave"))
	logger.Info("enclave: store ready",
		slog.String("path", opts.Path),
		slog.String("attestor", attestor.Address().Hex()),
	)

	return &Enclave{
		db:       db,
		aead:     aead,
		attestor: attestor,
		logger:   logger,
	}, nil
}

// Close releases the underlying store.
func (e *Enclave) Close() error {
	return e.db.Close()
}

// AttestorAddress returns the address whose signatures this enclave
// issues and accepts.
func (e *Enclave) AttestorAddress() common.Address {
	return e.attestor.Address()
}

// record is a stored plaintext: the kind tag plus the value (booleans as
// 0/1).
type record struct {
	kind  fhe.Kind
	value uint64
}

func encodeRecord(r record) []byte {
	out := make([]byte, 9)
	out[0] = byte(r.kind)
	binary.BigEndian.PutUint64(out[1:], r.value)
	return out
}

func decodeRecord(b []byte) (record, error) {
	if len(b) != 9 {
		return record{}, fmt.Errorf("malformed record of %d bytes", len(b))
	}
	kind := fhe.Kind(b[0])
	if !kind.Valid() {
		return record{}, fmt.Errorf("malformed record kind 0x%02x", b[0])
	}
	return record{kind: kind, value: binary.BigEndian.Uint64(b[1:])}, nil
}

// seal encrypts a record with a fresh nonce, binding it to aad.
func (e *Enclave) seal(plain, aad []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return append(nonce, e.aead.Seal(nil, nonce, plain, aad)...), nil
}

// open reverses seal.
func (e *Enclave) open(sealed, aad []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("sealed blob too short")
	}
	return e.aead.Open(nil, sealed[:ns], sealed[ns:], aad)
}

// nextHandle allocates a fresh handle inside tx by bumping the persisted
// counter and hashing it with the op tag and store salt.
func nextHandle(tx *bolt.Tx, op byte, kind fhe.Kind) (fhe.Handle, error) {
	meta := tx.Bucket(bucketMeta)

	counter := uint64(0)
	if raw := meta.Get(metaCounter); len(raw) == 8 {
		counter = binary.BigEndian.Uint64(raw)
	}
	counter++

	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, counter)
	if err := meta.Put(metaCounter, raw); err != nil {
		return fhe.Handle{}, err
	}

	sum := ethcrypto.Keccak256([]byte(handleDomain), []byte{op}, meta.Get(metaSalt), raw)
	var id [fhe.IdentifierSize]byte
	copy(id[:], sum)
	return fhe.NewHandle(kind, id), nil
}

// putRecord seals and stores a record under its handle.
func (e *Enclave) putRecord(tx *bolt.Tx, h fhe.Handle, r record) error {
	sealed, err := e.seal(encodeRecord(r), h.Bytes())
	if err != nil {
		return err
	}
	return tx.Bucket(bucketValues).Put(h.Bytes(), sealed)
}

// getRecord loads and unseals the record behind a handle. Missing handles
// fail with fhe.ErrUnknownHandle.
func (e *Enclave) getRecord(tx *bolt.Tx, h fhe.Handle) (record, error) {
	sealed := tx.Bucket(bucketValues).Get(h.Bytes())
	if sealed == nil {
		return record{}, fmt.Errorf("%w: %s", fhe.ErrUnknownHandle, h)
	}
	plain, err := e.open(sealed, h.Bytes())
	if err != nil {
		return record{}, fmt.Errorf("unsealing %s: %w", h, err)
	}
	return decodeRecord(plain)
}

// alloc runs one allocation: derive a handle, store the record, return it.
func (e *Enclave) alloc(op byte, r record) (fhe.Handle, error) {
	var h fhe.Handle
	err := e.db.Update(func(tx *bolt.Tx) error {
		var err error
		h, err = nextHandle(tx, op, r.kind)
		if err != nil {
			return err
		}
		return e.putRecord(tx, h, r)
	})
	if err != nil {
		return fhe.Handle{}, err
	}
	return h, nil
}

var (
	_ fhe.Coprocessor = (*Enclave)(nil)
	_ fhe.Encryptor   = (*Enclave)(nil)
	_ fhe.Decrypter   = (*Enclave)(nil)
)

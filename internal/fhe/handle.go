// Package fhe defines the ciphertext handle abstraction and the interfaces
// the ledger uses to talk to a homomorphic-encryption coprocessor. Handles
// are opaque value types; plaintext only ever crosses this boundary through
// the explicit import and verification paths.
package fhe

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind identifies the plaintext type behind a ciphertext handle.
type Kind uint8

const (
	// KindUint32 is an encrypted 32-bit unsigned integer.
	KindUint32 Kind = 0x01
	// KindBool is an encrypted boolean.
	KindBool Kind = 0x02
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUint32:
		return "euint32"
	case KindBool:
		return "ebool"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindUint32 || k == KindBool
}

// IdentifierSize is the byte length of a ciphertext identifier.
const IdentifierSize = 32

// HandleSize is the byte length of the wire form: kind byte plus identifier.
const HandleSize = 1 + IdentifierSize

// Handle is an opaque reference to a ciphertext held by the coprocessor.
// Handles are comparable value types and safe to embed in persistent
// records. The zero Handle refers to no ciphertext at all; IsZero
// distinguishes it from a handle to an encrypted zero, which is a real
// ciphertext with a nonzero identifier.
type Handle struct {
	id   [IdentifierSize]byte
	kind Kind
}

// NewHandle builds a handle from a kind tag and a 32-byte identifier.
func NewHandle(kind Kind, id [IdentifierSize]byte) Handle {
	return Handle{id: id, kind: kind}
}

// Kind returns the plaintext type tag of the handle.
func (h Handle) Kind() Kind { return h.kind }

// Identifier returns the fixed-size ciphertext identifier.
func (h Handle) Identifier() [IdentifierSize]byte { return h.id }

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h == Handle{} }

// Bytes returns the wire form of the handle: one kind byte followed by the
// 32-byte identifier. The zero Handle encodes as HandleSize zero bytes.
func (h Handle) Bytes() []byte {
	b := make([]byte, HandleSize)
	b[0] = byte(h.kind)
	copy(b[1:], h.id[:])
	return b
}

// HandleFromBytes parses the wire form produced by Bytes. All-zero input
// parses back to the zero Handle.
func HandleFromBytes(b []byte) (Handle, error) {
	if len(b) != HandleSize {
		return Handle{}, fmt.Errorf("fhe: handle must be %d bytes, got %d", HandleSize, len(b))
	}
	if bytes.Equal(b, make([]byte, HandleSize)) {
		return Handle{}, nil
	}
	kind := Kind(b[0])
	if !kind.Valid() {
		return Handle{}, fmt.Errorf("fhe: unknown handle kind 0x%02x", b[0])
	}
	var id [IdentifierSize]byte
	copy(id[:], b[1:])
	return Handle{id: id, kind: kind}, nil
}

// String returns the 0x-prefixed hex encoding of the wire form.
func (h Handle) String() string {
	return "0x" + hex.EncodeToString(h.Bytes())
}

// MarshalText implements encoding.TextMarshaler so handles serialize as
// 0x-prefixed hex strings in JSON payloads.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return fmt.Errorf("fhe: decode handle hex: %w", err)
	}
	parsed, err := HandleFromBytes(raw)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

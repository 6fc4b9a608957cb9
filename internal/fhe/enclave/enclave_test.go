package enclave

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Throwaway test key; never fund it.
const testAttestorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestEnclave(t *testing.T) *Enclave {
	t.Helper()
	e, err := Open(Options{
		Path:        filepath.Join(t.TempDir(), "enclave.db"),
		Password:    "test-password",
		AttestorKey: testAttestorKey,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// importUint32 encrypts and imports a value in one step.
func importUint32(t *testing.T, e *Enclave, v uint64) fhe.Handle {
	t.Helper()
	ct, proof, err := e.Encrypt(context.Background(), fhe.KindUint32, v)
	require.NoError(t, err)
	h, err := e.ImportWithProof(context.Background(), fhe.KindUint32, ct, proof)
	require.NoError(t, err)
	return h
}

func importBool(t *testing.T, e *Enclave, v bool) fhe.Handle {
	t.Helper()
	val := uint64(0)
	if v {
		val = 1
	}
	ct, proof, err := e.Encrypt(context.Background(), fhe.KindBool, val)
	require.NoError(t, err)
	h, err := e.ImportWithProof(context.Background(), fhe.KindBool, ct, proof)
	require.NoError(t, err)
	return h
}

// reveal marks and decrypts a single handle.
func reveal(t *testing.T, e *Enclave, h fhe.Handle) uint64 {
	t.Helper()
	require.NoError(t, e.MarkPubliclyRevealable(context.Background(), h))
	vals, _, err := e.Decrypt(context.Background(), []fhe.Handle{h})
	require.NoError(t, err)
	return vals[0]
}

func TestImportRoundTrip(t *testing.T) {
	e := newTestEnclave(t)

	h := importUint32(t, e, 42)
	assert.Equal(t, fhe.KindUint32, h.Kind())
	assert.False(t, h.IsZero())
	assert.Equal(t, uint64(42), reveal(t, e, h))
}

func TestImportRejectsTamperedProof(t *testing.T) {
	e := newTestEnclave(t)
	ctx := context.Background()

	ct, proof, err := e.Encrypt(ctx, fhe.KindUint32, 7)
	require.NoError(t, err)

	bad := make([]byte, len(proof))
	copy(bad, proof)
	bad[10] ^= 0xff
	_, err = e.ImportWithProof(ctx, fhe.KindUint32, ct, bad)
	assert.ErrorIs(t, err, fhe.ErrInvalidAttestation)

	// Kind in the call must match the kind the proof was issued for.
	_, err = e.ImportWithProof(ctx, fhe.KindBool, ct, proof)
	assert.ErrorIs(t, err, fhe.ErrInvalidAttestation)

	// Mangled ciphertext fails even with its own length preserved.
	badCT := make([]byte, len(ct))
	copy(badCT, ct)
	badCT[len(badCT)-1] ^= 0x01
	_, err = e.ImportWithProof(ctx, fhe.KindUint32, badCT, proof)
	assert.ErrorIs(t, err, fhe.ErrInvalidAttestation)
}

func TestAddWrapsAt32Bits(t *testing.T) {
	e := newTestEnclave(t)
	ctx := context.Background()

	a := importUint32(t, e, 3)
	b := importUint32(t, e, 4)
	sum, err := e.Add(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), reveal(t, e, sum))

	big := importUint32(t, e, 0xffffffff)
	one := importUint32(t, e, 1)
	wrapped, err := e.Add(ctx, big, one)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), reveal(t, e, wrapped))
}

func TestCompareAndSelect(t *testing.T) {
	e := newTestEnclave(t)
	ctx := context.Background()

	side := importBool(t, e, true)
	truth, err := e.ConstBool(ctx, true)
	require.NoError(t, err)

	isYes, err := e.Eq(ctx, side, truth)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reveal(t, e, isYes))

	isNo, err := e.Ne(ctx, side, truth)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), reveal(t, e, isNo))

	amount := importUint32(t, e, 25)
	zero, err := e.Zero(ctx)
	require.NoError(t, err)

	forYes, err := e.Select(ctx, isYes, amount, zero)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), reveal(t, e, forYes))

	forNo, err := e.Select(ctx, isNo, amount, zero)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), reveal(t, e, forNo))
}

func TestKindChecks(t *testing.T) {
	e := newTestEnclave(t)
	ctx := context.Background()

	num := importUint32(t, e, 1)
	flag := importBool(t, e, true)

	_, err := e.Add(ctx, num, flag)
	assert.ErrorIs(t, err, fhe.ErrKindMismatch)

	_, err = e.Eq(ctx, num, flag)
	assert.ErrorIs(t, err, fhe.ErrKindMismatch)

	_, err = e.Select(ctx, num, num, num) // condition is not ebool
	assert.ErrorIs(t, err, fhe.ErrKindMismatch)

	_, err = e.Select(ctx, flag, num, flag) // branch kinds differ
	assert.ErrorIs(t, err, fhe.ErrKindMismatch)

	var unknown fhe.Handle
	_, err = e.Add(ctx, num, unknown)
	assert.ErrorIs(t, err, fhe.ErrUnknownHandle)
}

func TestMarkRevealableIdempotent(t *testing.T) {
	e := newTestEnclave(t)
	ctx := context.Background()

	h := importUint32(t, e, 5)
	require.NoError(t, e.MarkPubliclyRevealable(ctx, h))
	require.NoError(t, e.MarkPubliclyRevealable(ctx, h))

	var unknown fhe.Handle
	err := e.MarkPubliclyRevealable(ctx, unknown)
	assert.ErrorIs(t, err, fhe.ErrUnknownHandle)
}

func TestDecryptRequiresMarking(t *testing.T) {
	e := newTestEnclave(t)
	ctx := context.Background()

	h := importUint32(t, e, 9)
	_, _, err := e.Decrypt(ctx, []fhe.Handle{h})
	assert.ErrorIs(t, err, fhe.ErrNotRevealable)
}

func TestVerifyPlaintextFailsClosed(t *testing.T) {
	e := newTestEnclave(t)
	ctx := context.Background()

	a := importUint32(t, e, 10)
	b := importUint32(t, e, 20)
	require.NoError(t, e.MarkPubliclyRevealable(ctx, a, b))

	vals, proof, err := e.Decrypt(ctx, []fhe.Handle{a, b})
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 20}, vals)

	// Honest verification passes, and is repeatable at this layer.
	require.NoError(t, e.VerifyPlaintext(ctx, []fhe.Handle{a, b}, vals, proof))
	require.NoError(t, e.VerifyPlaintext(ctx, []fhe.Handle{a, b}, vals, proof))

	// Wrong value.
	err = e.VerifyPlaintext(ctx, []fhe.Handle{a, b}, []uint64{10, 21}, proof)
	assert.ErrorIs(t, err, fhe.ErrVerificationFailed)

	// Reordered pairs do not match the attested order.
	err = e.VerifyPlaintext(ctx, []fhe.Handle{b, a}, []uint64{20, 10}, proof)
	assert.ErrorIs(t, err, fhe.ErrVerificationFailed)

	// Length mismatch.
	err = e.VerifyPlaintext(ctx, []fhe.Handle{a, b}, []uint64{10}, proof)
	assert.ErrorIs(t, err, fhe.ErrVerificationFailed)

	// Garbage proof.
	err = e.VerifyPlaintext(ctx, []fhe.Handle{a, b}, vals, []byte("nope"))
	assert.ErrorIs(t, err, fhe.ErrVerificationFailed)

	// A handle that was never marked revealable.
	c := importUint32(t, e, 30)
	err = e.VerifyPlaintext(ctx, []fhe.Handle{c}, []uint64{30}, proof)
	assert.ErrorIs(t, err, fhe.ErrNotRevealable)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "enclave.db")
	ctx := context.Background()

	e, err := Open(Options{Path: path, Password: "pw", AttestorKey: testAttestorKey})
	require.NoError(t, err)
	h := importUint32(t, e, 77)
	require.NoError(t, e.MarkPubliclyRevealable(ctx, h))
	require.NoError(t, e.Close())

	// Same password: the stored ciphertexts stay readable.
	e2, err := Open(Options{Path: path, Password: "pw", AttestorKey: testAttestorKey})
	require.NoError(t, err)
	defer e2.Close()

	vals, _, err := e2.Decrypt(ctx, []fhe.Handle{h})
	require.NoError(t, err)
	assert.Equal(t, uint64(77), vals[0])

	// A different attestor key is refused outright.
	require.NoError(t, e2.Close())
	otherKey := "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a"
	_, err = Open(Options{Path: path, Password: "pw", AttestorKey: otherKey})
	assert.Error(t, err)
}

func TestWrongPasswordCannotUnseal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "enclave.db")
	ctx := context.Background()

	e, err := Open(Options{Path: path, Password: "right", AttestorKey: testAttestorKey})
	require.NoError(t, err)
	h := importUint32(t, e, 5)
	require.NoError(t, e.MarkPubliclyRevealable(ctx, h))
	require.NoError(t, e.Close())

	e2, err := Open(Options{Path: path, Password: "wrong", AttestorKey: testAttestorKey})
	require.NoError(t, err)
	defer e2.Close()

	_, _, err = e2.Decrypt(ctx, []fhe.Handle{h})
	assert.Error(t, err)
}

func TestHandlesAreDistinct(t *testing.T) {
	e := newTestEnclave(t)
	ctx := context.Background()

	z1, err := e.Zero(ctx)
	require.NoError(t, err)
	z2, err := e.Zero(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, z1, z2)
	assert.Equal(t, uint64(0), reveal(t, e, z1))
	assert.Equal(t, uint64(0), reveal(t, e, z2))
}

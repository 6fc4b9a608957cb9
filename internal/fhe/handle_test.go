package fhe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testID(fill byte) [IdentifierSize]byte {
	var id [IdentifierSize]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

func TestHandleBytesRoundTrip(t *testing.T) {
	h := NewHandle(KindUint32, testID(0xab))

	got, err := HandleFromBytes(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, KindUint32, got.Kind())
	assert.Equal(t, testID(0xab), got.Identifier())
}

func TestHandleTextRoundTrip(t *testing.T) {
	h := NewHandle(KindBool, testID(0x7f))

	text, err := h.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0x", string(text[:2]))

	var back Handle
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, h, back)
}

func TestHandleJSON(t *testing.T) {
	type payload struct {
		H Handle `json:"h"`
	}

	in := payload{H: NewHandle(KindUint32, testID(0x01))}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in.H, out.H)
}

func TestZeroHandle(t *testing.T) {
	var zero Handle
	assert.True(t, zero.IsZero())
	assert.False(t, NewHandle(KindBool, testID(0)).IsZero())

	// The all-zero wire form round-trips to the zero Handle.
	got, err := HandleFromBytes(zero.Bytes())
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestHandleFromBytesRejectsBadInput(t *testing.T) {
	_, err := HandleFromBytes(make([]byte, HandleSize-1))
	assert.Error(t, err)

	bad := make([]byte, HandleSize)
	bad[0] = 0xff // unknown kind
	bad[1] = 0x01
	_, err = HandleFromBytes(bad)
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "euint32", KindUint32.String())
	assert.Equal(t, "ebool", KindBool.String())
	assert.True(t, KindUint32.Valid())
	assert.False(t, Kind(0x30).Valid())
}

package merkle

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSubjectKey(b byte) []byte {
	k := make([]byte, SubjectKeySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestLedger_Merkle_Leaf_EncodeV1_Layout(t *testing.T) {
	t.Parallel()

	leaf, err := NewLeaf(testSubjectKey(0xaa), 7, 100, 3, nil)
	require.NoError(t, err)

	enc := leaf.EncodeV1()
	require.Len(t, enc, 56)

	require.True(t, bytes.Equal(enc[:32], testSubjectKey(0xaa)))
	require.Equal(t, uint64(7), binary.BigEndian.Uint64(enc[32:40]))
	require.Equal(t, uint64(100), binary.BigEndian.Uint64(enc[40:48]))
	require.Equal(t, uint64(3), binary.BigEndian.Uint64(enc[48:56]))
}

func TestLedger_Merkle_Leaf_EncodeV2_AppendsSalt(t *testing.T) {
	t.Parallel()

	salt := bytes.Repeat([]byte{0x5a}, SaltSize)
	leaf, err := NewLeaf(testSubjectKey(0x01), 9, 50, 0, salt)
	require.NoError(t, err)

	enc := leaf.EncodeV2()
	require.Len(t, enc, 72)
	require.Equal(t, leaf.EncodeV1(), enc[:56])
	require.Equal(t, salt, enc[56:])

	// Same fields, different salt: different leaf hash.
	other, err := NewLeaf(testSubjectKey(0x01), 9, 50, 0, bytes.Repeat([]byte{0x5b}, SaltSize))
	require.NoError(t, err)
	h1, err := leaf.Hash(VersionV2)
	require.NoError(t, err)
	h2, err := other.Hash(VersionV2)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestLedger_Merkle_Leaf_FieldWidths(t *testing.T) {
	t.Parallel()

	t.Run("short subject key", func(t *testing.T) {
		t.Parallel()
		_, err := NewLeaf(make([]byte, 31), 1, 1, 0, nil)
		require.ErrorIs(t, err, ErrInvalidFieldWidth)
	})

	t.Run("long subject key", func(t *testing.T) {
		t.Parallel()
		_, err := NewLeaf(make([]byte, 33), 1, 1, 0, nil)
		require.ErrorIs(t, err, ErrInvalidFieldWidth)
	})

	t.Run("wrong salt size", func(t *testing.T) {
		t.Parallel()
		_, err := NewLeaf(testSubjectKey(0), 1, 1, 0, make([]byte, 32))
		require.ErrorIs(t, err, ErrInvalidFieldWidth)
	})

	t.Run("unknown version", func(t *testing.T) {
		t.Parallel()
		leaf, err := NewLeaf(testSubjectKey(0), 1, 1, 0, nil)
		require.NoError(t, err)
		_, err = leaf.Encode(3)
		require.Error(t, err)
	})
}

package merkle

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Leaf encoding schema versions.
const (
	VersionV1 = 1
	VersionV2 = 2
)

// Fixed field widths of the canonical leaf byte string.
const (
	SubjectKeySize = 32
	SaltSize       = 16

	leafSizeV1 = SubjectKeySize + 8 + 8 + 8
	leafSizeV2 = leafSizeV1 + SaltSize
)

// ErrInvalidFieldWidth is returned when a leaf field does not fit its fixed
// width. The caller must abort the whole epoch build; a truncated field
// would commit to the wrong value.
var ErrInvalidFieldWidth = errors.New("leaf field has invalid width")

// Leaf is one subject's allocation inside an epoch, in canonical form.
// SubjectKey is a wallet public key for V1 epochs and an opaque 32-byte
// user key for V2 epochs. Salt is only set for V2.
type Leaf struct {
	SubjectKey [SubjectKeySize]byte
	Epoch      uint64
	Amount     uint64
	Index      uint64
	Salt       [SaltSize]byte
}

// EncodeV1 builds the canonical V1 byte string:
//
//	subjectKey (32) || epoch (8, BE) || amount (8, BE) || index (8, BE)
func (l Leaf) EncodeV1() []byte {
	buf := make([]byte, 0, leafSizeV1)
	buf = append(buf, l.SubjectKey[:]...)
	buf = binary.BigEndian.AppendUint64(buf, l.Epoch)
	buf = binary.BigEndian.AppendUint64(buf, l.Amount)
	buf = binary.BigEndian.AppendUint64(buf, l.Index)
	return buf
}

// EncodeV2 builds the canonical V2 byte string: the V1 layout with the
// 16-byte per-leaf salt appended. The salt defeats pre-image enumeration by
// outsiders who know only the public allocation amounts.
func (l Leaf) EncodeV2() []byte {
	buf := make([]byte, 0, leafSizeV2)
	buf = append(buf, l.EncodeV1()...)
	buf = append(buf, l.Salt[:]...)
	return buf
}

// Encode returns the canonical bytes for the given schema version.
func (l Leaf) Encode(version int) ([]byte, error) {
	switch version {
	case VersionV1:
		return l.EncodeV1(), nil
	case VersionV2:
		return l.EncodeV2(), nil
	default:
		return nil, fmt.Errorf("unknown leaf schema version %d", version)
	}
}

// Hash encodes the leaf for the given version and hashes it.
func (l Leaf) Hash(version int) (Hash, error) {
	b, err := l.Encode(version)
	if err != nil {
		return Hash{}, err
	}
	return Keccak256(b), nil
}

// NewLeaf validates field widths and assembles a Leaf. subjectKey must be
// exactly 32 bytes; salt must be nil (V1) or exactly 16 bytes (V2).
func NewLeaf(subjectKey []byte, epoch, amount, index uint64, salt []byte) (Leaf, error) {
	var l Leaf
	if len(subjectKey) != SubjectKeySize {
		return l, fmt.Errorf("%w: subject key is %d bytes, want %d", ErrInvalidFieldWidth, len(subjectKey), SubjectKeySize)
	}
	if salt != nil && len(salt) != SaltSize {
		return l, fmt.Errorf("%w: salt is %d bytes, want %d", ErrInvalidFieldWidth, len(salt), SaltSize)
	}
	copy(l.SubjectKey[:], subjectKey)
	copy(l.Salt[:], salt)
	l.Epoch = epoch
	l.Amount = amount
	l.Index = index
	return l, nil
}

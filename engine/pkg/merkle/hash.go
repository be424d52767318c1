// Package merkle implements the commitment primitives for reward epochs:
// the Keccak-256 hash, canonical leaf encoding, and the binary merkle tree
// whose roots are published to the on-chain claim program.
//
// Every byte here is part of the commitment. The hash function, field
// widths, pairing order, and odd-level padding must match the on-chain
// verifier exactly; a deviation does not fail fast, it silently breaks
// every proof. Conformance is pinned by fixed test vectors.
package merkle

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashSize is the digest size of the commitment hash in bytes.
const HashSize = 32

// Hash is a Keccak-256 digest.
type Hash [HashSize]byte

// Keccak256 hashes the concatenation of the given byte slices using legacy
// Keccak-256 (the pre-NIST padding used by solana_program::keccak::hashv),
// not SHA3-256.
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// ParentHash computes an interior node: keccak256(left || right). Operand
// order is fixed by the leaf's index parity at each level and must never be
// normalized or sorted.
func ParentHash(left, right Hash) Hash {
	return Keccak256(left[:], right[:])
}

// Hex returns the lowercase hex encoding of the hash, without a 0x prefix,
// matching the root format stored per epoch.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// HashFromHex parses a 64-character hex string (optionally 0x-prefixed).
func HashFromHex(s string) (Hash, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	var h Hash
	if len(s) != 2*HashSize {
		return h, fmt.Errorf("expected %d hex chars, got %d", 2*HashSize, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("failed to decode hash hex: %w", err)
	}
	return h, nil
}

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package kimcrypto implements Kimberlite's cryptographic chain: the
// collision-resistant chain hash binding each record to its predecessor, a
// fast non-cryptographic content hash for dedup/fingerprinting paths, the
// three-level envelope-encryption key hierarchy, and signatures over audit
// entries.
package kimcrypto

import (
	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/sha3"
)

// HashSize is the width in bytes of a ChainHash value.
const HashSize = 32

// Hash is a chain hash value: the output of ChainHash, or the all-zero
// genesis sentinel.
type Hash [HashSize]byte

// ZeroHash is the genesis prev_hash: the chain hash of "no predecessor".
var ZeroHash Hash

// IsZero reports whether h is the genesis sentinel.
func (h Hash) IsZero() bool { return h == ZeroHash }

// ChainHash computes the collision-resistant hash binding a record to its
// predecessor: chain_hash(record) = Keccak256(prevHash || body). Keccak-256
// (via golang.org/x/crypto/sha3) is used rather than a generic SHA-3 instance
// because it operates over the exact (prevHash, serialized_body) tuple
// spec.md §3 requires, with no domain-separation surprises.
func ChainHash(prevHash Hash, body []byte) Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(prevHash[:])
	h.Write(body)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// FastHash computes a fast, non-cryptographic content hash used for
// in-memory dedup and fingerprinting (e.g. the simulation's MessageMutator
// rule matching) — never for the tamper-evidence chain itself.
func FastHash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

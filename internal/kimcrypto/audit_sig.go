// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kimcrypto

import (
	"crypto/rand"
	"fmt"

	bls "github.com/protolambda/bls12-381-util"
)

// Signature and PublicKey alias the BLS12-381 types so callers outside
// this package (internal/runtime's audit chain) can hold a signer's
// output without importing protolambda/bls12-381-util directly.
type Signature = bls.Signature
type PublicKey = bls.Pubkey

// AuditSigner signs audit-log entries with BLS12-381, the same curve
// go-ethereum's beacon packages use for validator signatures. BLS keeps
// aggregate verification cheap if/when the audit chain grows a multi-signer
// witnessing scheme; a single signer is sufficient for the core today.
type AuditSigner struct {
	secret *bls.SecretKey
	public *PublicKey
}

// NewAuditSigner generates a fresh signing keypair.
func NewAuditSigner() (*AuditSigner, error) {
	var sk bls.SecretKey
	if err := sk.Deserialize(randScalar()); err != nil {
		return nil, fmt.Errorf("kimcrypto: generate audit signer: %w", err)
	}
	pk, err := bls.SkToPk(&sk)
	if err != nil {
		return nil, fmt.Errorf("kimcrypto: derive audit public key: %w", err)
	}
	return &AuditSigner{secret: &sk, public: pk}, nil
}

// Sign signs the chain hash of an audit entry.
func (a *AuditSigner) Sign(entryHash Hash) *Signature {
	return bls.Sign(a.secret, entryHash[:])
}

// PublicKey returns the signer's public key for verification.
func (a *AuditSigner) PublicKey() *PublicKey { return a.public }

// VerifyAudit verifies a signature produced by AuditSigner.Sign.
func VerifyAudit(pub *PublicKey, entryHash Hash, sig *Signature) bool {
	return bls.Verify(pub, entryHash[:], sig)
}

func randScalar() *[32]byte {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("kimcrypto: rand.Read failed: " + err.Error())
	}
	return &b
}

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kimcrypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the width in bytes of every key in the hierarchy.
const KeySize = chacha20poly1305.KeySize

// MasterKey is the root of the three-level key hierarchy. It never
// encrypts data directly; it only derives key-encryption keys.
type MasterKey [KeySize]byte

// KEK is a key-encryption key derived from a MasterKey and scoped to a
// tenant. It never encrypts data directly; it only derives data-encryption
// keys.
type KEK [KeySize]byte

// DEK is a data-encryption key derived from a KEK and scoped to a stream.
// DEKs are the only keys that seal/open payload bytes.
type DEK [KeySize]byte

// DeriveKEK derives a tenant-scoped key-encryption key from the master key
// via HKDF-SHA256, with the tenant id as the HKDF "info" parameter so
// distinct tenants never share a KEK even under master-key reuse.
func DeriveKEK(master MasterKey, tenantInfo []byte) (KEK, error) {
	var out KEK
	r := hkdf.New(sha256New, master[:], nil, append([]byte("kimberlite-kek:"), tenantInfo...))
	if _, err := readFull(r, out[:]); err != nil {
		return KEK{}, fmt.Errorf("kimcrypto: derive KEK: %w", err)
	}
	return out, nil
}

// DeriveDEK derives a stream-scoped data-encryption key from a KEK via
// HKDF-SHA256, with the stream id as the HKDF "info" parameter.
func DeriveDEK(kek KEK, streamInfo []byte) (DEK, error) {
	var out DEK
	r := hkdf.New(sha256New, kek[:], nil, append([]byte("kimberlite-dek:"), streamInfo...))
	if _, err := readFull(r, out[:]); err != nil {
		return DEK{}, fmt.Errorf("kimcrypto: derive DEK: %w", err)
	}
	return out, nil
}

// Seal encrypts plaintext under the DEK using ChaCha20-Poly1305 AEAD,
// binding additionalData (typically the record header) so a sealed payload
// cannot be replayed against a different header. The nonce is generated
// fresh and prepended to the ciphertext.
func Seal(dek DEK, additionalData, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(dek[:])
	if err != nil {
		return nil, fmt.Errorf("kimcrypto: new AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("kimcrypto: nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, additionalData)
	return append(nonce, sealed...), nil
}

// Open decrypts a value produced by Seal, returning ErrEnvelope on any
// authentication failure (tampering, wrong key, or truncation).
func Open(dek DEK, additionalData, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(dek[:])
	if err != nil {
		return nil, fmt.Errorf("kimcrypto: new AEAD: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrEnvelope
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, additionalData)
	if err != nil {
		return nil, ErrEnvelope
	}
	return pt, nil
}

// ErrEnvelope is returned when an envelope fails to authenticate.
var ErrEnvelope = fmt.Errorf("kimcrypto: envelope authentication failed")

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package runtime

import (
	"encoding/binary"
	"sync"

	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// AuditEntry is the hash-chained, signed envelope the Runtime builds around
// a kernel-produced AuditAction before handing it to Storage. The bare
// kimtypes.AuditAction carries neither a chain hash nor a signature; this is
// where spec.md §3's "AuditAction ... hash-chained and signed" and §6's
// "audit files: append-only, hash-chained, signed" are actually satisfied.
type AuditEntry struct {
	Action    kimtypes.AuditAction
	PrevHash  kimcrypto.Hash
	ChainHash kimcrypto.Hash
	Signature *kimcrypto.Signature
}

// auditChain threads the running tail hash and signer across concurrent
// ExecuteEffect calls. ExecuteBatches fans independent streams' effects out
// concurrently (spec.md §5), but the audit chain is a single sequence —
// without its own lock, two goroutines could read the same tail hash and
// produce two entries that both claim to follow it.
type auditChain struct {
	mu     sync.Mutex
	signer *kimcrypto.AuditSigner
	tail   kimcrypto.Hash
}

func newAuditChain(signer *kimcrypto.AuditSigner) *auditChain {
	return &auditChain{signer: signer}
}

// seal appends action to the chain under lock, returning the entry to
// persist. Appends are serialized here rather than left to the caller,
// since chain integrity requires a strict total append order regardless of
// how many goroutines are executing effects concurrently.
func (c *auditChain) seal(action kimtypes.AuditAction) AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.tail
	h := kimcrypto.ChainHash(prev, encodeAuditAction(action))
	c.tail = h
	entry := AuditEntry{Action: action, PrevHash: prev, ChainHash: h}
	if c.signer != nil {
		entry.Signature = c.signer.Sign(h)
	}
	return entry
}

// encodeAuditAction canonically encodes the fields an AuditAction's Kind
// actually populates, mirroring internal/segment/record.go's explicit fixed-
// layout body() rather than a reflection-based encoder, so the chain hash
// is stable across Go versions and struct field reordering.
func encodeAuditAction(a kimtypes.AuditAction) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(a.Kind))
	buf = appendUint64(buf, uint64(a.At))
	buf = appendUint64(buf, uint64(a.StreamId))
	buf = appendString(buf, a.Name)
	buf = append(buf, byte(a.DataClass))
	buf = appendBool(buf, a.Placement.Global)
	buf = appendString(buf, string(a.Placement.Region))
	buf = appendUint32(buf, a.Count)
	buf = appendUint64(buf, uint64(a.From))
	buf = appendUint64(buf, uint64(a.TableId))
	buf = appendUint64(buf, uint64(a.IndexId))
	buf = appendUint64(buf, uint64(a.TenantId))
	buf = appendString(buf, a.Reason)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

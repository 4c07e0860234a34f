// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package segment implements Kimberlite's append-only segment storage:
// length-prefixed, chain-linked, CRC-validated records; a sidecar offset
// index; a manifest of sealed segments; rotation, scan-based recovery, and
// optional compaction. File formats follow spec.md §6 bit-for-bit.
package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// RecordKind tags the payload's semantic role.
type RecordKind uint8

const (
	KindData RecordKind = iota
	KindCheckpoint
	KindTombstone
)

func (k RecordKind) valid() bool { return k <= KindTombstone }

// Compression tags how Payload is encoded on disk.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
)

func (c Compression) valid() bool { return c <= CompressionSnappy }

// Encryption tags how Payload is enveloped on disk. EncryptionNone is used
// only for zero-length marker records (AppendCheckpoint); every data record
// a Store appends is sealed (spec.md §1(d), §2).
type Encryption uint8

const (
	EncryptionNone Encryption = iota
	EncryptionChaCha20Poly1305
)

func (e Encryption) valid() bool { return e <= EncryptionChaCha20Poly1305 }

// HeaderSize is the fixed on-disk header width in bytes:
// offset(8) + prev_hash(32) + kind(1) + compression(1) + encryption(1) +
// payload_len(4).
const HeaderSize = 8 + kimcrypto.HashSize + 1 + 1 + 1 + 4

// CRCSize is the width of the trailing CRC32 field.
const CRCSize = 4

// kindOff, compressionOff, and encryptionOff are the fixed byte offsets of
// the single-byte header fields following offset+prev_hash; payloadLenOff
// follows immediately after encryptionOff.
const (
	kindOff        = 8 + kimcrypto.HashSize
	compressionOff = kindOff + 1
	encryptionOff  = compressionOff + 1
	payloadLenOff  = encryptionOff + 1
)

// Record is a single on-disk log entry. Payload holds the sealed
// (ChaCha20-Poly1305) ciphertext whenever Encryption != EncryptionNone; the
// plaintext length is never recorded separately, since AEAD output already
// carries its own fixed-size authentication tag.
type Record struct {
	Offset      kimtypes.Offset
	PrevHash    kimcrypto.Hash
	Kind        RecordKind
	Compression Compression
	Encryption  Encryption
	Payload     []byte
}

// ParseError reports a malformed record on read: insufficient length, CRC
// mismatch, or an out-of-range kind/compression tag.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "segment: parse error: " + e.Reason }

// body returns the header+payload bytes that Serialize hashes into the CRC
// and that ChainHash binds into the chain, i.e. everything except the
// trailing CRC field.
func (r *Record) body() []byte {
	buf := make([]byte, HeaderSize+len(r.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Offset))
	copy(buf[8:8+kimcrypto.HashSize], r.PrevHash[:])
	buf[kindOff] = byte(r.Kind)
	buf[compressionOff] = byte(r.Compression)
	buf[encryptionOff] = byte(r.Encryption)
	binary.LittleEndian.PutUint32(buf[payloadLenOff:HeaderSize], uint32(len(r.Payload)))
	copy(buf[HeaderSize:], r.Payload)
	return buf
}

// Serialize encodes the record to its exact on-disk byte layout, including
// the trailing CRC32 of everything preceding it.
func (r *Record) Serialize() ([]byte, error) {
	if !r.Kind.valid() {
		return nil, &ParseError{Reason: fmt.Sprintf("kind %d out of range", r.Kind)}
	}
	if !r.Compression.valid() {
		return nil, &ParseError{Reason: fmt.Sprintf("compression %d out of range", r.Compression)}
	}
	if !r.Encryption.valid() {
		return nil, &ParseError{Reason: fmt.Sprintf("encryption %d out of range", r.Encryption)}
	}
	body := r.body()
	out := make([]byte, len(body)+CRCSize)
	copy(out, body)
	binary.LittleEndian.PutUint32(out[len(body):], crc32.ChecksumIEEE(body))
	return out, nil
}

// ChainHash computes this record's chain hash, the value the next record's
// PrevHash must equal.
func (r *Record) ChainHash() kimcrypto.Hash {
	return kimcrypto.ChainHash(r.PrevHash, r.body())
}

// ParseRecord decodes a single record from buf, which must contain exactly
// one serialized record (header + payload + CRC, no trailing bytes). Use
// ReadRecord to parse a record out of a larger buffer/stream.
func ParseRecord(buf []byte) (*Record, error) {
	rec, n, err := ReadRecord(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, &ParseError{Reason: "trailing bytes after record"}
	}
	return rec, nil
}

// ReadRecord decodes one record from the start of buf and returns the
// number of bytes consumed, allowing callers to parse a stream of
// back-to-back records without knowing each one's length up front.
func ReadRecord(buf []byte) (*Record, int, error) {
	if len(buf) < HeaderSize+CRCSize {
		return nil, 0, &ParseError{Reason: "buffer shorter than header+crc"}
	}
	payloadLen := binary.LittleEndian.Uint32(buf[payloadLenOff:HeaderSize])
	total := HeaderSize + int(payloadLen) + CRCSize
	if len(buf) < total {
		return nil, 0, &ParseError{Reason: "buffer shorter than declared payload"}
	}
	body := buf[:HeaderSize+int(payloadLen)]
	wantCRC := binary.LittleEndian.Uint32(buf[HeaderSize+int(payloadLen) : total])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, 0, &ParseError{Reason: "crc mismatch"}
	}

	kind := RecordKind(buf[kindOff])
	if !kind.valid() {
		return nil, 0, &ParseError{Reason: fmt.Sprintf("kind %d out of range", kind)}
	}
	compression := Compression(buf[compressionOff])
	if !compression.valid() {
		return nil, 0, &ParseError{Reason: fmt.Sprintf("compression %d out of range", compression)}
	}
	encryption := Encryption(buf[encryptionOff])
	if !encryption.valid() {
		return nil, 0, &ParseError{Reason: fmt.Sprintf("encryption %d out of range", encryption)}
	}

	rec := &Record{
		Offset:      kimtypes.Offset(binary.LittleEndian.Uint64(buf[0:8])),
		Kind:        kind,
		Compression: compression,
		Encryption:  encryption,
	}
	copy(rec.PrevHash[:], buf[8:8+kimcrypto.HashSize])
	// Zero-copy slice into the caller's buffer; callers that retain buf
	// across further mutation must copy.
	rec.Payload = buf[HeaderSize : HeaderSize+int(payloadLen)]
	return rec, total, nil
}

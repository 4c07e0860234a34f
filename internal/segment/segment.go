// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
	"github.com/kimberlitedb/kimberlite/internal/kimio"
	"github.com/kimberlitedb/kimberlite/internal/kimlog"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// Segment is a single append-only (while active) or immutable (while
// sealed) file of chain-linked, CRC-validated records with monotonically
// increasing offsets.
type Segment struct {
	file       kimio.File
	index      *OffsetIndex
	size       int64
	tailHash   kimcrypto.Hash
	baseOffset kimtypes.Offset
	nextOffset kimtypes.Offset
	sealed     bool
	log        kimlog.Logger
}

// newSegment wraps an already-open file as a fresh, empty active segment
// starting at baseOffset, chained from prevTail (ZeroHash for genesis).
func newSegment(file kimio.File, baseOffset kimtypes.Offset, prevTail kimcrypto.Hash) *Segment {
	return &Segment{
		file:       file,
		index:      NewOffsetIndex(),
		tailHash:   prevTail,
		baseOffset: baseOffset,
		nextOffset: baseOffset,
		log:        kimlog.Root(),
	}
}

// recordAAD binds a sealed payload to the position and predecessor it will
// be stored at, so a sealed record replayed at a different offset or after
// a different predecessor fails to authenticate. It deliberately excludes
// payload_len, which is only known after sealing determines the ciphertext
// length — a chicken-and-egg the AEAD's own tag already guards against.
func recordAAD(offset kimtypes.Offset, prevHash kimcrypto.Hash) []byte {
	aad := make([]byte, 8+kimcrypto.HashSize)
	binary.LittleEndian.PutUint64(aad[0:8], uint64(offset))
	copy(aad[8:], prevHash[:])
	return aad
}

// AppendBatch seals each event under dek (ChaCha20-Poly1305, spec.md §1(d))
// and appends one record per event, chaining each to the previous record's
// hash, and returns the offset following the last event appended. It is not
// safe to call AppendBatch concurrently with itself or with Rotate on the
// same Segment; the Store serializes per-stream writers (spec.md §5).
func (s *Segment) AppendBatch(events [][]byte, dek kimcrypto.DEK) (kimtypes.Offset, error) {
	if s.sealed {
		return 0, fmt.Errorf("segment: append to sealed segment")
	}
	for _, payload := range events {
		sealed, err := kimcrypto.Seal(dek, recordAAD(s.nextOffset, s.tailHash), payload)
		if err != nil {
			return 0, fmt.Errorf("segment: seal payload at offset %d: %w", s.nextOffset, err)
		}
		rec := &Record{
			Offset:     s.nextOffset,
			PrevHash:   s.tailHash,
			Kind:       KindData,
			Encryption: EncryptionChaCha20Poly1305,
			Payload:    sealed,
		}
		buf, err := rec.Serialize()
		if err != nil {
			return 0, err
		}
		pos, err := s.file.Append(buf)
		if err != nil {
			return 0, fmt.Errorf("segment: append record at offset %d: %w", rec.Offset, err)
		}
		s.index.Append(pos)
		s.tailHash = rec.ChainHash()
		s.nextOffset = s.nextOffset.Add(1)
		s.size = pos + int64(len(buf))
	}
	return s.nextOffset, nil
}

// AppendCheckpoint appends a zero-length Checkpoint-kind record (spec.md's
// supplemented canary-record feature). Nothing in the store, compaction or
// the scrubber calls it; passes still scan from the segment's start.
func (s *Segment) AppendCheckpoint() error {
	rec := &Record{Offset: s.nextOffset, PrevHash: s.tailHash, Kind: KindCheckpoint}
	buf, err := rec.Serialize()
	if err != nil {
		return err
	}
	pos, err := s.file.Append(buf)
	if err != nil {
		return fmt.Errorf("segment: append checkpoint: %w", err)
	}
	s.index.Append(pos)
	s.tailHash = rec.ChainHash()
	s.nextOffset = s.nextOffset.Add(1)
	s.size = pos + int64(len(buf))
	return nil
}

// Fsync flushes the underlying file.
func (s *Segment) Fsync() error { return s.file.Fsync() }

// Size returns the segment's current byte length.
func (s *Segment) Size() int64 { return s.size }

// BaseOffset returns the first kimtypes.Offset stored in this segment.
func (s *Segment) BaseOffset() kimtypes.Offset { return s.baseOffset }

// NextOffset returns the offset that the next appended record will receive.
func (s *Segment) NextOffset() kimtypes.Offset { return s.nextOffset }

// TailHash returns the chain hash of the last record written, the value
// the next segment (or the next record in this one) must chain from.
func (s *Segment) TailHash() kimcrypto.Hash { return s.tailHash }

// RecordCount returns the number of records appended so far.
func (s *Segment) RecordCount() int { return s.index.Len() }

// ReadRange reads records with logical index [from, from+maxCount) — index
// here means position within the segment's own record sequence, not the
// stream-wide kimtypes.Offset — respecting maxBytes as a soft cap: at least
// one record is always returned if one exists, even if it alone exceeds
// maxBytes.
func (s *Segment) ReadRange(from int, maxCount int, maxBytes int) ([]*Record, error) {
	var out []*Record
	used := 0
	for i := from; i < s.index.Len() && len(out) < maxCount; i++ {
		pos, ok := s.index.At(i)
		if !ok {
			break
		}
		rec, _, err := s.readAt(pos)
		if err != nil {
			return out, fmt.Errorf("%w: record at index %d", ErrCorrupted, i)
		}
		out = append(out, rec)
		used += HeaderSize + len(rec.Payload) + CRCSize
		if used >= maxBytes && len(out) > 0 {
			break
		}
	}
	return out, nil
}

// readAt reads and parses one record whose header begins at byte offset
// pos. It reads the header first to learn the payload length, then reads
// the full record.
func (s *Segment) readAt(pos int64) (*Record, int, error) {
	head := make([]byte, HeaderSize)
	if _, err := s.file.ReadAt(head, pos); err != nil {
		return nil, 0, fmt.Errorf("segment: read header at %d: %w", pos, err)
	}
	payloadLen := headerPayloadLen(head)
	total := HeaderSize + payloadLen + CRCSize
	buf := make([]byte, total)
	if _, err := s.file.ReadAt(buf, pos); err != nil {
		return nil, 0, fmt.Errorf("segment: read record at %d: %w", pos, err)
	}
	return ReadRecord(buf)
}

func headerPayloadLen(head []byte) int {
	if len(head) < HeaderSize {
		return 0
	}
	return int(le32(head[payloadLenOff:HeaderSize]))
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ErrCorrupted is returned when a read encounters a CRC or chain-hash
// mismatch in the middle of a segment; the caller must trigger repair
// (spec.md §4.2, §7).
var ErrCorrupted = fmt.Errorf("segment: corrupted record")

// Close closes the underlying file handle.
func (s *Segment) Close() error { return s.file.Close() }

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// indexMagic is the 4-byte magic prefixing every offset-index file.
var indexMagic = [4]byte{'V', 'D', 'X', 'I'}

const indexVersion = 0x01

// indexHeaderSize is magic(4) + version(1) + reserved(3) + count(8).
const indexHeaderSize = 4 + 1 + 3 + 8

// OffsetIndex is the sidecar mapping logical record offset (by position in
// the index, not by kimtypes.Offset value) to physical byte position within
// a segment. It is a dense array: entry i is the physical position of the
// i-th record appended to the segment.
type OffsetIndex struct {
	positions []int64
}

// NewOffsetIndex returns an empty index.
func NewOffsetIndex() *OffsetIndex { return &OffsetIndex{} }

// Append records the physical position of the next record.
func (idx *OffsetIndex) Append(pos int64) { idx.positions = append(idx.positions, pos) }

// Len returns the number of indexed records.
func (idx *OffsetIndex) Len() int { return len(idx.positions) }

// At returns the physical position of the i-th record.
func (idx *OffsetIndex) At(i int) (int64, bool) {
	if i < 0 || i >= len(idx.positions) {
		return 0, false
	}
	return idx.positions[i], true
}

// Serialize encodes the index to its exact on-disk layout:
// magic | version | reserved[3] | count:u64 LE | positions:[count]u64 LE | crc32.
func (idx *OffsetIndex) Serialize() []byte {
	n := len(idx.positions)
	buf := make([]byte, indexHeaderSize+n*8+CRCSize)
	copy(buf[0:4], indexMagic[:])
	buf[4] = indexVersion
	binary.LittleEndian.PutUint64(buf[8:16], uint64(n))
	for i, pos := range idx.positions {
		binary.LittleEndian.PutUint64(buf[indexHeaderSize+i*8:indexHeaderSize+i*8+8], uint64(pos))
	}
	body := buf[:indexHeaderSize+n*8]
	binary.LittleEndian.PutUint32(buf[indexHeaderSize+n*8:], crc32.ChecksumIEEE(body))
	return buf
}

// ParseOffsetIndex decodes an index file. It fails closed: any header,
// length, or CRC mismatch is reported so the caller falls back to a
// segment scan (spec.md §4.2).
func ParseOffsetIndex(buf []byte) (*OffsetIndex, error) {
	if len(buf) < indexHeaderSize+CRCSize {
		return nil, &ParseError{Reason: "index shorter than header+crc"}
	}
	if [4]byte(buf[0:4]) != indexMagic {
		return nil, &ParseError{Reason: "index bad magic"}
	}
	if buf[4] != indexVersion {
		return nil, &ParseError{Reason: fmt.Sprintf("index unsupported version %d", buf[4])}
	}
	count := binary.LittleEndian.Uint64(buf[8:16])
	want := indexHeaderSize + int(count)*8 + CRCSize
	if len(buf) != want {
		return nil, &ParseError{Reason: "index length does not match count"}
	}
	body := buf[:indexHeaderSize+int(count)*8]
	gotCRC := binary.LittleEndian.Uint32(buf[indexHeaderSize+int(count)*8:])
	if crc32.ChecksumIEEE(body) != gotCRC {
		return nil, &ParseError{Reason: "index crc mismatch"}
	}
	idx := &OffsetIndex{positions: make([]int64, count)}
	for i := range idx.positions {
		off := indexHeaderSize + i*8
		idx.positions[i] = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	}
	return idx, nil
}

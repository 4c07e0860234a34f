// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package segment

import (
	"fmt"

	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
	"github.com/kimberlitedb/kimberlite/internal/kimio"
	"github.com/kimberlitedb/kimberlite/internal/kimlog"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// RecoveryEvent describes a truncation performed during a scan-based
// recovery, so the caller can log it as spec.md §4.2/§7 require.
type RecoveryEvent struct {
	// GoodRecords is the number of records kept.
	GoodRecords int
	// TruncatedAt is the byte offset recovery stopped at (the first bad
	// record's header position, or the file size if none were bad).
	TruncatedAt int64
	// Truncated is true if one or more trailing bytes were discarded.
	Truncated bool
}

// RecoverSegment loads an active segment's index. If a valid index file is
// present at indexPath, it is trusted. Otherwise (or if it fails to parse)
// the segment is scanned end-to-end from genesisChain: each record's CRC
// and chain hash are checked in order, and the first invalid record is
// treated as a truncation point — the log is truncated to the last good
// record and this is reported as a RecoveryEvent (spec.md §4.2).
func RecoverSegment(file kimio.File, indexPath string, baseOffset kimtypes.Offset, genesisChain kimcrypto.Hash, readIndexFile func(string) ([]byte, bool)) (*Segment, *RecoveryEvent, error) {
	size, err := file.Size()
	if err != nil {
		return nil, nil, fmt.Errorf("segment: recover size: %w", err)
	}

	if raw, ok := readIndexFile(indexPath); ok {
		if idx, err := ParseOffsetIndex(raw); err == nil {
			seg := &Segment{
				file:       file,
				index:      idx,
				size:       size,
				baseOffset: baseOffset,
				nextOffset: baseOffset.Add(uint64(idx.Len())),
				log:        kimlog.Root(),
			}
			if tail, err := seg.tailFromIndex(); err == nil {
				seg.tailHash = tail
				return seg, &RecoveryEvent{GoodRecords: idx.Len(), TruncatedAt: size}, nil
			}
			kimlog.Root().Warn("segment: index present but chain verification failed, rescanning", "path", indexPath)
		} else {
			kimlog.Root().Warn("segment: index invalid, rescanning", "path", indexPath, "err", err)
		}
	}

	return scanRecover(file, size, baseOffset, genesisChain)
}

// tailFromIndex re-derives the chain tail hash by reading the last indexed
// record, used when trusting a loaded index file.
func (s *Segment) tailFromIndex() (kimcrypto.Hash, error) {
	if s.index.Len() == 0 {
		return kimcrypto.ZeroHash, nil
	}
	pos, _ := s.index.At(s.index.Len() - 1)
	rec, _, err := s.readAt(pos)
	if err != nil {
		return kimcrypto.Hash{}, err
	}
	return rec.ChainHash(), nil
}

func scanRecover(file kimio.File, size int64, baseOffset kimtypes.Offset, genesisChain kimcrypto.Hash) (*Segment, *RecoveryEvent, error) {
	idx := NewOffsetIndex()
	var pos int64
	tail := genesisChain
	good := 0

	for pos < size {
		remaining := size - pos
		headBuf := make([]byte, HeaderSize)
		if remaining < int64(HeaderSize) {
			break
		}
		if _, err := file.ReadAt(headBuf, pos); err != nil {
			break
		}
		payloadLen := int64(headerPayloadLen(headBuf))
		total := int64(HeaderSize) + payloadLen + int64(CRCSize)
		if remaining < total {
			break
		}
		buf := make([]byte, total)
		if _, err := file.ReadAt(buf, pos); err != nil {
			break
		}
		rec, n, err := ReadRecord(buf)
		if err != nil {
			break
		}
		if rec.PrevHash != tail {
			break
		}
		idx.Append(pos)
		tail = rec.ChainHash()
		pos += int64(n)
		good++
	}

	truncated := pos < size
	seg := &Segment{
		file:       file,
		index:      idx,
		size:       pos,
		tailHash:   tail,
		baseOffset: baseOffset,
		nextOffset: baseOffset.Add(uint64(idx.Len())),
		log:        kimlog.Root(),
	}
	ev := &RecoveryEvent{GoodRecords: good, TruncatedAt: pos, Truncated: truncated}
	if truncated {
		kimlog.Root().Warn("segment: recovery truncated log",
			"good_records", good, "truncated_at", pos, "file_size", size)
	}
	return seg, ev, nil
}

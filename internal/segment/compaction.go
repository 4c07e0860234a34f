// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package segment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
	"github.com/kimberlitedb/kimberlite/internal/kimio"
	"github.com/kimberlitedb/kimberlite/internal/kimlog"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// SupersedeFunc decides whether a candidate record is superseded by a later
// one in the same compaction window and can therefore be dropped. keyOf
// extracts the logical dedup key a record represents (e.g. a DML row key);
// seenAfter reports whether that key reappears in a later record.
//
// This is the policy hook spec.md's Open Question #2 leaves unresolved:
// the rule differs for DML streams (last-writer-wins by row key) versus
// plain event streams (only explicit Tombstone records supersede anything).
type SupersedeFunc func(rec *Record, keyOf func(*Record) (key string, ok bool), laterKeys map[string]bool) bool

// DefaultEventStreamSupersede implements the conservative default policy
// for non-DML streams: nothing is superseded except records explicitly
// marked Tombstone, which are always dropped during compaction.
func DefaultEventStreamSupersede(rec *Record, _ func(*Record) (string, bool), _ map[string]bool) bool {
	return rec.Kind == KindTombstone
}

// DMLLastWriterWinsSupersede implements last-writer-wins-by-key compaction
// for DML streams: a record is dropped if a later record in the window
// shares its key, or if it is itself a Tombstone.
func DMLLastWriterWinsSupersede(rec *Record, keyOf func(*Record) (string, bool), laterKeys map[string]bool) bool {
	if rec.Kind == KindTombstone {
		return true
	}
	if key, ok := keyOf(rec); ok {
		return laterKeys[key]
	}
	return false
}

// MergeThresholdBytes bounds how many consecutive sealed segments'
// combined size compact() is willing to rewrite in a single pass.
const MergeThresholdBytes = 64 << 20 // 64 MiB

// CompactStream rewrites the leading run of sealed segments whose combined
// size is <= MergeThresholdBytes into a single new segment, applying
// supersede to drop dead records and rebuilding the chain hash from the
// all-zero genesis hash. The new segment and its index are made durable before the
// manifest is updated and the old segments are deleted, so a crash mid-
// compaction leaves the old manifest (and therefore correctness) intact —
// compaction is crash-safe per spec.md §4.2.
func (s *Store) CompactStream(id kimtypes.StreamId, keyOf func(*Record) (string, bool), supersede SupersedeFunc) error {
	sl, err := s.streamLogFor(id)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	run, totalBytes := selectCompactionRun(sl.manifest.Sealed, s.segmentSizer(sl.dir))
	if len(run) < 2 {
		return nil // nothing worth compacting
	}
	_ = totalBytes

	allRecords, genesis, err := s.readSealedRun(sl.dir, run)
	if err != nil {
		return err
	}

	laterKeys := computeLaterKeys(allRecords, keyOf)
	survivors := make([]*Record, 0, len(allRecords))
	for _, r := range allRecords {
		if !supersede(r, keyOf, laterKeys) {
			survivors = append(survivors, r)
		}
	}

	newPath := filepath.Join(sl.dir, fmt.Sprintf("%012d.compact.seg", uint64(run[0].FirstOffset)))
	newFile, err := s.openFile(newPath)
	if err != nil {
		return fmt.Errorf("segment: open compaction target: %w", err)
	}
	newSeg := newSegment(newFile, run[0].FirstOffset, genesis)
	for _, r := range survivors {
		payload, err := openPayload(sl.dek, r)
		if err != nil {
			return fmt.Errorf("segment: open payload during compaction: %w", err)
		}
		if r.Compression == CompressionSnappy {
			payload, err = snappy.Decode(nil, payload)
			if err != nil {
				return fmt.Errorf("segment: decode snappy payload during compaction: %w", err)
			}
		}
		if _, err := newSeg.AppendBatch([][]byte{payload}, sl.dek); err != nil {
			return fmt.Errorf("segment: rewrite record during compaction: %w", err)
		}
	}
	if err := newSeg.Fsync(); err != nil {
		return err
	}
	if err := os.WriteFile(indexPathFor(newPath), newSeg.index.Serialize(), 0o644); err != nil {
		return fmt.Errorf("segment: write compacted index: %w", err)
	}

	finalName := fmt.Sprintf("%012d.seg", uint64(run[0].FirstOffset))
	finalPath := filepath.Join(sl.dir, finalName)
	if err := os.Rename(newPath, finalPath); err != nil {
		return fmt.Errorf("segment: rename compacted segment: %w", err)
	}
	if err := os.Rename(indexPathFor(newPath), indexPathFor(finalPath)); err != nil {
		return fmt.Errorf("segment: rename compacted index: %w", err)
	}

	oldNames := make([]string, len(run))
	for i, d := range run {
		oldNames[i] = d.Filename
	}

	newSealed := append([]SegmentDescriptor{{
		Filename:    finalName,
		FirstOffset: run[0].FirstOffset,
		LastOffset:  run[len(run)-1].LastOffset,
	}}, sl.manifest.Sealed[len(run):]...)
	sl.manifest.Sealed = newSealed
	if err := sl.manifest.Save(sl.dir); err != nil {
		return err
	}

	for _, name := range oldNames {
		if name == finalName {
			continue
		}
		os.Remove(filepath.Join(sl.dir, name))
		os.Remove(indexPathFor(filepath.Join(sl.dir, name)))
	}

	kimlog.Root().Info("segment: compaction complete",
		"stream_dir", sl.dir, "segments_merged", len(run), "survivors", len(survivors), "dropped", len(allRecords)-len(survivors))
	return nil
}

func computeLaterKeys(records []*Record, keyOf func(*Record) (string, bool)) map[string]bool {
	seen := make(map[string]bool)
	later := make(map[string]bool)
	for i := len(records) - 1; i >= 0; i-- {
		if key, ok := keyOf(records[i]); ok {
			if seen[key] {
				later[key] = true
			}
			seen[key] = true
		}
	}
	return later
}

func selectCompactionRun(sealed []SegmentDescriptor, sizeOf func(string) int64) ([]SegmentDescriptor, int64) {
	var run []SegmentDescriptor
	var total int64
	for _, d := range sealed {
		sz := sizeOf(d.Filename)
		if total+sz > MergeThresholdBytes && len(run) > 0 {
			break
		}
		run = append(run, d)
		total += sz
	}
	return run, total
}

func (s *Store) segmentSizer(dir string) func(string) int64 {
	return func(name string) int64 {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return 0
		}
		return info.Size()
	}
}

func (s *Store) readSealedRun(dir string, run []SegmentDescriptor) ([]*Record, kimcrypto.Hash, error) {
	var out []*Record
	genesis := kimcrypto.ZeroHash
	for i, d := range run {
		f, err := s.openFile(filepath.Join(dir, d.Filename))
		if err != nil {
			return nil, genesis, fmt.Errorf("segment: open sealed segment for compaction: %w", err)
		}
		size, err := f.Size()
		if err != nil {
			f.Close()
			return nil, genesis, err
		}
		recs, tail, err := scanAll(f, size, i == 0)
		f.Close()
		if err != nil {
			return nil, genesis, err
		}
		out = append(out, recs...)
		if i == len(run)-1 {
			_ = tail
		}
	}
	return out, genesis, nil
}

func scanAll(file kimio.File, size int64, first bool) ([]*Record, kimcrypto.Hash, error) {
	var out []*Record
	var pos int64
	tail := kimcrypto.ZeroHash
	for pos < size {
		head := make([]byte, HeaderSize)
		if _, err := file.ReadAt(head, pos); err != nil {
			break
		}
		payloadLen := int64(headerPayloadLen(head))
		total := int64(HeaderSize) + payloadLen + int64(CRCSize)
		if pos+total > size {
			break
		}
		buf := make([]byte, total)
		if _, err := file.ReadAt(buf, pos); err != nil {
			break
		}
		rec, n, err := ReadRecord(buf)
		if err != nil {
			return out, tail, fmt.Errorf("%w during compaction scan", ErrCorrupted)
		}
		out = append(out, rec)
		tail = rec.ChainHash()
		pos += int64(n)
	}
	return out, tail, nil
}

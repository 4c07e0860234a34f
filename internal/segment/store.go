// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
	"github.com/kimberlitedb/kimberlite/internal/kimio"
	"github.com/kimberlitedb/kimberlite/internal/kimlog"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// DefaultSegmentCap is the default size, in bytes, at which an active
// segment is sealed and rotated.
const DefaultSegmentCap = 128 << 20 // 128 MiB

// Store manages the segment storage for every stream in one replica's data
// directory: one sub-directory per stream, each independently rotated and
// compacted, sharing one read-path block cache.
type Store struct {
	rootDir    string
	segmentCap int64
	masterKey  kimcrypto.MasterKey
	openFile   func(path string) (kimio.File, error)
	readFile   func(path string) ([]byte, bool)
	mu         sync.Mutex
	streams    map[kimtypes.StreamId]*streamLog
	cache      *fastcache.Cache
	logger     kimlog.Logger
}

type streamLog struct {
	mu       sync.Mutex
	dir      string
	active   *Segment
	manifest *Manifest
	dek      kimcrypto.DEK
}

// NewStore opens (creating if absent) a segment store rooted at dir, with a
// fastcache-backed read cache sized cacheBytes — go-ethereum's own go.mod
// already carries VictoriaMetrics/fastcache for exactly this kind of
// fixed-size byte-slice cache. masterKey roots the three-level envelope-
// encryption hierarchy (spec.md §1(d), §2): every stream's data-encryption
// key is derived from it via DeriveKEK then DeriveDEK, never stored.
func NewStore(dir string, segmentCap int64, cacheBytes int, masterKey kimcrypto.MasterKey) (*Store, error) {
	if segmentCap <= 0 {
		segmentCap = DefaultSegmentCap
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment: mkdir store root: %w", err)
	}
	return &Store{
		rootDir:    dir,
		segmentCap: segmentCap,
		masterKey:  masterKey,
		openFile: func(path string) (kimio.File, error) {
			return kimio.OpenFile(path)
		},
		readFile: func(path string) ([]byte, bool) {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, false
			}
			return b, true
		},
		streams: make(map[kimtypes.StreamId]*streamLog),
		cache:   fastcache.New(cacheBytes),
		logger:  kimlog.Root(),
	}, nil
}

func (s *Store) streamDir(id kimtypes.StreamId) string {
	return filepath.Join(s.rootDir, fmt.Sprintf("stream-%d-%d", id.Tenant(), uint32(id)))
}

func (s *Store) streamLogFor(id kimtypes.StreamId) (*streamLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.streams[id]; ok {
		return sl, nil
	}
	dir := s.streamDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment: mkdir stream dir: %w", err)
	}
	manifest, err := Load(dir)
	if err != nil {
		return nil, err
	}
	dek, err := s.deriveStreamDEK(id)
	if err != nil {
		return nil, err
	}
	sl := &streamLog{dir: dir, manifest: manifest, dek: dek}
	if err := s.openActive(sl); err != nil {
		return nil, err
	}
	s.streams[id] = sl
	return sl, nil
}

// deriveStreamDEK walks the three-level key hierarchy down to a single
// stream's data-encryption key: MasterKey -> KEK (tenant-scoped) -> DEK
// (stream-scoped). Recomputed from the (deterministic) tenant and stream
// ids rather than persisted, so there is nothing for a storage compromise
// to steal beyond the master key itself.
func (s *Store) deriveStreamDEK(id kimtypes.StreamId) (kimcrypto.DEK, error) {
	kek, err := kimcrypto.DeriveKEK(s.masterKey, tenantInfo(id.Tenant()))
	if err != nil {
		return kimcrypto.DEK{}, fmt.Errorf("segment: derive tenant KEK: %w", err)
	}
	dek, err := kimcrypto.DeriveDEK(kek, streamInfo(id))
	if err != nil {
		return kimcrypto.DEK{}, fmt.Errorf("segment: derive stream DEK: %w", err)
	}
	return dek, nil
}

func tenantInfo(tenant kimtypes.TenantId) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(tenant))
	return b[:]
}

func streamInfo(id kimtypes.StreamId) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func (s *Store) openActive(sl *streamLog) error {
	if sl.manifest.ActiveFile == "" {
		sl.manifest.ActiveFile = "000000000000.seg"
	}
	path := filepath.Join(sl.dir, sl.manifest.ActiveFile)
	f, err := s.openFile(path)
	if err != nil {
		return fmt.Errorf("segment: open active segment: %w", err)
	}
	genesis := kimcrypto.ZeroHash
	if n := len(sl.manifest.Sealed); n > 0 {
		// The chain continues across segments: the active segment's first
		// record chains from the tail of the last sealed segment.
		prev, err := s.openFile(filepath.Join(sl.dir, sl.manifest.Sealed[n-1].Filename))
		if err != nil {
			return fmt.Errorf("segment: open last sealed segment: %w", err)
		}
		size, err := prev.Size()
		if err == nil {
			_, genesis, err = scanAll(prev, size, false)
		}
		prev.Close()
		if err != nil {
			return err
		}
	}
	seg, ev, err := RecoverSegment(f, indexPathFor(path), sl.manifest.ActiveOffset, genesis, s.readFile)
	if err != nil {
		return err
	}
	if ev.Truncated {
		s.logger.Warn("segment: active segment truncated on recovery",
			"stream_dir", sl.dir, "good_records", ev.GoodRecords, "truncated_at", ev.TruncatedAt)
	}
	sl.active = seg
	return nil
}

func indexPathFor(segPath string) string { return segPath + ".idx" }

// AppendBatch appends events to stream id, enforcing the optimistic-offset
// contract one layer up (the kernel) by simply returning the resulting
// offset; callers are expected to already have validated expectedOffset.
func (s *Store) AppendBatch(id kimtypes.StreamId, events [][]byte) (kimtypes.Offset, error) {
	sl, err := s.streamLogFor(id)
	if err != nil {
		return 0, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	next, err := sl.active.AppendBatch(events, sl.dek)
	if err != nil {
		return 0, err
	}
	if sl.active.Size() >= s.segmentCap {
		if err := s.rotateLocked(sl); err != nil {
			return 0, err
		}
	}
	return next, nil
}

// Fsync flushes the active segment for stream id.
func (s *Store) Fsync(id kimtypes.StreamId) error {
	sl, err := s.streamLogFor(id)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.active.Fsync()
}

// ReadFrom reads events for stream id starting at the record index equal to
// (from - segment.BaseOffset) within whichever segment contains it, up to
// maxBytes, returning the events and the offset to resume from.
func (s *Store) ReadFrom(id kimtypes.StreamId, from kimtypes.Offset, maxBytes int) ([][]byte, kimtypes.Offset, error) {
	sl, err := s.streamLogFor(id)
	if err != nil {
		return nil, from, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if from < sl.active.BaseOffset() {
		return nil, from, fmt.Errorf("segment: read from %d predates active segment base %d (sealed-segment reads not yet wired to this Store)", from, sl.active.BaseOffset())
	}
	startIdx := int(uint64(from - sl.active.BaseOffset()))
	recs, err := sl.active.ReadRange(startIdx, sl.active.RecordCount(), maxBytes)
	if err != nil {
		return nil, from, err
	}
	out := make([][]byte, 0, len(recs))
	next := from
	for _, r := range recs {
		cacheKey := cacheKeyFor(id, r.Offset)
		if cached, ok := s.cache.HasGet(nil, cacheKey); ok {
			out = append(out, cached)
		} else {
			payload, err := openPayload(sl.dek, r)
			if err != nil {
				return nil, from, fmt.Errorf("segment: open payload at offset %d: %w", r.Offset, err)
			}
			s.cache.Set(cacheKey, payload)
			out = append(out, payload)
		}
		next = r.Offset.Add(1)
	}
	return out, next, nil
}

// openPayload decrypts r.Payload under dek when the record was sealed,
// otherwise returns it unchanged (EncryptionNone is only ever used for
// zero-length checkpoint markers). The cache stores plaintext, never
// ciphertext, so a cache hit never pays the AEAD open cost twice.
func openPayload(dek kimcrypto.DEK, r *Record) ([]byte, error) {
	if r.Encryption == EncryptionNone {
		return append([]byte(nil), r.Payload...), nil
	}
	return kimcrypto.Open(dek, recordAAD(r.Offset, r.PrevHash), r.Payload)
}

// cacheKeyFor compresses (streamId, offset) into a single xxhash-derived key
// via kimcrypto.FastHash, the fast non-cryptographic hash the tamper-
// evidence chain deliberately does not use — exactly the read-path dedup
// role it exists for: two reads of the same record collapse to the same
// fastcache entry regardless of how many concurrent ReadFrom calls name it.
func cacheKeyFor(id kimtypes.StreamId, off kimtypes.Offset) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(id))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(off))
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], kimcrypto.FastHash(buf[:]))
	return key[:]
}

// rotateLocked seals the active segment, writes its index, opens a new
// active segment, and atomically updates the manifest. Caller must hold
// sl.mu.
func (s *Store) rotateLocked(sl *streamLog) error {
	if err := sl.active.Fsync(); err != nil {
		return fmt.Errorf("segment: fsync before rotate: %w", err)
	}
	sealedPath := filepath.Join(sl.dir, sl.manifest.ActiveFile)
	idxPath := indexPathFor(sealedPath)
	if err := os.WriteFile(idxPath, sl.active.index.Serialize(), 0o644); err != nil {
		return fmt.Errorf("segment: write sealed index: %w", err)
	}
	sl.active.sealed = true

	sl.manifest.Sealed = append(sl.manifest.Sealed, SegmentDescriptor{
		Filename:    sl.manifest.ActiveFile,
		FirstOffset: sl.active.BaseOffset(),
		LastOffset:  sl.active.NextOffset(),
	})

	nextOffset := sl.active.NextOffset()
	nextFile := fmt.Sprintf("%012d.seg", uint64(nextOffset))
	sl.manifest.ActiveFile = nextFile
	sl.manifest.ActiveOffset = nextOffset

	if err := sl.manifest.Save(sl.dir); err != nil {
		return err
	}

	f, err := s.openFile(filepath.Join(sl.dir, nextFile))
	if err != nil {
		return fmt.Errorf("segment: open new active segment: %w", err)
	}
	sl.active = newSegment(f, nextOffset, sl.active.TailHash())
	return nil
}

// Close closes every open stream's active segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, sl := range s.streams {
		if err := sl.active.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

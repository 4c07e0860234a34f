// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Superblock is the small, frequently-rewritten piece of durable
// replica state restored on restart: view, op number, commit number,
// and the log head hash (spec.md §6 "per-replica VSR state (superblock
// containing view, op_number, commit_number, log head)"). It is kept in
// a pebble instance rather than the segment format, since it's keyed
// metadata, not a chain-hashed append-only record stream
// (DOMAIN STACK: "never for the bit-exact segment/index/manifest
// formats").
type Superblock struct {
	View         ViewNumber
	OpNumber     OpNumber
	CommitNumber CommitNumber
	LogHead      [32]byte
}

// SuperblockStore persists the Superblock and the client SessionTable in
// a pebble database, following go-ethereum's ethdb/pebble backend
// pattern of using pebble purely as a keyed store, not a log.
type SuperblockStore struct {
	db *pebble.DB
}

var superblockKey = []byte("vsr/superblock")

func sessionKey(id ClientId) []byte {
	buf := make([]byte, len("vsr/session/")+8)
	copy(buf, "vsr/session/")
	binary.BigEndian.PutUint64(buf[len("vsr/session/"):], uint64(id))
	return buf
}

// OpenSuperblockStore opens (creating if absent) a pebble database at
// dir for superblock and session persistence.
func OpenSuperblockStore(dir string) (*SuperblockStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("vsr: open superblock store: %w", err)
	}
	return &SuperblockStore{db: db}, nil
}

// Save durably writes sb, replacing any previous superblock.
func (s *SuperblockStore) Save(sb Superblock) error {
	buf, err := json.Marshal(sb)
	if err != nil {
		return err
	}
	return s.db.Set(superblockKey, buf, pebble.Sync)
}

// Load reads the persisted superblock, returning the zero value and
// false if none has ever been written (a fresh replica).
func (s *SuperblockStore) Load() (Superblock, bool, error) {
	val, closer, err := s.db.Get(superblockKey)
	if err == pebble.ErrNotFound {
		return Superblock{}, false, nil
	}
	if err != nil {
		return Superblock{}, false, err
	}
	defer closer.Close()
	var sb Superblock
	if err := json.Unmarshal(val, &sb); err != nil {
		return Superblock{}, false, fmt.Errorf("vsr: decode superblock: %w", err)
	}
	return sb, true, nil
}

// SaveSession writes one client's committed session state without its
// own fsync (pebble.NoSync); it reaches disk with the next synced write.
func (s *SuperblockStore) SaveSession(sess ClientSession) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.db.Set(sessionKey(sess.ClientId), buf, pebble.NoSync)
}

// prefixSuccessor returns the smallest key that is NOT prefixed by prefix
// and sorts after every key that is, for use as an exclusive iterator
// upper bound. It increments the last byte of prefix that isn't already
// 0xff, dropping any trailing 0xff bytes first (e.g. "ab\xff" -> "ac"); if
// prefix is all 0xff bytes there is no finite successor and nil (no upper
// bound) is returned. Appending a single 0xff byte, as a naive bound would,
// is wrong: a key whose first byte past the prefix is itself 0xff sorts
// greater than or equal to that bound and would be silently excluded.
func prefixSuccessor(prefix []byte) []byte {
	succ := append([]byte(nil), prefix...)
	for i := len(succ) - 1; i >= 0; i-- {
		if succ[i] != 0xff {
			succ[i]++
			return succ[:i+1]
		}
	}
	return nil
}

// LoadSessions reads every persisted client session back.
func (s *SuperblockStore) LoadSessions() ([]ClientSession, error) {
	lower := []byte("vsr/session/")
	upper := prefixSuccessor(lower)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var sessions []ClientSession
	for iter.First(); iter.Valid(); iter.Next() {
		var sess ClientSession
		if err := json.Unmarshal(iter.Value(), &sess); err != nil {
			return nil, fmt.Errorf("vsr: decode session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, iter.Error()
}

// Close releases the underlying pebble database.
func (s *SuperblockStore) Close() error { return s.db.Close() }

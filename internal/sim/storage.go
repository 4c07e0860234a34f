// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package sim

import (
	"errors"
	"time"
)

// BlockState is the state-machine value of one simulated storage block
// (spec.md §4.6 "SimStorage: per-block state machine
// {absent, pending, in_fsync, durable, corrupted}").
type BlockState uint8

const (
	BlockAbsent BlockState = iota
	BlockPending
	BlockInFsync
	BlockDurable
	BlockCorrupted
)

// ErrSimulatedWriteFailure and ErrSimulatedFsyncFailure are returned by
// Write/Fsync when the configured fault probabilities roll a failure,
// mirroring runtime.ErrStorageUnavailable's retry contract for the
// simulated side.
var (
	ErrSimulatedWriteFailure = errors.New("sim: simulated write failure")
	ErrSimulatedFsyncFailure = errors.New("sim: simulated fsync failure")
)

// StorageFaultProfile configures SimStorage's failure probabilities and
// latency ranges (spec.md §4.6).
type StorageFaultProfile struct {
	WriteFailureProbability  float64
	FsyncFailureProbability  float64
	PartialWriteProbability  float64
	MinLatency, MaxLatency   time.Duration
}

type block struct {
	state BlockState
	data  []byte
}

// SimStorage is a simulated append-only block device with injectable
// torn writes, partial fsyncs, and corruption, driven by a seeded Rng
// so the same seed reproduces the same fault sequence (spec.md §4.6).
type SimStorage struct {
	rng     *Rng
	profile StorageFaultProfile
	blocks  map[uint64]*block
	order   []uint64
}

// NewSimStorage returns an empty simulated device with the given fault profile.
func NewSimStorage(rng *Rng, profile StorageFaultProfile) *SimStorage {
	return &SimStorage{rng: rng, profile: profile, blocks: make(map[uint64]*block)}
}

// Write stages data at blockID as BlockPending, rolling the configured
// write-failure and partial-write probabilities.
func (s *SimStorage) Write(blockID uint64, data []byte) error {
	if s.rng.Chance(s.profile.WriteFailureProbability) {
		return ErrSimulatedWriteFailure
	}
	payload := data
	if s.rng.Chance(s.profile.PartialWriteProbability) && len(data) > 1 {
		payload = append([]byte(nil), data[:s.rng.IntRange(1, len(data))]...)
	}
	b, ok := s.blocks[blockID]
	if !ok {
		b = &block{}
		s.blocks[blockID] = b
		s.order = append(s.order, blockID)
	}
	b.state = BlockPending
	b.data = payload
	return nil
}

// Fsync moves every BlockPending block to BlockInFsync, then — absent a
// simulated fsync failure — immediately to BlockDurable. A fsync
// failure leaves affected blocks InFsync, at the mercy of Crash's
// coin-flip retention rule.
func (s *SimStorage) Fsync() error {
	for _, id := range s.order {
		b := s.blocks[id]
		if b.state != BlockPending {
			continue
		}
		b.state = BlockInFsync
	}
	if s.rng.Chance(s.profile.FsyncFailureProbability) {
		return ErrSimulatedFsyncFailure
	}
	for _, id := range s.order {
		b := s.blocks[id]
		if b.state == BlockInFsync {
			b.state = BlockDurable
		}
	}
	return nil
}

// Read returns the current bytes for blockID and its state; callers
// must treat BlockCorrupted specially (a checksum failure in the real
// storage layer) rather than trusting the returned bytes.
func (s *SimStorage) Read(blockID uint64) ([]byte, BlockState, bool) {
	b, ok := s.blocks[blockID]
	if !ok {
		return nil, BlockAbsent, false
	}
	return b.data, b.state, true
}

// CrashScenario selects how a simulated crash resolves in-doubt state
// (spec.md §4.6 "On crash(scenario), pending is lost, in_fsync is a
// coin-flip subset retained, durable is kept").
type CrashScenario uint8

const (
	CrashClean CrashScenario = iota
	CrashTornWrite
)

// Crash applies the crash-recovery state machine: BlockPending is
// dropped back to BlockAbsent, BlockInFsync resolves per-block by coin
// flip to either BlockDurable or BlockAbsent, and under CrashTornWrite
// a retained in-fsync block may instead resolve to BlockCorrupted
// (simulating a torn write caught later by CRC).
func (s *SimStorage) Crash(scenario CrashScenario) {
	for _, id := range s.order {
		b := s.blocks[id]
		switch b.state {
		case BlockPending:
			b.state = BlockAbsent
			b.data = nil
		case BlockInFsync:
			if s.rng.Bool() {
				if scenario == CrashTornWrite && s.rng.Chance(0.5) {
					b.state = BlockCorrupted
				} else {
					b.state = BlockDurable
				}
			} else {
				b.state = BlockAbsent
				b.data = nil
			}
		}
	}
}

// Checkpoint returns the block IDs currently BlockDurable, the set a
// real checkpoint would capture (spec.md: "Checkpoints capture durable").
func (s *SimStorage) Checkpoint() []uint64 {
	var out []uint64
	for _, id := range s.order {
		if s.blocks[id].state == BlockDurable {
			out = append(out, id)
		}
	}
	return out
}

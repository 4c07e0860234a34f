// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"fmt"

	"github.com/kimberlitedb/kimberlite/internal/kernel"
	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
)

// ReplicaStatus is the coarse mode a replica is in; most message
// handling is gated on the current status (spec.md §3, §4.3).
type ReplicaStatus uint8

const (
	StatusNormal ReplicaStatus = iota
	StatusViewChange
	StatusRecovering
	StatusStateTransfer
	StatusStandby
)

func (s ReplicaStatus) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusViewChange:
		return "view_change"
	case StatusRecovering:
		return "recovering"
	case StatusStateTransfer:
		return "state_transfer"
	case StatusStandby:
		return "standby"
	default:
		return "unknown"
	}
}

// viewChangeRound tracks the in-progress votes for a prospective view,
// kept separate from the committed ReplicaState proper so it is
// trivially discarded when the view settles or advances further.
type viewChangeRound struct {
	targetView        ViewNumber
	startViewChangeAcks map[ReplicaId]bool
	doViewChanges       map[ReplicaId]Message // only populated on the prospective leader
}

// ReplicaState is the full state of one VSR replica (spec.md §3). All
// transitions happen through Process, which never blocks and never
// performs I/O — every externally visible action is described in the
// returned Output for the runtime to carry out.
type ReplicaState struct {
	Self   ReplicaId
	View   ViewNumber
	Status ReplicaStatus

	OpNumber     OpNumber
	CommitNumber CommitNumber
	LastNormalView ViewNumber // view in which this replica was last Normal

	Log      []LogEntry // Log[i] has Op == OpNumber(i+1); dense, no gaps
	Config   ClusterConfig
	Standbys map[ReplicaId]bool

	Sessions *SessionTable

	// Kernel is the materialized state derived from every committed
	// entry applied so far, kept so Process can invoke kernel.Apply
	// directly as entries commit (spec.md data-flow diagram).
	Kernel kernel.State

	// prepareAcks[op] is the set of replicas that have PrepareOk'd op;
	// only meaningful for the leader.
	prepareAcks map[OpNumber]map[ReplicaId]bool

	viewChange *viewChangeRound
	recovery   *recoveryRound

	Repair *RepairBudget
}

// NewReplicaState returns a fresh Normal-status replica at view 0,
// op/commit 0, with an empty log and kernel catalog.
func NewReplicaState(self ReplicaId, config ClusterConfig) *ReplicaState {
	return &ReplicaState{
		Self:        self,
		View:        0,
		Status:      StatusNormal,
		Config:      config,
		Standbys:    make(map[ReplicaId]bool),
		Sessions:    NewSessionTable(4096),
		Kernel:      kernel.NewState(),
		prepareAcks: make(map[OpNumber]map[ReplicaId]bool),
		Repair:      NewRepairBudget(len(config.Replicas) * 2),
	}
}

// IsLeader reports whether Self is the primary of the current view under
// the standard VSR leader-election-by-rotation rule: primary(v) is the
// (v mod clusterSize)'th member of the stable configuration.
func (s *ReplicaState) IsLeader() bool {
	return s.leaderFor(s.View) == s.Self
}

func (s *ReplicaState) leaderFor(view ViewNumber) ReplicaId {
	n := len(s.Config.Replicas)
	if n == 0 {
		return s.Self
	}
	return s.Config.Replicas[uint64(view)%uint64(n)]
}

// tailHash returns the chain hash of the last log entry, or ZeroHash for
// an empty log — the prev_hash a freshly appended entry must chain from.
func (s *ReplicaState) tailHash() kimcrypto.Hash {
	if len(s.Log) == 0 {
		return kimcrypto.ZeroHash
	}
	return s.Log[len(s.Log)-1].Hash()
}

// entryAt returns the log entry for op, if present (1-indexed op
// numbers map to Log[op-1]).
func (s *ReplicaState) entryAt(op OpNumber) (LogEntry, bool) {
	if op == 0 || uint64(op) > uint64(len(s.Log)) {
		return LogEntry{}, false
	}
	return s.Log[op-1], true
}

// VerifyEntry reports whether the log entry at op still chains from its
// predecessor's hash, the in-memory equivalent of a segment store's CRC
// and chain-hash check (internal/segment). It is the CorruptionChecker a
// caller with no durable segment store underneath it — the simulator, in
// particular — wires into a Scrubber: there is no separate ciphertext to
// re-read, so bit rot can only show up as a broken PrevHash link.
func (s *ReplicaState) VerifyEntry(op OpNumber) (bool, error) {
	entry, ok := s.entryAt(op)
	if !ok {
		return false, fmt.Errorf("vsr: no entry at op %d", op)
	}
	want := kimcrypto.ZeroHash
	if op > 1 {
		prev, ok := s.entryAt(op - 1)
		if !ok {
			return false, fmt.Errorf("vsr: missing predecessor for op %d", op)
		}
		want = prev.Hash()
	}
	return entry.PrevHash == want, nil
}

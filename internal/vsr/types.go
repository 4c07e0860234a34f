// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package vsr implements the replica state machine for Viewstamped
// Replication: a pure reducer process(state, event) -> (state', output)
// providing total ordering and durability of committed Commands across
// a replica group (spec.md §4.3). Like the kernel, it performs no I/O
// itself — Output carries messages to send and effects to apply, which
// the runtime layer executes.
package vsr

import (
	"fmt"

	"github.com/kimberlitedb/kimberlite/internal/kernel"
	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
)

// ReplicaId identifies a member of a VSR group. BroadcastReplica is the
// wire sentinel meaning "all replicas" (spec.md §6: "Broadcast address
// sentinel is u64::MAX").
type ReplicaId uint64

// BroadcastReplica is the sentinel destination meaning "send to every
// registered replica."
const BroadcastReplica ReplicaId = ^ReplicaId(0)

// ViewNumber identifies a logical era with a single primary. Monotonically
// non-decreasing on every replica (spec.md §3, §4.3).
type ViewNumber uint64

// OpNumber is the monotonically increasing index of a log entry; it
// continues across views rather than restarting in each one.
type OpNumber uint64

// CommitNumber is the highest OpNumber known committed by quorum.
type CommitNumber uint64

// ClientId identifies a client session.
type ClientId uint64

// RequestNumber is a per-client monotonically increasing request sequence
// number, reset to a fresh space on session registration (client-sessions
// bug fix #1, spec.md §4.3).
type RequestNumber uint64

// Nonce is an opaque value used to correlate RecoveryRequest/Response.
type Nonce uint64

// LogEntry is one replicated operation (spec.md §3).
type LogEntry struct {
	View          ViewNumber
	Op            OpNumber
	ClientId      ClientId
	RequestNumber RequestNumber
	Command       kernel.Command
	PrevHash      kimcrypto.Hash
}

// Hash returns the chain hash of the entry, binding it to PrevHash and its
// own serialized content — mirroring the storage layer's chain so the VSR
// entry hash chain and the storage chain agree once committed (spec.md
// §3: "the entry hash chain mirrors the storage chain once committed").
func (e LogEntry) Hash() kimcrypto.Hash {
	body := fmt.Sprintf("%d|%d|%d|%d|%v", e.View, e.Op, e.ClientId, e.RequestNumber, e.Command)
	return kimcrypto.ChainHash(e.PrevHash, []byte(body))
}

// ClusterConfig is the current (and, during reconfiguration, joint)
// replica membership (spec.md §3).
type ClusterConfig struct {
	Replicas []ReplicaId

	// New is non-nil only while a reconfiguration is in flight: it
	// holds the prospective membership, and quorum must be computed
	// against both Replicas (old) and New (spec.md §4.3 "Reconfiguration").
	New []ReplicaId
}

// NewClusterConfig returns a stable (non-joint) configuration.
func NewClusterConfig(replicas []ReplicaId) ClusterConfig {
	return ClusterConfig{Replicas: append([]ReplicaId(nil), replicas...)}
}

// IsJoint reports whether this config is mid-reconfiguration.
func (c ClusterConfig) IsJoint() bool { return c.New != nil }

// ClusterSize returns the number of voting replicas in the stable
// configuration.
func (c ClusterConfig) ClusterSize() int { return len(c.Replicas) }

// QuorumSize returns floor(n/2)+1 for the stable configuration.
func (c ClusterConfig) QuorumSize() int { return quorumOf(len(c.Replicas)) }

func quorumOf(n int) int { return n/2 + 1 }

// HasQuorum reports whether acks (a set of replica IDs that responded)
// satisfies quorum for this config. Under joint consensus, quorum
// requires a majority in BOTH the old and new membership sets (spec.md
// §3, §4.3).
func (c ClusterConfig) HasQuorum(acks map[ReplicaId]bool) bool {
	if !countQuorum(c.Replicas, acks) {
		return false
	}
	if c.IsJoint() && !countQuorum(c.New, acks) {
		return false
	}
	return true
}

func countQuorum(members []ReplicaId, acks map[ReplicaId]bool) bool {
	count := 0
	for _, m := range members {
		if acks[m] {
			count++
		}
	}
	return count >= quorumOf(len(members))
}

// Contains reports whether id is a voting member of the stable
// configuration (standbys are deliberately excluded — spec.md §4.3
// "Standby replicas... do NOT participate in quorum counts").
func (c ClusterConfig) Contains(id ReplicaId) bool {
	for _, m := range c.Replicas {
		if m == id {
			return true
		}
	}
	return false
}

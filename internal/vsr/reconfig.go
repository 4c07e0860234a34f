// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import "fmt"

// ReconfigOp tags whether a ReconfigCommand adds or removes members.
type ReconfigOp uint8

const (
	ReconfigAdd ReconfigOp = iota
	ReconfigRemove
)

// ReconfigCommand describes a cluster membership change via joint
// consensus (spec.md §4.3 "Reconfiguration"). It is applied to one
// replica's state by a direct BeginReconfig call; it is not carried in a
// log entry or message, so it is neither proposed nor committed through
// the replication protocol. While the change is begun but not finalized,
// quorums are computed against both the old and the new membership.
// Finalization to the new stable configuration is likewise a direct
// FinalizeReconfig call on each replica, not a replicated op.
type ReconfigCommand struct {
	Op  ReconfigOp
	Ids []ReplicaId
}

// ErrReconfigInFlight is returned when a second reconfiguration is
// proposed while one is already in the joint-consensus phase — one wins
// by op order, the other is rejected (spec.md §7 "Reconfiguration
// conflicts").
var ErrReconfigInFlight = fmt.Errorf("vsr: a reconfiguration is already in flight")

// BeginReconfig transitions Config into the joint phase: Config.New
// holds the prospective membership computed by applying cmd to the
// current stable Replicas. Quorum calculations automatically require a
// majority in both sets until FinalizeReconfig is called
// (ClusterConfig.HasQuorum).
func (s *ReplicaState) BeginReconfig(cmd ReconfigCommand) error {
	if s.Config.IsJoint() {
		return ErrReconfigInFlight
	}
	next := append([]ReplicaId(nil), s.Config.Replicas...)
	switch cmd.Op {
	case ReconfigAdd:
		next = append(next, cmd.Ids...)
	case ReconfigRemove:
		filtered := next[:0]
		removing := make(map[ReplicaId]bool, len(cmd.Ids))
		for _, id := range cmd.Ids {
			removing[id] = true
		}
		for _, id := range next {
			if !removing[id] {
				filtered = append(filtered, id)
			}
		}
		next = filtered
	}
	s.Config.New = next
	return nil
}

// FinalizeReconfig completes a joint-consensus reconfiguration, making
// Config.New the sole stable membership. Call only once the finalize op
// itself has committed under joint quorum.
func (s *ReplicaState) FinalizeReconfig() {
	if !s.Config.IsJoint() {
		return
	}
	s.Config.Replicas = s.Config.New
	s.Config.New = nil
}

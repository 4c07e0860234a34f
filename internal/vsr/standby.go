// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import "fmt"

// ErrStandbyLogNotPrefix is returned when promotion is attempted while
// the standby's committed log is not a prefix of the leader's.
var ErrStandbyLogNotPrefix = fmt.Errorf("vsr: standby log is not a prefix of the leader's log")

// IsStandby reports whether id is a read-only follower excluded from
// quorum counts (spec.md §4.3 "Standby replicas").
func (s *ReplicaState) IsStandby(id ReplicaId) bool {
	return s.Standbys[id]
}

// PromoteStandby makes a standby a voting member of the stable
// configuration, gated on its committed log being a prefix of this
// replica's log (spec.md §4.3: "Promotion ... requires the standby's
// committed log to be a prefix of the leader's"). Only the current
// leader should call this — it mutates Config directly rather than
// going through the reconfiguration joint-consensus path, matching the
// original's standby.rs treating promotion/demotion as a distinct,
// simpler transition from full membership reconfiguration.
func (s *ReplicaState) PromoteStandby(id ReplicaId, standbyLog []LogEntry) error {
	if !s.Standbys[id] {
		return fmt.Errorf("vsr: replica %d is not a registered standby", id)
	}
	if !isPrefixOf(standbyLog, s.Log) {
		return ErrStandbyLogNotPrefix
	}
	delete(s.Standbys, id)
	s.Config.Replicas = append(s.Config.Replicas, id)
	return nil
}

// DemoteToStandby removes id from the voting configuration and marks it
// a standby, still receiving the log but excluded from quorum.
func (s *ReplicaState) DemoteToStandby(id ReplicaId) {
	kept := s.Config.Replicas[:0]
	for _, r := range s.Config.Replicas {
		if r != id {
			kept = append(kept, r)
		}
	}
	s.Config.Replicas = kept
	if s.Standbys == nil {
		s.Standbys = make(map[ReplicaId]bool)
	}
	s.Standbys[id] = true
}

// RegisterStandby adds id as a non-voting standby that will receive the
// log via state transfer/Prepare but cannot vote.
func (s *ReplicaState) RegisterStandby(id ReplicaId) {
	if s.Standbys == nil {
		s.Standbys = make(map[ReplicaId]bool)
	}
	s.Standbys[id] = true
}

func isPrefixOf(shorter, longer []LogEntry) bool {
	if len(shorter) > len(longer) {
		return false
	}
	for i, e := range shorter {
		if e.Hash() != longer[i].Hash() {
			return false
		}
	}
	return true
}

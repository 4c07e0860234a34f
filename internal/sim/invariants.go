// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package sim

import (
	"fmt"

	"github.com/kimberlitedb/kimberlite/internal/vsr"
)

// Violation is a fatal invariant breach (spec.md §4.6: "Any violation is
// fatal"). The simulation driver stops and saves a ReproBundle on the
// first one observed.
type Violation struct {
	Checker string
	Detail  string
}

func (v *Violation) Error() string { return fmt.Sprintf("sim: invariant %q violated: %s", v.Checker, v.Detail) }

// Checker inspects the current set of replicas and returns a Violation
// if the invariant it's responsible for doesn't hold; nil otherwise.
type Checker func(replicas map[vsr.ReplicaId]*vsr.ReplicaState) *Violation

// monotonicityState tracks the previous observed value per replica for
// monotonicity checkers that need history across steps, not just a
// snapshot.
type monotonicityState struct {
	lastCommit map[vsr.ReplicaId]vsr.CommitNumber
	lastView   map[vsr.ReplicaId]vsr.ViewNumber
}

func newMonotonicityState() *monotonicityState {
	return &monotonicityState{lastCommit: make(map[vsr.ReplicaId]vsr.CommitNumber), lastView: make(map[vsr.ReplicaId]vsr.ViewNumber)}
}

// CommitViewMonotonicity is property 9: commit_number and view never
// decrease on any replica.
func CommitViewMonotonicity() Checker {
	st := newMonotonicityState()
	return func(replicas map[vsr.ReplicaId]*vsr.ReplicaState) *Violation {
		for id, r := range replicas {
			if prev, ok := st.lastCommit[id]; ok && r.CommitNumber < prev {
				return &Violation{"commit_monotonicity", fmt.Sprintf("replica %d commit regressed %d -> %d", id, prev, r.CommitNumber)}
			}
			if prev, ok := st.lastView[id]; ok && r.View < prev {
				return &Violation{"view_monotonicity", fmt.Sprintf("replica %d view regressed %d -> %d", id, prev, r.View)}
			}
			st.lastCommit[id] = r.CommitNumber
			st.lastView[id] = r.View
		}
		return nil
	}
}

// Agreement is property 6: no two replicas have different commands at
// the same (view, op) where both are committed.
func Agreement() Checker {
	return func(replicas map[vsr.ReplicaId]*vsr.ReplicaState) *Violation {
		seen := make(map[vsr.OpNumber]vsr.LogEntry)
		for id, r := range replicas {
			for op := vsr.OpNumber(1); op <= vsr.OpNumber(r.CommitNumber); op++ {
				idx := int(op) - 1
				if idx < 0 || idx >= len(r.Log) {
					continue
				}
				entry := r.Log[idx]
				if prior, ok := seen[op]; ok {
					if prior.Hash() != entry.Hash() {
						return &Violation{"agreement", fmt.Sprintf("op %d diverges: replica %d entry hash != prior", op, id)}
					}
				} else {
					seen[op] = entry
				}
			}
		}
		return nil
	}
}

// PrefixProperty is property 7: for all replica pairs, logs agree on
// every op up to the lower of the two commit numbers.
func PrefixProperty() Checker {
	return func(replicas map[vsr.ReplicaId]*vsr.ReplicaState) *Violation {
		ids := make([]vsr.ReplicaId, 0, len(replicas))
		for id := range replicas {
			ids = append(ids, id)
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := replicas[ids[i]], replicas[ids[j]]
				limit := a.CommitNumber
				if b.CommitNumber < limit {
					limit = b.CommitNumber
				}
				for op := vsr.OpNumber(1); op <= vsr.OpNumber(limit); op++ {
					idx := int(op) - 1
					if idx >= len(a.Log) || idx >= len(b.Log) {
						return &Violation{"prefix_property", fmt.Sprintf("replica %d/%d missing committed op %d", ids[i], ids[j], op)}
					}
					if a.Log[idx].Hash() != b.Log[idx].Hash() {
						return &Violation{"prefix_property", fmt.Sprintf("replica %d/%d diverge at committed op %d", ids[i], ids[j], op)}
					}
				}
			}
		}
		return nil
	}
}

// HashChainIntegrity is property 4 applied to in-memory replica logs:
// every entry's declared PrevHash matches the actual hash of its
// predecessor.
func HashChainIntegrity() Checker {
	return func(replicas map[vsr.ReplicaId]*vsr.ReplicaState) *Violation {
		for id, r := range replicas {
			for i, entry := range r.Log {
				if i == 0 {
					continue
				}
				if entry.PrevHash != r.Log[i-1].Hash() {
					return &Violation{"hash_chain_integrity", fmt.Sprintf("replica %d entry %d prev_hash mismatch", id, entry.Op)}
				}
			}
		}
		return nil
	}
}

// ViewChangeSafety is property 8: no committed entry is ever truncated.
// Tracked by remembering, per op, the entry hash first observed once
// committed anywhere, and flagging if a later snapshot no longer has it
// at that position for a replica that claims to have committed past it.
func ViewChangeSafety() Checker {
	committed := make(map[vsr.OpNumber]vsr.LogEntry)
	return func(replicas map[vsr.ReplicaId]*vsr.ReplicaState) *Violation {
		for id, r := range replicas {
			for op := vsr.OpNumber(1); op <= vsr.OpNumber(r.CommitNumber); op++ {
				idx := int(op) - 1
				if idx >= len(r.Log) {
					return &Violation{"view_change_safety", fmt.Sprintf("replica %d commit_number %d exceeds log length", id, r.CommitNumber)}
				}
				entry := r.Log[idx]
				if prior, ok := committed[op]; ok {
					if prior.Hash() != entry.Hash() {
						return &Violation{"view_change_safety", fmt.Sprintf("committed op %d was truncated/replaced on replica %d", op, id)}
					}
				} else {
					committed[op] = entry
				}
			}
		}
		return nil
	}
}

// CheckerSet bundles every universal invariant checker so the
// simulation driver can run them uniformly; invariants requiring cross-
// step history (monotonicity, view-change safety) close over their own
// state, so construct a fresh CheckerSet per simulation run.
func CheckerSet() []Checker {
	return []Checker{
		CommitViewMonotonicity(),
		Agreement(),
		PrefixProperty(),
		HashChainIntegrity(),
		ViewChangeSafety(),
	}
}

// RunCheckers runs every checker in set against the current replicas,
// returning the first violation found, if any.
func RunCheckers(set []Checker, replicas map[vsr.ReplicaId]*vsr.ReplicaState) *Violation {
	for _, check := range set {
		if v := check(replicas); v != nil {
			return v
		}
	}
	return nil
}

// ShouldCheck implements spec.md §4.6's deterministic sampling for
// expensive checkers: "should_check(key, rate) whose result depends
// only on hash(seed, key, step)" — so re-running the same seed samples
// the exact same steps rather than depending on wall-clock jitter.
func ShouldCheck(seed uint64, key string, step uint64, rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	h := fnv1a64(seed, key, step)
	return (float64(h%1_000_000) / 1_000_000) < rate
}

func fnv1a64(seed uint64, key string, step uint64) uint64 {
	const prime = 1099511628211
	h := uint64(14695981039346656037) ^ seed
	for i := 0; i < 8; i++ {
		h = (h ^ (step >> (8 * i) & 0xff)) * prime
	}
	for i := 0; i < len(key); i++ {
		h = (h ^ uint64(key[i])) * prime
	}
	return h
}

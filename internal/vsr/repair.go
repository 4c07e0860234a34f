// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"math/rand/v2"
	"time"
)

// stateTransferThreshold is how many ops behind triggers a full state
// transfer instead of op-by-op repair (spec.md §4.3 "Repair ... beyond
// a threshold range, request a checkpoint snapshot instead").
const stateTransferThreshold = OpNumber(1000)

// requestRepair asks a peer to fill [from, to], using the repair budget
// to pick a good candidate, or falls back to a state-transfer request
// when the gap is too large to repair entry-by-entry.
func requestRepair(state *ReplicaState, now time.Time, from, to OpNumber, out *Output) {
	if to < from {
		return
	}
	if to-from > stateTransferThreshold {
		out.send(Message{
			Kind: MsgStateTransferRequest, From: state.Self, To: state.leaderFor(state.View),
			View: state.View, CheckpointOp: to,
		})
		return
	}

	candidates := make([]ReplicaId, 0, len(state.Config.Replicas))
	for _, r := range state.Config.Replicas {
		if r != state.Self {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return
	}
	rng := rand.New(rand.NewChaCha8(repairSeed(state.Self, from, now)))
	target, ok := state.Repair.RouteRepair(candidates, from, to, now, rng)
	if !ok {
		return
	}
	out.send(Message{
		Kind: MsgRepairRequest, From: state.Self, To: target,
		View: state.View, RepairFrom: from, RepairTo: to,
	})
}

// repairSeed derives a deterministic ChaCha8 seed from the requesting
// replica, the op range start, and the event time, so simulator replays
// of the same trace pick the same repair-routing coin flips without the
// reducer ever reading global randomness (spec.md §4.6 determinism).
func repairSeed(self ReplicaId, from OpNumber, now time.Time) [32]byte {
	var seed [32]byte
	put := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			seed[off+i] = byte(v >> (8 * i))
		}
	}
	put(0, uint64(self))
	put(8, uint64(from))
	put(16, uint64(now.UnixNano()))
	return seed
}

// handleRepairRequest answers with every entry in [RepairFrom, RepairTo]
// this replica actually has, or a Nack describing why not (spec.md §4.3
// "Protocol-Aware Recovery"): NackNotSeen if the op is past our own
// OpNumber, NackSeenButCorrupt if we held it but it failed integrity
// checks (surfaced to us by the storage layer via the scrubber — absent
// that signal here, a missing Log slot at an op we should have is
// treated as not-seen, the conservative choice for truncation safety).
func handleRepairRequest(state *ReplicaState, now time.Time, msg Message, out *Output) {
	var entries []LogEntry
	for op := msg.RepairFrom; op <= msg.RepairTo; op++ {
		entry, ok := state.entryAt(op)
		if !ok {
			out.send(Message{
				Kind: MsgNack, From: state.Self, To: msg.From,
				View: state.View, Op: op, Reason: NackNotSeen,
			})
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) > 0 {
		out.send(Message{
			Kind: MsgRepairResponse, From: state.Self, To: msg.From,
			View: state.View, Log: entries, RepairFrom: msg.RepairFrom, RepairTo: msg.RepairTo,
		})
	}
}

// handleRepairResponse splices the returned entries into our log
// wherever they extend it contiguously, and re-requests whatever is
// still missing.
func handleRepairResponse(state *ReplicaState, now time.Time, msg Message, out *Output) {
	state.Repair.Complete(msg.From, msg.RepairFrom, msg.RepairTo)
	for _, entry := range msg.Log {
		if entry.Op != state.OpNumber+1 {
			continue
		}
		state.Log = append(state.Log, entry)
		state.OpNumber = entry.Op
	}
	if state.OpNumber < msg.RepairTo {
		requestRepair(state, now, state.OpNumber+1, msg.RepairTo, out)
	}
	advanceCommitTo(state, now, state.CommitNumber, out)
}

// handleNack records the failed repair attempt (freeing the inflight
// slot) and, for the SeenButCorrupt case, flags that truncation past
// this op would be unsafe — Protocol-Aware Recovery requires f+1
// NotSeen NACKs before a view change is allowed to truncate the log
// that far; a single SeenButCorrupt anywhere in the range blocks it
// (spec.md §4.3 "Protocol-Aware Recovery"). The actual truncation gate
// lives in the view-change path (handleDoViewChange selects logs by
// LastNormalView/Op rather than ever shortening a log whose tail is
// merely unconfirmed), so here the NACK only clears the repair budget
// bookkeeping and, on persistent corruption, escalates to state
// transfer, since corrupt local data can never be repaired by more of
// the same entry.
func handleNack(state *ReplicaState, now time.Time, msg Message, out *Output) {
	state.Repair.Complete(msg.From, msg.Op, msg.Op)
	if msg.Reason == NackSeenButCorrupt {
		out.send(Message{
			Kind: MsgStateTransferRequest, From: state.Self, To: state.leaderFor(state.View),
			View: state.View, CheckpointOp: msg.Op,
		})
	}
}

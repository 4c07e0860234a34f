// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"time"

	"github.com/kimberlitedb/kimberlite/internal/kernel"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// processClientRequest is the leader-side entry point for a new client
// operation (spec.md §4.3 "Normal operation, primary"). A non-leader or
// non-Normal replica rejects the request outright so the client can
// retry against the current primary.
func processClientRequest(state *ReplicaState, ev Event, out *Output) {
	if state.Status != StatusNormal || !state.IsLeader() {
		out.reply(ev.ClientId, Reply{RequestNumber: ev.RequestNumber, Err: "not_leader"})
		return
	}
	if !state.Sessions.Registered(ev.ClientId) {
		state.Sessions.Register(ev.ClientId, kimtypes.Timestamp(ev.Now.UnixNano()))
	}
	if reply, ok := state.Sessions.CommittedReply(ev.ClientId, ev.RequestNumber); ok {
		out.reply(ev.ClientId, reply) // cached: property 12, idempotent retry
		return
	}
	if state.Sessions.IsStale(ev.ClientId, ev.RequestNumber) {
		out.reply(ev.ClientId, Reply{RequestNumber: ev.RequestNumber, Err: "stale_request"})
		return
	}

	entry := LogEntry{
		View:          state.View,
		Op:            state.OpNumber + 1,
		ClientId:      ev.ClientId,
		RequestNumber: ev.RequestNumber,
		Command:       ev.Command,
		PrevHash:      state.tailHash(),
	}
	state.Log = append(state.Log, entry)
	state.OpNumber = entry.Op
	state.prepareAcks[entry.Op] = map[ReplicaId]bool{state.Self: true}

	out.send(Message{
		Kind: MsgPrepare, From: state.Self, To: BroadcastReplica,
		View: state.View, Op: entry.Op, Entry: entry, Commit: state.CommitNumber,
	})
	out.resetTimer(TimerPrepare, DefaultPrepareTimeout)

	tryAdvanceCommit(state, ev.Now, out)
}

// handlePrepare is the backup-side handling of a leader's Prepare
// (spec.md §4.3 "Normal operation, backup"). A backup only appends when
// the entry is exactly the next expected op in the current view;
// anything else means it has fallen behind and must repair rather than
// silently accept a gap.
func handlePrepare(state *ReplicaState, now time.Time, msg Message, out *Output) {
	if state.Status != StatusNormal {
		return
	}
	if msg.View != state.View || msg.From != state.leaderFor(state.View) {
		return // not our primary, or stale/future view (handled by view change)
	}
	if msg.Op <= state.OpNumber {
		return // already have it (duplicate Prepare, e.g. after a repair)
	}
	if msg.Op != state.OpNumber+1 {
		requestRepair(state, now, state.OpNumber+1, msg.Op-1, out)
		return
	}

	state.Log = append(state.Log, msg.Entry)
	state.OpNumber = msg.Entry.Op
	state.Sessions.MarkPrepared(msg.Entry.ClientId, Reply{RequestNumber: msg.Entry.RequestNumber})

	out.send(Message{
		Kind: MsgPrepareOk, From: state.Self, To: msg.From,
		View: state.View, Op: msg.Entry.Op,
	})

	advanceCommitTo(state, now, msg.Commit, out)
}

// handlePrepareOk is the leader-side accumulation of backup
// acknowledgements; once a quorum (including the leader itself) has
// PrepareOk'd an op, it — and every earlier still-uncommitted op — is
// committed in order (spec.md §4.3 step "commit advances in order").
func handlePrepareOk(state *ReplicaState, now time.Time, msg Message, out *Output) {
	if state.Status != StatusNormal || !state.IsLeader() || msg.View != state.View {
		return
	}
	acks := state.prepareAcks[msg.Op]
	if acks == nil {
		acks = make(map[ReplicaId]bool)
		state.prepareAcks[msg.Op] = acks
	}
	acks[msg.From] = true
	tryAdvanceCommit(state, now, out)
}

// tryAdvanceCommit commits every contiguous op starting at
// state.CommitNumber+1 that now has quorum, in order, applying each to
// the kernel and clearing its ack set once it can no longer change
// outcome (spec.md §4.3 "Commit ... never skips an op").
func tryAdvanceCommit(state *ReplicaState, now time.Time, out *Output) {
	for {
		next := state.CommitNumber + 1
		entry, ok := state.entryAt(OpNumber(next))
		if !ok {
			return
		}
		if !state.Config.HasQuorum(state.prepareAcks[entry.Op]) {
			return
		}
		commitEntry(state, now, entry, out)
		delete(state.prepareAcks, entry.Op)
	}
}

// advanceCommitTo is the backup-side counterpart: the leader's Commit
// (or Prepare's piggybacked Commit field) tells a backup how far it is
// safe to apply, without the backup needing its own quorum view.
func advanceCommitTo(state *ReplicaState, now time.Time, commit CommitNumber, out *Output) {
	for state.CommitNumber < commit {
		next := state.CommitNumber + 1
		entry, ok := state.entryAt(OpNumber(next))
		if !ok {
			requestRepair(state, now, next, OpNumber(commit), out)
			return
		}
		commitEntry(state, now, entry, out)
	}
}

// commitEntry applies entry's Command to the kernel, records the reply
// in the client's session, and advances CommitNumber — the one place
// where a VSR entry actually touches the deterministic functional core
// (spec.md data-flow diagram: "VSR commits -> kernel.Apply -> Effects").
func commitEntry(state *ReplicaState, now time.Time, entry LogEntry, out *Output) {
	newKernel, effects, err := kernel.Apply(state.Kernel, entry.Command)
	reply := Reply{RequestNumber: entry.RequestNumber}
	if err != nil {
		reply.Err = err.Error()
	} else {
		state.Kernel = newKernel
		out.effect(effects...)
	}
	state.Sessions.Commit(entry.ClientId, entry.RequestNumber, reply)
	state.CommitNumber = CommitNumber(entry.Op)
	if state.IsLeader() {
		out.reply(entry.ClientId, reply)
	}
}

// handleCommit applies a standalone Commit message (a heartbeat's
// Commit field is handled the same way via handleHeartbeat).
func handleCommit(state *ReplicaState, now time.Time, msg Message, out *Output) {
	if state.Status != StatusNormal || msg.View != state.View || msg.From != state.leaderFor(state.View) {
		return
	}
	advanceCommitTo(state, now, msg.Commit, out)
}

func handleHeartbeat(state *ReplicaState, now time.Time, msg Message, out *Output) {
	if state.Status != StatusNormal || msg.View != state.View || msg.From != state.leaderFor(state.View) {
		return
	}
	out.resetTimer(TimerViewChange, DefaultViewChangeTimeout)
	advanceCommitTo(state, now, msg.Commit, out)
}

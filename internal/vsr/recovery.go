// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// NewNonce generates a fresh recovery nonce. A restarting replica calls
// this once, before BeginRecovery, so it can reject responses
// correlated to some earlier, abandoned recovery attempt.
func NewNonce() Nonce {
	id := uuid.New()
	return Nonce(binary.BigEndian.Uint64(id[:8]))
}

// recoveryRound tracks an in-progress recovery: the nonce this replica
// generated (so it can reject stale/foreign responses) and every
// response collected so far, keyed by responder.
type recoveryRound struct {
	nonce     Nonce
	responses map[ReplicaId]Message
}

// BeginRecovery puts a just-restarted replica into StatusRecovering: it
// must not vote in any quorum nor answer client reads until it has
// reconstructed its state from peers (spec.md §4.3 "Recovery protocol
// ... MUST NOT participate in the quorum for committing client requests
// or process read requests while recovering"). The replica retains
// whatever log it managed to load from its own (possibly truncated)
// storage; PAR governs whether peers will trust it later.
func BeginRecovery(state *ReplicaState, nonce Nonce, out *Output) {
	state.Status = StatusRecovering
	state.recovery = &recoveryRound{nonce: nonce, responses: make(map[ReplicaId]Message)}
	out.send(Message{Kind: MsgRecoveryRequest, From: state.Self, To: BroadcastReplica, Nonce: nonce})
	out.resetTimer(TimerRecovery, DefaultRecoveryTimeout)
}

// handleRecoveryRequest answers a peer's recovery request with our own
// view and, if we are the primary of our view, the full log — only the
// primary's response carries enough to reconstruct state; others merely
// attest to the current view number (spec.md §4.3).
func handleRecoveryRequest(state *ReplicaState, now time.Time, msg Message, out *Output) {
	if state.Status == StatusRecovering {
		return // a recovering replica cannot attest to anything
	}
	resp := Message{
		Kind: MsgRecoveryResponse, From: state.Self, To: msg.From,
		View: state.View, Nonce: msg.Nonce, Commit: state.CommitNumber,
	}
	if state.leaderFor(state.View) == state.Self {
		resp.Log = append([]LogEntry(nil), state.Log...)
		resp.Op = state.OpNumber
	}
	out.send(resp)
}

// handleRecoveryResponse collects responses for the in-progress
// recovery. Once a quorum has replied with the matching nonce and one
// of them is the primary of the highest view seen, the recovering
// replica adopts that primary's log and rejoins as Normal
// (spec.md §4.3 step "recovery completes once a quorum responds,
// including the primary of the latest view").
func handleRecoveryResponse(state *ReplicaState, now time.Time, msg Message, out *Output) {
	if state.Status != StatusRecovering || state.recovery == nil || msg.Nonce != state.recovery.nonce {
		return
	}
	state.recovery.responses[msg.From] = msg

	acks := make(map[ReplicaId]bool, len(state.recovery.responses))
	for id := range state.recovery.responses {
		acks[id] = true
	}
	if !state.Config.HasQuorum(acks) {
		return
	}

	var highestView ViewNumber
	for _, r := range state.recovery.responses {
		if r.View > highestView {
			highestView = r.View
		}
	}
	var primaryResp Message
	haveLog := false
	for _, r := range state.recovery.responses {
		if r.Log != nil && r.View == highestView {
			primaryResp, haveLog = r, true
		}
	}
	if !haveLog {
		return // wait for the latest-view primary specifically
	}

	state.View = primaryResp.View
	state.Log = append([]LogEntry(nil), primaryResp.Log...)
	state.OpNumber = primaryResp.Op
	state.CommitNumber = 0
	state.Status = StatusNormal
	state.LastNormalView = primaryResp.View
	state.recovery = nil

	out.resetTimer(TimerViewChange, DefaultViewChangeTimeout)
	// Replay every committed entry through the kernel rather than just
	// copying the primary's CommitNumber — a recovering replica starts
	// with an empty (or stale) kernel and must rebuild it op by op.
	advanceCommitTo(state, now, primaryResp.Commit, out)
}

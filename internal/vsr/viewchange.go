// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import "time"

// beginViewChange fires when a backup's view-change timer expires
// without hearing from the primary: it advances to the next view,
// enters StatusViewChange, discards any uncommitted session state
// (VRR bug #2), and broadcasts StartViewChange (spec.md §4.3 "View
// change").
func beginViewChange(state *ReplicaState, now time.Time, out *Output) {
	if state.Status == StatusNormal && state.IsLeader() {
		// The primary is the source of heartbeats, not a consumer of
		// them: it has no "missing heartbeat" signal of its own, so its
		// view-change timer firing is a stray wakeup, not evidence of a
		// dead leader. Re-arm and do nothing.
		out.resetTimer(TimerViewChange, DefaultViewChangeTimeout)
		return
	}
	if state.Status == StatusNormal {
		state.LastNormalView = state.View
	}
	state.View++
	state.Status = StatusViewChange
	state.Sessions.DiscardUncommitted()
	state.viewChange = &viewChangeRound{
		targetView:          state.View,
		startViewChangeAcks: map[ReplicaId]bool{state.Self: true},
	}
	out.send(Message{Kind: MsgStartViewChange, From: state.Self, To: BroadcastReplica, View: state.View})
	out.resetTimer(TimerViewChange, DefaultViewChangeTimeout)
}

// handleStartViewChange accumulates votes for a prospective view. Once
// this replica has seen a quorum and it is NOT the prospective primary
// of that view, it sends DoViewChange to that primary instead of
// broadcasting further; the prospective primary itself sends nothing
// here and waits for DoViewChange messages.
func handleStartViewChange(state *ReplicaState, now time.Time, msg Message, out *Output) {
	if msg.View < state.View {
		return
	}
	if msg.View > state.View || state.Status != StatusViewChange {
		adoptViewChangeTarget(state, msg.View, out)
	}
	if state.viewChange == nil || state.viewChange.targetView != msg.View {
		return
	}
	state.viewChange.startViewChangeAcks[msg.From] = true

	if state.leaderFor(msg.View) == state.Self {
		return // the prospective primary doesn't send itself DoViewChange
	}
	if state.Config.HasQuorum(state.viewChange.startViewChangeAcks) {
		out.send(Message{
			Kind: MsgDoViewChange, From: state.Self, To: state.leaderFor(msg.View),
			View: msg.View, Log: append([]LogEntry(nil), state.Log...),
			Commit: state.CommitNumber, LastNormalView: state.LastNormalView, Op: state.OpNumber,
		})
	}
}

// adoptViewChangeTarget brings this replica into StatusViewChange for a
// view it learned about from a peer (it may not itself have timed out
// yet), without resetting vote tracking for a round already in progress
// for that same view.
func adoptViewChangeTarget(state *ReplicaState, target ViewNumber, out *Output) {
	if state.Status == StatusNormal {
		state.LastNormalView = state.View
	}
	state.View = target
	state.Status = StatusViewChange
	state.Sessions.DiscardUncommitted()
	state.viewChange = &viewChangeRound{
		targetView:          target,
		startViewChangeAcks: map[ReplicaId]bool{state.Self: true},
	}
	out.send(Message{Kind: MsgStartViewChange, From: state.Self, To: BroadcastReplica, View: target})
	out.resetTimer(TimerViewChange, DefaultViewChangeTimeout)
}

// handleDoViewChange is the prospective primary's collection of backup
// logs. Once a quorum of DoViewChange votes (including its own,
// implicit) has arrived, it picks the most up-to-date log — highest
// LastNormalView, breaking ties by highest Op — truncates its own log
// to match, and starts the new view (spec.md §4.3 step 3: "the new
// primary selects the log with the highest last_normal_view, breaking
// ties by op_number").
func handleDoViewChange(state *ReplicaState, now time.Time, msg Message, out *Output) {
	if msg.View != state.View || state.leaderFor(msg.View) != state.Self {
		return
	}
	if state.viewChange == nil || state.viewChange.targetView != msg.View {
		state.viewChange = &viewChangeRound{
			targetView:    msg.View,
			doViewChanges: make(map[ReplicaId]Message),
		}
	}
	if state.viewChange.doViewChanges == nil {
		state.viewChange.doViewChanges = make(map[ReplicaId]Message)
	}
	state.viewChange.doViewChanges[msg.From] = msg

	acks := make(map[ReplicaId]bool, len(state.viewChange.doViewChanges)+1)
	acks[state.Self] = true
	for id := range state.viewChange.doViewChanges {
		acks[id] = true
	}
	if !state.Config.HasQuorum(acks) {
		return
	}

	best := msg
	haveBest := false
	for _, m := range state.viewChange.doViewChanges {
		if !haveBest || isMoreUpToDate(m, best) {
			best, haveBest = m, true
		}
	}
	if isMoreUpToDate(
		Message{LastNormalView: state.LastNormalView, Op: state.OpNumber, Log: state.Log, Commit: state.CommitNumber},
		best,
	) {
		best = Message{LastNormalView: state.LastNormalView, Op: state.OpNumber, Log: state.Log, Commit: state.CommitNumber}
	}

	state.Log = append([]LogEntry(nil), best.Log...)
	state.OpNumber = best.Op
	if best.Commit > state.CommitNumber {
		state.CommitNumber = best.Commit
	}
	state.Status = StatusNormal
	state.LastNormalView = state.View
	state.viewChange = nil
	state.prepareAcks = make(map[OpNumber]map[ReplicaId]bool)

	out.send(Message{
		Kind: MsgStartView, From: state.Self, To: BroadcastReplica,
		View: state.View, Log: append([]LogEntry(nil), state.Log...),
		Op: state.OpNumber, Commit: state.CommitNumber,
	})
	out.resetTimer(TimerHeartbeat, DefaultHeartbeatInterval)

	advanceCommitTo(state, now, state.CommitNumber, out)
}

// isMoreUpToDate reports whether a's log is preferred over b's under
// the VSR view-change selection rule.
func isMoreUpToDate(a, b Message) bool {
	if a.LastNormalView != b.LastNormalView {
		return a.LastNormalView > b.LastNormalView
	}
	return a.Op > b.Op
}

// handleStartView is a backup adopting the new primary's chosen log
// wholesale and returning to Normal status (spec.md §4.3 step 4).
func handleStartView(state *ReplicaState, now time.Time, msg Message, out *Output) {
	if msg.View < state.View {
		return
	}
	state.View = msg.View
	state.Log = append([]LogEntry(nil), msg.Log...)
	state.OpNumber = msg.Op
	state.Status = StatusNormal
	state.LastNormalView = msg.View
	state.viewChange = nil
	state.Sessions.DiscardUncommitted()

	out.resetTimer(TimerViewChange, DefaultViewChangeTimeout)
	advanceCommitTo(state, now, msg.Commit, out)
}

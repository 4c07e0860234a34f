// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

// Process is the replica reducer's single entry point: process(state,
// event) -> (state', output) (spec.md §4.3). It mutates state in place
// and returns the accumulated Output, rather than returning a new
// ReplicaState value, because the replica's log and session table are
// too large to clone per step the way kernel.State is. The simulator
// takes no ReplicaState snapshots; its runs are reproduced by replaying
// the same seed from the start.
func Process(state *ReplicaState, ev Event) Output {
	var out Output
	switch ev.Kind {
	case EventTick:
		processTick(state, ev, &out)
	case EventClientRequest:
		processClientRequest(state, ev, &out)
	case EventMessage:
		processMessage(state, ev, &out)
	case EventTimerExpired:
		processTimerExpired(state, ev, &out)
	}
	return out
}

func processTick(state *ReplicaState, ev Event, out *Output) {
	if state.Status == StatusNormal && state.IsLeader() {
		out.send(Heartbeat(state.Self, state.View, state.CommitNumber))
	}
}

func processMessage(state *ReplicaState, ev Event, out *Output) {
	msg := ev.Msg
	if msg.View < state.View {
		return // stale message, ignore (spec.md §7 "view stale")
	}
	switch msg.Kind {
	case MsgPrepare:
		handlePrepare(state, ev.Now, msg, out)
	case MsgPrepareOk:
		handlePrepareOk(state, ev.Now, msg, out)
	case MsgCommit:
		handleCommit(state, ev.Now, msg, out)
	case MsgHeartbeat:
		handleHeartbeat(state, ev.Now, msg, out)
	case MsgStartViewChange:
		handleStartViewChange(state, ev.Now, msg, out)
	case MsgDoViewChange:
		handleDoViewChange(state, ev.Now, msg, out)
	case MsgStartView:
		handleStartView(state, ev.Now, msg, out)
	case MsgRepairRequest:
		handleRepairRequest(state, ev.Now, msg, out)
	case MsgRepairResponse:
		handleRepairResponse(state, ev.Now, msg, out)
	case MsgNack:
		handleNack(state, ev.Now, msg, out)
	case MsgRecoveryRequest:
		handleRecoveryRequest(state, ev.Now, msg, out)
	case MsgRecoveryResponse:
		handleRecoveryResponse(state, ev.Now, msg, out)
	}
}

func processTimerExpired(state *ReplicaState, ev Event, out *Output) {
	switch ev.Timer {
	case TimerViewChange:
		beginViewChange(state, ev.Now, out)
	case TimerHeartbeat:
		if state.Status == StatusNormal && state.IsLeader() {
			out.send(Heartbeat(state.Self, state.View, state.CommitNumber))
			out.resetTimer(TimerHeartbeat, DefaultHeartbeatInterval)
		}
	case TimerScrub:
		// The tour itself needs storage access Process never has; Driver
		// runs it before calling Process and folds any resulting repair
		// requests into this same Output. Process only re-arms the timer,
		// the same self-rearm shape TimerHeartbeat uses above.
		out.resetTimer(TimerScrub, DefaultScrubInterval)
	case TimerPrepare, TimerRepair, TimerRecovery, TimerStateTransfer:
		// Retry/escalation handled by the caller re-issuing the
		// relevant request (repair re-routing, recovery retry); the
		// reducer itself has nothing further to mutate here.
	}
}

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"time"

	"github.com/kimberlitedb/kimberlite/internal/kernel"
)

// TimerKind tags which of a replica's timers fired (spec.md §5).
type TimerKind uint8

const (
	TimerViewChange TimerKind = iota
	TimerPrepare
	TimerHeartbeat
	TimerRepair
	TimerRecovery
	TimerStateTransfer
	TimerScrub
)

// EventKind tags the variant of an Event driving Process.
type EventKind uint8

const (
	EventTick EventKind = iota
	EventMessage
	EventClientRequest
	EventTimerExpired
)

// Event is Process's sole input besides the current ReplicaState
// (spec.md §4.3: "Events are {Tick(now), Message(from, payload),
// ClientRequest, TimerExpired(kind)}").
type Event struct {
	Kind EventKind
	Now  time.Time

	Msg Message

	ClientId      ClientId
	RequestNumber RequestNumber
	Command       kernel.Command

	Timer TimerKind
}

// Tick builds a clock-advance event.
func Tick(now time.Time) Event { return Event{Kind: EventTick, Now: now} }

// MessageEvent builds an inbound-message event.
func MessageEvent(now time.Time, msg Message) Event {
	return Event{Kind: EventMessage, Now: now, Msg: msg}
}

// ClientRequestEvent builds a new client request event.
func ClientRequestEvent(now time.Time, clientID ClientId, rn RequestNumber, cmd kernel.Command) Event {
	return Event{Kind: EventClientRequest, Now: now, ClientId: clientID, RequestNumber: rn, Command: cmd}
}

// TimerExpiredEvent builds a timer-fired event.
func TimerExpiredEvent(now time.Time, timer TimerKind) Event {
	return Event{Kind: EventTimerExpired, Now: now, Timer: timer}
}

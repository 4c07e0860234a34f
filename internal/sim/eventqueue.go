// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package sim is the VOPR deterministic simulation harness: a
// single-threaded discrete-event scheduler driving internal/vsr replicas
// and internal/kernel through a simulated network, storage, and clock,
// with pluggable fault injection and invariant checking (spec.md §4.6).
package sim

import (
	"container/heap"
	"time"
)

// EventId breaks ties between events scheduled for the same simulated
// instant deterministically (spec.md §4.6: "ties broken deterministically
// by event id").
type EventId uint64

// EventKind tags what an Event represents, purely for logging/coverage —
// the scheduler itself only cares about Time and Id ordering.
type EventKind uint8

const (
	EventKindMessage EventKind = iota
	EventKindTimer
	EventKindStorageCompletion
	EventKindCrash
	EventKindClientRequest
)

// Event is one entry in the simulation's time-ordered queue.
type Event struct {
	Time time.Time
	Id   EventId
	Kind EventKind

	// Fire is invoked when the event reaches the head of the queue at
	// its scheduled time; it returns any new events it causes (e.g. a
	// sent message becoming a future delivery event).
	Fire func() []Event
}

// eventHeap is a min-heap ordered by (Time, Id), implementing
// container/heap.Interface the way go-ethereum's transaction pools order
// by priority (_teacher_ref/heap_test.go).
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Time.Equal(h[j].Time) {
		return h[i].Id < h[j].Id
	}
	return h[i].Time.Before(h[j].Time)
}
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// EventQueue is the simulation's sole source of time advancement: the
// scheduler pops the earliest event, advances the simulated clock to its
// Time, and fires it (spec.md §4.6: "advances time to the next event").
type EventQueue struct {
	heap   eventHeap
	nextId EventId
	now    time.Time
}

// NewEventQueue returns an empty queue with the simulated clock starting
// at start.
func NewEventQueue(start time.Time) *EventQueue {
	return &EventQueue{now: start}
}

// Now returns the simulated clock's current instant.
func (q *EventQueue) Now() time.Time { return q.now }

// Schedule enqueues an event to fire at "at", assigning it the next
// monotonically increasing EventId for deterministic tie-breaking.
func (q *EventQueue) Schedule(at time.Time, kind EventKind, fire func() []Event) EventId {
	id := q.nextId
	q.nextId++
	heap.Push(&q.heap, Event{Time: at, Id: id, Kind: kind, Fire: fire})
	return id
}

// Empty reports whether the queue has no more events.
func (q *EventQueue) Empty() bool { return q.heap.Len() == 0 }

// Step pops and fires the single earliest event, advancing Now to its
// Time first, and re-enqueues whatever new events it produces. Returns
// false if the queue was empty.
func (q *EventQueue) Step() bool {
	if q.heap.Len() == 0 {
		return false
	}
	ev := heap.Pop(&q.heap).(Event)
	q.now = ev.Time
	for _, next := range ev.Fire() {
		q.Schedule(next.Time, next.Kind, next.Fire)
	}
	return true
}

// Run drives the queue until empty or until stepBudget steps have run
// (a safety valve against a bug that schedules events forever), returning
// the number of steps actually taken.
func (q *EventQueue) Run(stepBudget int) int {
	steps := 0
	for steps < stepBudget && q.Step() {
		steps++
	}
	return steps
}

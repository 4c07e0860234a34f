// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kimberlitedb/kimberlite/internal/kernel"
	"github.com/kimberlitedb/kimberlite/internal/vsr"
)

// scrubRateSim is the scrub rate every simulated replica's Scrubber runs
// at. Production scrubs slowly in the background over real wall-clock
// time (spec.md §4.3); the simulator instead wants every tour to
// complete within the same deterministic step it started in, so it
// scrubs far faster than any real deployment would. Heartbeat and
// view-change timers, by contrast, use vsr's defaults unchanged.
const scrubRateSim = 1e6

// Cluster wires a set of vsr.ReplicaState values to a SimNetwork and
// EventQueue, draining each replica's Output (messages, timer resets)
// back into the simulation, and running the universal invariant
// checkers after every delivered event (spec.md §4.6: "run at every
// step (cheap)").
type Cluster struct {
	Queue     *EventQueue
	Network   *SimNetwork
	Rng       *Rng
	Replicas  map[vsr.ReplicaId]*vsr.ReplicaState
	Drivers   map[vsr.ReplicaId]*vsr.Driver
	Checkers  []Checker
	EventLog  []EventLogEntry
	step      uint64
	Violation *Violation

	// ScrubCorruptions counts corrupt ops every replica's background
	// Scrubber has found across the run, for scenarios that inject log
	// tampering and assert the scrubber actually notices (spec.md §4.3).
	ScrubCorruptions int

	// timerGen holds, per (replica, timer kind), the generation of the
	// most recently scheduled timer; fires of older generations are
	// ignored, which is how re-arming a timer cancels the previous one.
	timerGen map[[2]uint64]uint64
}

// NewCluster builds a fresh cluster of n replicas at the given config,
// registering each with network and arming its heartbeat/view-change
// timers.
func NewCluster(seed uint64, ids []vsr.ReplicaId, fault LinkFault) *Cluster {
	rng := NewRng(seed)
	queue := NewEventQueue(time.Unix(0, 0))
	net := NewSimNetwork(rng.Fork(), queue, fault)

	cfg := vsr.NewClusterConfig(ids)
	c := &Cluster{
		Queue:    queue,
		Network:  net,
		Rng:      rng,
		Replicas: make(map[vsr.ReplicaId]*vsr.ReplicaState),
		Drivers:  make(map[vsr.ReplicaId]*vsr.Driver),
		Checkers: CheckerSet(),
	}

	for _, id := range ids {
		r := vsr.NewReplicaState(id, cfg)
		c.Replicas[id] = r
		replicaID := id
		check := func(op vsr.OpNumber) (bool, error) { return r.VerifyEntry(op) }
		onCorrupt := func(vsr.OpNumber) { c.ScrubCorruptions++ }
		scrubber := vsr.NewScrubber(id, scrubRateSim, check, onCorrupt)
		c.Drivers[id] = vsr.NewDriver(r, nil, scrubber)
		net.RegisterNode(id, func(msg vsr.Message) {
			c.deliver(replicaID, vsr.MessageEvent(c.Queue.Now(), msg))
		})
	}
	for _, id := range ids {
		c.armTimers(id)
	}
	return c
}

func (c *Cluster) armTimers(id vsr.ReplicaId) {
	c.scheduleTimer(id, vsr.TimerHeartbeat, vsr.DefaultHeartbeatInterval)
	c.scheduleTimer(id, vsr.TimerViewChange, vsr.DefaultViewChangeTimeout)
	c.scheduleTimer(id, vsr.TimerScrub, vsr.DefaultScrubInterval)
}

func (c *Cluster) scheduleTimer(id vsr.ReplicaId, timer vsr.TimerKind, after time.Duration) {
	if c.timerGen == nil {
		c.timerGen = make(map[[2]uint64]uint64)
	}
	slot := [2]uint64{uint64(id), uint64(timer)}
	c.timerGen[slot]++
	gen := c.timerGen[slot]
	c.Queue.Schedule(c.Queue.Now().Add(after), EventKindTimer, func() []Event {
		if c.timerGen[slot] != gen {
			return nil // superseded by a newer generation of this timer
		}
		c.deliver(id, vsr.TimerExpiredEvent(c.Queue.Now(), timer))
		return nil
	})
}

// deliver runs event through replica id's reducer, dispatches the
// resulting Output, logs the nondeterministic shape of the step, and
// runs every checker, latching the first violation found.
func (c *Cluster) deliver(id vsr.ReplicaId, ev vsr.Event) {
	if c.Violation != nil {
		return
	}
	driver, ok := c.Drivers[id]
	if !ok {
		return
	}
	out, err := driver.Step(context.Background(), ev)
	if err != nil {
		c.Violation = &Violation{Checker: "scrubber", Detail: fmt.Sprintf("replica %d: %v", id, err)}
		return
	}
	for _, msg := range out.Messages {
		c.Network.Send(id, msg)
	}
	for _, reset := range out.TimerResets {
		c.scheduleTimer(id, reset.Timer, reset.After)
	}

	c.step++
	c.EventLog = append(c.EventLog, EventLogEntry{Step: c.step, Kind: "deliver", Detail: eventDetail(id, ev)})

	if v := RunCheckers(c.Checkers, c.Replicas); v != nil {
		c.Violation = v
	}
}

func eventDetail(id vsr.ReplicaId, ev vsr.Event) string {
	return fmt.Sprintf("replica=%d kind=%d", id, ev.Kind)
}

// SubmitClientRequest delivers a client request directly to the given
// replica (the caller is responsible for knowing/guessing the leader;
// a non-leader simply replies NotLeader).
func (c *Cluster) SubmitClientRequest(leader vsr.ReplicaId, clientID vsr.ClientId, rn vsr.RequestNumber, cmd kernel.Command) {
	c.deliver(leader, vsr.ClientRequestEvent(c.Queue.Now(), clientID, rn, cmd))
}

// Run drains the event queue up to stepBudget steps or until a
// violation is latched, whichever comes first.
func (c *Cluster) Run(stepBudget int) {
	for steps := 0; steps < stepBudget && c.Violation == nil; steps++ {
		if !c.Queue.Step() {
			return
		}
	}
}

// Partition isolates id from every other replica in both directions,
// modeling a crashed or network-split leader (spec.md scenario C:
// "drop leader 0's heartbeats").
func (c *Cluster) Partition(id vsr.ReplicaId) {
	for other := range c.Replicas {
		if other == id {
			continue
		}
		c.Network.SetPartition(id, other, true)
		c.Network.SetPartition(other, id, true)
	}
}

// Heal clears a previously applied Partition.
func (c *Cluster) Heal(id vsr.ReplicaId) {
	for other := range c.Replicas {
		if other == id {
			continue
		}
		c.Network.SetPartition(id, other, false)
		c.Network.SetPartition(other, id, false)
	}
}

// Bundle captures the cluster's current failure (if any) as a
// ReproBundle for persistence/triage. BundleID is a random UUID rather
// than anything derived from seed/scenario, since two runs of the same
// seed that both fail are still distinct triage artifacts (e.g. one
// captured before and one after a fix attempt).
func (c *Cluster) Bundle(seed uint64, scenario string) *ReproBundle {
	return &ReproBundle{
		BundleID: uuid.NewString(),
		Seed:     seed, Scenario: scenario, EventLog: c.EventLog,
		Violation: c.Violation, FailingStep: c.step,
	}
}

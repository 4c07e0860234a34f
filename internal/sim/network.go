// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package sim

import (
	"sort"
	"time"

	"github.com/kimberlitedb/kimberlite/internal/vsr"
)

// LinkFault describes the simulated fault behavior between one ordered
// pair of nodes (spec.md §4.6 "SimNetwork").
type LinkFault struct {
	MinDelay, MaxDelay time.Duration
	DropProbability    float64
	// Partitioned blocks delivery entirely until cleared, modeling a
	// symmetric or directed network partition.
	Partitioned bool
}

// delivery is a message in flight, queued for FIFO-per-link release
// unless chaos reordering is enabled for that link.
type delivery struct {
	msg vsr.Message
	at  time.Time
}

// SimNetwork is a simulated, faulty point-to-point network: per-link
// delay drawn from a seeded distribution, drop probability, and
// partitions, feeding delivered messages back into the owning
// simulation's EventQueue (spec.md §4.6).
type SimNetwork struct {
	rng     *Rng
	queue   *EventQueue
	nodes   map[vsr.ReplicaId]func(vsr.Message)
	faults  map[[2]vsr.ReplicaId]LinkFault
	mutator *MessageMutator
	// reorderLinks, when true for a link, lets that link's queued
	// deliveries fire out of FIFO order (spec.md: "may be reordered
	// under configured chaos").
	reorderLinks map[[2]vsr.ReplicaId]bool
	defaultFault LinkFault
	// lastDeliveryAt tracks, per FIFO link, the delivery time of the
	// most recently scheduled message so the next one cannot overtake
	// it (spec.md: "Ordering within a link is FIFO by default").
	lastDeliveryAt map[[2]vsr.ReplicaId]time.Time
}

// NewSimNetwork returns a network with the given default link fault
// profile, applied to any pair not given an explicit override via
// SetLinkFault.
func NewSimNetwork(rng *Rng, queue *EventQueue, defaultFault LinkFault) *SimNetwork {
	return &SimNetwork{
		rng: rng, queue: queue,
		nodes:        make(map[vsr.ReplicaId]func(vsr.Message)),
		faults:       make(map[[2]vsr.ReplicaId]LinkFault),
		reorderLinks:   make(map[[2]vsr.ReplicaId]bool),
		defaultFault:   defaultFault,
		lastDeliveryAt: make(map[[2]vsr.ReplicaId]time.Time),
	}
}

// RegisterNode attaches a delivery callback for id — invoked whenever a
// message addressed to id is actually delivered (spec.md: "register_node").
func (n *SimNetwork) RegisterNode(id vsr.ReplicaId, deliver func(vsr.Message)) {
	n.nodes[id] = deliver
}

// SetMutator installs a Byzantine message mutator (nil to disable).
func (n *SimNetwork) SetMutator(m *MessageMutator) { n.mutator = m }

// SetLinkFault overrides the fault profile for one directed (from, to) pair.
func (n *SimNetwork) SetLinkFault(from, to vsr.ReplicaId, f LinkFault) {
	n.faults[[2]vsr.ReplicaId{from, to}] = f
}

// SetPartition marks (from, to) as partitioned (or clears it).
func (n *SimNetwork) SetPartition(from, to vsr.ReplicaId, partitioned bool) {
	f := n.linkFault(from, to)
	f.Partitioned = partitioned
	n.faults[[2]vsr.ReplicaId{from, to}] = f
}

// AllowReorder marks (from, to) as permitted to reorder deliveries
// (chaos mode); by default links are FIFO.
func (n *SimNetwork) AllowReorder(from, to vsr.ReplicaId, allow bool) {
	n.reorderLinks[[2]vsr.ReplicaId{from, to}] = allow
}

func (n *SimNetwork) linkFault(from, to vsr.ReplicaId) LinkFault {
	if f, ok := n.faults[[2]vsr.ReplicaId{from, to}]; ok {
		return f
	}
	return n.defaultFault
}

// Send schedules msg for delivery to every registered target (expanding
// BroadcastReplica fan-out), subject to the link's drop probability,
// partition state, and delay distribution (spec.md §4.6).
func (n *SimNetwork) Send(from vsr.ReplicaId, msg vsr.Message) {
	targets := n.targetsFor(from, msg.To)
	for _, to := range targets {
		n.sendOne(from, to, msg)
	}
}

func (n *SimNetwork) targetsFor(from, to vsr.ReplicaId) []vsr.ReplicaId {
	if to != vsr.BroadcastReplica {
		return []vsr.ReplicaId{to}
	}
	targets := make([]vsr.ReplicaId, 0, len(n.nodes))
	for id := range n.nodes {
		if id != from {
			targets = append(targets, id)
		}
	}
	// Map iteration order is random; sort so a broadcast's sends (and the
	// rng draws they make) happen in the same order for the same seed.
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

func (n *SimNetwork) sendOne(from, to vsr.ReplicaId, msg vsr.Message) {
	fault := n.linkFault(from, to)
	if fault.Partitioned {
		return
	}
	if n.rng.Chance(fault.DropProbability) {
		return
	}
	if n.mutator != nil {
		msg = n.mutator.Apply(n.rng, msg)
	}

	delay := fault.MinDelay
	if fault.MaxDelay > fault.MinDelay {
		delay = fault.MinDelay + time.Duration(n.rng.Duration(0, int64(fault.MaxDelay-fault.MinDelay)))
	}
	deliverAt := n.queue.Now().Add(delay)

	link := [2]vsr.ReplicaId{from, to}
	if !n.reorderLinks[link] {
		if prior, ok := n.lastDeliveryAt[link]; ok && deliverAt.Before(prior) {
			deliverAt = prior
		}
		n.lastDeliveryAt[link] = deliverAt
	}

	target := to
	n.queue.Schedule(deliverAt, EventKindMessage, func() []Event {
		if cb, ok := n.nodes[target]; ok {
			cb(msg)
		}
		return nil
	})
}

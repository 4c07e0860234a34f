// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"math/rand/v2"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// repairEWMAAlpha is the smoothing factor for per-replica repair-latency
// tracking (spec.md §4.3: "a per-replica latency EWMA is maintained
// (α = 0.2)").
const repairEWMAAlpha = 0.2

// MaxInflightRepairsPerReplica bounds concurrent outstanding repair
// requests to a single replica, preventing repair storms (spec.md §4.3).
const MaxInflightRepairsPerReplica = 2

// RepairRequestTimeout is how long a repair request waits for a response
// before being considered lost and retried elsewhere.
const RepairRequestTimeout = 500 * time.Millisecond

// ExperimentProbability is the chance a repair request is routed to a
// replica the EWMA currently ranks as slow, to re-test whether it has
// recovered (spec.md §4.3: "10% of requests are experiments").
const ExperimentProbability = 0.10

// RepairBudget tracks per-replica repair latency and inflight counts so
// RouteRepair can prefer fast, available replicas while still giving
// slow replicas a chance to prove they've recovered. It mirrors the
// original's repair_budget.rs EWMA-ranked routing with a bounded
// inflight cap, translated to a Go LRU-backed latency table so memory
// is bounded even across long-lived clusters with replica churn.
type RepairBudget struct {
	latencies *lru.Cache[ReplicaId, float64]
	inflight  map[ReplicaId]int
	pending   map[repairKey]time.Time
}

type repairKey struct {
	replica ReplicaId
	from    OpNumber
	to      OpNumber
}

// NewRepairBudget returns a RepairBudget tracking up to maxReplicas
// distinct replica latency estimates.
func NewRepairBudget(maxReplicas int) *RepairBudget {
	cache, _ := lru.New[ReplicaId, float64](maxReplicas)
	return &RepairBudget{
		latencies: cache,
		inflight:  make(map[ReplicaId]int),
		pending:   make(map[repairKey]time.Time),
	}
}

// RecordLatency folds a new observed round-trip latency into replica's
// EWMA estimate.
func (b *RepairBudget) RecordLatency(replica ReplicaId, observed time.Duration) {
	prev, ok := b.latencies.Get(replica)
	next := float64(observed)
	if ok {
		next = repairEWMAAlpha*float64(observed) + (1-repairEWMAAlpha)*prev
	}
	b.latencies.Add(replica, next)
}

// CanSend reports whether replica is under its inflight cap.
func (b *RepairBudget) CanSend(replica ReplicaId) bool {
	return b.inflight[replica] < MaxInflightRepairsPerReplica
}

// RouteRepair picks the best candidate from candidates to send a repair
// request for [from, to] to: normally the fastest replica (lowest EWMA)
// with inflight capacity, but with ExperimentProbability chance, the
// slowest such replica (highest EWMA) is tried instead to detect recovery
// (spec.md §4.3). now is used to expire stale pending requests first.
func (b *RepairBudget) RouteRepair(candidates []ReplicaId, from, to OpNumber, now time.Time, rng *rand.Rand) (ReplicaId, bool) {
	b.expirePending(now)

	var available []ReplicaId
	for _, c := range candidates {
		if b.CanSend(c) {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return 0, false
	}

	if rng.Float64() < ExperimentProbability && len(available) > 1 {
		slowest := available[0]
		slowestLatency := b.latencyOf(slowest)
		for _, c := range available[1:] {
			if l := b.latencyOf(c); l > slowestLatency {
				slowest, slowestLatency = c, l
			}
		}
		b.markSent(slowest, from, to, now)
		return slowest, true
	}

	fastest := available[0]
	fastestLatency := b.latencyOf(fastest)
	for _, c := range available[1:] {
		if l := b.latencyOf(c); l < fastestLatency {
			fastest, fastestLatency = c, l
		}
	}
	b.markSent(fastest, from, to, now)
	return fastest, true
}

func (b *RepairBudget) latencyOf(replica ReplicaId) float64 {
	v, ok := b.latencies.Get(replica)
	if !ok {
		return 0 // unknown replicas are tried first
	}
	return v
}

func (b *RepairBudget) markSent(replica ReplicaId, from, to OpNumber, now time.Time) {
	b.inflight[replica]++
	b.pending[repairKey{replica, from, to}] = now
}

// Complete releases the inflight slot for a repair request that received
// a response (RepairResponse or Nack).
func (b *RepairBudget) Complete(replica ReplicaId, from, to OpNumber) {
	key := repairKey{replica, from, to}
	if _, ok := b.pending[key]; ok {
		delete(b.pending, key)
		if b.inflight[replica] > 0 {
			b.inflight[replica]--
		}
	}
}

func (b *RepairBudget) expirePending(now time.Time) {
	for key, sentAt := range b.pending {
		if now.Sub(sentAt) > RepairRequestTimeout {
			delete(b.pending, key)
			if b.inflight[key.replica] > 0 {
				b.inflight[key.replica]--
			}
		}
	}
}

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package runtime

import "context"

// ReplicaID identifies a node participating in a VSR group.
type ReplicaID uint64

// Network abstracts message transport between replicas. A TCP/QUIC
// transport is out of this core's scope (per SPEC_FULL's
// external-interfaces boundary); NoOpNetwork below is the only
// implementation in this module. The simulator's internal/sim.SimNetwork
// carries vsr.Message values directly and does not implement Network.
type Network interface {
	Send(ctx context.Context, from, to ReplicaID, payload []byte) error
	RegisterNode(id ReplicaID)
}

// NoOpNetwork discards every send; useful for single-replica production
// configurations and for kernel-only tests that never exercise VSR.
type NoOpNetwork struct{}

func (NoOpNetwork) Send(context.Context, ReplicaID, ReplicaID, []byte) error { return nil }
func (NoOpNetwork) RegisterNode(ReplicaID)                                   {}

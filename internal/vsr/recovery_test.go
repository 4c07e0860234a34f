// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// TestRecoveryRestoresStateFromPrimary exercises the restart-recovery
// protocol end to end: a replica that lost its in-memory log on restart
// must not rejoin Normal operation until a quorum — including the
// current primary — has attested to its view, and it adopts the
// primary's log wholesale (spec.md §4.3 "Recovery protocol").
func TestRecoveryRestoresStateFromPrimary(t *testing.T) {
	c := newCluster(t, []ReplicaId{1, 2, 3})
	c.submit(1, ClientId(100), RequestNumber(1), streamCreate(kimtypes.StreamId(1)))

	// Replica 3 restarts and loses its in-memory log/view; install a
	// fresh state in its place, as a real restart would.
	restarted := NewReplicaState(3, NewClusterConfig([]ReplicaId{1, 2, 3}))
	c.replicas[3] = restarted

	var out Output
	BeginRecovery(restarted, Nonce(77), &out)

	assert.Equal(t, StatusRecovering, restarted.Status)
	require.Len(t, out.Messages, 1)
	require.Equal(t, MsgRecoveryRequest, out.Messages[0].Kind)

	c.step(func() []Message { return out.Messages })

	assert.Equal(t, StatusNormal, restarted.Status)
	assert.Equal(t, CommitNumber(1), restarted.CommitNumber)
	require.Len(t, restarted.Log, 1)
	assert.True(t, restarted.Kernel.StreamExists(kimtypes.StreamId(1)))
}

// TestRecoveringReplicaDoesNotAttest verifies a recovering replica
// never answers a peer's RecoveryRequest or participates in quorum
// while it is itself mid-recovery.
func TestRecoveringReplicaDoesNotAttest(t *testing.T) {
	r := NewReplicaState(2, NewClusterConfig([]ReplicaId{1, 2, 3}))
	r.Status = StatusRecovering

	var out Output
	handleRecoveryRequest(r, time.Unix(0, 0), Message{Kind: MsgRecoveryRequest, From: 3, Nonce: 1}, &out)

	assert.Empty(t, out.Messages)
}

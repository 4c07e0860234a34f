// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimberlitedb/kimberlite/internal/kernel"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// cluster is a minimal in-process multi-replica test harness: it owns one
// ReplicaState per id and drains Process's Output by hand-delivering
// Messages, rather than running the full VOPR network simulator. Good
// enough to exercise agreement/commit/view-change without the overhead
// of internal/sim.
type cluster struct {
	t        *testing.T
	replicas map[ReplicaId]*ReplicaState
	now      time.Time
}

func newCluster(t *testing.T, ids []ReplicaId) *cluster {
	cfg := NewClusterConfig(ids)
	c := &cluster{t: t, replicas: make(map[ReplicaId]*ReplicaState), now: time.Unix(0, 0)}
	for _, id := range ids {
		c.replicas[id] = NewReplicaState(id, cfg)
	}
	return c
}

// deliver runs one message through its destination (or every replica,
// for BroadcastReplica), recursively delivering whatever that produces,
// up to a generous step bound so a routing bug fails the test instead of
// looping forever.
func (c *cluster) deliver(msg Message) {
	c.step(func() []Message {
		return []Message{msg}
	})
}

func (c *cluster) step(seed func() []Message) {
	queue := seed()
	for steps := 0; len(queue) > 0; steps++ {
		require.Less(c.t, steps, 10000, "message routing did not converge")
		msg := queue[0]
		queue = queue[1:]

		var targets []ReplicaId
		if msg.To == BroadcastReplica {
			for id := range c.replicas {
				if id != msg.From {
					targets = append(targets, id)
				}
			}
		} else {
			targets = []ReplicaId{msg.To}
		}
		for _, id := range targets {
			r, ok := c.replicas[id]
			if !ok {
				continue
			}
			out := Process(r, MessageEvent(c.now, msg))
			queue = append(queue, out.Messages...)
		}
	}
}

// submit delivers a ClientRequest to the given replica (normally the
// leader) and drains the resulting Prepare/PrepareOk/Commit fan-out.
func (c *cluster) submit(leader ReplicaId, clientID ClientId, rn RequestNumber, cmd kernel.Command) Output {
	r := c.replicas[leader]
	out := Process(r, ClientRequestEvent(c.now, clientID, rn, cmd))
	c.step(func() []Message { return out.Messages })
	return out
}

func streamCreate(id kimtypes.StreamId) kernel.Command {
	return kernel.CreateStream(id, "orders", kimtypes.DataClassInternal, kimtypes.GlobalPlacement())
}

func TestThreeReplicaAgreementOnCommit(t *testing.T) {
	c := newCluster(t, []ReplicaId{1, 2, 3})
	c.submit(1, ClientId(100), RequestNumber(1), streamCreate(kimtypes.StreamId(1)))

	for id, r := range c.replicas {
		assert.Equal(t, CommitNumber(1), r.CommitNumber, "replica %d should have committed op 1", id)
		assert.True(t, r.Kernel.StreamExists(kimtypes.StreamId(1)), "replica %d should have applied the command", id)
	}
}

func TestCommitNeverSkipsAnOp(t *testing.T) {
	c := newCluster(t, []ReplicaId{1, 2, 3})
	c.submit(1, ClientId(100), RequestNumber(1), streamCreate(kimtypes.StreamId(1)))
	c.submit(1, ClientId(100), RequestNumber(2), streamCreate(kimtypes.StreamId(2)))

	for id, r := range c.replicas {
		assert.Equal(t, CommitNumber(2), r.CommitNumber, "replica %d", id)
		require.Len(t, r.Log, 2, "replica %d", id)
		assert.Equal(t, OpNumber(1), r.Log[0].Op)
		assert.Equal(t, OpNumber(2), r.Log[1].Op)
	}
}

func TestClientRetryIsIdempotent(t *testing.T) {
	c := newCluster(t, []ReplicaId{1, 2, 3})
	first := c.submit(1, ClientId(100), RequestNumber(1), streamCreate(kimtypes.StreamId(1)))
	second := c.submit(1, ClientId(100), RequestNumber(1), streamCreate(kimtypes.StreamId(1)))

	require.Len(t, first.Replies, 1)
	require.Len(t, second.Replies, 1)
	assert.Equal(t, first.Replies[0].Reply, second.Replies[0].Reply)

	leader := c.replicas[1]
	assert.Len(t, leader.Log, 1, "the retried request must not be re-appended as a second op")
}

func TestBackupRejectsPrepareFromWrongView(t *testing.T) {
	c := newCluster(t, []ReplicaId{1, 2, 3})
	backup := c.replicas[2]
	entry := LogEntry{View: 5, Op: 1, ClientId: 1, RequestNumber: 1, Command: streamCreate(kimtypes.StreamId(1))}

	out := Process(backup, MessageEvent(c.now, Message{
		Kind: MsgPrepare, From: 1, To: 2, View: 5, Op: 1, Entry: entry,
	}))

	assert.Empty(t, out.Messages, "a Prepare from a non-current-view leader must be ignored")
	assert.Equal(t, OpNumber(0), backup.OpNumber)
}

func TestViewChangeElectsNewLeaderAndPreservesLog(t *testing.T) {
	c := newCluster(t, []ReplicaId{1, 2, 3})
	c.submit(1, ClientId(100), RequestNumber(1), streamCreate(kimtypes.StreamId(1)))

	// Replica 2 (primary of view 1, since leaderFor rotates Config.Replicas)
	// times out waiting on replica 1 and starts a view change.
	backup := c.replicas[2]
	out := Process(backup, TimerExpiredEvent(c.now, TimerViewChange))
	assert.Equal(t, ViewNumber(1), backup.View)
	assert.Equal(t, StatusViewChange, backup.Status)

	c.step(func() []Message { return out.Messages })

	newLeaderID := backup.leaderFor(1)
	newLeader := c.replicas[newLeaderID]
	assert.Equal(t, ViewNumber(1), newLeader.View)
	assert.Equal(t, StatusNormal, newLeader.Status, "new leader should have completed the view change")
	require.Len(t, newLeader.Log, 1, "the committed entry from view 0 must survive the view change")
	assert.Equal(t, CommitNumber(1), newLeader.CommitNumber)

	for id, r := range c.replicas {
		if id == 1 {
			continue // the old, now-partitioned leader never saw the view change
		}
		assert.Equal(t, ViewNumber(1), r.View, "replica %d", id)
	}
}

func TestRepairRequestFillsGapOnOutOfOrderPrepare(t *testing.T) {
	c := newCluster(t, []ReplicaId{1, 2, 3})
	leader := c.replicas[1]
	backup := c.replicas[2]

	entry1 := LogEntry{View: 0, Op: 1, ClientId: 1, RequestNumber: 1, Command: streamCreate(kimtypes.StreamId(1))}
	leader.Log = append(leader.Log, entry1)
	leader.OpNumber = 1

	entry2 := LogEntry{View: 0, Op: 2, ClientId: 1, RequestNumber: 2, Command: streamCreate(kimtypes.StreamId(2)), PrevHash: entry1.Hash()}

	out := Process(backup, MessageEvent(c.now, Message{
		Kind: MsgPrepare, From: 1, To: 2, View: 0, Op: 2, Entry: entry2,
	}))

	require.Len(t, out.Messages, 1)
	assert.Equal(t, MsgRepairRequest, out.Messages[0].Kind)
	assert.Equal(t, OpNumber(1), out.Messages[0].RepairFrom)
	assert.Equal(t, OpNumber(1), out.Messages[0].RepairTo)
}

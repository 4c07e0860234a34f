// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"container/heap"

	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// Reply is whatever the leader returns to a client for a given request —
// opaque to VSR itself (the kernel's Effects, or an error, serialized by
// the caller).
type Reply struct {
	RequestNumber RequestNumber
	Value         []byte
	Err           string
}

// ClientSession tracks one client's registered session: the last
// request this session has a committed reply for, and that reply,
// so a retransmitted request can be answered from cache instead of
// re-executed (spec.md §4.3, property 12: idempotence under retry).
type ClientSession struct {
	ClientId             ClientId
	LastCommittedRequest RequestNumber
	LastReply            Reply
	RegisteredAt         kimtypes.Timestamp
}

// SessionTable holds every registered client's committed session state,
// plus a separate uncommitted table tracking requests that have been
// prepared but not yet committed. This split exists to fix VRR paper bug
// #2: updating the client table on mere preparation locks clients out
// after a view change discards unprepared state (spec.md §4.3 "Client
// sessions").
//
// Session eviction is oldest-registered-first: a min-heap keyed by
// RegisteredAt, mirroring the original's BinaryHeap<Reverse<...>>. Use of
// a session does not refresh its position, so this is not an LRU.
type SessionTable struct {
	committed   map[ClientId]*ClientSession
	uncommitted map[ClientId]Reply
	evictOrder  sessionHeap
	maxSessions int
}

// NewSessionTable returns an empty table bounded to maxSessions
// registered clients; the oldest session is evicted on overflow.
func NewSessionTable(maxSessions int) *SessionTable {
	return &SessionTable{
		committed:   make(map[ClientId]*ClientSession),
		uncommitted: make(map[ClientId]Reply),
		maxSessions: maxSessions,
	}
}

// Register creates a fresh session for clientId with a clean request-
// number space, discarding any prior session for that id — this is the
// explicit-registration fix for VRR bug #1 (a restarted client must not
// read a previous incarnation's cached reply at request #0).
func (t *SessionTable) Register(clientId ClientId, now kimtypes.Timestamp) {
	if len(t.committed) >= t.maxSessions {
		t.evictOldest()
	}
	sess := &ClientSession{ClientId: clientId, RegisteredAt: now}
	t.committed[clientId] = sess
	delete(t.uncommitted, clientId)
	heap.Push(&t.evictOrder, sessionHeapEntry{clientId: clientId, registeredAt: now})
}

// Restore reinstates a previously committed session exactly as persisted —
// unlike Register, it does not reset the request-number space, since this
// is the same incarnation of the client picking back up after a replica
// restart, not a new one (spec.md §6 "per-replica ... state restored on
// restart"). Used by Driver.Restore to replay SuperblockStore.LoadSessions.
func (t *SessionTable) Restore(sess ClientSession) {
	if len(t.committed) >= t.maxSessions {
		t.evictOldest()
	}
	s := sess
	t.committed[s.ClientId] = &s
	heap.Push(&t.evictOrder, sessionHeapEntry{clientId: s.ClientId, registeredAt: s.RegisteredAt})
}

// Registered reports whether clientId has an active session.
func (t *SessionTable) Registered(clientId ClientId) bool {
	_, ok := t.committed[clientId]
	return ok
}

// CommittedReply returns the cached reply for (clientId, rn) if that
// request has already been committed, so the leader can answer a
// retransmission without re-executing it (property 12).
func (t *SessionTable) CommittedReply(clientId ClientId, rn RequestNumber) (Reply, bool) {
	sess, ok := t.committed[clientId]
	if !ok || sess.LastCommittedRequest != rn {
		return Reply{}, false
	}
	return sess.LastReply, true
}

// IsStale reports whether rn has already been committed for clientId
// (a replay the leader must not re-execute). Request numbers start at 1;
// a session with LastCommittedRequest == 0 has committed nothing yet.
func (t *SessionTable) IsStale(clientId ClientId, rn RequestNumber) bool {
	sess, ok := t.committed[clientId]
	return ok && sess.LastCommittedRequest > 0 && rn <= sess.LastCommittedRequest
}

// MarkPrepared records a reply for an in-flight (not yet committed)
// request in the uncommitted table, per the bug-2 fix.
func (t *SessionTable) MarkPrepared(clientId ClientId, reply Reply) {
	t.uncommitted[clientId] = reply
}

// Commit records requestNumber and reply as clientId's last committed
// request once the owning op reaches quorum, and clears clientId's
// uncommitted entry. It does nothing for a client with no registered
// session.
func (t *SessionTable) Commit(clientId ClientId, requestNumber RequestNumber, reply Reply) {
	sess, ok := t.committed[clientId]
	if !ok {
		return
	}
	sess.LastCommittedRequest = requestNumber
	sess.LastReply = reply
	delete(t.uncommitted, clientId)
}

// DiscardUncommitted clears every uncommitted reply — called on view
// change, since a new leader never inherits unprepared state (bug-2
// fix, spec.md §4.3 step 4: "discard uncommitted client table updates").
func (t *SessionTable) DiscardUncommitted() {
	t.uncommitted = make(map[ClientId]Reply)
}

func (t *SessionTable) evictOldest() {
	for t.evictOrder.Len() > 0 {
		oldest := heap.Pop(&t.evictOrder).(sessionHeapEntry)
		if sess, ok := t.committed[oldest.clientId]; ok && sess.RegisteredAt == oldest.registeredAt {
			delete(t.committed, oldest.clientId)
			delete(t.uncommitted, oldest.clientId)
			return
		}
	}
}

type sessionHeapEntry struct {
	clientId     ClientId
	registeredAt kimtypes.Timestamp
}

// sessionHeap is a min-heap by RegisteredAt (oldest first), implementing
// container/heap.Interface the way go-ethereum's txpool price heap does
// (_teacher_ref/heap_test.go).
type sessionHeap []sessionHeapEntry

func (h sessionHeap) Len() int            { return len(h) }
func (h sessionHeap) Less(i, j int) bool  { return h[i].registeredAt < h[j].registeredAt }
func (h sessionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sessionHeap) Push(x interface{}) { *h = append(*h, x.(sessionHeapEntry)) }
func (h *sessionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

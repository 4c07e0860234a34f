// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimberlitedb/kimberlite/internal/kernel"
	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// memStorage is a minimal in-memory Storage fake for Runtime tests,
// mirroring the Rust original's InMemoryStorage test double.
type memStorage struct {
	mu          sync.Mutex
	events      map[kimtypes.StreamId][][]byte
	metas       map[kimtypes.StreamId]kimtypes.StreamMetadata
	audits      []AuditEntry
	failUntil   int
	failedCalls int
}

func (m *memStorage) AppendBatch(id kimtypes.StreamId, events [][]byte) (kimtypes.Offset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failedCalls < m.failUntil {
		m.failedCalls++
		return 0, ErrStorageUnavailable
	}
	m.events[id] = append(m.events[id], events...)
	return kimtypes.Offset(len(m.events[id])), nil
}

func (m *memStorage) WriteStreamMetadata(meta kimtypes.StreamMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metas == nil {
		m.metas = make(map[kimtypes.StreamId]kimtypes.StreamMetadata)
	}
	m.metas[meta.StreamId] = meta
	return nil
}

func (m *memStorage) WriteTableMetadata(kimtypes.TableMetadata) error { return nil }
func (m *memStorage) DropTableMetadata(kimtypes.TableId) error        { return nil }
func (m *memStorage) WriteIndexMetadata(kimtypes.IndexMetadata) error { return nil }

func (m *memStorage) AppendAudit(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStorage) Fsync(kimtypes.StreamId) error { return nil }

func newMemStorage() *memStorage {
	return &memStorage{events: make(map[kimtypes.StreamId][][]byte)}
}

func TestRuntimeExecutesCreateStreamEffects(t *testing.T) {
	storage := newMemStorage()
	rt := New(NewSystemClock(), storage, NoOpNetwork{}, nil)

	state := kernel.NewState()
	streamID := kimtypes.NewStreamId(1, 1)
	_, effects, err := kernel.Apply(state, kernel.CreateStream(streamID, "s", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
	require.NoError(t, err)

	require.NoError(t, rt.ExecuteEffects(context.Background(), effects))
	assert.Equal(t, "s", storage.metas[streamID].Name)
	require.Len(t, storage.audits, 1)
	assert.Equal(t, kimtypes.AuditStreamCreated, storage.audits[0].Action.Kind)
}

func TestRuntimeChainsAndSignsAuditEntries(t *testing.T) {
	storage := newMemStorage()
	rt := New(NewSystemClock(), storage, NoOpNetwork{}, nil)
	require.NotNil(t, rt.AuditSigner(), "New must generate a signer by default")

	state := kernel.NewState()
	id1 := kimtypes.NewStreamId(1, 1)
	state, effects1, err := kernel.Apply(state, kernel.CreateStream(id1, "a", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
	require.NoError(t, err)
	require.NoError(t, rt.ExecuteEffects(context.Background(), effects1))

	id2 := kimtypes.NewStreamId(1, 2)
	_, effects2, err := kernel.Apply(state, kernel.CreateStream(id2, "b", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
	require.NoError(t, err)
	require.NoError(t, rt.ExecuteEffects(context.Background(), effects2))

	require.Len(t, storage.audits, 2)
	first, second := storage.audits[0], storage.audits[1]

	assert.True(t, first.PrevHash.IsZero(), "the first audit entry chains from the genesis sentinel")
	assert.Equal(t, first.ChainHash, second.PrevHash, "the second entry must chain from the first's hash")
	assert.NotEqual(t, first.ChainHash, second.ChainHash)

	require.NotNil(t, first.Signature)
	require.NotNil(t, second.Signature)
	assert.True(t, kimcrypto.VerifyAudit(rt.AuditSigner().PublicKey(), first.ChainHash, first.Signature))
	assert.True(t, kimcrypto.VerifyAudit(rt.AuditSigner().PublicKey(), second.ChainHash, second.Signature))
	assert.False(t, kimcrypto.VerifyAudit(rt.AuditSigner().PublicKey(), first.ChainHash, second.Signature),
		"a signature must not verify against a different entry's chain hash")
}

func TestRuntimeRetriesTransientStorageFailure(t *testing.T) {
	storage := newMemStorage()
	storage.failUntil = 2
	rt := New(NewSystemClock(), storage, NoOpNetwork{}, nil, WithRetryDelay(time.Millisecond))

	state := kernel.NewState()
	streamID := kimtypes.NewStreamId(1, 1)
	state, _, err := kernel.Apply(state, kernel.CreateStream(streamID, "s", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
	require.NoError(t, err)

	_, effects, err := kernel.Apply(state, kernel.AppendBatch(streamID, [][]byte{[]byte("a")}, 0))
	require.NoError(t, err)

	require.NoError(t, rt.ExecuteEffects(context.Background(), effects))
	assert.Equal(t, 2, storage.failedCalls)
	assert.Equal(t, [][]byte{[]byte("a")}, storage.events[streamID])
}

func TestRuntimeSurfacesExhaustedRetries(t *testing.T) {
	storage := newMemStorage()
	storage.failUntil = 100
	rt := New(NewSystemClock(), storage, NoOpNetwork{}, nil, WithMaxRetries(2), WithRetryDelay(time.Millisecond))

	state := kernel.NewState()
	streamID := kimtypes.NewStreamId(1, 1)
	state, _, err := kernel.Apply(state, kernel.CreateStream(streamID, "s", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
	require.NoError(t, err)

	_, effects, err := kernel.Apply(state, kernel.AppendBatch(streamID, [][]byte{[]byte("a")}, 0))
	require.NoError(t, err)

	err = rt.ExecuteEffects(context.Background(), effects)
	require.Error(t, err)
}

func TestRuntimeExecuteBatchesRunsIndependentStreamsConcurrently(t *testing.T) {
	storage := newMemStorage()
	rt := New(NewSystemClock(), storage, NoOpNetwork{}, nil)

	var batches [][]kernel.Effect
	state := kernel.NewState()
	for i := 0; i < 5; i++ {
		id := kimtypes.NewStreamId(1, uint32(i))
		s, effects, err := kernel.Apply(state, kernel.CreateStream(id, "s", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
		require.NoError(t, err)
		state = s
		batches = append(batches, effects)
	}

	require.NoError(t, rt.ExecuteBatches(context.Background(), batches))
	assert.Len(t, storage.metas, 5)
}

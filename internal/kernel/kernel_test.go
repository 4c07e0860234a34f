// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// TestCreateAppendRead covers SPEC_FULL scenario A: a stream created then
// appended to ends up at the expected offset with the right effect shape.
func TestCreateAppendRead(t *testing.T) {
	streamID := kimtypes.NewStreamId(1, 1)
	state := NewState()

	state, effects, err := Apply(state, CreateStream(streamID, "s", kimtypes.DataClassNonPHI, kimtypes.GlobalPlacement()))
	require.NoError(t, err)
	require.Len(t, effects, 2)
	assert.Equal(t, EffStreamMetadataWrite, effects[0].Kind)
	assert.Equal(t, EffAuditLogAppend, effects[1].Kind)
	assert.Equal(t, kimtypes.AuditStreamCreated, effects[1].Audit.Kind)

	events := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	state, effects, err = Apply(state, AppendBatch(streamID, events, 0))
	require.NoError(t, err)
	require.Len(t, effects, 3)
	assert.Equal(t, EffStorageAppend, effects[0].Kind)
	assert.Equal(t, kimtypes.Offset(0), effects[0].BaseOffset)
	assert.Equal(t, events, effects[0].Events)
	assert.Equal(t, EffWakeProjection, effects[1].Kind)
	assert.Equal(t, kimtypes.Offset(0), effects[1].From)
	assert.Equal(t, kimtypes.Offset(3), effects[1].To)
	assert.Equal(t, EffAuditLogAppend, effects[2].Kind)
	assert.Equal(t, uint32(3), effects[2].Audit.Count)

	meta, ok := state.Stream(streamID)
	require.True(t, ok)
	assert.Equal(t, kimtypes.Offset(3), meta.CurrentOffset)
}

// TestOffsetMismatch covers SPEC_FULL scenario B: resubmitting an append at
// a stale expected offset fails with UnexpectedStreamOffsetError and leaves
// state and effects untouched.
func TestOffsetMismatch(t *testing.T) {
	streamID := kimtypes.NewStreamId(1, 1)
	state := NewState()
	state, _, err := Apply(state, CreateStream(streamID, "s", kimtypes.DataClassNonPHI, kimtypes.GlobalPlacement()))
	require.NoError(t, err)
	state, _, err = Apply(state, AppendBatch(streamID, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, 0))
	require.NoError(t, err)

	before := state
	after, effects, err := Apply(state, AppendBatch(streamID, [][]byte{[]byte("x")}, 0))
	require.Error(t, err)
	var mismatch *UnexpectedStreamOffsetError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, kimtypes.Offset(3), mismatch.Expected)
	assert.Equal(t, kimtypes.Offset(0), mismatch.Actual)
	assert.Nil(t, effects)
	assert.Equal(t, before, after)
}

func TestCreateStreamDuplicateRejected(t *testing.T) {
	streamID := kimtypes.NewStreamId(1, 1)
	state := NewState()
	state, _, err := Apply(state, CreateStream(streamID, "s", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
	require.NoError(t, err)

	_, effects, err := Apply(state, CreateStream(streamID, "s2", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
	require.ErrorIs(t, err, ErrStreamIdUniqueConstraint)
	assert.Nil(t, effects)
}

func TestAppendToMissingStream(t *testing.T) {
	state := NewState()
	_, effects, err := Apply(state, AppendBatch(kimtypes.NewStreamId(1, 1), [][]byte{[]byte("a")}, 0))
	require.ErrorIs(t, err, ErrStreamNotFound)
	assert.Nil(t, effects)
}

func TestTableLifecycle(t *testing.T) {
	streamID := kimtypes.NewStreamId(1, 1)
	tableID := kimtypes.TableId(1)
	state := NewState()
	state, _, err := Apply(state, CreateStream(streamID, "s", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
	require.NoError(t, err)

	state, effects, err := Apply(state, CreateTable(tableID, "t", streamID))
	require.NoError(t, err)
	require.Len(t, effects, 2)
	assert.True(t, state.TableExists(tableID))

	_, _, err = Apply(state, CreateTable(tableID, "t2", streamID))
	require.ErrorIs(t, err, ErrTableAlreadyExists)

	state, effects, err = Apply(state, DropTable(tableID))
	require.NoError(t, err)
	require.Len(t, effects, 2)
	assert.False(t, state.TableExists(tableID))

	_, _, err = Apply(state, DropTable(tableID))
	require.ErrorIs(t, err, ErrTableNotFound)
}

// TestDeterminism is property 1 from spec.md §8: two evaluations of
// Apply(state, command) against the same inputs must produce byte-identical
// results, for any command the kernel accepts.
func TestDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tenant := kimtypes.TenantId(rapid.Uint32().Draw(t, "tenant"))
		seq := rapid.Uint32().Draw(t, "seq")
		streamID := kimtypes.NewStreamId(tenant, seq)
		name := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "name")
		class := kimtypes.DataClass(rapid.IntRange(0, 6).Draw(t, "class"))

		cmd := CreateStream(streamID, name, class, kimtypes.GlobalPlacement())
		s1, e1, err1 := Apply(NewState(), cmd)
		s2, e2, err2 := Apply(NewState(), cmd)

		assert.Equal(t, err1, err2)
		assert.Equal(t, e1, e2)
		assert.Equal(t, s1, s2)
	})
}

// TestOffsetMonotonicity is property 2: successful appends strictly
// increase a stream's current offset by exactly len(events).
func TestOffsetMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		streamID := kimtypes.NewStreamId(1, 1)
		state := NewState()
		state, _, err := Apply(state, CreateStream(streamID, "s", kimtypes.DataClassPublic, kimtypes.GlobalPlacement()))
		require.NoError(t, err)

		batches := rapid.SliceOfN(rapid.IntRange(1, 5), 1, 8).Draw(t, "batches")
		var offset kimtypes.Offset
		for _, n := range batches {
			events := make([][]byte, n)
			for i := range events {
				events[i] = []byte{byte(i)}
			}
			var effects []Effect
			state, effects, err = Apply(state, AppendBatch(streamID, events, offset))
			require.NoError(t, err)
			newOffset := offset.Add(uint64(n))
			meta, ok := state.Stream(streamID)
			require.True(t, ok)
			assert.Equal(t, newOffset, meta.CurrentOffset)
			assert.Greater(t, uint64(meta.CurrentOffset), uint64(offset))
			require.Len(t, effects, 3)
			assert.Equal(t, offset, effects[0].BaseOffset)
			offset = newOffset
		}
	})
}

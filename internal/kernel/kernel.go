// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kernel

import "github.com/kimberlitedb/kimberlite/internal/kimtypes"

// Apply is the kernel's single entry point: given the current catalog and a
// committed Command, it returns the new catalog and the ordered Effects the
// Runtime must perform. Apply never mutates state in place, never touches a
// clock, and draws no randomness — replaying the same (state, cmd) pair from
// any two replicas' logs always yields byte-identical results (spec.md §8
// property 1). The only panic permitted anywhere beneath Apply is
// kimassert.Invariant for conditions VSR itself is supposed to have already
// ruled out.
func Apply(state State, cmd Command) (State, []Effect, error) {
	switch cmd.Kind {
	case CmdCreateStream:
		return applyCreateStream(state, cmd)
	case CmdAppendBatch:
		return applyAppendBatch(state, cmd)
	case CmdCreateTable:
		return applyCreateTable(state, cmd)
	case CmdDropTable:
		return applyDropTable(state, cmd)
	case CmdCreateIndex:
		return applyCreateIndex(state, cmd)
	case CmdDML:
		return applyDML(state, cmd)
	default:
		return state, nil, ErrInvalidCommand
	}
}

func applyCreateStream(state State, cmd Command) (State, []Effect, error) {
	if state.StreamExists(cmd.StreamId) {
		return state, nil, ErrStreamIdUniqueConstraint
	}
	meta := kimtypes.StreamMetadata{
		StreamId:      cmd.StreamId,
		Name:          cmd.StreamName,
		DataClass:     cmd.DataClass,
		Placement:     cmd.Placement,
		CurrentOffset: 0,
	}
	effects := []Effect{
		{Kind: EffStreamMetadataWrite, StreamMeta: meta},
		{Kind: EffAuditLogAppend, Audit: kimtypes.StreamCreatedAction(cmd.StreamId, cmd.StreamName, cmd.DataClass, cmd.Placement)},
	}
	return state.withStream(meta), effects, nil
}

func applyAppendBatch(state State, cmd Command) (State, []Effect, error) {
	meta, ok := state.Stream(cmd.StreamId)
	if !ok {
		return state, nil, ErrStreamNotFound
	}
	if meta.CurrentOffset != cmd.ExpectedOffset {
		return state, nil, &UnexpectedStreamOffsetError{
			StreamId: cmd.StreamId,
			Expected: meta.CurrentOffset,
			Actual:   cmd.ExpectedOffset,
		}
	}
	base := meta.CurrentOffset
	n := uint64(len(cmd.Events))
	newOffset := base.Add(n)
	effects := []Effect{
		{Kind: EffStorageAppend, StreamId: cmd.StreamId, BaseOffset: base, Events: cmd.Events},
		{Kind: EffWakeProjection, StreamId: cmd.StreamId, From: base, To: newOffset},
		{Kind: EffAuditLogAppend, Audit: kimtypes.EventsAppendedAction(cmd.StreamId, uint32(n), base)},
	}
	return state.withUpdatedOffset(cmd.StreamId, newOffset), effects, nil
}

func applyCreateTable(state State, cmd Command) (State, []Effect, error) {
	if state.TableExists(cmd.TableId) {
		return state, nil, ErrTableAlreadyExists
	}
	if !state.StreamExists(cmd.StreamId) {
		return state, nil, ErrStreamNotFound
	}
	meta := kimtypes.TableMetadata{TableId: cmd.TableId, Name: cmd.TableName, StreamId: cmd.StreamId}
	effects := []Effect{
		{Kind: EffTableMetadataWrite, TableMeta: meta},
		{Kind: EffAuditLogAppend, Audit: kimtypes.AuditAction{Kind: kimtypes.AuditTableCreated, TableId: cmd.TableId, Name: cmd.TableName, StreamId: cmd.StreamId}},
	}
	return state.withTable(meta), effects, nil
}

func applyDropTable(state State, cmd Command) (State, []Effect, error) {
	if !state.TableExists(cmd.TableId) {
		return state, nil, ErrTableNotFound
	}
	effects := []Effect{
		{Kind: EffTableMetadataDrop, TableId: cmd.TableId},
		{Kind: EffAuditLogAppend, Audit: kimtypes.AuditAction{Kind: kimtypes.AuditTableDropped, TableId: cmd.TableId}},
	}
	return state.withoutTable(cmd.TableId), effects, nil
}

func applyCreateIndex(state State, cmd Command) (State, []Effect, error) {
	if !state.TableExists(cmd.TableId) {
		return state, nil, ErrTableNotFound
	}
	meta := kimtypes.IndexMetadata{IndexId: cmd.IndexId, TableId: cmd.TableId, Name: cmd.IndexName, Columns: cmd.Columns}
	effects := []Effect{
		{Kind: EffIndexMetadataWrite, IndexMeta: meta},
		{Kind: EffAuditLogAppend, Audit: kimtypes.AuditAction{Kind: kimtypes.AuditIndexCreated, IndexId: cmd.IndexId, TableId: cmd.TableId, Name: cmd.IndexName}},
	}
	return state.withIndex(meta), effects, nil
}

// applyDML treats a data-manipulation command as a single-event append to
// the table's backing stream followed by a projection update, so the same
// offset-fencing and audit trail AppendBatch gives event streams also
// covers DML tables (spec.md §4.1, SUPPLEMENTED FEATURES).
func applyDML(state State, cmd Command) (State, []Effect, error) {
	if !state.TableExists(cmd.DMLTableId) {
		return state, nil, ErrTableNotFound
	}
	meta, ok := state.Stream(cmd.StreamId)
	if !ok {
		return state, nil, ErrStreamNotFound
	}
	if meta.CurrentOffset != cmd.ExpectedOffset {
		return state, nil, &UnexpectedStreamOffsetError{
			StreamId: cmd.StreamId,
			Expected: meta.CurrentOffset,
			Actual:   cmd.ExpectedOffset,
		}
	}
	base := meta.CurrentOffset
	newOffset := base.Add(1)
	effects := []Effect{
		{Kind: EffStorageAppend, StreamId: cmd.StreamId, BaseOffset: base, Events: [][]byte{cmd.DMLEvent}},
		{Kind: EffUpdateProjection, StreamId: cmd.StreamId, TableId: cmd.DMLTableId, From: base, To: newOffset},
		{Kind: EffAuditLogAppend, Audit: kimtypes.EventsAppendedAction(cmd.StreamId, 1, base)},
	}
	return state.withUpdatedOffset(cmd.StreamId, newOffset), effects, nil
}

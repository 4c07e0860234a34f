// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kernel

import "github.com/kimberlitedb/kimberlite/internal/kimtypes"

// State is the kernel's in-memory catalog of streams, tables, and indexes.
// It is immutable: every mutating method returns a new State, leaving the
// receiver untouched, so replaying the same (state, command) pair always
// starts from byte-identical input (spec.md §8 property 1).
type State struct {
	streams map[kimtypes.StreamId]kimtypes.StreamMetadata
	tables  map[kimtypes.TableId]kimtypes.TableMetadata
	indexes map[kimtypes.IndexId]kimtypes.IndexMetadata
}

// NewState returns an empty catalog.
func NewState() State {
	return State{
		streams: make(map[kimtypes.StreamId]kimtypes.StreamMetadata),
		tables:  make(map[kimtypes.TableId]kimtypes.TableMetadata),
		indexes: make(map[kimtypes.IndexId]kimtypes.IndexMetadata),
	}
}

func (s State) clone() State {
	out := State{
		streams: make(map[kimtypes.StreamId]kimtypes.StreamMetadata, len(s.streams)),
		tables:  make(map[kimtypes.TableId]kimtypes.TableMetadata, len(s.tables)),
		indexes: make(map[kimtypes.IndexId]kimtypes.IndexMetadata, len(s.indexes)),
	}
	for k, v := range s.streams {
		out.streams[k] = v
	}
	for k, v := range s.tables {
		out.tables[k] = v
	}
	for k, v := range s.indexes {
		out.indexes[k] = v
	}
	return out
}

// Stream returns the metadata for id, if it exists.
func (s State) Stream(id kimtypes.StreamId) (kimtypes.StreamMetadata, bool) {
	m, ok := s.streams[id]
	return m, ok
}

// StreamExists reports whether a stream with id exists.
func (s State) StreamExists(id kimtypes.StreamId) bool {
	_, ok := s.streams[id]
	return ok
}

// Table returns the metadata for id, if it exists.
func (s State) Table(id kimtypes.TableId) (kimtypes.TableMetadata, bool) {
	m, ok := s.tables[id]
	return m, ok
}

// TableExists reports whether a table with id exists.
func (s State) TableExists(id kimtypes.TableId) bool {
	_, ok := s.tables[id]
	return ok
}

// StreamCount returns the number of streams in the catalog.
func (s State) StreamCount() int { return len(s.streams) }

func (s State) withStream(meta kimtypes.StreamMetadata) State {
	out := s.clone()
	out.streams[meta.StreamId] = meta
	return out
}

func (s State) withUpdatedOffset(id kimtypes.StreamId, newOffset kimtypes.Offset) State {
	out := s.clone()
	if m, ok := out.streams[id]; ok {
		m.CurrentOffset = newOffset
		out.streams[id] = m
	}
	return out
}

func (s State) withTable(meta kimtypes.TableMetadata) State {
	out := s.clone()
	out.tables[meta.TableId] = meta
	return out
}

func (s State) withoutTable(id kimtypes.TableId) State {
	out := s.clone()
	delete(out.tables, id)
	return out
}

func (s State) withIndex(meta kimtypes.IndexMetadata) State {
	out := s.clone()
	out.indexes[meta.IndexId] = meta
	return out
}

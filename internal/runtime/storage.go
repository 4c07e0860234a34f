// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package runtime

import (
	"errors"

	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// ErrStorageUnavailable marks a transient storage failure the Runtime is
// willing to retry (spec.md §7: "the runtime logs, retries where
// retryable, and surfaces otherwise").
var ErrStorageUnavailable = errors.New("runtime: storage unavailable")

// Storage is the durability side-channel the Runtime drives with kernel
// Effects. Neither internal/segment.Store (which has no metadata or audit
// methods) nor the simulator's block-level SimStorage implements it; the
// package's tests supply their own in-memory implementation.
type Storage interface {
	AppendBatch(id kimtypes.StreamId, events [][]byte) (kimtypes.Offset, error)
	WriteStreamMetadata(meta kimtypes.StreamMetadata) error
	WriteTableMetadata(meta kimtypes.TableMetadata) error
	DropTableMetadata(id kimtypes.TableId) error
	WriteIndexMetadata(meta kimtypes.IndexMetadata) error
	// AppendAudit persists an already hash-chained, signed AuditEntry —
	// see audit.go's auditChain, which builds the entry before this is
	// called. Storage never signs or chains on the implementation's own;
	// it only has to keep entries in append order.
	AppendAudit(entry AuditEntry) error
	Fsync(id kimtypes.StreamId) error
}

// ProjectionNotifier is how WakeProjection and (DML) UpdateProjection
// effects reach the external projection engine. spec.md's Open Question #1 (projection
// catch-up latency bound) is left to whatever implements this interface;
// the Runtime itself bakes in no bound — it only reports the range that
// changed.
type ProjectionNotifier interface {
	WakeProjection(id kimtypes.StreamId, from, to kimtypes.Offset)
	UpdateProjection(tableID kimtypes.TableId, id kimtypes.StreamId, from, to kimtypes.Offset)
}

// NoopProjectionNotifier discards wake-ups; useful for tests and for
// standalone kernel use with no projection engine wired in yet.
type NoopProjectionNotifier struct{}

func (NoopProjectionNotifier) WakeProjection(kimtypes.StreamId, kimtypes.Offset, kimtypes.Offset) {}
func (NoopProjectionNotifier) UpdateProjection(kimtypes.TableId, kimtypes.StreamId, kimtypes.Offset, kimtypes.Offset) {
}

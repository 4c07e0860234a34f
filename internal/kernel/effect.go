// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kernel

import "github.com/kimberlitedb/kimberlite/internal/kimtypes"

// EffectKind tags the variant of an Effect. Order of Effects within a
// single Apply result is the execution order (spec.md §3, §5).
type EffectKind uint8

const (
	EffStorageAppend EffectKind = iota
	EffStreamMetadataWrite
	EffWakeProjection
	EffAuditLogAppend
	EffTableMetadataWrite
	EffTableMetadataDrop
	EffIndexMetadataWrite
	EffUpdateProjection
)

// Effect is a value emitted by Apply describing an action the Runtime must
// perform outside the pure kernel. The kernel never executes effects
// itself.
type Effect struct {
	Kind EffectKind

	// StorageAppend
	StreamId   kimtypes.StreamId
	BaseOffset kimtypes.Offset
	Events     [][]byte

	// StreamMetadataWrite
	StreamMeta kimtypes.StreamMetadata

	// WakeProjection / UpdateProjection
	From kimtypes.Offset
	To   kimtypes.Offset

	// AuditLogAppend
	Audit kimtypes.AuditAction

	// TableMetadataWrite / TableMetadataDrop / IndexMetadataWrite
	TableMeta kimtypes.TableMetadata
	IndexMeta kimtypes.IndexMetadata
	TableId   kimtypes.TableId
}

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kimtypes

// AuditActionKind tags the variant of an AuditAction. Exhaustive handling of
// this tag is a correctness property throughout the core: an unrecognized
// kind read off the wire is a parse error, never silently ignored.
type AuditActionKind uint8

const (
	AuditStreamCreated AuditActionKind = iota
	AuditEventsAppended
	AuditTableCreated
	AuditTableDropped
	AuditIndexCreated
	AuditErasureRequested
)

// AuditAction is an append-only record of a compliance-relevant action. The
// fields populated depend on Kind; callers switch on Kind and read only the
// fields documented for that variant.
type AuditAction struct {
	Kind AuditActionKind
	At   Timestamp

	// StreamCreated
	StreamId  StreamId
	Name      string
	DataClass DataClass
	Placement Placement

	// EventsAppended
	Count uint32
	From  Offset

	// TableCreated / TableDropped / IndexCreated
	TableId TableId
	IndexId IndexId

	// ErasureRequested
	TenantId TenantId
	Reason   string
}

// StreamCreatedAction builds the AuditAction emitted by CreateStream.
func StreamCreatedAction(streamID StreamId, name string, class DataClass, placement Placement) AuditAction {
	return AuditAction{
		Kind:      AuditStreamCreated,
		StreamId:  streamID,
		Name:      name,
		DataClass: class,
		Placement: placement,
	}
}

// EventsAppendedAction builds the AuditAction emitted by AppendBatch.
func EventsAppendedAction(streamID StreamId, count uint32, from Offset) AuditAction {
	return AuditAction{
		Kind:     AuditEventsAppended,
		StreamId: streamID,
		Count:    count,
		From:     from,
	}
}

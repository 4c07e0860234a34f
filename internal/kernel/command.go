// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package kernel is Kimberlite's pure functional core: a reducer that turns
// a committed Command into a new State plus an ordered list of Effects. It
// performs no I/O, touches no clock, and draws no randomness, so it is
// trivially deterministic and safe to replay (spec.md §4.1).
package kernel

import "github.com/kimberlitedb/kimberlite/internal/kimtypes"

// CommandKind tags the variant of a Command. Exhaustive handling of this
// tag in Apply is a correctness property.
type CommandKind uint8

const (
	CmdCreateStream CommandKind = iota
	CmdAppendBatch
	CmdCreateTable
	CmdDropTable
	CmdCreateIndex
	CmdDML
)

// DMLOp tags the kind of data-manipulation operation carried by a CmdDML
// command.
type DMLOp uint8

const (
	DMLInsert DMLOp = iota
	DMLUpdate
	DMLDelete
)

// Command is a single kernel input: a committed instruction, already
// ordered and durable via VSR, with no wall-clock time attached.
type Command struct {
	Kind CommandKind

	// CreateStream
	StreamId  kimtypes.StreamId
	StreamName string
	DataClass kimtypes.DataClass
	Placement kimtypes.Placement

	// AppendBatch
	Events         [][]byte
	ExpectedOffset kimtypes.Offset

	// CreateTable / DropTable / CreateIndex
	TableId kimtypes.TableId
	TableName string
	IndexId kimtypes.IndexId
	IndexName string
	Columns []string

	// DML
	DMLOp     DMLOp
	DMLTableId kimtypes.TableId
	DMLEvent   []byte
}

// CreateStream builds a CmdCreateStream command.
func CreateStream(id kimtypes.StreamId, name string, class kimtypes.DataClass, placement kimtypes.Placement) Command {
	return Command{Kind: CmdCreateStream, StreamId: id, StreamName: name, DataClass: class, Placement: placement}
}

// AppendBatch builds a CmdAppendBatch command.
func AppendBatch(id kimtypes.StreamId, events [][]byte, expected kimtypes.Offset) Command {
	return Command{Kind: CmdAppendBatch, StreamId: id, Events: events, ExpectedOffset: expected}
}

// CreateTable builds a CmdCreateTable command.
func CreateTable(id kimtypes.TableId, name string, streamID kimtypes.StreamId) Command {
	return Command{Kind: CmdCreateTable, TableId: id, TableName: name, StreamId: streamID}
}

// DropTable builds a CmdDropTable command.
func DropTable(id kimtypes.TableId) Command {
	return Command{Kind: CmdDropTable, TableId: id}
}

// CreateIndex builds a CmdCreateIndex command.
func CreateIndex(id kimtypes.IndexId, tableID kimtypes.TableId, name string, columns []string) Command {
	return Command{Kind: CmdCreateIndex, IndexId: id, TableId: tableID, IndexName: name, Columns: columns}
}

// DML builds a CmdDML command, treated as an append of a structured event
// plus a projection update (spec.md §4.1).
func DML(op DMLOp, tableID kimtypes.TableId, streamID kimtypes.StreamId, event []byte, expected kimtypes.Offset) Command {
	return Command{
		Kind: CmdDML, DMLOp: op, DMLTableId: tableID,
		StreamId: streamID, DMLEvent: event, ExpectedOffset: expected,
	}
}

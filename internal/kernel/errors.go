// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kernel

import (
	"errors"
	"fmt"

	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// Sentinel errors for precondition violations (spec.md §4.1, §7). Callers
// use errors.Is against these; UnexpectedStreamOffsetError carries the
// expected/actual values and is matched with errors.As.
var (
	ErrStreamIdUniqueConstraint = errors.New("kernel: stream id already exists")
	ErrStreamNotFound           = errors.New("kernel: stream not found")
	ErrTableAlreadyExists       = errors.New("kernel: table already exists")
	ErrTableNotFound            = errors.New("kernel: table not found")
	ErrInvalidCommand           = errors.New("kernel: invalid command")
)

// UnexpectedStreamOffsetError reports an optimistic-concurrency failure on
// AppendBatch or DML: Expected is the stream's current offset, which the
// command had to name, and Actual is the offset the command supplied.
type UnexpectedStreamOffsetError struct {
	StreamId kimtypes.StreamId
	Expected kimtypes.Offset
	Actual   kimtypes.Offset
}

func (e *UnexpectedStreamOffsetError) Error() string {
	return fmt.Sprintf("kernel: unexpected offset for stream %v: expected %v, actual %v", e.StreamId, e.Expected, e.Actual)
}

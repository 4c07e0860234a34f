// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package kimassert guards the core's invariant assertions. These are the
// only panics permitted anywhere in the kernel, storage, or VSR packages
// (spec.md §7): a failed assertion means a safety invariant was violated,
// not a recoverable error. Production binaries let the panic crash the
// process; the simulation harness recovers it at the top of its event loop
// and turns it into a ReproBundle instead.
package kimassert

import "fmt"

// Invariant panics with a formatted message if cond is false.
func Invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("kimberlite: invariant violated: "+format, args...))
	}
}

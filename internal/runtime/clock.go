// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package runtime executes the Effects a kernel.Apply call produces: it
// is the "imperative shell" around the pure kernel, talking to storage,
// the network, and the clock through small interfaces so the same
// orchestration code runs against either the production OS-backed
// implementations or the simulator's deterministic fakes (spec.md §4.4,
// §9 "per-node clocks and forkable PRNG streams replace any global time").
package runtime

import (
	"time"

	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// Clock abstracts wall-clock access so production code and the
// simulator share the same Runtime orchestration: production wraps
// time.Now, the simulator advances a virtual clock explicitly.
type Clock interface {
	Now() kimtypes.Timestamp
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock, a thin wrapper over the OS
// clock (spec.md §9).
type SystemClock struct{}

// NewSystemClock returns the production Clock implementation.
func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() kimtypes.Timestamp {
	return kimtypes.Timestamp(time.Now().UnixNano())
}

func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

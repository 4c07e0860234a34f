// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import "time"

// Default timer durations (spec.md §4.3, §5). Process re-arms timers with
// these values, and the simulator's Cluster arms its initial timers with
// them unchanged.
const (
	DefaultHeartbeatInterval = 50 * time.Millisecond
	DefaultPrepareTimeout    = 150 * time.Millisecond
	DefaultViewChangeTimeout = 300 * time.Millisecond
	DefaultRecoveryTimeout   = 500 * time.Millisecond

	// DefaultScrubInterval is how often a replica starts a fresh
	// background-scrubbing tour over its committed log (spec.md §4.3
	// "Background scrubbing"), independent of leadership or view.
	DefaultScrubInterval = 10 * time.Second
)

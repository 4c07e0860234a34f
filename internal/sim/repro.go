// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package sim

import "fmt"

// EventLogEntry records one nondeterministic decision made during a run
// — a scheduled delivery, a fault-injection coin flip, a crash — so a
// failing run's entire decision sequence can be replayed exactly
// (spec.md §4.6: "every nondeterministic decision is appended to an
// event log").
type EventLogEntry struct {
	Step   uint64
	Kind   string
	Detail string
}

// ReproBundle is what a failing run saves: enough to replay it exactly
// and enough for a human to triage it (spec.md §4.6 "a failing run
// saves a ReproBundle{seed, scenario, event_log}").
type ReproBundle struct {
	// BundleID identifies this specific capture (not the seed/scenario
	// it replays) so a triage tracker can distinguish two bundles taken
	// from the same failing seed at different points in time.
	BundleID  string
	Seed      uint64
	Scenario  string
	EventLog  []EventLogEntry
	Violation *Violation
	// FailingStep is the step number (1-based, like EventLogEntry.Step)
	// at which the violation was first observed, the target for Bisect
	// to confirm.
	FailingStep uint64
}

// String renders a short human summary, the form cmd/vopr's repro
// subcommand prints.
func (b *ReproBundle) String() string {
	return fmt.Sprintf("bundle=%s seed=%d scenario=%q failed at step %d: %v (event log: %d entries)",
		b.BundleID, b.Seed, b.Scenario, b.FailingStep, b.Violation, len(b.EventLog))
}

// Minimize runs delta-debugging (ddmin) over the bundle's event log:
// repeatedly try removing chunks of events and re-running replay; keep
// the removal if the failure still reproduces, shrinking the
// reproduction to a minimal trigger set (spec.md §4.6 "delta-debugger
// (ddmin) removes events that preserve the failure").
//
// replay takes a candidate event log and reports whether the same
// Violation still occurs; it is supplied by the caller because
// "re-running the scenario" requires rebuilding the whole simulation
// (replicas, network, storage) from scratch, which this package leaves
// to the scenario driver rather than duplicating here.
func Minimize(log []EventLogEntry, replay func([]EventLogEntry) bool) []EventLogEntry {
	current := append([]EventLogEntry(nil), log...)
	chunkSize := len(current) / 2
	for chunkSize > 0 {
		i := 0
		for i < len(current) {
			end := i + chunkSize
			if end > len(current) {
				end = len(current)
			}
			candidate := append(append([]EventLogEntry(nil), current[:i]...), current[end:]...)
			if replay(candidate) {
				current = candidate
				// don't advance i: the next chunk has shifted into
				// this position after removal.
				continue
			}
			i += chunkSize
		}
		chunkSize /= 2
	}
	return current
}

// Bisect finds the earliest step at which the failure is already
// determined, by checkpoint/replay over the full log: it binary-
// searches for the smallest prefix length for which replaying just
// that prefix (then continuing deterministically) still reproduces the
// violation (spec.md §4.6: "bisect finds the first failing event by
// checkpoint/replay").
func Bisect(log []EventLogEntry, replay func(prefixLen int) bool) int {
	lo, hi := 0, len(log)
	for lo < hi {
		mid := (lo + hi) / 2
		if replay(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"context"

	"github.com/kimberlitedb/kimberlite/internal/kimlog"
)

// Driver wraps a ReplicaState with the durability and background-
// maintenance side effects Process itself cannot perform, since Process is
// deliberately pure and never touches storage (spec.md §4.3). It is the one
// place superblock persistence and the background scrubber meet the
// reducer; the simulator's Cluster drives Process through a Driver rather
// than calling it directly. No production replica loop exists in this
// module (cmd/kimberlited does not construct one).
type Driver struct {
	State      *ReplicaState
	Superblock *SuperblockStore
	Scrubber   *Scrubber

	lastSaved Superblock
	saved     bool
}

// NewDriver wraps state with the given (optional) superblock store and
// scrubber; either may be nil, in which case that concern is simply not
// exercised (useful for simulator replicas that want deterministic
// in-memory-only runs).
func NewDriver(state *ReplicaState, superblock *SuperblockStore, scrubber *Scrubber) *Driver {
	return &Driver{State: state, Superblock: superblock, Scrubber: scrubber}
}

// Restore loads a previously persisted superblock and client sessions into
// the wrapped ReplicaState. Call once at startup, before the first Step —
// it is the load-on-restart half of spec.md §6's "per-replica VSR state
// (superblock containing view, op_number, commit_number, log head) ...
// restored on restart". The log itself is never stored in the superblock
// (only its head hash, for a future mismatch check once segment-backed log
// storage is wired); a fresh replica rebuilds its log from peers via the
// existing recovery protocol regardless.
func (d *Driver) Restore() error {
	if d.Superblock == nil {
		return nil
	}
	sb, ok, err := d.Superblock.Load()
	if err != nil {
		return err
	}
	if ok {
		d.State.View = sb.View
		d.State.OpNumber = sb.OpNumber
		d.State.CommitNumber = sb.CommitNumber
		d.State.LastNormalView = sb.View
		d.lastSaved = sb
		d.saved = true
	}
	sessions, err := d.Superblock.LoadSessions()
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		d.State.Sessions.Restore(sess)
	}
	return nil
}

// Step runs one Process call and carries out everything Process itself
// couldn't: a scrub tour when ev is a fired TimerScrub (folding any
// corruption it finds into the same Output as repair requests), and a
// superblock save whenever view, op, or commit number actually advanced.
func (d *Driver) Step(ctx context.Context, ev Event) (Output, error) {
	var corrupt []OpNumber
	if d.Scrubber != nil && ev.Kind == EventTimerExpired && ev.Timer == TimerScrub {
		var err error
		if corrupt, err = d.Scrubber.RunTour(ctx, uint64(len(d.State.Log))); err != nil {
			return Output{}, err
		}
	}

	out := Process(d.State, ev)
	for _, op := range corrupt {
		requestRepair(d.State, ev.Now, op, op, &out)
	}
	d.saveSessions(out)
	d.saveSuperblockIfChanged()
	return out, nil
}

// saveSessions persists every client session touched by this step's
// replies. A reply fires both for a freshly committed request and for one
// answered straight from the session cache (spec.md property 12); saving
// on either is harmless since SaveSession overwrites the same key with
// whatever the session table currently holds.
func (d *Driver) saveSessions(out Output) {
	if d.Superblock == nil {
		return
	}
	for _, r := range out.Replies {
		sess, ok := d.State.Sessions.committed[r.ClientId]
		if !ok {
			continue
		}
		if err := d.Superblock.SaveSession(*sess); err != nil {
			kimlog.Root().Error("vsr: failed to save client session", "replica", d.State.Self, "client", r.ClientId, "err", err)
		}
	}
}

// saveSuperblockIfChanged persists the superblock only when one of its
// four fields actually moved since the last save — Process runs on every
// tick, and most ticks change nothing a restart needs to recover, so
// writing unconditionally would turn a 50ms heartbeat cadence into a
// pebble fsync storm for no durability benefit.
func (d *Driver) saveSuperblockIfChanged() {
	if d.Superblock == nil {
		return
	}
	sb := Superblock{View: d.State.View, OpNumber: d.State.OpNumber, CommitNumber: d.State.CommitNumber, LogHead: d.State.tailHash()}
	if d.saved && sb == d.lastSaved {
		return
	}
	if err := d.Superblock.Save(sb); err != nil {
		kimlog.Root().Error("vsr: failed to save superblock", "replica", d.State.Self, "err", err)
		return
	}
	d.lastSaved = sb
	d.saved = true
}

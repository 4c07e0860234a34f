// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package sim

import (
	"encoding/binary"

	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
	"github.com/kimberlitedb/kimberlite/internal/vsr"
)

// MutationRule rewrites a message's fields before delivery; Probability
// gates whether the rule fires at all this invocation (rolled against
// the simulation's Rng so the decision stays reproducible from the
// seed).
type MutationRule struct {
	Name        string
	Probability float64
	Apply       func(rng *Rng, msg vsr.Message) vsr.Message
}

// MessageMutator is the Byzantine fault injector: a rule set applied to
// every message immediately before delivery, enabled only in simulation
// (spec.md §4.6 "MessageMutator (Byzantine)"). Never wired into
// production's Network.
type MessageMutator struct {
	rules []MutationRule
	// seen fingerprints the logical identity (not the bytes) of every
	// message already mutated, so a redelivery of the same logical
	// message — e.g. the network layer's own retry of a still-in-flight
	// send — is not rolled and mutated a second time. Two independent
	// corruptions of "the same message" is not a fault a real Byzantine
	// replica produces; it would just resend the one corrupt copy.
	seen map[uint64]bool
}

// NewMessageMutator returns a mutator with the given rules; rules apply
// in order, each independently gated by its own Probability.
func NewMessageMutator(rules ...MutationRule) *MessageMutator {
	return &MessageMutator{rules: rules, seen: make(map[uint64]bool)}
}

// Apply runs every enabled rule against msg in sequence, returning the
// (possibly rewritten) result. A message whose fingerprint has already
// been mutated once is passed through unchanged.
func (m *MessageMutator) Apply(rng *Rng, msg vsr.Message) vsr.Message {
	fp := messageFingerprint(msg)
	if m.seen[fp] {
		return msg
	}
	mutated := msg
	applied := false
	for _, rule := range m.rules {
		if rng.Chance(rule.Probability) {
			mutated = rule.Apply(rng, mutated)
			applied = true
		}
	}
	if applied {
		m.seen[fp] = true
	}
	return mutated
}

// messageFingerprint computes a fast, non-cryptographic identity for a
// message's routing/ordering fields — the parts that identify "which
// logical message this is" independent of the payload a mutation rule
// might go on to corrupt.
func messageFingerprint(msg vsr.Message) uint64 {
	var buf [8 * 6]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.Kind))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(msg.From))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(msg.To))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(msg.View))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(msg.Op))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(msg.Commit))
	return kimcrypto.FastHash(buf[:])
}

// InflateCommitNumber is a stock rule bumping Commit past what the
// sender actually holds, probing whether a receiver blindly trusts it
// (spec.md example: "inflate commit_number").
func InflateCommitNumber(probability float64) MutationRule {
	return MutationRule{
		Name: "inflate_commit_number", Probability: probability,
		Apply: func(rng *Rng, msg vsr.Message) vsr.Message {
			msg.Commit += vsr.CommitNumber(1 + rng.IntRange(1, 50))
			return msg
		},
	}
}

// SwapView is a stock rule substituting a neighboring view number,
// probing whether stale/future view messages are rejected correctly
// (spec.md example: "swap view").
func SwapView(probability float64) MutationRule {
	return MutationRule{
		Name: "swap_view", Probability: probability,
		Apply: func(rng *Rng, msg vsr.Message) vsr.Message {
			if rng.Bool() && msg.View > 0 {
				msg.View--
			} else {
				msg.View++
			}
			return msg
		},
	}
}

// TruncateDoViewChangeLog is a stock rule dropping the tail of a
// DoViewChange's carried log, probing Protocol-Aware-Recovery safety
// against a Byzantine backup claiming less history than it actually
// acknowledged (spec.md example: "truncate log in DoViewChange").
func TruncateDoViewChangeLog(probability float64) MutationRule {
	return MutationRule{
		Name: "truncate_do_view_change_log", Probability: probability,
		Apply: func(rng *Rng, msg vsr.Message) vsr.Message {
			if msg.Kind != vsr.MsgDoViewChange || len(msg.Log) == 0 {
				return msg
			}
			cut := rng.IntRange(0, len(msg.Log))
			msg.Log = msg.Log[:cut]
			if cut > 0 {
				msg.Op = msg.Log[cut-1].Op
			} else {
				msg.Op = 0
			}
			return msg
		},
	}
}

// CorruptEntryHash is a stock rule flipping a bit in a Prepare's carried
// entry PrevHash, probing whether the receiving replica's chain-hash
// verification (mirrored from the storage layer) actually catches it.
func CorruptEntryHash(probability float64) MutationRule {
	return MutationRule{
		Name: "corrupt_entry_hash", Probability: probability,
		Apply: func(rng *Rng, msg vsr.Message) vsr.Message {
			if msg.Kind != vsr.MsgPrepare {
				return msg
			}
			msg.Entry.PrevHash[rng.IntRange(0, len(msg.Entry.PrevHash))] ^= 0x01
			return msg
		},
	}
}

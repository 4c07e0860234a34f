// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package sim

import "math/rand/v2"

// Rng is a forkable deterministic random source: the same master seed
// must produce identical bit-for-bit replicas across runs, and each
// fork must itself be a deterministic function of the parent stream so
// a replayed run forks identically (spec.md §4.6: "Rng (ChaCha8-class):
// ... fork() to derive independent per-replica streams").
type Rng struct {
	r    *rand.Rand
	seed [32]byte
	// forks counts how many children this stream has produced, folded
	// into each child's seed so successive Fork calls diverge.
	forks uint64
}

// NewRng seeds a fresh top-level stream from a master uint64 seed.
func NewRng(seed uint64) *Rng {
	var s [32]byte
	for i := 0; i < 8; i++ {
		s[i] = byte(seed >> (8 * i))
	}
	return &Rng{r: rand.New(rand.NewChaCha8(s)), seed: s}
}

// Fork derives an independent child stream, deterministic in the parent
// seed and the number of prior forks — so replaying the same sequence
// of Fork calls on the same parent seed always yields the same children,
// regardless of what the parent stream was used for in between.
func (g *Rng) Fork() *Rng {
	childSeed := g.seed
	childSeed[24] ^= byte(g.forks)
	childSeed[25] ^= byte(g.forks >> 8)
	childSeed[31] ^= 0x5a // distinguishes a forked child from a sibling seed reused verbatim
	g.forks++
	return &Rng{r: rand.New(rand.NewChaCha8(childSeed)), seed: childSeed}
}

func (g *Rng) Uint64() uint64         { return g.r.Uint64() }
func (g *Rng) Uint32() uint32         { return uint32(g.r.Uint64()) }
func (g *Rng) Bool() bool             { return g.r.Uint64()&1 == 1 }
func (g *Rng) Float64() float64       { return g.r.Float64() }
func (g *Rng) Uint64N(n uint64) uint64 { return g.r.Uint64N(n) }

// IntRange returns a uniform value in [lo, hi).
func (g *Rng) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + int(g.r.Uint64N(uint64(hi-lo)))
}

// Duration returns a uniform duration in [lo, hi).
func (g *Rng) Duration(lo, hi int64) (ns int64) {
	if hi <= lo {
		return lo
	}
	return lo + int64(g.r.Uint64N(uint64(hi-lo)))
}

// Fill fills b with pseudo-random bytes.
func (g *Rng) Fill(b []byte) {
	for i := range b {
		b[i] = byte(g.r.Uint64())
	}
}

// Chance reports true with probability p (0..1), e.g. a drop or
// corruption roll.
func (g *Rng) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return g.r.Float64() < p
}

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kimberlitedb/kimberlite/internal/kernel"
	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
	"github.com/kimberlitedb/kimberlite/internal/kimlog"
	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// DefaultMaxRetries bounds how many times the Runtime retries an Effect
// that failed with a transient storage error before surfacing it.
const DefaultMaxRetries = 3

// DefaultMaxConcurrentEffects bounds fan-out when executing independent
// effect batches from multiple committed commands concurrently.
const DefaultMaxConcurrentEffects = 8

// Runtime executes the Effects kernel.Apply produces against concrete
// Clock, Storage, and Network implementations, following the same
// generic-over-Clock/Storage/Network shape the kernel's Rust ancestor
// uses so production and the simulator share one orchestration path
// (spec.md §4.4).
type Runtime struct {
	Clock      Clock
	Storage    Storage
	Network    Network
	Projection ProjectionNotifier

	maxRetries  int
	retryDelay  time.Duration
	concurrency *semaphore.Weighted
	audit       *auditChain
	log         kimlog.Logger
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option { return func(r *Runtime) { r.maxRetries = n } }

// WithRetryDelay overrides the backoff between retry attempts.
func WithRetryDelay(d time.Duration) Option { return func(r *Runtime) { r.retryDelay = d } }

// WithConcurrency overrides DefaultMaxConcurrentEffects.
func WithConcurrency(n int64) Option {
	return func(r *Runtime) { r.concurrency = semaphore.NewWeighted(n) }
}

// WithAuditSigner overrides the signer New generates automatically —
// production replicas that persist/restore a durable signing key (rather
// than minting a fresh one on every restart) use this to inject it.
func WithAuditSigner(signer *kimcrypto.AuditSigner) Option {
	return func(r *Runtime) { r.audit = newAuditChain(signer) }
}

// New builds a Runtime wired to the given Clock, Storage, and Network. It
// generates its own audit-signing keypair unless WithAuditSigner overrides
// it; every audit entry the runtime ever appends is hash-chained and signed
// from the very first effect it executes (spec.md §3, §6).
func New(clock Clock, storage Storage, network Network, projection ProjectionNotifier, opts ...Option) *Runtime {
	if projection == nil {
		projection = NoopProjectionNotifier{}
	}
	log := kimlog.Root().With("component", "runtime")
	signer, err := kimcrypto.NewAuditSigner()
	if err != nil {
		log.Error("runtime: failed to generate audit signer, audit entries will be chained but unsigned", "err", err)
	}
	r := &Runtime{
		Clock:       clock,
		Storage:     storage,
		Network:     network,
		Projection:  projection,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  10 * time.Millisecond,
		concurrency: semaphore.NewWeighted(DefaultMaxConcurrentEffects),
		audit:       newAuditChain(signer),
		log:         log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AuditSigner returns the runtime's audit-entry signer, so verification
// tooling (or a superblock that persists the public key) can reach it.
func (r *Runtime) AuditSigner() *kimcrypto.AuditSigner { return r.audit.signer }

// ExecuteEffect performs a single Effect, retrying transient storage
// failures up to maxRetries times with a fixed backoff before surfacing
// the error (spec.md §7: "the runtime logs, retries where retryable, and
// surfaces otherwise").
func (r *Runtime) ExecuteEffect(ctx context.Context, eff kernel.Effect) error {
	switch eff.Kind {
	case kernel.EffStorageAppend:
		_, err := retry(ctx, r, func() (kimtypes.Offset, error) {
			return r.Storage.AppendBatch(eff.StreamId, eff.Events)
		})
		return err

	case kernel.EffStreamMetadataWrite:
		return r.retryVoid(ctx, func() error { return r.Storage.WriteStreamMetadata(eff.StreamMeta) })

	case kernel.EffWakeProjection:
		r.Projection.WakeProjection(eff.StreamId, eff.From, eff.To)
		return nil

	case kernel.EffAuditLogAppend:
		entry := r.audit.seal(eff.Audit)
		return r.retryVoid(ctx, func() error { return r.Storage.AppendAudit(entry) })

	case kernel.EffTableMetadataWrite:
		return r.retryVoid(ctx, func() error { return r.Storage.WriteTableMetadata(eff.TableMeta) })

	case kernel.EffTableMetadataDrop:
		return r.retryVoid(ctx, func() error { return r.Storage.DropTableMetadata(eff.TableId) })

	case kernel.EffIndexMetadataWrite:
		return r.retryVoid(ctx, func() error { return r.Storage.WriteIndexMetadata(eff.IndexMeta) })

	case kernel.EffUpdateProjection:
		r.Projection.UpdateProjection(eff.TableId, eff.StreamId, eff.From, eff.To)
		return nil

	default:
		return fmt.Errorf("runtime: unknown effect kind %d", eff.Kind)
	}
}

// ExecuteEffects performs effects in order, stopping at the first error —
// Effect order within one Apply result is meaningful (spec.md §3) and must
// not be parallelized within a single command's effect list.
func (r *Runtime) ExecuteEffects(ctx context.Context, effects []kernel.Effect) error {
	for _, eff := range effects {
		if err := r.ExecuteEffect(ctx, eff); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteBatches runs several independent commands' effect lists
// concurrently, bounded by the Runtime's concurrency semaphore, using
// errgroup to collect the first error while letting the rest drain —
// independent commands (different streams, no shared state) are safe to
// fan out this way since the kernel itself holds no shared mutable state
// (spec.md §5).
func (r *Runtime) ExecuteBatches(ctx context.Context, batches [][]kernel.Effect) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range batches {
		batch := batch
		if err := r.concurrency.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer r.concurrency.Release(1)
			return r.ExecuteEffects(gctx, batch)
		})
	}
	return g.Wait()
}

func (r *Runtime) retryVoid(ctx context.Context, fn func() error) error {
	_, err := retry(ctx, r, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// retry runs fn, retrying up to r.maxRetries times on ErrStorageUnavailable
// with a fixed backoff; any other error returns immediately. It is a
// free function, not a method, because Go methods cannot carry their own
// type parameters.
func retry[T any](ctx context.Context, r *Runtime, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errors.Is(err, ErrStorageUnavailable) {
			return v, err
		}
		r.log.Warn("runtime: retrying transient storage error", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(r.retryDelay):
		}
	}
	return zero, fmt.Errorf("runtime: exhausted retries: %w", lastErr)
}

// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kimio

import (
	"fmt"
	"os"
	"sync"
)

// osFile is the production File implementation: a thin, concurrency-safe
// wrapper over *os.File. Concurrent readers are safe (ReadAt takes no lock);
// Append serializes writers behind mu, matching spec.md §5's "writers use
// per-file exclusion" policy.
type osFile struct {
	mu     sync.Mutex
	f      *os.File
	size   int64
	closed bool
}

// OpenFile opens or creates path for append-only writing and random reads.
func OpenFile(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kimio: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("kimio: stat %s: %w", path, err)
	}
	return &osFile{f: f, size: info.Size()}, nil
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error) {
	return o.f.ReadAt(p, off)
}

func (o *osFile) Append(p []byte) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	off := o.size
	n, err := o.f.WriteAt(p, off)
	if err != nil {
		return 0, fmt.Errorf("kimio: append: %w", err)
	}
	o.size += int64(n)
	return off, nil
}

func (o *osFile) Fsync() error {
	if err := o.f.Sync(); err != nil {
		return fmt.Errorf("kimio: fsync: %w", err)
	}
	return nil
}

func (o *osFile) Size() (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size, nil
}

func (o *osFile) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.f.Close()
}

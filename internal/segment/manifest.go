// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// SegmentDescriptor is a manifest entry for one sealed segment.
type SegmentDescriptor struct {
	Filename    string
	FirstOffset kimtypes.Offset
	LastOffset  kimtypes.Offset
}

// Manifest is the ordered list of sealed segments plus the active
// segment's identity. It is serialized as JSON for readability (the bit-
// exact formats spec.md §6 cares about are the record, index, and wire
// formats; the manifest only needs atomic update, which write-temp-then-
// rename gives regardless of encoding).
type Manifest struct {
	Sealed       []SegmentDescriptor `json:"sealed"`
	ActiveFile   string              `json:"active_file"`
	ActiveOffset kimtypes.Offset     `json:"active_offset"`
}

// Path returns the manifest file's path within dir.
func Path(dir string) string { return filepath.Join(dir, "MANIFEST") }

// Load reads the manifest from dir. A missing manifest is not an error: it
// represents a freshly initialized, empty log.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(Path(dir))
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("segment: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("segment: decode manifest: %w", err)
	}
	return &m, nil
}

// Save persists the manifest atomically: write to a temp file in the same
// directory, fsync it, then rename over the real path. Readers therefore
// always observe either the old manifest or the new one, never a partial
// write (spec.md §4.2, §6).
func (m *Manifest) Save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("segment: encode manifest: %w", err)
	}
	tmp := Path(dir) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("segment: open manifest temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("segment: write manifest temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("segment: sync manifest temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("segment: close manifest temp: %w", err)
	}
	if err := os.Rename(tmp, Path(dir)); err != nil {
		return fmt.Errorf("segment: rename manifest: %w", err)
	}
	return nil
}

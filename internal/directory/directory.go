// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package directory maps a stream's Placement to the VSR consensus
// group that owns it: a fixed global group plus a region-to-group map,
// immutable after startup (spec.md §4.5). Reconfiguration of which
// group owns a region is a separate migration protocol outside this
// core, per spec.md's explicit Non-goals.
package directory

import (
	"errors"
	"fmt"

	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

// ErrRegionNotFound is returned when a regional Placement names a
// Region the Directory was never configured with.
var ErrRegionNotFound = errors.New("directory: region not found")

// RegionNotFoundError carries the unresolved Region for callers that
// want to report it (errors.As).
type RegionNotFoundError struct {
	Region kimtypes.Region
}

func (e *RegionNotFoundError) Error() string {
	return fmt.Sprintf("directory: region not found: %s", e.Region)
}

func (e *RegionNotFoundError) Unwrap() error { return ErrRegionNotFound }

// Directory routes a Placement to the GroupId that owns it. The zero
// value is not usable; construct with New.
type Directory struct {
	globalGroup    kimtypes.GroupId
	regionalGroups map[kimtypes.Region]kimtypes.GroupId
}

// New returns a Directory whose global group is globalGroup and with no
// regional groups configured; chain WithRegion to add them.
func New(globalGroup kimtypes.GroupId) Directory {
	return Directory{
		globalGroup:    globalGroup,
		regionalGroups: make(map[kimtypes.Region]kimtypes.GroupId),
	}
}

// WithRegion returns a Directory with region additionally routed to
// group. It mutates and returns the receiver's map in place — Directory
// is built once at startup via a chain of WithRegion calls, not
// concurrently mutated afterward.
func (d Directory) WithRegion(region kimtypes.Region, group kimtypes.GroupId) Directory {
	d.regionalGroups[region] = group
	return d
}

// GroupFor resolves placement to the GroupId that owns it: the fixed
// global group for Placement{Global: true}, or the configured group for
// placement.Region, failing with a RegionNotFoundError if that region
// was never registered.
func (d Directory) GroupFor(placement kimtypes.Placement) (kimtypes.GroupId, error) {
	if placement.Global {
		return d.globalGroup, nil
	}
	group, ok := d.regionalGroups[placement.Region]
	if !ok {
		return 0, &RegionNotFoundError{Region: placement.Region}
	}
	return group, nil
}

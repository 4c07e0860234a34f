// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimberlitedb/kimberlite/internal/kimtypes"
)

func TestGroupForGlobal(t *testing.T) {
	d := New(kimtypes.GroupId(0)).
		WithRegion(kimtypes.Region("ap-southeast-2"), kimtypes.GroupId(1)).
		WithRegion(kimtypes.Region("us-east-1"), kimtypes.GroupId(2))

	group, err := d.GroupFor(kimtypes.GlobalPlacement())
	require.NoError(t, err)
	assert.Equal(t, kimtypes.GroupId(0), group)
}

func TestGroupForRegion(t *testing.T) {
	d := New(kimtypes.GroupId(0)).WithRegion(kimtypes.Region("ap-southeast-2"), kimtypes.GroupId(1))

	group, err := d.GroupFor(kimtypes.RegionPlacement("ap-southeast-2"))
	require.NoError(t, err)
	assert.Equal(t, kimtypes.GroupId(1), group)
}

func TestGroupForUnknownRegion(t *testing.T) {
	d := New(kimtypes.GroupId(0))

	_, err := d.GroupFor(kimtypes.RegionPlacement("eu-west-1"))
	require.ErrorIs(t, err, ErrRegionNotFound)
	var notFound *RegionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, kimtypes.Region("eu-west-1"), notFound.Region)
}

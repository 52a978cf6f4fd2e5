// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKeyByName(t *testing.T) {
	k, ok := LookupKey("voltage_target")
	require.True(t, ok)
	assert.Equal(t, KeyVoltageTarget, k.ID)
	assert.Equal(t, ShapeF64, k.Shape)
	assert.True(t, k.Settable)
}

func TestLookupKeyUnknown(t *testing.T) {
	_, ok := LookupKey("not_a_real_key")
	assert.False(t, ok)
}

func TestAllKeysStableIDs(t *testing.T) {
	all := AllKeys()
	assert.Len(t, all, len(keyTable))
	seen := make(map[KeyID]bool)
	for _, k := range all {
		assert.False(t, seen[k.ID], "duplicate key id %v", k.ID)
		seen[k.ID] = true
	}
}

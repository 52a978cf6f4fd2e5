// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package scope

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

func TestLookupModelHMO1024(t *testing.T) {
	m, ok := lookupModel("HMO1024")
	require.True(t, ok)
	assert.Equal(t, 4, m.analogChannels)
	assert.Equal(t, 1, m.digitalPods)
	assert.Equal(t, hmoCompact4TriggerSources, m.triggerSources)
}

func TestLookupModelUnknown(t *testing.T) {
	_, ok := lookupModel("NOSUCHMODEL")
	assert.False(t, ok)
}

func TestDialectTemplatesStayUnderCommandBufferSize(t *testing.T) {
	// §8 testable property 2: formatted length < cmdBufSize for documented
	// argument ranges (channel index 1-4, enumeration tokens, a timebase
	// value formatted in scientific notation).
	d := defaultDialect
	cases := []string{
		fmt.Sprintf(d.setTimebase, 1.0e-3),
		fmt.Sprintf(d.setVdiv, 4, 1.0e-3),
		fmt.Sprintf(d.setCoupling, 4, "GND"),
		fmt.Sprintf(d.setPodState, 2, 1),
		fmt.Sprintf(d.setTriggerSlope, "POS"),
		fmt.Sprintf(d.getAnalogData, 4),
	}
	for _, s := range cases {
		assert.Lessf(t, len(s), cmdBufSize, "formatted command %q exceeds buffer size", s)
	}
}

func TestULPToleranceAcceptsNearEqualValues(t *testing.T) {
	base := 1.0e-3
	nudged := math.Nextafter(base, base*2)
	assert.True(t, ulpTolerance(base, nudged))
}

func TestULPToleranceRejectsDistinctValues(t *testing.T) {
	assert.False(t, ulpTolerance(1.0e-3, 2.0e-3))
}

func TestLookupTimebaseFindsTableEntry(t *testing.T) {
	table := timebaseTableCompact
	require.NotEmpty(t, table)
	target := float64(table[5].Num) / float64(table[5].Den)
	idx, ok := lookupTimebase(table, target)
	require.True(t, ok)
	assert.Equal(t, 5, idx)
}

func TestVdivTableHasThirteenEntries(t *testing.T) {
	assert.Len(t, vdivTableCompact, 13)
}

func TestTimebaseTableReaches50Seconds(t *testing.T) {
	table := timebaseTableCompact
	require.NotEmpty(t, table)

	first := table[0]
	assert.Equal(t, uint64(2), first.Num)
	assert.Equal(t, uint64(1_000_000_000), first.Den)

	last := table[len(table)-1]
	assert.Equal(t, uint64(50), last.Num)
	assert.Equal(t, uint64(1), last.Den)
}

func TestTimebaseTableFollowsDecadeAlignedProgression(t *testing.T) {
	// Every entry must be 1, 2, or 5 times a true power of ten; a table
	// built by scaling a non-decade lo value directly (e.g. 2, 4, 10, 20,
	// 40, 100, ...) would fail this check.
	for _, r := range timebaseTableCompact {
		v := float64(r.Num) / float64(r.Den)
		mantissa, ok := decadeMantissa(v)
		assert.Truef(t, ok, "entry %v is not a 1-2-5 decade value", r)
		assert.Contains(t, []uint64{1, 2, 5}, mantissa)
	}
	assert.NotContains(t, timebaseTableCompact, models.Rational{Num: 4, Den: 1_000_000_000})
	assert.NotContains(t, timebaseTableCompact, models.Rational{Num: 40, Den: 1_000_000_000})
}

// decadeMantissa reports the leading digit of v expressed as m*10^p, used
// only to assert the generated table's shape in tests.
func decadeMantissa(v float64) (uint64, bool) {
	for v >= 10 {
		v /= 10
	}
	for v < 1 {
		v *= 10
	}
	rounded := math.Round(v)
	if math.Abs(v-rounded) > 1e-6 {
		return 0, false
	}
	return uint64(rounded), true
}

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

func roundTrip(t *testing.T, v *Value) *Value {
	t.Helper()
	raw, err := v.MarshalBinary()
	require.NoError(t, err)
	got := &Value{}
	require.NoError(t, got.UnmarshalBinary(raw))
	return got
}

func TestValueRoundTrip(t *testing.T) {
	rat, err := NewRational(1, 1000)
	require.NoError(t, err)

	tup, err := NewTuple2F64(0.1, 3.3)
	require.NoError(t, err)

	arrRat, err := NewArrayRational([]Rational{{2, 1000000000}, {5, 1000000000}, {1, 1000}})
	require.NoError(t, err)

	cases := []*Value{
		NewBool(true),
		NewBool(false),
		NewU32(42),
		NewI32(-42),
		NewU64(1 << 40),
		NewI64(-(1 << 40)),
		NewF64(3.14159),
		NewString("HAMEG,HMO1024,0,01.400"),
		rat,
		tup,
		NewArrayU32([]uint32{1, 2, 3}),
		NewArrayString(nil),
		NewArrayString([]string{"CH1", "CH2"}),
		arrRat,
	}

	for _, v := range cases {
		got := roundTrip(t, v)
		assert.True(t, v.Equal(got), "shape %s did not round-trip", v.Shape())
	}
}

func TestRationalArrayRoundTripExact(t *testing.T) {
	v, err := NewArrayRational([]Rational{{2, 1000000000}, {5, 1000000000}, {1, 1000}})
	require.NoError(t, err)
	got := roundTrip(t, v)
	arr, ok := got.ArrayRational()
	require.True(t, ok)
	assert.Equal(t, []Rational{{2, 1000000000}, {5, 1000000000}, {1, 1000}}, arr)
}

func TestNewRationalZeroDenominator(t *testing.T) {
	_, err := NewRational(1, 0)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidArg))
}

func TestNewTuple2F64LowGreaterThanHigh(t *testing.T) {
	_, err := NewTuple2F64(5, 1)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidArg))
}

func TestNewTuple2U64LowGreaterThanHigh(t *testing.T) {
	_, err := NewTuple2U64(5, 1)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidArg))
}

func TestNewArrayRationalZeroDenominator(t *testing.T) {
	_, err := NewArrayRational([]Rational{{1, 2}, {3, 0}})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidArg))
}

func TestValueShapeMismatchAccessor(t *testing.T) {
	v := NewU32(7)
	_, ok := v.F64()
	assert.False(t, ok)
	n, ok := v.U32()
	assert.True(t, ok)
	assert.EqualValues(t, 7, n)
}

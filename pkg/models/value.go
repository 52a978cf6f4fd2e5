// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package models defines the value envelope, key registry, device model,
// driver contract, and data-feed packet types shared by every instrument
// driver and by the session pipeline that drives them.
package models

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Rational is a numerator/denominator pair, denominator != 0.
type Rational struct {
	Num uint64
	Den uint64
}

// Tuple2F64 is an ordered (low, high) pair of doubles, low <= high.
type Tuple2F64 struct {
	Low  float64
	High float64
}

// Tuple2U64 is an ordered (low, high) pair of unsigned integers, low <= high.
type Tuple2U64 struct {
	Low  uint64
	High uint64
}

// Value is the tagged union (component A) carrying any configuration value
// between frontend and driver. Every Value knows its own Shape; a shape
// mismatch at the point of use is a hard error (see ConfigSet/ConfigGet).
type Value struct {
	shape Shape

	b    bool
	i64  int64
	u64  uint64
	f64  float64
	str  string
	rat  Rational
	t2f  Tuple2F64
	t2u  Tuple2U64
	au32 []uint32
	au64 []uint64
	ai32 []int32
	astr []string
	arat []Rational
}

// Shape reports the value's tag.
func (v *Value) Shape() Shape { return v.shape }

func NewBool(b bool) *Value { return &Value{shape: ShapeBool, b: b} }

func NewU32(n uint32) *Value { return &Value{shape: ShapeU32, u64: uint64(n)} }

func NewI32(n int32) *Value { return &Value{shape: ShapeI32, i64: int64(n)} }

func NewU64(n uint64) *Value { return &Value{shape: ShapeU64, u64: n} }

func NewI64(n int64) *Value { return &Value{shape: ShapeI64, i64: n} }

func NewF64(f float64) *Value { return &Value{shape: ShapeF64, f64: f} }

func NewString(s string) *Value { return &Value{shape: ShapeString, str: s} }

// NewRational fails with KindInvalidArg if den == 0.
func NewRational(num, den uint64) (*Value, error) {
	if den == 0 {
		return nil, NewError(KindInvalidArg, "NewRational", fmt.Errorf("zero denominator"))
	}
	return &Value{shape: ShapeRational, rat: Rational{Num: num, Den: den}}, nil
}

// NewTuple2F64 fails with KindInvalidArg if low > high.
func NewTuple2F64(low, high float64) (*Value, error) {
	if low > high {
		return nil, NewError(KindInvalidArg, "NewTuple2F64", fmt.Errorf("low %v > high %v", low, high))
	}
	return &Value{shape: ShapeTuple2F64, t2f: Tuple2F64{Low: low, High: high}}, nil
}

// NewTuple2U64 fails with KindInvalidArg if low > high.
func NewTuple2U64(low, high uint64) (*Value, error) {
	if low > high {
		return nil, NewError(KindInvalidArg, "NewTuple2U64", fmt.Errorf("low %v > high %v", low, high))
	}
	return &Value{shape: ShapeTuple2U64, t2u: Tuple2U64{Low: low, High: high}}, nil
}

func NewArrayU32(vs []uint32) *Value {
	cp := append([]uint32(nil), vs...)
	return &Value{shape: ShapeArrayU32, au32: cp}
}

func NewArrayU64(vs []uint64) *Value {
	cp := append([]uint64(nil), vs...)
	return &Value{shape: ShapeArrayU64, au64: cp}
}

func NewArrayI32(vs []int32) *Value {
	cp := append([]int32(nil), vs...)
	return &Value{shape: ShapeArrayI32, ai32: cp}
}

// NewArrayString may be empty.
func NewArrayString(vs []string) *Value {
	cp := append([]string(nil), vs...)
	return &Value{shape: ShapeArrayString, astr: cp}
}

// NewArrayRational fails with KindInvalidArg if any element has a zero denominator.
func NewArrayRational(vs []Rational) (*Value, error) {
	cp := make([]Rational, len(vs))
	for i, r := range vs {
		if r.Den == 0 {
			return nil, NewError(KindInvalidArg, "NewArrayRational", fmt.Errorf("element %d: zero denominator", i))
		}
		cp[i] = r
	}
	return &Value{shape: ShapeArrayRational, arat: cp}, nil
}

// Bool returns the boolean payload and whether the shape matched.
func (v *Value) Bool() (bool, bool) {
	if v.shape != ShapeBool {
		return false, false
	}
	return v.b, true
}

func (v *Value) U32() (uint32, bool) {
	if v.shape != ShapeU32 {
		return 0, false
	}
	return uint32(v.u64), true
}

func (v *Value) I32() (int32, bool) {
	if v.shape != ShapeI32 {
		return 0, false
	}
	return int32(v.i64), true
}

func (v *Value) U64() (uint64, bool) {
	if v.shape != ShapeU64 {
		return 0, false
	}
	return v.u64, true
}

func (v *Value) I64() (int64, bool) {
	if v.shape != ShapeI64 {
		return 0, false
	}
	return v.i64, true
}

func (v *Value) F64() (float64, bool) {
	if v.shape != ShapeF64 {
		return 0, false
	}
	return v.f64, true
}

func (v *Value) String() (string, bool) {
	if v.shape != ShapeString {
		return "", false
	}
	return v.str, true
}

func (v *Value) RationalValue() (Rational, bool) {
	if v.shape != ShapeRational {
		return Rational{}, false
	}
	return v.rat, true
}

func (v *Value) Tuple2F64Value() (Tuple2F64, bool) {
	if v.shape != ShapeTuple2F64 {
		return Tuple2F64{}, false
	}
	return v.t2f, true
}

func (v *Value) Tuple2U64Value() (Tuple2U64, bool) {
	if v.shape != ShapeTuple2U64 {
		return Tuple2U64{}, false
	}
	return v.t2u, true
}

func (v *Value) ArrayU32() ([]uint32, bool) {
	if v.shape != ShapeArrayU32 {
		return nil, false
	}
	return v.au32, true
}

func (v *Value) ArrayU64() ([]uint64, bool) {
	if v.shape != ShapeArrayU64 {
		return nil, false
	}
	return v.au64, true
}

func (v *Value) ArrayI32() ([]int32, bool) {
	if v.shape != ShapeArrayI32 {
		return nil, false
	}
	return v.ai32, true
}

func (v *Value) ArrayString() ([]string, bool) {
	if v.shape != ShapeArrayString {
		return nil, false
	}
	return v.astr, true
}

func (v *Value) ArrayRational() ([]Rational, bool) {
	if v.shape != ShapeArrayRational {
		return nil, false
	}
	return v.arat, true
}

// Equal reports whether two values carry the same shape and payload.
func (v *Value) Equal(o *Value) bool {
	if v == nil || o == nil {
		return v == o
	}
	if v.shape != o.shape {
		return false
	}
	switch v.shape {
	case ShapeBool:
		return v.b == o.b
	case ShapeU32, ShapeU64:
		return v.u64 == o.u64
	case ShapeI32, ShapeI64:
		return v.i64 == o.i64
	case ShapeF64:
		return v.f64 == o.f64
	case ShapeString:
		return v.str == o.str
	case ShapeRational:
		return v.rat == o.rat
	case ShapeTuple2F64:
		return v.t2f == o.t2f
	case ShapeTuple2U64:
		return v.t2u == o.t2u
	case ShapeArrayU32:
		return equalSlice(v.au32, o.au32)
	case ShapeArrayU64:
		return equalSlice(v.au64, o.au64)
	case ShapeArrayI32:
		return equalSlice(v.ai32, o.ai32)
	case ShapeArrayString:
		return equalSlice(v.astr, o.astr)
	case ShapeArrayRational:
		return equalSlice(v.arat, o.arat)
	default:
		return false
	}
}

func equalSlice[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MarshalBinary implements the canonical flattened wire representation
// described in spec.md §4.1: a one-byte shape tag followed by the
// shape-specific payload (twos-complement integers, IEEE 754 doubles,
// length-prefixed UTF-8 strings/arrays).
func (v *Value) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(v.shape))

	switch v.shape {
	case ShapeBool:
		if v.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case ShapeU32:
		binary.Write(&buf, binary.BigEndian, uint32(v.u64))
	case ShapeI32:
		binary.Write(&buf, binary.BigEndian, int32(v.i64))
	case ShapeU64:
		binary.Write(&buf, binary.BigEndian, v.u64)
	case ShapeI64:
		binary.Write(&buf, binary.BigEndian, v.i64)
	case ShapeF64:
		binary.Write(&buf, binary.BigEndian, math.Float64bits(v.f64))
	case ShapeString:
		writeString(&buf, v.str)
	case ShapeRational:
		binary.Write(&buf, binary.BigEndian, v.rat.Num)
		binary.Write(&buf, binary.BigEndian, v.rat.Den)
	case ShapeTuple2F64:
		binary.Write(&buf, binary.BigEndian, math.Float64bits(v.t2f.Low))
		binary.Write(&buf, binary.BigEndian, math.Float64bits(v.t2f.High))
	case ShapeTuple2U64:
		binary.Write(&buf, binary.BigEndian, v.t2u.Low)
		binary.Write(&buf, binary.BigEndian, v.t2u.High)
	case ShapeArrayU32:
		binary.Write(&buf, binary.BigEndian, uint32(len(v.au32)))
		for _, e := range v.au32 {
			binary.Write(&buf, binary.BigEndian, e)
		}
	case ShapeArrayU64:
		binary.Write(&buf, binary.BigEndian, uint32(len(v.au64)))
		for _, e := range v.au64 {
			binary.Write(&buf, binary.BigEndian, e)
		}
	case ShapeArrayI32:
		binary.Write(&buf, binary.BigEndian, uint32(len(v.ai32)))
		for _, e := range v.ai32 {
			binary.Write(&buf, binary.BigEndian, e)
		}
	case ShapeArrayString:
		binary.Write(&buf, binary.BigEndian, uint32(len(v.astr)))
		for _, e := range v.astr {
			writeString(&buf, e)
		}
	case ShapeArrayRational:
		binary.Write(&buf, binary.BigEndian, uint32(len(v.arat)))
		for _, e := range v.arat {
			binary.Write(&buf, binary.BigEndian, e.Num)
			binary.Write(&buf, binary.BigEndian, e.Den)
		}
	default:
		return nil, NewError(KindInvalidArg, "Value.MarshalBinary", fmt.Errorf("unknown shape %d", v.shape))
	}
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := r.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// UnmarshalBinary decodes a byte slice produced by MarshalBinary. A shape
// mismatch or truncated payload is reported as KindInvalidArg.
func (v *Value) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	shapeByte, err := r.ReadByte()
	if err != nil {
		return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
	}
	shape := Shape(shapeByte)

	switch shape {
	case ShapeBool:
		bb, err := r.ReadByte()
		if err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, b: bb != 0}
	case ShapeU32:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, u64: uint64(n)}
	case ShapeI32:
		var n int32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, i64: int64(n)}
	case ShapeU64:
		var n uint64
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, u64: n}
	case ShapeI64:
		var n int64
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, i64: n}
	case ShapeF64:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, f64: math.Float64frombits(bits)}
	case ShapeString:
		s, err := readString(r)
		if err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, str: s}
	case ShapeRational:
		var rat Rational
		if err := binary.Read(r, binary.BigEndian, &rat.Num); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		if err := binary.Read(r, binary.BigEndian, &rat.Den); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, rat: rat}
	case ShapeTuple2F64:
		var loBits, hiBits uint64
		if err := binary.Read(r, binary.BigEndian, &loBits); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		if err := binary.Read(r, binary.BigEndian, &hiBits); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, t2f: Tuple2F64{Low: math.Float64frombits(loBits), High: math.Float64frombits(hiBits)}}
	case ShapeTuple2U64:
		var t Tuple2U64
		if err := binary.Read(r, binary.BigEndian, &t.Low); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		if err := binary.Read(r, binary.BigEndian, &t.High); err != nil {
			return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
		}
		*v = Value{shape: shape, t2u: t}
	case ShapeArrayU32:
		n, err := readArrayLen(r)
		if err != nil {
			return err
		}
		vs := make([]uint32, n)
		for i := range vs {
			if err := binary.Read(r, binary.BigEndian, &vs[i]); err != nil {
				return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
			}
		}
		*v = Value{shape: shape, au32: vs}
	case ShapeArrayU64:
		n, err := readArrayLen(r)
		if err != nil {
			return err
		}
		vs := make([]uint64, n)
		for i := range vs {
			if err := binary.Read(r, binary.BigEndian, &vs[i]); err != nil {
				return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
			}
		}
		*v = Value{shape: shape, au64: vs}
	case ShapeArrayI32:
		n, err := readArrayLen(r)
		if err != nil {
			return err
		}
		vs := make([]int32, n)
		for i := range vs {
			if err := binary.Read(r, binary.BigEndian, &vs[i]); err != nil {
				return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
			}
		}
		*v = Value{shape: shape, ai32: vs}
	case ShapeArrayString:
		n, err := readArrayLen(r)
		if err != nil {
			return err
		}
		vs := make([]string, n)
		for i := range vs {
			s, err := readString(r)
			if err != nil {
				return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
			}
			vs[i] = s
		}
		*v = Value{shape: shape, astr: vs}
	case ShapeArrayRational:
		n, err := readArrayLen(r)
		if err != nil {
			return err
		}
		vs := make([]Rational, n)
		for i := range vs {
			if err := binary.Read(r, binary.BigEndian, &vs[i].Num); err != nil {
				return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
			}
			if err := binary.Read(r, binary.BigEndian, &vs[i].Den); err != nil {
				return NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
			}
		}
		*v = Value{shape: shape, arat: vs}
	default:
		return NewError(KindInvalidArg, "Value.UnmarshalBinary", fmt.Errorf("unknown shape %d", shape))
	}
	return nil
}

func readArrayLen(r *bytes.Reader) (uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return 0, NewError(KindInvalidArg, "Value.UnmarshalBinary", err)
	}
	return n, nil
}

// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package eload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{Addr: 3, Cmd: cmdGetStatus}
	f.Data[0] = 0xAB

	wire, err := f.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, wire, frameSize)
	assert.Equal(t, byte(preamble), wire[0])

	var decoded Frame
	require.NoError(t, decoded.UnmarshalBinary(wire))
	assert.Equal(t, f.Addr, decoded.Addr)
	assert.Equal(t, f.Cmd, decoded.Cmd)
	assert.Equal(t, f.Data, decoded.Data)
}

func TestFrameChecksumRejection(t *testing.T) {
	// §8 scenario 4: valid preamble/address/command, checksum off by one.
	f := &Frame{Addr: 1, Cmd: cmdGetStatus}
	wire, err := f.MarshalBinary()
	require.NoError(t, err)
	wire[25]++ // corrupt the checksum

	var decoded Frame
	err = decoded.UnmarshalBinary(wire)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindChecksum))
}

func TestFrameRejectsBadPreamble(t *testing.T) {
	f := &Frame{Addr: 1, Cmd: cmdGetStatus}
	wire, err := f.MarshalBinary()
	require.NoError(t, err)
	wire[0] = 0x00

	var decoded Frame
	err = decoded.UnmarshalBinary(wire)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArg))
}

func TestFrameRejectsWrongLength(t *testing.T) {
	var decoded Frame
	err := decoded.UnmarshalBinary(make([]byte, 10))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArg))
}

func TestStatusErrorMapping(t *testing.T) {
	assert.NoError(t, statusError(statusOK))
	assert.True(t, models.IsKind(statusError(statusChecksumFail), models.KindIO))
	assert.True(t, models.IsKind(statusError(statusUnknownCommand), models.KindIO))
}

func TestParseStatusBits(t *testing.T) {
	// bit0 chan1 current-mode, bit6 output enabled, bit7 OVP active.
	b := parseStatusBits(0b11000001)
	assert.True(t, b.Chan1CurrentMode)
	assert.True(t, b.OutputEnabled)
	assert.True(t, b.OVPActive)
	assert.False(t, b.Chan2CurrentMode)
}

func TestChangedBits(t *testing.T) {
	got := changedBits(0b00000000, 0b01000001)
	assert.Equal(t, []int{0, 6}, got)
}

func TestParseMeasurementScaling(t *testing.T) {
	data := make([]byte, 12)
	// voltage = 12000 -> 12.000 V, current = 5000 -> 0.5 A, power = 6000 -> 6.000 W
	putLE32(data[0:4], 12000)
	putLE32(data[4:8], 5000)
	putLE32(data[8:12], 6000)

	m := parseMeasurement(data)
	assert.InDelta(t, 12.0, m.VoltageV, 1e-9)
	assert.InDelta(t, 0.5, m.CurrentA, 1e-9)
	assert.InDelta(t, 6.0, m.PowerW, 1e-9)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestParseModelInfoTrimsTrailingNulls(t *testing.T) {
	f := &Frame{}
	copy(f.Data[0:5], []byte("LOAD\x00"))
	copy(f.Data[6:16], []byte("SN12345\x00\x00\x00"))
	f.Data[16] = 2
	f.Data[17] = 1

	info := parseModelInfo(f)
	assert.Equal(t, "LOAD", info.Name)
	assert.Equal(t, "SN12345", info.Serial)
	assert.EqualValues(t, 2, info.FwMajor)
	assert.EqualValues(t, 1, info.FwMinor)
}

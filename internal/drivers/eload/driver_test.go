// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package eload

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/instrument-sdk-go/internal/common"
	"github.com/circutor/instrument-sdk-go/pkg/models"
)

// fakeLogger captures Warn calls so tests can assert on tagged log lines
// without standing up a real common.LoggingClient.
type fakeLogger struct {
	warnings []string
}

func (f *fakeLogger) Debug(string)                {}
func (f *fakeLogger) Info(string)                 {}
func (f *fakeLogger) Warn(msg string)              { f.warnings = append(f.warnings, msg) }
func (f *fakeLogger) Error(string)                 {}
func (f *fakeLogger) SetLogLevel(common.LogLevel)  {}

func TestSafeMaxSampleRate(t *testing.T) {
	assert.Equal(t, 15, safeMaxSampleRate(9600))
	assert.Equal(t, 60, safeMaxSampleRate(38400)) // capped at 60 Hz
	assert.Equal(t, 30, safeMaxSampleRate(19200))
	assert.Equal(t, 7, safeMaxSampleRate(4800))
}

func TestRegulationString(t *testing.T) {
	assert.Equal(t, "CC", regulationString(statusBits{Chan1CurrentMode: true}))
	assert.Equal(t, "CV", regulationString(statusBits{}))
}

func TestConfigListSampleRateFiltersToSafeMaximum(t *testing.T) {
	d := New(nil)
	require.NoError(t, d.Init())

	es := &eloadState{safeMax: 20}
	dev := &models.Device{Status: models.StatusActive, Context: es}

	val, err := d.ConfigList(models.KeySampleRate, dev, nil)
	require.NoError(t, err)
	rates, ok := val.ArrayU64()
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 2, 5, 10, 15, 20}, rates)
}

func TestConfigGetRejectsInactiveDeviceForDataKeys(t *testing.T) {
	d := New(nil)
	assert.NoError(t, d.Init())

	dev := &models.Device{Status: models.StatusInactive, Context: &eloadState{}}
	_, err := d.ConfigGet(models.KeyVoltageTarget, dev, nil)
	assert.True(t, models.IsKind(err, models.KindDeviceClosed))
}

// TestWrapChecksumErrConvertsToIOAndTagsLog covers §8 scenario 4: a
// frame-level checksum failure must be logged with a "checksum" tag and
// surfaced to exchange's caller as KindIO, not the raw KindChecksum.
func TestWrapChecksumErrConvertsToIOAndTagsLog(t *testing.T) {
	f := &Frame{Addr: 1, Cmd: cmdGetStatus}
	wire, err := f.MarshalBinary()
	require.NoError(t, err)
	wire[25]++ // corrupt the checksum

	var decoded Frame
	frameErr := decoded.UnmarshalBinary(wire)
	require.True(t, models.IsKind(frameErr, models.KindChecksum))

	lc := &fakeLogger{}
	wrapped := wrapChecksumErr(lc, frameErr)

	require.Error(t, wrapped)
	assert.True(t, models.IsKind(wrapped, models.KindIO))
	assert.False(t, models.IsKind(wrapped, models.KindChecksum))

	require.Len(t, lc.warnings, 1)
	assert.True(t, strings.HasPrefix(lc.warnings[0], "checksum:"))
}

// TestWrapChecksumErrPassesThroughOtherErrors checks that a non-checksum
// UnmarshalBinary failure (bad length, bad preamble) is left unconverted and
// does not emit a checksum-tagged log line.
func TestWrapChecksumErrPassesThroughOtherErrors(t *testing.T) {
	f := &Frame{Addr: 1, Cmd: cmdGetStatus}
	wire, err := f.MarshalBinary()
	require.NoError(t, err)
	wire[0] = 0x00 // corrupt the preamble

	var decoded Frame
	frameErr := decoded.UnmarshalBinary(wire)
	require.True(t, models.IsKind(frameErr, models.KindInvalidArg))

	lc := &fakeLogger{}
	wrapped := wrapChecksumErr(lc, frameErr)

	assert.Same(t, frameErr, wrapped)
	assert.Empty(t, lc.warnings)
}

func TestConfigGetConnKeyAllowedWhenInactive(t *testing.T) {
	d := New(nil)
	assert.NoError(t, d.Init())

	dev := &models.Device{Status: models.StatusInactive, Conn: "/dev/ttyUSB0/3", Context: &eloadState{}}
	val, err := d.ConfigGet(models.KeyConn, dev, nil)
	assert.NoError(t, err)
	s, ok := val.String()
	assert.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0/3", s)
}

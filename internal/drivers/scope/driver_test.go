// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

func TestBuildDeviceHMO1024Layout(t *testing.T) {
	// §8 scenario 1: HAMEG,HMO1024 -> four analog channels, one digital pod.
	m, ok := lookupModel("HMO1024")
	require.True(t, ok)

	dev := buildDevice("HAMEG", m, "0", "01.400", "/dev/ttyUSB0", "")
	assert.Equal(t, "HAMEG", dev.Vendor)
	assert.Equal(t, "HMO1024", dev.Model)

	ds := dev.Context.(*deviceState)
	assert.Len(t, ds.analogChans, 4)
	assert.Len(t, ds.podChans, 1)
	assert.Len(t, ds.lineChans, 8)

	_, ok = dev.GroupByName("CH1")
	assert.True(t, ok)
	_, ok = dev.GroupByName("POD1")
	assert.True(t, ok)
	_, ok = dev.GroupByName("D7")
	assert.True(t, ok)
}

func TestPodForDigitalChannel(t *testing.T) {
	pod, bit := podForDigitalChannel(0)
	assert.Equal(t, 0, pod)
	assert.Equal(t, 0, bit)

	pod, bit = podForDigitalChannel(8)
	assert.Equal(t, 1, pod)
	assert.Equal(t, 0, bit)

	pod, bit = podForDigitalChannel(15)
	assert.Equal(t, 1, pod)
	assert.Equal(t, 7, bit)
}

func TestValidateChannelConfigurationRejectsEmptySelection(t *testing.T) {
	m, _ := lookupModel("HMO1024")
	mr := newMirror(m)
	_, err := validateChannelConfiguration(mr)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArg))
}

func TestValidateChannelConfigurationRejectsPodAnalogConflict(t *testing.T) {
	// §8 scenario 6's underlying conflict rule: pod 1 (index 0) vs analog
	// channel 3 (index 2) on a 4-channel + 1-pod model.
	m, _ := lookupModel("HMO1024")
	mr := newMirror(m)
	mr.pods[0].enabled = true
	mr.analog[2].enabled = true

	_, err := validateChannelConfiguration(mr)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArg))
}

func TestValidateChannelConfigurationAcceptsNonConflictingSelection(t *testing.T) {
	m, _ := lookupModel("HMO1024")
	mr := newMirror(m)
	mr.analog[0].enabled = true
	mr.pods[0].enabled = true

	enabled, err := validateChannelConfiguration(mr)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)
}

func TestParseFloatCSV(t *testing.T) {
	got := parseFloatCSV("1.5, 2.25,3,invalid,")
	assert.Equal(t, []float64{1.5, 2.25, 3}, got)
}

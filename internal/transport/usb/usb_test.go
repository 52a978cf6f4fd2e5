// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package usb

import (
	"testing"

	daedusb "github.com/daedaluz/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortFilter(t *testing.T) {
	f, err := ParsePortFilter("3.17")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 3, f.Bus)
	assert.Equal(t, 17, f.Address)
}

func TestParsePortFilterEmpty(t *testing.T) {
	f, err := ParsePortFilter("")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestParsePortFilterBad(t *testing.T) {
	_, err := ParsePortFilter("not-a-port")
	assert.Error(t, err)
}

func TestEndpointPortPath(t *testing.T) {
	e := &Endpoint{dev: &daedusb.Device{BusNumber: 3, DeviceNumber: 17}}
	assert.Equal(t, "3.17", e.PortPath())
}

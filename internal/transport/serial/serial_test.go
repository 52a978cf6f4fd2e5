// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommStringFull(t *testing.T) {
	cfg, err := ParseCommString("115200/8n1/flow=1")
	require.NoError(t, err)
	assert.Equal(t, 115200, cfg.BitRate)
	assert.Equal(t, 8, cfg.DataBits)
	assert.Equal(t, "N", cfg.Parity)
	assert.Equal(t, 1, cfg.StopBits)
	assert.True(t, cfg.Flow)
}

func TestParseCommStringShort(t *testing.T) {
	cfg, err := ParseCommString("1200/7e1")
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.BitRate)
	assert.Equal(t, 7, cfg.DataBits)
	assert.Equal(t, "E", cfg.Parity)
	assert.Equal(t, 1, cfg.StopBits)
	assert.False(t, cfg.Flow)
}

func TestParseCommStringRTSDTR(t *testing.T) {
	cfg, err := ParseCommString("9600/8n1/rts=1/dtr=0")
	require.NoError(t, err)
	require.NotNil(t, cfg.RTS)
	require.NotNil(t, cfg.DTR)
	assert.True(t, *cfg.RTS)
	assert.False(t, *cfg.DTR)
}

func TestParseCommStringEmptyDefaults(t *testing.T) {
	cfg, err := ParseCommString("")
	require.NoError(t, err)
	assert.Equal(t, 115200, cfg.BitRate)
	assert.Equal(t, 8, cfg.DataBits)
}

func TestParseCommStringBadBitRate(t *testing.T) {
	_, err := ParseCommString("notanumber/8n1")
	assert.Error(t, err)
}

func TestDefaultTimeoutScalesWithCountAndBitrate(t *testing.T) {
	fast := defaultTimeout(1000, 115200)
	slow := defaultTimeout(1000, 1200)
	assert.Greater(t, slow, fast)
}

func TestDefaultTimeoutHasFloor(t *testing.T) {
	d := defaultTimeout(1, 115200)
	assert.GreaterOrEqual(t, d, 50*time.Millisecond)
}

func TestEndpointIdleThreshold(t *testing.T) {
	e := &Endpoint{cfg: Config{BitRate: 9600}}
	th := e.idleThreshold()
	assert.Greater(t, th, time.Duration(0))
	assert.Less(t, th, 100*time.Millisecond)
}

// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (C) 2018 IOTech Ltd
// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDriverConfigFromFile(t *testing.T) {
	config, err := loadConfigFromFile("", "./test")

	require.NoError(t, err)
	assert.Equal(t, "instrumentd-test", config.Service.Name)
	assert.Equal(t, "DEBUG", config.Logging.Level)
	assert.Equal(t, 500, config.Registry.ScanTimeoutMsec)
	assert.Equal(t, 2, config.Registry.SerialRetries)
	assert.Equal(t, "1.0", config.Registry.USBBusFilter)
}

func TestLoadConfigMissingFileReturnsError(t *testing.T) {
	_, err := loadConfigFromFile("", "./does-not-exist")
	require.Error(t, err)
}

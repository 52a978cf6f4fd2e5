// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

type stubDriver struct {
	name    string
	devices []*models.Device
}

func (s *stubDriver) Name() string     { return s.name }
func (s *stubDriver) LongName() string { return s.name }
func (s *stubDriver) Version() int     { return 1 }
func (s *stubDriver) Init() error      { return nil }
func (s *stubDriver) Cleanup() error   { return nil }
func (s *stubDriver) Scan(models.ScanOptions) ([]*models.Device, error) {
	return s.devices, nil
}
func (s *stubDriver) DevList() []*models.Device { return s.devices }
func (s *stubDriver) DevOpen(*models.Device) error  { return nil }
func (s *stubDriver) DevClose(*models.Device) error { return nil }
func (s *stubDriver) DevClear() error               { return nil }
func (s *stubDriver) ConfigGet(models.KeyID, *models.Device, *models.ChannelGroup) (*models.Value, error) {
	return nil, models.NewError(models.KindNotApplicable, "stubDriver.ConfigGet", nil)
}
func (s *stubDriver) ConfigSet(models.KeyID, *models.Value, *models.Device, *models.ChannelGroup) error {
	return models.NewError(models.KindNotApplicable, "stubDriver.ConfigSet", nil)
}
func (s *stubDriver) ConfigList(models.KeyID, *models.Device, *models.ChannelGroup) (*models.Value, error) {
	return nil, models.NewError(models.KindNotApplicable, "stubDriver.ConfigList", nil)
}
func (s *stubDriver) AcquisitionStart(*models.Device, models.FeedCallback, func(*models.Source)) error {
	return nil
}
func (s *stubDriver) AcquisitionStop(*models.Device) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	drv := &stubDriver{name: "scope-test"}
	require.NoError(t, r.Register(drv))

	got, ok := r.Driver("scope-test")
	require.True(t, ok)
	assert.Equal(t, drv, got)
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubDriver{name: "dup"}))
	err := r.Register(&stubDriver{name: "dup"})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArg))
}

func TestScanAllAggregates(t *testing.T) {
	r := New()
	dev1 := &models.Device{Model: "A"}
	dev2 := &models.Device{Model: "B"}
	require.NoError(t, r.Register(&stubDriver{name: "d1", devices: []*models.Device{dev1}}))
	require.NoError(t, r.Register(&stubDriver{name: "d2", devices: []*models.Device{dev2}}))

	devices, errs := r.ScanAll(models.ScanOptions{})
	assert.Empty(t, errs)
	assert.Len(t, devices, 2)
}

func TestUnregisterRemovesDriver(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubDriver{name: "gone"}))
	require.NoError(t, r.Unregister("gone"))
	_, ok := r.Driver("gone")
	assert.False(t, ok)
}

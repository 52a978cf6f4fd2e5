// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

type noopDriver struct {
	stopCalls int32
}

func (d *noopDriver) Name() string     { return "noop" }
func (d *noopDriver) LongName() string { return "noop" }
func (d *noopDriver) Version() int     { return 0 }
func (d *noopDriver) Init() error      { return nil }
func (d *noopDriver) Cleanup() error   { return nil }
func (d *noopDriver) Scan(models.ScanOptions) ([]*models.Device, error) { return nil, nil }
func (d *noopDriver) DevList() []*models.Device { return nil }
func (d *noopDriver) DevOpen(*models.Device) error  { return nil }
func (d *noopDriver) DevClose(*models.Device) error { return nil }
func (d *noopDriver) DevClear() error               { return nil }
func (d *noopDriver) ConfigGet(models.KeyID, *models.Device, *models.ChannelGroup) (*models.Value, error) {
	return nil, nil
}
func (d *noopDriver) ConfigSet(models.KeyID, *models.Value, *models.Device, *models.ChannelGroup) error {
	return nil
}
func (d *noopDriver) ConfigList(models.KeyID, *models.Device, *models.ChannelGroup) (*models.Value, error) {
	return nil, nil
}
func (d *noopDriver) AcquisitionStart(*models.Device, models.FeedCallback, func(*models.Source)) error {
	return nil
}
func (d *noopDriver) AcquisitionStop(*models.Device) error {
	atomic.AddInt32(&d.stopCalls, 1)
	return nil
}

func TestSessionBindDeviceRejectsDoubleBind(t *testing.T) {
	s1 := New(nil)
	s2 := New(nil)
	dev := &models.Device{Conn: "serial:/dev/ttyUSB0"}
	drv := &noopDriver{}

	require.NoError(t, s1.BindDevice(dev, drv))
	err := s2.BindDevice(dev, drv)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArg))

	s1.UnbindDevice(dev)
}

func TestSessionStopDeviceTearsDownImmediatelyOutsideCallback(t *testing.T) {
	s := New(nil)
	dev := &models.Device{Conn: "serial:/dev/ttyUSB1"}
	drv := &noopDriver{}
	require.NoError(t, s.BindDevice(dev, drv))
	defer s.UnbindDevice(dev)

	require.NoError(t, s.StopDevice(dev))
	assert.EqualValues(t, 1, atomic.LoadInt32(&drv.stopCalls))
}

func TestSessionStopDeviceDefersWhenReentrant(t *testing.T) {
	s := New(nil)
	dev := &models.Device{Conn: "serial:/dev/ttyUSB2"}
	drv := &noopDriver{}
	require.NoError(t, s.BindDevice(dev, drv))
	defer s.UnbindDevice(dev)

	fired := make(chan struct{})
	src := &Source{
		Kind:        SourceTimer,
		Descriptor:  dev.Conn,
		TimeoutMsec: 1,
		OnReady: func() error {
			err := s.StopDevice(dev)
			close(fired)
			return err
		},
	}
	s.AddSource(src)

	go func() {
		_ = s.Run()
	}()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer source never fired")
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&drv.stopCalls) == 1
	}, time.Second, time.Millisecond)

	s.RequestStop()
}

func TestSmallestTimeoutPicksMinimum(t *testing.T) {
	sources := []*Source{
		{TimeoutMsec: 50},
		{TimeoutMsec: 5},
		{TimeoutMsec: 200},
	}
	assert.Equal(t, 5*time.Millisecond, smallestTimeout(sources))
}

// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// This file defines the polymorphic driver contract used by the registry
// and session pipeline to interact with a specific class of instrument,
// generalizing the five-method ProtocolDriver interface this package
// started from into the ten contract operations spec.md §4.4 names.
package models

import "sync"

// ScanOptions carries the connection hint and serial parameter string a
// frontend can pass to narrow a scan (§4.4, §6).
type ScanOptions struct {
	// Conn is a connection hint: "VID.PID", "VID.PID/bus.addr" for USB, or
	// an OS device path for serial.
	Conn string
	// SerialComm is the serialcomm grammar string, e.g. "115200/8n1/flow=1".
	SerialComm string
}

// FeedCallback receives data-feed packets emitted by a driver during an
// acquisition, in driver-submission order.
type FeedCallback func(dev *Device, pkt Packet)

// DriverContext is the per-driver instance context slot: the allocated
// device list and anything else the driver's init call allocates. It is
// created once per process by Init and torn down by Cleanup.
type DriverContext struct {
	mu      sync.Mutex
	Devices []*Device
}

// AddDevice appends a device to this driver's device list.
func (c *DriverContext) AddDevice(d *Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Devices = append(c.Devices, d)
}

// RemoveDevice removes a device from this driver's device list.
func (c *DriverContext) RemoveDevice(d *Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, dev := range c.Devices {
		if dev == d {
			c.Devices = append(c.Devices[:i], c.Devices[i+1:]...)
			return
		}
	}
}

// List returns a snapshot of the driver's current device list.
func (c *DriverContext) List() []*Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Device, len(c.Devices))
	copy(out, c.Devices)
	return out
}

// Driver is the low-level, device-class-specific interface the registry and
// session pipeline use to interact with instruments. Every concrete driver
// (scope, eload, ...) implements this contract once; the framework never
// needs to know the device-specific parameter set.
type Driver interface {
	// Name is the driver's stable short name ("hameg-hmo", "generic-eload").
	Name() string
	// LongName is a human-readable description.
	LongName() string
	// Version is the protocol-version integer for this driver.
	Version() int

	// Init performs one-shot, per-process initialization: allocating the
	// driver-level context that holds the device list. Idempotent only if
	// called exactly once; a second call is a programming error.
	Init() error

	// Cleanup releases everything Init allocated; it also performs an
	// implicit DevClear.
	Cleanup() error

	// Scan inspects the bus(es) this driver serves and produces a list of
	// inactive device instances.
	Scan(opts ScanOptions) ([]*Device, error)

	// DevList returns the driver's current in-memory device list. Pure.
	DevList() []*Device

	// DevOpen transitions a device from inactive to active, acquiring its
	// transport handle. An already-active device returns KindInvalidArg.
	DevOpen(dev *Device) error

	// DevClose transitions a device from active to inactive, releasing its
	// transport handle. Idempotent: closing an already-inactive device
	// returns nil.
	DevClose(dev *Device) error

	// DevClear frees all device instances belonging to this driver, closing
	// any that are still active first.
	DevClear() error

	// ConfigGet returns the current value of key for dev (and group, for
	// per-group keys). Returns KindNotApplicable if key is unknown to this
	// driver, KindChannelGroup if group is wrong, KindDeviceClosed if dev
	// is not active.
	ConfigGet(key KeyID, dev *Device, group *ChannelGroup) (*Value, error)

	// ConfigSet sets key to val for dev (and group). On success the new
	// state is both sent to the device and mirrored locally. Same error
	// surface as ConfigGet.
	ConfigSet(key KeyID, val *Value, dev *Device, group *ChannelGroup) error

	// ConfigList enumerates the permissible values for key on dev (and
	// group). An empty array for a listable numeric key means "no
	// constraint."
	ConfigList(key KeyID, dev *Device, group *ChannelGroup) (*Value, error)

	// AcquisitionStart begins an acquisition on dev, emitting data-feed
	// packets to cb as they become available. Rather than running its own
	// goroutine, it registers whatever event sources it needs (a polled
	// serial fd, a sample-rate timer) through addSource, so the owning
	// session's single event loop drives every resulting callback (§4.6,
	// §5). Failures abort without emitting a df-header packet and without
	// registering any source.
	AcquisitionStart(dev *Device, cb FeedCallback, addSource func(*Source)) error

	// AcquisitionStop is synchronous from the caller's perspective: once it
	// returns, no further packets will be emitted for dev. It tolerates
	// reentrant calls from inside a feed callback.
	AcquisitionStop(dev *Device) error
}

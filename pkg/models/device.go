// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package models

import "sync"

// Status is a device instance's lifecycle state (§3).
type Status int

const (
	StatusInitializing Status = iota
	StatusInactive
	StatusActive
	StatusStopping
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ChannelType distinguishes the kind of data path a Channel carries.
type ChannelType int

const (
	ChannelLogic ChannelType = iota
	ChannelAnalog
	ChannelDigitalPod
)

// Channel is a single data path on a device. Channels are created during
// scan or dev_open and are never destroyed before the device itself.
type Channel struct {
	Index   int
	Type    ChannelType
	Name    string
	Enabled bool
}

// ChannelGroup is an ordered, non-empty set of channels sharing
// configuration. It is the addressing unit for config_get/set/list.
type ChannelGroup struct {
	Name     string
	Channels []*Channel
}

// Transport is the minimal contract a device's transport handle must
// satisfy; the concrete type is either *serial.Endpoint or *usb.Endpoint.
type Transport interface {
	Close() error
}

// Device is a single instrument instance, owned by exactly one driver for
// its lifetime. Its mutex must be held by the owning driver around every
// command/response exchange, since a concurrent frontend config call and an
// acquisition-loop poll could otherwise interleave a request and a response
// on the same link (§5).
type Device struct {
	mu sync.Mutex

	Vendor  string
	Model   string
	Version string
	Serial  string
	Conn    string

	Status    Status
	Transport Transport

	Channels []*Channel
	Groups   []*ChannelGroup

	// Context is the opaque per-driver private state blob (state mirrors,
	// dialect selection, command sequencing, ...). Owned exclusively by the
	// driver that created the device.
	Context interface{}
}

// Lock serializes one command/response exchange against concurrent
// frontend config calls and the acquisition-loop poll.
func (d *Device) Lock() { d.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (d *Device) Unlock() { d.mu.Unlock() }

// GroupByName returns the named channel group, if any.
func (d *Device) GroupByName(name string) (*ChannelGroup, bool) {
	for _, g := range d.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// EnabledChannels returns the channels with Enabled set, in the order they
// appear in Channels.
func (d *Device) EnabledChannels() []*Channel {
	out := make([]*Channel, 0, len(d.Channels))
	for _, c := range d.Channels {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

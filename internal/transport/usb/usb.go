// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package usb implements the USB endpoint half of the transport layer
// (spec.md §4.3): control and bulk transfers, and hotplug-stable port-path
// identification for scan/dev_open.
package usb

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	daedusb "github.com/daedaluz/gousb"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

// Endpoint is a claimed USB device handle.
type Endpoint struct {
	dev    *daedusb.Device
	vendor uint16
	prod   uint16
}

// PortFilter is the "bus.addr" form described in spec.md §4.3/§6, e.g. "3.17".
type PortFilter struct {
	Bus     int
	Address int
}

// ParsePortFilter parses "bus.addr"; an empty string means no filter.
func ParsePortFilter(s string) (*PortFilter, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return nil, models.NewError(models.KindInvalidArg, "usb.ParsePortFilter", fmt.Errorf("bad port filter %q", s))
	}
	bus, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, models.NewError(models.KindInvalidArg, "usb.ParsePortFilter", err)
	}
	addr, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, models.NewError(models.KindInvalidArg, "usb.ParsePortFilter", err)
	}
	return &PortFilter{Bus: bus, Address: addr}, nil
}

// Scan walks the process-global USB context for devices matching
// vendor/product, optionally narrowed by a "bus.addr" port filter.
// Scanning from multiple drivers serializes on the same underlying sysfs
// walk (spec.md §5 "shared resources").
func Scan(vendor, product uint16, portFilter string) ([]*Endpoint, error) {
	filter, err := ParsePortFilter(portFilter)
	if err != nil {
		return nil, err
	}

	devices, err := daedusb.EnumerateDevices()
	if err != nil {
		return nil, models.NewError(models.KindIO, "usb.Scan", err)
	}

	var out []*Endpoint
	for _, d := range devices {
		desc := d.GetDeviceDescriptor()
		if desc.IDVendor != vendor || desc.IDProduct != product {
			continue
		}
		if filter != nil && (d.BusNumber != filter.Bus || d.DeviceNumber != filter.Address) {
			continue
		}
		out = append(out, &Endpoint{dev: d, vendor: vendor, prod: product})
	}
	return out, nil
}

// Open sets the configuration and claims interface zero.
func (e *Endpoint) Open() error {
	if err := e.dev.Open(); err != nil {
		return models.NewError(models.KindIO, "usb.Endpoint.Open", err)
	}
	return nil
}

// Close releases the interface and closes the device handle.
func (e *Endpoint) Close() error {
	if err := e.dev.Close(); err != nil {
		return models.NewError(models.KindIO, "usb.Endpoint.Close", err)
	}
	return nil
}

// Control performs a control transfer: request-type, request, value, index,
// buffer, and an explicit timeout.
func (e *Endpoint) Control(reqType daedusb.RequestType, req uint8, value, index uint16, buf []byte, timeout time.Duration) (int, error) {
	n, err := e.dev.CtrlTimeout(reqType, req, value, index, buf, uint32(timeout/time.Millisecond))
	if err != nil {
		return n, models.NewError(models.KindIO, "usb.Endpoint.Control", err)
	}
	return n, nil
}

// Bulk performs a bulk transfer on endpoint ep.
func (e *Endpoint) Bulk(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	n, err := e.dev.BulkTimeout(ep, buf, uint32(timeout/time.Millisecond))
	if err != nil {
		return n, models.NewError(models.KindIO, "usb.Endpoint.Bulk", err)
	}
	return n, nil
}

// PortPath returns this endpoint's stable "bus.addr" identity string, the
// same grammar used by connection hints and scan port filters.
func (e *Endpoint) PortPath() string {
	return fmt.Sprintf("%d.%d", e.dev.BusNumber, e.dev.DeviceNumber)
}

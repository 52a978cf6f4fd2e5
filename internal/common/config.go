// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package common

// Config is the registry-wide configuration loaded from configuration.toml
// by internal/config.LoadConfig, adapted from the teacher's common.Config
// (internal/config/loader.go). The teacher's Clients/Service REST-dependency
// sections are replaced with the transport and session defaults this
// module's registry and drivers actually need.
type Config struct {
	Service  ServiceInfo
	Logging  LoggingInfo
	Registry RegistryInfo
}

// ServiceInfo names and versions this process for logging and correlation.
type ServiceInfo struct {
	Name    string
	Version string
}

// LoggingInfo controls where and how verbosely the LoggingClient writes.
type LoggingInfo struct {
	Level string // DEBUG, INFO, WARN, ERROR
	File  string // empty means stderr
}

// RegistryInfo carries registry-wide scan and connection settings loaded
// from the configuration file. No driver or transport package in this
// module reads these fields: Scan and Open take their timeouts, retry
// behaviour and bus filters from their own arguments and constants.
type RegistryInfo struct {
	// ScanTimeoutMsec is a per-candidate scan timeout, in milliseconds.
	ScanTimeoutMsec int
	// SerialRetries is a count of packet-validity handshake retries per
	// candidate serial path (§4.4 "dropping up to twice the packet size of
	// garbage ... is normal").
	SerialRetries int
	// USBBusFilter is a USB port filter in the "bus.addr" form described in
	// §4.3; empty means no filter.
	USBBusFilter string
}

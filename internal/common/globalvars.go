// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package common

// Package-global state, mirroring the teacher's
// internal/common/globalvars.go. Drivers, the scheduler and the session
// take their LoggingClient as a constructor argument and do not read these
// variables. The REST service
// clients (EventClient, AddressableClient, ...) that globalvars.go carried
// are dropped: this module has no remote transport or persistence layer
// (spec.md §1 Non-goals), so there is nothing for them to dial.
var (
	ServiceName    string
	ServiceVersion string
	CurrentConfig  *Config
	Logger         LoggingClient
)

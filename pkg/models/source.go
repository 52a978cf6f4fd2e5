// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package models

import "time"

// SourceKind distinguishes what a Source polls (spec.md §4.6).
type SourceKind int

const (
	SourceFD SourceKind = iota
	SourceUSB
	SourceTimer
)

// Source is one event source a driver registers with the owning session
// instead of running its own goroutine, so the session's single event loop
// ends up driving every acquisition callback (§4.6, §5 "the session's event
// loop owns all driver callbacks"). It lives in this package rather than
// internal/session so the Driver interface can reference it without a
// package import cycle.
type Source struct {
	Kind        SourceKind
	Descriptor  string
	TimeoutMsec int

	// Poll blocks for up to timeout waiting for readiness and reports
	// whether the source became ready. Required for SourceFD and SourceUSB;
	// ignored for SourceTimer, which fires whenever TimeoutMsec has elapsed
	// since its last firing.
	Poll func(timeout time.Duration) (bool, error)

	// OnReady is invoked synchronously by the event loop when Poll (or, for
	// timers, the interval) reports readiness.
	OnReady func() error
}

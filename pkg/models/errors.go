// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a DriverError the way spec.md §7 enumerates: a small,
// stable set of kinds the frontend and the session pipeline branch on,
// rather than a sprawling set of typed errors per driver.
type ErrorKind int

const (
	KindOK ErrorKind = iota
	KindGeneric
	KindInvalidArg
	KindMalloc
	KindIO
	KindNotApplicable
	KindDeviceClosed
	KindTimeout
	KindChecksum
	KindSamplerate
	KindChannelGroup
	KindUnsupportedDevice
)

func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindGeneric:
		return "generic"
	case KindInvalidArg:
		return "invalid-arg"
	case KindMalloc:
		return "malloc"
	case KindIO:
		return "io"
	case KindNotApplicable:
		return "not-applicable"
	case KindDeviceClosed:
		return "device-closed"
	case KindTimeout:
		return "timeout"
	case KindChecksum:
		return "checksum"
	case KindSamplerate:
		return "samplerate"
	case KindChannelGroup:
		return "channel-group"
	case KindUnsupportedDevice:
		return "unsupported-device"
	default:
		return "unknown"
	}
}

// DriverError is the error type every driver-contract operation returns.
// It carries the operation name for diagnostics and wraps the underlying
// cause (a transport error, a parse failure, ...) with a stack-aware chain
// via github.com/pkg/errors so a caller can still unwind to the transport
// failure that triggered it.
type DriverError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *DriverError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewError builds a DriverError, wrapping cause (if any) for stack context.
func NewError(kind ErrorKind, op string, cause error) *DriverError {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, op)
	}
	return &DriverError{Kind: kind, Op: op, Err: wrapped}
}

// IsKind reports whether the first *DriverError found in err's chain has the
// given kind. A DriverError of that kind nested under another DriverError
// does not match.
func IsKind(err error, kind ErrorKind) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package models

// KeyID is the stable integer identifier of a configuration key. These
// values are persistent across releases: a driver built against one
// version of this package must keep meaning the same thing for KeySampleRate
// as a driver built against a later one.
type KeyID int

const (
	KeySampleRate KeyID = iota
	KeyLimitSamples
	KeyLimitMsec
	KeyLimitFrames
	KeyCaptureRatio
	KeyTriggerSource
	KeyTriggerSlope
	KeyTriggerMatch
	KeyHorizTriggerPos
	KeyTimebase
	KeyVdiv
	KeyCoupling
	KeyVoltage
	KeyVoltageTarget
	KeyCurrent
	KeyCurrentLimit
	KeyEnabled
	KeyRegulation
	KeyOverVoltageProtectionEnabled
	KeyOverVoltageProtectionThreshold
	KeyOverCurrentProtectionEnabled
	KeyOverCurrentProtectionThreshold
	KeyVoltageThreshold
	KeyPatternMode
	KeyConn
	KeySerialComm
)

// KeyInfo records everything the framework knows about a configuration key
// without knowing which driver implements it: its human name, its fixed
// value shape, and whether it may be read, written, or enumerated.
type KeyInfo struct {
	ID        KeyID
	Name      string
	Shape     Shape
	Gettable  bool
	Settable  bool
	Listable  bool
}

var keyTable = []KeyInfo{
	{KeySampleRate, "samplerate", ShapeU64, true, true, true},
	{KeyLimitSamples, "limit_samples", ShapeU64, true, true, false},
	{KeyLimitMsec, "limit_msec", ShapeU64, true, true, false},
	{KeyLimitFrames, "limit_frames", ShapeU64, true, true, false},
	{KeyCaptureRatio, "capture_ratio", ShapeU64, true, true, false},
	{KeyTriggerSource, "trigger_source", ShapeString, true, true, true},
	{KeyTriggerSlope, "trigger_slope", ShapeU64, true, true, true},
	{KeyTriggerMatch, "trigger_match", ShapeI32, true, true, true},
	{KeyHorizTriggerPos, "horiz_trigger_pos", ShapeF64, true, true, false},
	{KeyTimebase, "timebase", ShapeRational, true, true, true},
	{KeyVdiv, "vdiv", ShapeRational, true, true, true},
	{KeyCoupling, "coupling", ShapeString, true, true, true},
	{KeyVoltage, "voltage", ShapeF64, true, false, false},
	{KeyVoltageTarget, "voltage_target", ShapeF64, true, true, false},
	{KeyCurrent, "current", ShapeF64, true, false, false},
	{KeyCurrentLimit, "current_limit", ShapeF64, true, true, false},
	{KeyEnabled, "enabled", ShapeBool, true, true, false},
	{KeyRegulation, "regulation", ShapeString, true, false, true},
	{KeyOverVoltageProtectionEnabled, "over_voltage_protection_enabled", ShapeBool, true, true, false},
	{KeyOverVoltageProtectionThreshold, "over_voltage_protection_threshold", ShapeF64, true, true, false},
	{KeyOverCurrentProtectionEnabled, "over_current_protection_enabled", ShapeBool, true, true, false},
	{KeyOverCurrentProtectionThreshold, "over_current_protection_threshold", ShapeF64, true, true, false},
	{KeyVoltageThreshold, "voltage_threshold", ShapeTuple2F64, true, true, false},
	{KeyPatternMode, "pattern_mode", ShapeString, true, true, true},
	{KeyConn, "conn", ShapeString, true, false, false},
	{KeySerialComm, "serialcomm", ShapeString, true, false, false},
}

var keyByName = func() map[string]KeyInfo {
	m := make(map[string]KeyInfo, len(keyTable))
	for _, k := range keyTable {
		m[k.Name] = k
	}
	return m
}()

var keyByID = func() map[KeyID]KeyInfo {
	m := make(map[KeyID]KeyInfo, len(keyTable))
	for _, k := range keyTable {
		m[k.ID] = k
	}
	return m
}()

// LookupKey returns the registry entry for a human key name.
func LookupKey(name string) (KeyInfo, bool) {
	k, ok := keyByName[name]
	return k, ok
}

// LookupKeyID returns the registry entry for a stable key ID.
func LookupKeyID(id KeyID) (KeyInfo, bool) {
	k, ok := keyByID[id]
	return k, ok
}

// AllKeys returns every registered key, in declaration order.
func AllKeys() []KeyInfo {
	out := make([]KeyInfo, len(keyTable))
	copy(out, keyTable)
	return out
}

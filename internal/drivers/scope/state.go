// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package scope

// analogChanState mirrors one analog channel's device-side settings
// (spec.md §4.5.1 "Scope state mirror").
type analogChanState struct {
	enabled        bool
	vdivIndex      int
	verticalOffset float64
	couplingIndex  int
}

// digitalPodState mirrors one digital pod's enabled flag and its member
// channels' individual enabled flags.
type digitalPodState struct {
	enabled      bool
	chanEnabled  [8]bool
}

// mirror is the in-memory shadow of device state: probing every setting
// for every config_get would be too slow, so config_set keeps this in sync
// with the device and config_get reads it directly.
type mirror struct {
	m model

	analog []analogChanState
	pods   []digitalPodState

	timebaseIndex     int
	horizTriggerPos   float64
	triggerSourceIdx  int
	triggerSlopeIdx   int
	sampleRate        uint64

	limitSamples uint64
	limitMsec    uint64
	limitFrames  uint64

	valid bool // false after a transport error until re-synced
}

func newMirror(m model) *mirror {
	return &mirror{
		m:      m,
		analog: make([]analogChanState, m.analogChannels),
		pods:   make([]digitalPodState, m.digitalPods),
	}
}

// podForDigitalChannel resolves which pod a digital channel index belongs
// to. The source material has a stray i<8?0:1 computation that doesn't
// match its own loop bounds; this implementation uses index/8, the
// resolution spec.md §9 directs ("assign channels to pods by index / 8").
func podForDigitalChannel(index int) (pod int, bit int) {
	return index / 8, index % 8
}

// invalidate marks the mirror stale; callers must re-run the full state-get
// sequence before trusting config_get again (§4.5.1, §7 "a conservative
// approach is to re-run the full scope_state_get sequence after any
// transport error").
func (mr *mirror) invalidate() { mr.valid = false }

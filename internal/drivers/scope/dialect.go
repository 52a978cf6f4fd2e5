// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package scope implements the SCPI-over-serial oscilloscope driver family
// (spec.md §4.5.1): per-model dialect tables of command format strings, an
// in-memory state mirror, and the acquisition loop that polls a serial
// source for channel data.
package scope

import "github.com/circutor/instrument-sdk-go/pkg/models"

// cmdBufSize is the driver's command buffer size; any formatted dialect
// string must stay strictly under it (§8 testable property 2).
const cmdBufSize = 31

// dialect is a per-model table of SCPI format-string templates. Dialects
// differ only in these strings; the driver issues commands by (kind, args)
// and never writes literals, so adding a model is a table entry (§9).
type dialect struct {
	getTimebase          string
	setTimebase          string
	getVdiv              string
	setVdiv              string
	getCoupling          string
	setCoupling          string
	getAnalogData        string
	getAnalogChanState   string
	setAnalogChanState   string
	getDigitalChanState  string
	setDigitalChanState  string
	getPodState          string
	setPodState          string
	getPodData           string
	getTriggerSource     string
	setTriggerSource     string
	getTriggerSlope      string
	setTriggerSlope      string
	getHorizTriggerPos   string
	setHorizTriggerPos   string
	getSamplePoints      string
	getSamplerate        string
	opc                  string
	idn                  string
}

var defaultDialect = dialect{
	getTimebase:         ":TIM:SCAL?",
	setTimebase:         ":TIM:SCAL %E",
	getVdiv:             ":CHAN%d:SCAL?",
	setVdiv:             ":CHAN%d:SCAL %E",
	getCoupling:         ":CHAN%d:COUP?",
	setCoupling:         ":CHAN%d:COUP %s",
	getAnalogData:       ":CHAN%d:DATA?",
	getAnalogChanState:  ":CHAN%d:STAT?",
	setAnalogChanState:  ":CHAN%d:STAT %d",
	getDigitalChanState: ":DIG%d:STAT?",
	setDigitalChanState: ":DIG%d:STAT %d",
	getPodState:         ":POD%d:STAT?",
	setPodState:         ":POD%d:STAT %d",
	getPodData:          ":POD%d:DATA?",
	getTriggerSource:    ":TRIG:A:SOUR?",
	setTriggerSource:    ":TRIG:A:SOUR %s",
	getTriggerSlope:     ":TRIG:A:EDGE:SLOP?",
	setTriggerSlope:     ":TRIG:A:EDGE:SLOP %s",
	getHorizTriggerPos:  ":TIM:POS?",
	setHorizTriggerPos:  ":TIM:POS %E",
	getSamplePoints:     ":CHAN%d:DATA:POINTS?",
	getSamplerate:       ":ACQ:SRAT?",
	opc:                 "*OPC?",
	idn:                 "*IDN?",
}

// couplingOptions lists the coupling tokens valid on every model (§4.5.1).
var couplingOptions = []string{"AC", "ACL", "DC", "DCL", "GND"}

// model describes one supported oscilloscope model: channel/pod counts,
// trigger sources, and the ordered rational tables for timebase and vdiv.
type model struct {
	vendor          string
	name            string
	analogChannels  int
	digitalPods     int
	triggerSources  []string
	timebaseTable   []models.Rational
	vdivTable       []models.Rational
	gridDivsH       int
	gridDivsV       int
	dialect         dialect
}

// hmoCompact4TriggerSources is the trigger-source list for 4-channel HMO
// Compact models (§8 scenario 1).
var hmoCompact4TriggerSources = []string{"CH1", "CH2", "CH3", "CH4", "LINE", "EXT"}

var hmoCompact2TriggerSources = []string{"CH1", "CH2", "LINE", "EXT"}

// timebaseTableCompact is the 32-entry ordered rational table, 2 ns to 50 s,
// following the decade-scaled 1-2-5 progression typical of this model
// family (2, 5, 10, 20, 50, 100, ... ns through s).
var timebaseTableCompact = buildDecadeTable(2, 1_000_000_000, 50, 1)

// vdivTableCompact is the 13-entry table, 1 mV to 10 V.
var vdivTableCompact = buildDecadeTable(1, 1000, 10, 1)

// buildDecadeTable generates an ordered 1-2-5 decade progression of
// rationals from loNum/loDen to hiNum/hiDen inclusive. The mantissa cycle
// always starts on a true power-of-ten decade boundary and not on loNum
// itself, so a lo value that isn't itself a "1" (e.g. 2 ns) still yields the
// standard 2-5-10 continuation instead of scaling lo directly by 1, 2, 5.
func buildDecadeTable(loNum, loDen, hiNum, hiDen uint64) []models.Rational {
	lo := float64(loNum) / float64(loDen)
	hi := float64(hiNum) / float64(hiDen)
	mantissas := []uint64{1, 2, 5}

	var out []models.Rational
	for p := -18; p <= 18; p++ {
		for _, m := range mantissas {
			num, den := decadeRational(m, p)
			v := float64(num) / float64(den)
			if v < lo*(1-1e-9) {
				continue
			}
			if v > hi*(1+1e-9) {
				return out
			}
			out = append(out, models.Rational{Num: num, Den: den})
		}
	}
	return out
}

// decadeRational returns m*10^p as an exact Num/Den pair.
func decadeRational(m uint64, p int) (num, den uint64) {
	if p >= 0 {
		return m * pow10(uint(p)), 1
	}
	return m, pow10(uint(-p))
}

func pow10(n uint) uint64 {
	v := uint64(1)
	for i := uint(0); i < n; i++ {
		v *= 10
	}
	return v
}

// modelTable is the per-model lookup populated from *IDN? responses.
var modelTable = map[string]model{
	"HMO1024": {
		vendor:         "HAMEG",
		name:           "HMO1024",
		analogChannels: 4,
		digitalPods:    1,
		triggerSources: hmoCompact4TriggerSources,
		timebaseTable:  timebaseTableCompact,
		vdivTable:      vdivTableCompact,
		gridDivsH:      12,
		gridDivsV:      8,
		dialect:        defaultDialect,
	},
	"HMO722": {
		vendor:         "HAMEG",
		name:           "HMO722",
		analogChannels: 2,
		digitalPods:    0,
		triggerSources: hmoCompact2TriggerSources,
		timebaseTable:  timebaseTableCompact,
		vdivTable:      vdivTableCompact,
		gridDivsH:      12,
		gridDivsV:      8,
		dialect:        defaultDialect,
	},
}

// lookupModel returns the model table entry for name, and whether one
// exists.
func lookupModel(name string) (model, bool) {
	m, ok := modelTable[name]
	return m, ok
}

// ulpTolerance reports whether a and b are equal within epsilonULPs (4)
// machine epsilons scaled to their magnitude, resolving the Open Question on exact-float timebase
// recovery (spec.md §9).
func ulpTolerance(a, b float64) bool {
	if a == b {
		return true
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	scale := a
	if scale < 0 {
		scale = -scale
	}
	if b > scale {
		scale = b
	}
	const epsilonULPs = 4
	return diff <= scale*epsilonULPs*2.220446049250313e-16
}

// lookupTimebase finds the table index whose rational value matches target
// within ulpTolerance, used to recover the timebase index after a
// transport error forces a re-read of the device's raw scale value.
func lookupTimebase(table []models.Rational, target float64) (int, bool) {
	for i, r := range table {
		if ulpTolerance(float64(r.Num)/float64(r.Den), target) {
			return i, true
		}
	}
	return -1, false
}

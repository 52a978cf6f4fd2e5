// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package eload implements the framed-binary electronic-load driver family
// (spec.md §4.5.2): a fixed 26-byte command/response frame, a bitrate-probe
// scan, a command state machine, and a sample-rate-calibrated acquisition
// loop.
package eload

import (
	"encoding/binary"
	"fmt"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

const (
	frameSize    = 26
	preamble     = 0xAA
	broadcastAddr = 0xFF
)

// Frame is the 26-byte fixed packet: preamble, address, command, 22 data
// bytes, checksum (§4.5.2, §6).
type Frame struct {
	Addr byte
	Cmd  byte
	Data [22]byte
}

// checksum is the byte-wise arithmetic sum of bytes 0..24 modulo 256
// (§8 testable property 3).
func (f *Frame) checksum() byte {
	var sum byte
	sum += preamble
	sum += f.Addr
	sum += f.Cmd
	for _, b := range f.Data {
		sum += b
	}
	return sum
}

// MarshalBinary encodes the frame to its 26-byte wire form.
func (f *Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, frameSize)
	buf[0] = preamble
	buf[1] = f.Addr
	buf[2] = f.Cmd
	copy(buf[3:25], f.Data[:])
	buf[25] = f.checksum()
	return buf, nil
}

// UnmarshalBinary decodes a 26-byte wire frame. A wrong length or bad
// preamble is rejected with models.KindInvalidArg, a checksum mismatch with
// models.KindChecksum (§8 scenario 4, §8 testable property 3).
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) != frameSize {
		return models.NewError(models.KindInvalidArg, "eload.Frame.UnmarshalBinary", fmt.Errorf("expected %d bytes, got %d", frameSize, len(data)))
	}
	if data[0] != preamble {
		return models.NewError(models.KindInvalidArg, "eload.Frame.UnmarshalBinary", fmt.Errorf("bad preamble 0x%02X", data[0]))
	}
	got := data[25]
	var sum byte
	for _, b := range data[:25] {
		sum += b
	}
	if got != sum {
		return models.NewError(models.KindChecksum, "eload.Frame.UnmarshalBinary", fmt.Errorf("checksum mismatch: frame says 0x%02X, computed 0x%02X", got, sum))
	}

	f.Addr = data[1]
	f.Cmd = data[2]
	copy(f.Data[:], data[3:25])
	return nil
}

// Command bytes (§4.5.2 "common bitrate configurations", "command state
// machine").
const (
	cmdGetModelInfo   = 0x01
	cmdGetLoadLimits  = 0x02
	cmdGetStatus      = 0x03
)

// Status reply bytes (§4.5.2 "command state machine").
const (
	statusOK              = 0x80
	statusChecksumFail    = 0x90
	statusInvalidParam    = 0xA0
	statusUnknownCommand  = 0xB0
	statusInvalidCommand  = 0xC0
)

// statusError maps a non-OK status byte to an io-kind error, or nil for
// statusOK.
func statusError(b byte) error {
	switch b {
	case statusOK:
		return nil
	case statusChecksumFail:
		return models.NewError(models.KindIO, "eload.statusError", fmt.Errorf("device reported checksum failure"))
	case statusInvalidParam:
		return models.NewError(models.KindIO, "eload.statusError", fmt.Errorf("device reported invalid parameter"))
	case statusUnknownCommand:
		return models.NewError(models.KindIO, "eload.statusError", fmt.Errorf("device reported unknown command"))
	case statusInvalidCommand:
		return models.NewError(models.KindIO, "eload.statusError", fmt.Errorf("device reported invalid command"))
	default:
		return models.NewError(models.KindIO, "eload.statusError", fmt.Errorf("unrecognized status byte 0x%02X", b))
	}
}

// modelInfo is the parsed reply to get-model-info: a 5-byte model name, a
// 10-byte barcode serial (bytes 7..16 of the data field), and two firmware
// bytes.
type modelInfo struct {
	Name     string
	Serial   string
	FwMajor  byte
	FwMinor  byte
}

func parseModelInfo(f *Frame) modelInfo {
	return modelInfo{
		Name:    trimNulls(f.Data[0:5]),
		Serial:  trimNulls(f.Data[6:16]),
		FwMajor: f.Data[16],
		FwMinor: f.Data[17],
	}
}

func trimNulls(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == 0 || b[end-1] == ' ') {
		end--
	}
	return string(b[:end])
}

// loadLimits is the parsed reply to get-load-limits: max current, max/min
// voltage, max power, max/min resistance, all little-endian scaled
// integers (§4.5.2). The 22-byte data field leaves two bytes for min
// resistance, which is read as a 16-bit value.
type loadLimits struct {
	MaxCurrent   uint32
	MaxVoltage   uint32
	MinVoltage   uint32
	MaxPower     uint32
	MaxResistance uint32
	MinResistance uint32
}

func parseLoadLimits(f *Frame) loadLimits {
	return loadLimits{
		MaxCurrent:    binary.LittleEndian.Uint32(f.Data[0:4]),
		MaxVoltage:    binary.LittleEndian.Uint32(f.Data[4:8]),
		MinVoltage:    binary.LittleEndian.Uint32(f.Data[8:12]),
		MaxPower:      binary.LittleEndian.Uint32(f.Data[12:16]),
		MaxResistance: binary.LittleEndian.Uint32(f.Data[16:20]),
		MinResistance: uint32(binary.LittleEndian.Uint16(f.Data[20:22])),
	}
}

// statusBits decodes the one-byte get-status reply (§4.5.2 "Status packet
// semantics").
type statusBits struct {
	Chan1CurrentMode bool
	Chan2CurrentMode bool
	TrackingMode     int // 0 independent, 1 series, 3 parallel
	Beep             bool
	OCPEnabled       bool
	OutputEnabled    bool
	OVPActive        bool
}

func parseStatusBits(b byte) statusBits {
	return statusBits{
		Chan1CurrentMode: b&0x01 != 0,
		Chan2CurrentMode: b&0x02 != 0,
		TrackingMode:     int((b >> 2) & 0x03),
		Beep:             b&0x10 != 0,
		OCPEnabled:       b&0x20 != 0,
		OutputEnabled:    b&0x40 != 0,
		OVPActive:        b&0x80 != 0,
	}
}

// changedBits returns the bit positions (0..7) that differ between prev and
// cur, used by the acquisition loop to emit meta-updates only when
// regulation mode or enabled flags actually change (§4.5.2).
func changedBits(prev, cur byte) []int {
	diff := prev ^ cur
	var out []int
	for i := 0; i < 8; i++ {
		if diff&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// measurement is one get-status-derived V/I/P reading scaled per the
// model's fixed divisors (voltage / 1000, current / 10000, power / 1000).
type measurement struct {
	VoltageV float64
	CurrentA float64
	PowerW   float64
}

func parseMeasurement(data []byte) measurement {
	v := binary.LittleEndian.Uint32(data[0:4])
	i := binary.LittleEndian.Uint32(data[4:8])
	p := binary.LittleEndian.Uint32(data[8:12])
	return measurement{
		VoltageV: float64(v) / 1000,
		CurrentA: float64(i) / 10000,
		PowerW:   float64(p) / 1000,
	}
}

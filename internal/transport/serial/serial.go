// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package serial implements the serial endpoint half of the transport
// layer (spec.md §4.3): opening a device path with a bitrate/data-bits/
// parity/stop-bits/flow-control specification parsed from a single
// "serialcomm" string, blocking reads with a per-byte timeout derived from
// the link bitrate, blocking writes, and flush.
package serial

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	goserial "github.com/goburrow/serial"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

// Config is the parsed form of a serialcomm string, e.g. "115200/8n1/flow=1".
type Config struct {
	Path     string
	BitRate  int
	DataBits int
	Parity   string // "N", "E", "O"
	StopBits int
	Flow     bool
	RTS      *bool
	DTR      *bool
}

// ParseCommString parses the grammar documented in spec.md §6:
// <bitrate>/<bits><parity><stop>[/flow=<0|1>][/rts=<0|1>][/dtr=<0|1>].
func ParseCommString(s string) (Config, error) {
	cfg := Config{BitRate: 115200, DataBits: 8, Parity: "N", StopBits: 1}
	if s == "" {
		return cfg, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) == 0 {
		return cfg, models.NewError(models.KindInvalidArg, "ParseCommString", fmt.Errorf("empty serialcomm"))
	}

	rate, err := strconv.Atoi(parts[0])
	if err != nil {
		return cfg, models.NewError(models.KindInvalidArg, "ParseCommString", fmt.Errorf("bad bitrate %q", parts[0]))
	}
	cfg.BitRate = rate

	if len(parts) > 1 && len(parts[1]) >= 3 {
		spec := parts[1]
		bits, err := strconv.Atoi(spec[:1])
		if err != nil {
			return cfg, models.NewError(models.KindInvalidArg, "ParseCommString", fmt.Errorf("bad data bits in %q", spec))
		}
		cfg.DataBits = bits
		cfg.Parity = strings.ToUpper(spec[1:2])
		stop, err := strconv.Atoi(spec[2:3])
		if err != nil {
			return cfg, models.NewError(models.KindInvalidArg, "ParseCommString", fmt.Errorf("bad stop bits in %q", spec))
		}
		cfg.StopBits = stop
	}

	for _, extra := range parts[2:] {
		kv := strings.SplitN(extra, "=", 2)
		if len(kv) != 2 {
			continue
		}
		val := kv[1] == "1"
		switch kv[0] {
		case "flow":
			cfg.Flow = val
		case "rts":
			cfg.RTS = &val
		case "dtr":
			cfg.DTR = &val
		}
	}
	return cfg, nil
}

func parityByte(p string) string {
	switch strings.ToUpper(p) {
	case "E":
		return "E"
	case "O":
		return "O"
	default:
		return "N"
	}
}

// Endpoint is an open serial port, wrapping github.com/goburrow/serial's
// Port with the idle-timeout read-chars behavior spec.md §4.3 describes.
type Endpoint struct {
	cfg  Config
	port goserial.Port
}

// Open opens path with the serialcomm string commString (see
// ParseCommString).
func Open(path string, commString string) (*Endpoint, error) {
	cfg, err := ParseCommString(commString)
	if err != nil {
		return nil, err
	}
	cfg.Path = path

	port, err := goserial.Open(&goserial.Config{
		Address:  path,
		BaudRate: cfg.BitRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   parityByte(cfg.Parity),
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, models.NewError(models.KindIO, "serial.Open", err)
	}
	return &Endpoint{cfg: cfg, port: port}, nil
}

// Config returns the endpoint's parsed configuration.
func (e *Endpoint) Config() Config { return e.cfg }

// Close closes the underlying port.
func (e *Endpoint) Close() error {
	if err := e.port.Close(); err != nil {
		return models.NewError(models.KindIO, "serial.Endpoint.Close", err)
	}
	return nil
}

// Write performs a blocking write of p.
func (e *Endpoint) Write(p []byte) (int, error) {
	n, err := e.port.Write(p)
	if err != nil {
		return n, models.NewError(models.KindIO, "serial.Endpoint.Write", err)
	}
	return n, nil
}

// Flush discards any buffered input. goburrow/serial has no explicit flush
// primitive exposed through the Port interface; draining pending bytes with
// a short, best-effort read achieves the same effect for the probing use
// case spec.md §4.4 describes ("scan ... passively observe a packet").
func (e *Endpoint) Flush() error {
	buf := make([]byte, 256)
	for {
		n, err := e.port.Read(buf)
		if n == 0 || err != nil {
			return nil
		}
	}
}

// defaultTimeout computes a timeout based on expected byte count and
// bitrate, used when the caller passes a zero timeout to ReadChars.
func defaultTimeout(count int, bitRate int) time.Duration {
	if bitRate <= 0 {
		bitRate = 115200
	}
	byteTime := time.Second * 10 / time.Duration(bitRate) // 10 bits/byte incl. start/stop
	d := byteTime * time.Duration(count)
	min := 50 * time.Millisecond
	if d < min {
		return min
	}
	return d
}

// idleThreshold is the inter-byte idle period that ends a ReadChars early
// once at least one byte has arrived: approximately three byte-times at
// the endpoint's configured bitrate.
func (e *Endpoint) idleThreshold() time.Duration {
	byteTime := time.Second * 10 / time.Duration(e.cfg.BitRate)
	const minIdle = 5 * time.Millisecond
	idle := byteTime * 3
	if idle < minIdle {
		return minIdle
	}
	return idle
}

// ReadChars reads up to count bytes from the port. If timeout is zero, a
// default is computed from count and the endpoint's configured bitrate. The
// read returns early once at least one byte has arrived and the inter-byte
// idle period exceeds idleThreshold(), to tolerate variable-length
// responses during device probing (spec.md §4.3). If no bytes arrive
// within the initial timeout, it returns a zero-length slice and no error.
func (e *Endpoint) ReadChars(count int, timeout time.Duration) ([]byte, error) {
	if timeout == 0 {
		timeout = defaultTimeout(count, e.cfg.BitRate)
	}
	deadline := time.Now().Add(timeout)
	idle := e.idleThreshold()

	out := make([]byte, 0, count)
	buf := make([]byte, count)
	lastByteAt := time.Time{}

	for len(out) < count {
		now := time.Now()
		if now.After(deadline) {
			break
		}
		if !lastByteAt.IsZero() && now.Sub(lastByteAt) > idle {
			break
		}

		n, err := e.port.Read(buf[:count-len(out)])
		if n > 0 {
			out = append(out, buf[:n]...)
			lastByteAt = time.Now()
			continue
		}
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return out, models.NewError(models.KindIO, "serial.Endpoint.ReadChars", err)
		}
		if lastByteAt.IsZero() {
			// no data yet; keep waiting for the initial timeout.
			time.Sleep(time.Millisecond)
		}
	}
	return out, nil
}

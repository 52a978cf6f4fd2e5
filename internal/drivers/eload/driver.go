// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package eload

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/circutor/instrument-sdk-go/internal/common"
	"github.com/circutor/instrument-sdk-go/internal/session"
	"github.com/circutor/instrument-sdk-go/internal/transport/serial"
	"github.com/circutor/instrument-sdk-go/pkg/models"
)

// probeBitrates is the ordered list of bitrate configurations the scan
// tries, default first (§4.5.2 "Scan and identification").
var probeBitrates = []int{9600, 38400, 19200, 4800}

// sampleRateTable is the fixed rate table config_list(samplerate)
// enumerates the ≤-safe-maximum subset of (§4.5.2).
var sampleRateTable = []uint64{1, 2, 5, 10, 15, 20, 30, 40, 50, 60}

const frameReadTimeout = 200 * time.Millisecond

// eloadState is the driver-private per-instance context.
type eloadState struct {
	ep      *serial.Endpoint
	addr    byte
	bitRate int
	safeMax int

	info   modelInfo
	limits loadLimits

	mu            sync.Mutex // serializes command/response exchanges (§5)
	lastStatus    byte
	voltageTarget float64
	currentLimit  float64
	ovpEnabled    bool
	ovpThreshold  float64
	ocpEnabled    bool
	ocpThreshold  float64

	acqMu     sync.Mutex
	acquiring bool

	lastVoltage float64
	lastCurrent float64
}

// Driver implements models.Driver for the framed-binary electronic-load
// family described in spec.md §4.5.2.
type Driver struct {
	ctx *models.DriverContext
	lc  common.LoggingClient
}

func New(lc common.LoggingClient) *Driver {
	if lc == nil {
		lc = common.NewDefaultClient("eload")
	}
	return &Driver{lc: lc}
}

func (d *Driver) Name() string     { return "generic-eload" }
func (d *Driver) LongName() string { return "framed-binary electronic load" }
func (d *Driver) Version() int     { return 1 }

func (d *Driver) Init() error {
	d.ctx = &models.DriverContext{}
	return nil
}

func (d *Driver) Cleanup() error {
	return d.DevClear()
}

// safeMaxSampleRate derives the safe maximum sample rate from the link
// bitrate (§4.5.2 "Per-acquisition sample-rate calibration").
func safeMaxSampleRate(bitRate int) int {
	r := bitRate * 15 / 9600
	if r > 60 {
		r = 60
	}
	return r
}

// Scan tries each bitrate in probeBitrates in order, sending a broadcast
// get-model-info frame and waiting for a reply (§4.5.2).
func (d *Driver) Scan(opts models.ScanOptions) ([]*models.Device, error) {
	if opts.Conn == "" {
		return nil, models.NewError(models.KindInvalidArg, "eload.Scan", fmt.Errorf("serial scan requires a device path in Conn"))
	}

	var lastErr error
	for _, rate := range probeBitrates {
		dev, err := d.probeAt(opts.Conn, rate)
		if err == nil {
			d.ctx.AddDevice(dev)
			d.lc.Info(fmt.Sprintf("eload: identified unit addr %d at %d bps on %s", dev.Context.(*eloadState).addr, rate, opts.Conn))
			return []*models.Device{dev}, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no reply at any probed bitrate")
	}
	return nil, models.NewError(models.KindUnsupportedDevice, "eload.Scan", lastErr)
}

func (d *Driver) probeAt(path string, rate int) (*models.Device, error) {
	ep, err := serial.Open(path, fmt.Sprintf("%d/8n1", rate))
	if err != nil {
		return nil, err
	}
	defer ep.Close()

	req := &Frame{Addr: broadcastAddr, Cmd: cmdGetModelInfo}
	reply, err := exchange(d.lc, ep, req)
	if err != nil {
		return nil, err
	}
	info := parseModelInfo(reply)
	unitAddr := reply.Addr

	es := &eloadState{addr: unitAddr, bitRate: rate, safeMax: safeMaxSampleRate(rate), info: info}

	limitsReply, err := exchange(d.lc, ep, &Frame{Addr: unitAddr, Cmd: cmdGetLoadLimits})
	if err != nil {
		return nil, err
	}
	es.limits = parseLoadLimits(limitsReply)

	statusReply, err := exchange(d.lc, ep, &Frame{Addr: unitAddr, Cmd: cmdGetStatus})
	if err != nil {
		return nil, err
	}
	es.lastStatus = statusReply.Data[0]

	dev := &models.Device{
		Vendor:  "generic",
		Model:   info.Name,
		Serial:  info.Serial,
		Version: fmt.Sprintf("%d.%d", info.FwMajor, info.FwMinor),
		Conn:    fmt.Sprintf("%s/%d", path, unitAddr),
		Status:  models.StatusInactive,
		Context: es,
	}
	return dev, nil
}

// wrapChecksumErr converts a frame-level models.KindChecksum error into an
// io-kind error for the caller, after logging a "checksum"-tagged warning:
// the outer config_set/acquisition-loop caller only needs to know the
// exchange failed, while the checksum tag is what a log consumer filters on
// (§8 scenario 4 "the driver drops the frame and emits a log event tagged
// checksum; the outer config_get reports io"). Any other UnmarshalBinary
// error (bad length, bad preamble) passes through unchanged.
func wrapChecksumErr(lc common.LoggingClient, err error) error {
	if !models.IsKind(err, models.KindChecksum) {
		return err
	}
	if lc != nil {
		lc.Warn(fmt.Sprintf("checksum: eload.exchange: dropping frame: %v", err))
	}
	return models.NewError(models.KindIO, "eload.exchange", err)
}

// exchange writes req and reads back one 26-byte frame reply, converting a
// frame-level checksum failure to an io error via wrapChecksumErr.
func exchange(lc common.LoggingClient, ep *serial.Endpoint, req *Frame) (*Frame, error) {
	wire, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := ep.Write(wire); err != nil {
		return nil, err
	}
	// Even a broadcast get-model-info expects a reply, carrying the
	// answering unit's own address (§6).
	resp, err := ep.ReadChars(frameSize, frameReadTimeout)
	if err != nil {
		return nil, err
	}
	if len(resp) != frameSize {
		return nil, models.NewError(models.KindTimeout, "eload.exchange", fmt.Errorf("expected %d-byte reply, got %d bytes", frameSize, len(resp)))
	}
	var reply Frame
	if err := reply.UnmarshalBinary(resp); err != nil {
		return nil, wrapChecksumErr(lc, err)
	}
	// Data[0] only carries a command-result status byte for parameter-set
	// commands; for the three read commands it carries the reply payload
	// itself (model-info's name byte, a limits field, the status-bits byte),
	// which must not be run through statusError.
	if status := reply.Data[0]; status != statusOK && reply.Cmd != cmdGetModelInfo && reply.Cmd != cmdGetLoadLimits && reply.Cmd != cmdGetStatus {
		if serr := statusError(status); serr != nil {
			return nil, serr
		}
	}
	return &reply, nil
}

func (d *Driver) DevList() []*models.Device { return d.ctx.List() }

// DevOpen reopens the serial port at the bitrate discovered during Scan.
func (d *Driver) DevOpen(dev *models.Device) error {
	dev.Lock()
	defer dev.Unlock()

	if dev.Status == models.StatusActive {
		return models.NewError(models.KindInvalidArg, "eload.DevOpen", fmt.Errorf("device already active"))
	}
	es := dev.Context.(*eloadState)

	path := dev.Conn
	if idx := lastSlash(path); idx >= 0 {
		path = path[:idx]
	}
	ep, err := serial.Open(path, fmt.Sprintf("%d/8n1", es.bitRate))
	if err != nil {
		return err
	}
	es.ep = ep
	dev.Transport = ep
	dev.Status = models.StatusActive
	return nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func (d *Driver) DevClose(dev *models.Device) error {
	dev.Lock()
	defer dev.Unlock()

	if dev.Status != models.StatusActive {
		return nil
	}
	es := dev.Context.(*eloadState)
	if es.ep != nil {
		if err := es.ep.Close(); err != nil {
			return err
		}
		es.ep = nil
	}
	dev.Transport = nil
	dev.Status = models.StatusInactive
	return nil
}

func (d *Driver) DevClear() error {
	for _, dev := range d.ctx.List() {
		if err := d.DevClose(dev); err != nil {
			return err
		}
		d.ctx.RemoveDevice(dev)
	}
	return nil
}

// ConfigGet returns the mirrored value of key.
func (d *Driver) ConfigGet(key models.KeyID, dev *models.Device, group *models.ChannelGroup) (*models.Value, error) {
	dev.Lock()
	defer dev.Unlock()

	if key != models.KeyConn && key != models.KeySerialComm && dev.Status != models.StatusActive {
		return nil, models.NewError(models.KindDeviceClosed, "eload.ConfigGet", nil)
	}
	es := dev.Context.(*eloadState)

	switch key {
	case models.KeyConn:
		return models.NewString(dev.Conn), nil
	case models.KeyVoltage:
		es.mu.Lock()
		v := es.lastVoltage
		es.mu.Unlock()
		return models.NewF64(v), nil
	case models.KeyCurrent:
		es.mu.Lock()
		i := es.lastCurrent
		es.mu.Unlock()
		return models.NewF64(i), nil
	case models.KeyVoltageTarget:
		return models.NewF64(es.voltageTarget), nil
	case models.KeyCurrentLimit:
		return models.NewF64(es.currentLimit), nil
	case models.KeyRegulation:
		return models.NewString(regulationString(parseStatusBits(es.lastStatus))), nil
	case models.KeyEnabled:
		return models.NewBool(parseStatusBits(es.lastStatus).OutputEnabled), nil
	case models.KeyOverVoltageProtectionEnabled:
		return models.NewBool(es.ovpEnabled), nil
	case models.KeyOverVoltageProtectionThreshold:
		return models.NewF64(es.ovpThreshold), nil
	case models.KeyOverCurrentProtectionEnabled:
		return models.NewBool(es.ocpEnabled), nil
	case models.KeyOverCurrentProtectionThreshold:
		return models.NewF64(es.ocpThreshold), nil
	case models.KeySampleRate:
		return models.NewU64(uint64(es.safeMax)), nil
	case models.KeyLimitSamples, models.KeyLimitMsec:
		return models.NewU64(0), nil
	default:
		return nil, models.NewError(models.KindNotApplicable, "eload.ConfigGet", nil)
	}
}

func regulationString(b statusBits) string {
	if b.Chan1CurrentMode {
		return "CC"
	}
	return "CV"
}

// ConfigSet encodes a parameter frame, sends it to the unit's address, and
// mirrors the value locally on success.
func (d *Driver) ConfigSet(key models.KeyID, val *models.Value, dev *models.Device, group *models.ChannelGroup) error {
	dev.Lock()
	defer dev.Unlock()

	if dev.Status != models.StatusActive {
		return models.NewError(models.KindDeviceClosed, "eload.ConfigSet", nil)
	}
	es := dev.Context.(*eloadState)

	switch key {
	case models.KeyVoltageTarget:
		f, ok := val.F64()
		if !ok {
			return models.NewError(models.KindInvalidArg, "eload.ConfigSet", fmt.Errorf("voltage_target requires f64"))
		}
		if err := sendScaledParam(es, d.lc, cmdSetVoltageTarget, f, 1000); err != nil {
			return err
		}
		es.voltageTarget = f
		return nil

	case models.KeyCurrentLimit:
		f, ok := val.F64()
		if !ok {
			return models.NewError(models.KindInvalidArg, "eload.ConfigSet", fmt.Errorf("current_limit requires f64"))
		}
		if err := sendScaledParam(es, d.lc, cmdSetCurrentLimit, f, 10000); err != nil {
			return err
		}
		es.currentLimit = f
		return nil

	case models.KeyEnabled:
		b, ok := val.Bool()
		if !ok {
			return models.NewError(models.KindInvalidArg, "eload.ConfigSet", fmt.Errorf("enabled requires bool"))
		}
		if err := sendBoolParam(es, d.lc, cmdSetEnabled, b); err != nil {
			return err
		}
		if b {
			es.lastStatus |= 0x40
		} else {
			es.lastStatus &^= 0x40
		}
		return nil

	case models.KeyOverVoltageProtectionEnabled:
		b, ok := val.Bool()
		if !ok {
			return models.NewError(models.KindInvalidArg, "eload.ConfigSet", fmt.Errorf("over_voltage_protection_enabled requires bool"))
		}
		if err := sendBoolParam(es, d.lc, cmdSetOVPEnabled, b); err != nil {
			return err
		}
		es.ovpEnabled = b
		return nil

	case models.KeyOverVoltageProtectionThreshold:
		f, ok := val.F64()
		if !ok {
			return models.NewError(models.KindInvalidArg, "eload.ConfigSet", fmt.Errorf("over_voltage_protection_threshold requires f64"))
		}
		if err := sendScaledParam(es, d.lc, cmdSetOVPThreshold, f, 1000); err != nil {
			return err
		}
		es.ovpThreshold = f
		return nil

	case models.KeyOverCurrentProtectionEnabled:
		b, ok := val.Bool()
		if !ok {
			return models.NewError(models.KindInvalidArg, "eload.ConfigSet", fmt.Errorf("over_current_protection_enabled requires bool"))
		}
		if err := sendBoolParam(es, d.lc, cmdSetOCPEnabled, b); err != nil {
			return err
		}
		es.ocpEnabled = b
		return nil

	case models.KeyOverCurrentProtectionThreshold:
		f, ok := val.F64()
		if !ok {
			return models.NewError(models.KindInvalidArg, "eload.ConfigSet", fmt.Errorf("over_current_protection_threshold requires f64"))
		}
		if err := sendScaledParam(es, d.lc, cmdSetOCPThreshold, f, 10000); err != nil {
			return err
		}
		es.ocpThreshold = f
		return nil

	default:
		return models.NewError(models.KindNotApplicable, "eload.ConfigSet", nil)
	}
}

const (
	cmdSetVoltageTarget = 0x10
	cmdSetCurrentLimit  = 0x11
	cmdSetEnabled       = 0x12
	cmdSetOVPEnabled    = 0x13
	cmdSetOVPThreshold  = 0x14
	cmdSetOCPEnabled    = 0x15
	cmdSetOCPThreshold  = 0x16
)

func sendScaledParam(es *eloadState, lc common.LoggingClient, cmd byte, value float64, divisor float64) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	f := &Frame{Addr: es.addr, Cmd: cmd}
	binary.LittleEndian.PutUint32(f.Data[0:4], uint32(value*divisor))
	reply, err := exchange(lc, es.ep, f)
	if err != nil {
		return err
	}
	return statusError(reply.Data[0])
}

func sendBoolParam(es *eloadState, lc common.LoggingClient, cmd byte, on bool) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	f := &Frame{Addr: es.addr, Cmd: cmd}
	if on {
		f.Data[0] = 1
	}
	reply, err := exchange(lc, es.ep, f)
	if err != nil {
		return err
	}
	return statusError(reply.Data[0])
}

// ConfigList enumerates the fixed rate table ≤ safeMax for samplerate
// (§4.5.2).
func (d *Driver) ConfigList(key models.KeyID, dev *models.Device, group *models.ChannelGroup) (*models.Value, error) {
	dev.Lock()
	defer dev.Unlock()
	es := dev.Context.(*eloadState)

	switch key {
	case models.KeySampleRate:
		var allowed []uint64
		for _, r := range sampleRateTable {
			if r <= uint64(es.safeMax) {
				allowed = append(allowed, r)
			}
		}
		return models.NewArrayU64(allowed), nil
	case models.KeyRegulation:
		return models.NewArrayString([]string{"CC", "CV", "CW", "CR"}), nil
	default:
		return nil, models.NewError(models.KindNotApplicable, "eload.ConfigList", nil)
	}
}

// AcquisitionStart registers a timer source polled at 1/sample-rate ms,
// bounded by the device's safe maximum, with the owning session's event
// loop instead of spinning its own goroutine, so the session drives every
// resulting callback (§4.5.2, §4.6, §5).
func (d *Driver) AcquisitionStart(dev *models.Device, cb models.FeedCallback, addSource func(*models.Source)) error {
	dev.Lock()
	if dev.Status != models.StatusActive {
		dev.Unlock()
		return models.NewError(models.KindDeviceClosed, "eload.AcquisitionStart", nil)
	}
	es := dev.Context.(*eloadState)

	es.acqMu.Lock()
	if es.acquiring {
		es.acqMu.Unlock()
		dev.Unlock()
		return models.NewError(models.KindInvalidArg, "eload.AcquisitionStart", fmt.Errorf("acquisition already running"))
	}
	es.acquiring = true
	es.acqMu.Unlock()

	cb(dev, models.HeaderPacket())
	dev.Unlock()

	rate := es.safeMax
	if rate <= 0 {
		rate = 1
	}
	intervalMsec := 1000 / rate
	if intervalMsec <= 0 {
		intervalMsec = 1
	}

	limiter := session.NewLimiter(0, 0)

	addSource(&models.Source{
		Kind:        models.SourceTimer,
		Descriptor:  dev.Conn,
		TimeoutMsec: intervalMsec,
		OnReady:     d.pollOneIteration(dev, es, cb, limiter),
	})
	return nil
}

// pollOneIteration returns the per-tick closure registered as a timer
// source's OnReady. Once the acquisition has ended (naturally on a limiter
// bound, or via AcquisitionStop) it is a no-op, since the source itself is
// only deregistered later by the session.
func (d *Driver) pollOneIteration(dev *models.Device, es *eloadState, cb models.FeedCallback, limiter *session.Limiter) func() error {
	return func() error {
		es.acqMu.Lock()
		acquiring := es.acquiring
		es.acqMu.Unlock()
		if !acquiring {
			return nil
		}

		dev.Lock()
		n, err := d.pollOnce(dev, es, cb)
		dev.Unlock()
		if err != nil {
			d.lc.Warn(fmt.Sprintf("eload: acquisition poll error on %s: %v", dev.Conn, err))
			return nil
		}
		if limiter.Submit(uint64(n)) {
			finishAcquisition(dev, es, cb)
		}
		return nil
	}
}

// finishAcquisition marks dev's acquisition inactive and emits the closing
// df-end packet; idempotent against a concurrent AcquisitionStop.
func finishAcquisition(dev *models.Device, es *eloadState, cb models.FeedCallback) {
	es.acqMu.Lock()
	if !es.acquiring {
		es.acqMu.Unlock()
		return
	}
	es.acquiring = false
	es.acqMu.Unlock()
	cb(dev, models.EndPacket())
}

// pollOnce issues get-status, parses the V/I/P reading, emits a meta-update
// when the regulation-mode bit (bit 0) or the output-enabled bit (bit 6)
// changed since the previous poll, and pushes three analog samples into the
// feed (§4.5.2).
func (d *Driver) pollOnce(dev *models.Device, es *eloadState, cb models.FeedCallback) (int, error) {
	es.mu.Lock()
	reply, err := exchange(d.lc, es.ep, &Frame{Addr: es.addr, Cmd: cmdGetStatus})
	es.mu.Unlock()
	if err != nil {
		return 0, err
	}

	status := reply.Data[0]
	metaChanged := false
	for _, bit := range changedBits(es.lastStatus, status) {
		if bit == 0 || bit == 6 {
			metaChanged = true
		}
	}
	if metaChanged {
		bits := parseStatusBits(status)
		meta := map[models.KeyID]*models.Value{
			models.KeyRegulation: models.NewString(regulationString(bits)),
			models.KeyEnabled:    models.NewBool(bits.OutputEnabled),
		}
		cb(dev, models.MetaPacket(meta))
	}
	es.lastStatus = status

	m := parseMeasurement(reply.Data[1:13])
	es.mu.Lock()
	es.lastVoltage = m.VoltageV
	es.lastCurrent = m.CurrentA
	es.mu.Unlock()

	cb(dev, models.FrameBeginPacket(0))
	cb(dev, models.AnalogPacket(&models.AnalogData{
		NumSamples: 1,
		Channels:   []int{0},
		MQ:         models.MQVoltage,
		Unit:       models.UnitVolt,
		Digits:     3,
		Data:       []float64{m.VoltageV},
	}))
	cb(dev, models.AnalogPacket(&models.AnalogData{
		NumSamples: 1,
		Channels:   []int{1},
		MQ:         models.MQCurrent,
		Unit:       models.UnitAmpere,
		Digits:     4,
		Data:       []float64{m.CurrentA},
	}))
	cb(dev, models.AnalogPacket(&models.AnalogData{
		NumSamples: 1,
		Channels:   []int{2},
		MQ:         models.MQPower,
		Unit:       models.UnitWatt,
		Digits:     3,
		Data:       []float64{m.PowerW},
	}))
	cb(dev, models.FrameEndPacket(0))

	return 3, nil
}

// AcquisitionStop marks dev's acquisition inactive, so the timer source's
// next OnReady invocation becomes a no-op; the owning session removes the
// source itself once this returns (Session.teardownDevice / RequestStop).
// Reentrant-safe invocation from inside a feed callback is provided by
// session.Session.StopDevice.
func (d *Driver) AcquisitionStop(dev *models.Device) error {
	es := dev.Context.(*eloadState)

	es.acqMu.Lock()
	if !es.acquiring {
		es.acqMu.Unlock()
		return nil
	}
	es.acquiring = false
	es.acqMu.Unlock()
	return nil
}

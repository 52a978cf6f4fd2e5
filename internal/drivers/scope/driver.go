// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package scope

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/circutor/instrument-sdk-go/internal/common"
	"github.com/circutor/instrument-sdk-go/internal/session"
	"github.com/circutor/instrument-sdk-go/internal/transport/serial"
	"github.com/circutor/instrument-sdk-go/pkg/models"
)

const pollInterval = 50 * time.Millisecond

// deviceState is the driver-private per-instance context, held in
// Device.Context. It owns the serial endpoint, the state mirror, the
// precomputed channel slices, and the acquisition's running flag.
type deviceState struct {
	mr *mirror
	ep *serial.Endpoint

	serialComm string

	analogChans []*models.Channel
	podChans    []*models.Channel
	lineChans   []*models.Channel // index = global digital line index

	acqMu     sync.Mutex
	acquiring bool
}

// Driver implements models.Driver for the SCPI-over-serial oscilloscope
// family described in spec.md §4.5.1.
type Driver struct {
	ctx *models.DriverContext
	lc  common.LoggingClient
}

// New returns an unitialized scope Driver; call Init (normally done by
// registry.Register) before use.
func New(lc common.LoggingClient) *Driver {
	if lc == nil {
		lc = common.NewDefaultClient("scope")
	}
	return &Driver{lc: lc}
}

func (d *Driver) Name() string     { return "hameg-hmo" }
func (d *Driver) LongName() string { return "HAMEG/Rohde & Schwarz HMO-series SCPI oscilloscopes" }
func (d *Driver) Version() int     { return 1 }

func (d *Driver) Init() error {
	d.ctx = &models.DriverContext{}
	return nil
}

func (d *Driver) Cleanup() error {
	return d.DevClear()
}

// Scan opens the serial port named by opts.Conn with opts.SerialComm,
// issues *IDN?, and builds a Device from the comma-separated identification
// response (spec.md §4.5.1, §8 scenario 1).
func (d *Driver) Scan(opts models.ScanOptions) ([]*models.Device, error) {
	if opts.Conn == "" {
		return nil, models.NewError(models.KindInvalidArg, "scope.Scan", fmt.Errorf("serial scan requires a device path in Conn"))
	}

	ep, err := serial.Open(opts.Conn, opts.SerialComm)
	if err != nil {
		return nil, err
	}
	defer ep.Close()

	idn, err := scpiQuery(ep, defaultDialect.idn)
	if err != nil {
		return nil, err
	}

	fields := strings.Split(idn, ",")
	if len(fields) < 3 {
		return nil, models.NewError(models.KindUnsupportedDevice, "scope.Scan", fmt.Errorf("unparseable *IDN? response %q", idn))
	}
	vendor := strings.TrimSpace(fields[0])
	modelName := strings.TrimSpace(fields[1])
	serialNum := strings.TrimSpace(fields[2])
	firmware := ""
	if len(fields) > 3 {
		firmware = strings.TrimSpace(fields[3])
	}

	m, ok := lookupModel(modelName)
	if !ok {
		return nil, models.NewError(models.KindUnsupportedDevice, "scope.Scan", fmt.Errorf("unknown model %q", modelName))
	}

	dev := buildDevice(vendor, m, serialNum, firmware, opts.Conn, opts.SerialComm)
	d.ctx.AddDevice(dev)
	d.lc.Info(fmt.Sprintf("scope: identified %s %s (serial %s) on %s", vendor, m.name, serialNum, opts.Conn))

	return []*models.Device{dev}, nil
}

// buildDevice constructs a Device and its channel/group layout for model m:
// one Channel per analog input, one Channel per digital pod (used as the
// acquisition-loop's cycling unit), and one Channel per individual digital
// line (used for per-line enable and pod auto-enable).
func buildDevice(vendor string, m model, serialNum, firmware, conn, serialComm string) *models.Device {
	ds := &deviceState{mr: newMirror(m), serialComm: serialComm}

	var channels []*models.Channel
	var groups []*models.ChannelGroup

	for i := 0; i < m.analogChannels; i++ {
		ch := &models.Channel{Index: i, Type: models.ChannelAnalog, Name: fmt.Sprintf("CH%d", i+1)}
		channels = append(channels, ch)
		ds.analogChans = append(ds.analogChans, ch)
		groups = append(groups, &models.ChannelGroup{Name: ch.Name, Channels: []*models.Channel{ch}})
	}

	for p := 0; p < m.digitalPods; p++ {
		pod := &models.Channel{Index: p, Type: models.ChannelDigitalPod, Name: fmt.Sprintf("POD%d", p+1)}
		channels = append(channels, pod)
		ds.podChans = append(ds.podChans, pod)

		var lines []*models.Channel
		for bit := 0; bit < 8; bit++ {
			lineIdx := p*8 + bit
			line := &models.Channel{Index: lineIdx, Type: models.ChannelLogic, Name: fmt.Sprintf("D%d", lineIdx)}
			channels = append(channels, line)
			lines = append(lines, line)
			for len(ds.lineChans) <= lineIdx {
				ds.lineChans = append(ds.lineChans, nil)
			}
			ds.lineChans[lineIdx] = line
		}
		groups = append(groups, &models.ChannelGroup{Name: pod.Name, Channels: append([]*models.Channel{pod}, lines...)})
		for _, line := range lines {
			groups = append(groups, &models.ChannelGroup{Name: line.Name, Channels: []*models.Channel{line}})
		}
	}

	dev := &models.Device{
		Vendor:   vendor,
		Model:    m.name,
		Version:  firmware,
		Serial:   serialNum,
		Conn:     conn,
		Status:   models.StatusInactive,
		Channels: channels,
		Groups:   groups,
		Context:  ds,
	}
	return dev
}

func (d *Driver) DevList() []*models.Device { return d.ctx.List() }

// DevOpen transitions dev to active: opens the serial port and populates
// the state mirror by issuing each getter (§4.5.1).
func (d *Driver) DevOpen(dev *models.Device) error {
	dev.Lock()
	defer dev.Unlock()

	if dev.Status == models.StatusActive {
		return models.NewError(models.KindInvalidArg, "scope.DevOpen", fmt.Errorf("device already active"))
	}

	ds := dev.Context.(*deviceState)
	ep, err := serial.Open(dev.Conn, ds.serialComm)
	if err != nil {
		return err
	}
	ds.ep = ep
	dev.Transport = ep
	dev.Status = models.StatusActive

	if err := populateMirror(dev, ds); err != nil {
		ep.Close()
		dev.Transport = nil
		dev.Status = models.StatusInactive
		return err
	}
	ds.mr.valid = true
	return nil
}

// DevClose is idempotent: closing an already-inactive device returns nil.
func (d *Driver) DevClose(dev *models.Device) error {
	dev.Lock()
	defer dev.Unlock()

	if dev.Status != models.StatusActive {
		return nil
	}
	ds := dev.Context.(*deviceState)
	if ds.ep != nil {
		if err := ds.ep.Close(); err != nil {
			return err
		}
		ds.ep = nil
	}
	dev.Transport = nil
	dev.Status = models.StatusInactive
	ds.mr.invalidate()
	return nil
}

// DevClear frees every device this driver owns, closing open ones first.
func (d *Driver) DevClear() error {
	for _, dev := range d.ctx.List() {
		if err := d.DevClose(dev); err != nil {
			return err
		}
		d.ctx.RemoveDevice(dev)
	}
	return nil
}

// populateMirror issues every getter command to fill the state mirror,
// used by DevOpen and by the re-sync path after a transport error.
func populateMirror(dev *models.Device, ds *deviceState) error {
	mr := ds.mr
	dialect := mr.m.dialect

	tb, err := scpiQueryFloat(ds.ep, dialect.getTimebase)
	if err != nil {
		return err
	}
	if idx, ok := lookupTimebase(mr.m.timebaseTable, tb); ok {
		mr.timebaseIndex = idx
	}

	for i := range mr.analog {
		coupling, err := scpiQuery(ds.ep, fmt.Sprintf(dialect.getCoupling, i+1))
		if err != nil {
			return err
		}
		mr.analog[i].couplingIndex = indexOf(couplingOptions, strings.TrimSpace(coupling))

		vdiv, err := scpiQueryFloat(ds.ep, fmt.Sprintf(dialect.getVdiv, i+1))
		if err != nil {
			return err
		}
		if idx, ok := lookupTimebase(mr.m.vdivTable, vdiv); ok {
			mr.analog[i].vdivIndex = idx
		}

		state, err := scpiQuery(ds.ep, fmt.Sprintf(dialect.getAnalogChanState, i+1))
		if err == nil {
			mr.analog[i].enabled = strings.TrimSpace(state) == "1"
		}
	}

	for p := range mr.pods {
		state, err := scpiQuery(ds.ep, fmt.Sprintf(dialect.getPodState, p+1))
		if err != nil {
			return err
		}
		mr.pods[p].enabled = strings.TrimSpace(state) == "1"
	}

	src, err := scpiQuery(ds.ep, dialect.getTriggerSource)
	if err != nil {
		return err
	}
	mr.triggerSourceIdx = indexOf(mr.m.triggerSources, strings.TrimSpace(src))

	slope, err := scpiQuery(ds.ep, dialect.getTriggerSlope)
	if err != nil {
		return err
	}
	if strings.TrimSpace(slope) == "POS" {
		mr.triggerSlopeIdx = 1
	}

	pos, err := scpiQueryFloat(ds.ep, dialect.getHorizTriggerPos)
	if err != nil {
		return err
	}
	mr.horizTriggerPos = pos

	return nil
}

func indexOf(vs []string, s string) int {
	for i, v := range vs {
		if v == s {
			return i
		}
	}
	return -1
}

// scpiQuery sends cmd followed by a newline and reads the response line.
func scpiQuery(ep *serial.Endpoint, cmd string) (string, error) {
	if len(cmd)+1 >= cmdBufSize {
		return "", models.NewError(models.KindInvalidArg, "scope.scpiQuery", fmt.Errorf("command %q exceeds buffer size", cmd))
	}
	if _, err := ep.Write([]byte(cmd + "\n")); err != nil {
		return "", err
	}
	resp, err := ep.ReadChars(256, 0)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(resp), "\r\n"), nil
}

func scpiQueryFloat(ep *serial.Endpoint, cmd string) (float64, error) {
	s, err := scpiQuery(ep, cmd)
	if err != nil {
		return 0, err
	}
	f, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if perr != nil {
		return 0, models.NewError(models.KindIO, "scope.scpiQueryFloat", perr)
	}
	return f, nil
}

// scpiSet sends a formatted command with no reply expected, then waits for
// *OPC? to confirm completion (§4.5.1 "a set operation is followed by an
// operation-complete query before the call returns").
func scpiSet(ep *serial.Endpoint, format string, args ...interface{}) error {
	cmd := fmt.Sprintf(format, args...)
	if len(cmd)+1 >= cmdBufSize {
		return models.NewError(models.KindInvalidArg, "scope.scpiSet", fmt.Errorf("command %q exceeds buffer size", cmd))
	}
	if _, err := ep.Write([]byte(cmd + "\n")); err != nil {
		return err
	}
	opc, err := scpiQuery(ep, defaultDialect.opc)
	if err != nil {
		return err
	}
	if strings.TrimSpace(opc) != "1" {
		return models.NewError(models.KindIO, "scope.scpiSet", fmt.Errorf("*OPC? returned %q", opc))
	}
	return nil
}

// ConfigGet returns the mirrored value of key for dev/group.
func (d *Driver) ConfigGet(key models.KeyID, dev *models.Device, group *models.ChannelGroup) (*models.Value, error) {
	dev.Lock()
	defer dev.Unlock()

	if key != models.KeyConn && key != models.KeySerialComm && dev.Status != models.StatusActive {
		return nil, models.NewError(models.KindDeviceClosed, "scope.ConfigGet", nil)
	}
	ds := dev.Context.(*deviceState)
	mr := ds.mr

	// A transport error during an earlier get/set marks the mirror stale;
	// re-run the full state-get sequence before serving mirrored data
	// (§4.5.1, §7).
	if dev.Status == models.StatusActive && !mr.valid && key != models.KeyConn && key != models.KeySerialComm {
		if err := populateMirror(dev, ds); err != nil {
			return nil, err
		}
		mr.valid = true
	}

	switch key {
	case models.KeyConn:
		return models.NewString(dev.Conn), nil
	case models.KeySerialComm:
		return models.NewString(ds.serialComm), nil
	case models.KeyTimebase:
		r := mr.m.timebaseTable[mr.timebaseIndex]
		return models.NewRational(r.Num, r.Den)
	case models.KeyVdiv:
		ch, err := analogChannelOf(mr, group)
		if err != nil {
			return nil, err
		}
		r := mr.m.vdivTable[mr.analog[ch].vdivIndex]
		return models.NewRational(r.Num, r.Den)
	case models.KeyCoupling:
		ch, err := analogChannelOf(mr, group)
		if err != nil {
			return nil, err
		}
		return models.NewString(couplingOptions[mr.analog[ch].couplingIndex]), nil
	case models.KeyTriggerSource:
		return models.NewString(mr.m.triggerSources[mr.triggerSourceIdx]), nil
	case models.KeyTriggerSlope:
		return models.NewU64(uint64(mr.triggerSlopeIdx)), nil
	case models.KeyHorizTriggerPos:
		return models.NewF64(mr.horizTriggerPos), nil
	case models.KeySampleRate:
		return models.NewU64(mr.sampleRate), nil
	case models.KeyEnabled:
		return configGetEnabled(dev, mr, group)
	case models.KeyLimitSamples:
		return models.NewU64(mr.limitSamples), nil
	case models.KeyLimitMsec:
		return models.NewU64(mr.limitMsec), nil
	case models.KeyLimitFrames:
		return models.NewU64(mr.limitFrames), nil
	default:
		return nil, models.NewError(models.KindNotApplicable, "scope.ConfigGet", nil)
	}
}

func configGetEnabled(dev *models.Device, mr *mirror, group *models.ChannelGroup) (*models.Value, error) {
	if group == nil || len(group.Channels) == 0 {
		return nil, models.NewError(models.KindChannelGroup, "scope.ConfigGet", nil)
	}
	ch := group.Channels[0]
	switch ch.Type {
	case models.ChannelAnalog:
		return models.NewBool(mr.analog[ch.Index].enabled), nil
	case models.ChannelDigitalPod:
		return models.NewBool(mr.pods[ch.Index].enabled), nil
	case models.ChannelLogic:
		pod, bit := podForDigitalChannel(ch.Index)
		return models.NewBool(mr.pods[pod].chanEnabled[bit]), nil
	default:
		return nil, models.NewError(models.KindChannelGroup, "scope.ConfigGet", nil)
	}
}

func analogChannelOf(mr *mirror, group *models.ChannelGroup) (int, error) {
	if group == nil || len(group.Channels) == 0 || group.Channels[0].Type != models.ChannelAnalog {
		return 0, models.NewError(models.KindChannelGroup, "scope.ConfigGet", fmt.Errorf("key requires an analog channel group"))
	}
	return group.Channels[0].Index, nil
}

// ConfigSet sends the new value to the device, waits for *OPC?, then
// mirrors it locally. On transport failure the mirror is invalidated so a
// later re-sync is forced (§4.5.1, §7).
func (d *Driver) ConfigSet(key models.KeyID, val *models.Value, dev *models.Device, group *models.ChannelGroup) error {
	dev.Lock()
	defer dev.Unlock()

	if dev.Status != models.StatusActive {
		return models.NewError(models.KindDeviceClosed, "scope.ConfigSet", nil)
	}
	ds := dev.Context.(*deviceState)
	mr := ds.mr
	dialect := mr.m.dialect

	switch key {
	case models.KeyTimebase:
		r, ok := val.RationalValue()
		if !ok {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("timebase requires a rational value"))
		}
		idx, ok := lookupTimebase(mr.m.timebaseTable, float64(r.Num)/float64(r.Den))
		if !ok {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("timebase %v not in table", r))
		}
		if err := scpiSet(ds.ep, dialect.setTimebase, float64(r.Num)/float64(r.Den)); err != nil {
			mr.invalidate()
			return err
		}
		mr.timebaseIndex = idx
		return nil

	case models.KeyVdiv:
		ch, err := analogChannelOf(mr, group)
		if err != nil {
			return err
		}
		r, ok := val.RationalValue()
		if !ok {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("vdiv requires a rational value"))
		}
		idx, ok := lookupTimebase(mr.m.vdivTable, float64(r.Num)/float64(r.Den))
		if !ok {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("vdiv %v not in table", r))
		}
		if err := scpiSet(ds.ep, dialect.setVdiv, ch+1, float64(r.Num)/float64(r.Den)); err != nil {
			mr.invalidate()
			return err
		}
		mr.analog[ch].vdivIndex = idx
		return nil

	case models.KeyCoupling:
		ch, err := analogChannelOf(mr, group)
		if err != nil {
			return err
		}
		s, ok := val.String()
		if !ok {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("coupling requires a string value"))
		}
		idx := indexOf(couplingOptions, s)
		if idx < 0 {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("unknown coupling %q", s))
		}
		if err := scpiSet(ds.ep, dialect.setCoupling, ch+1, s); err != nil {
			mr.invalidate()
			return err
		}
		mr.analog[ch].couplingIndex = idx
		return nil

	case models.KeyTriggerSource:
		s, ok := val.String()
		if !ok {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("trigger_source requires a string value"))
		}
		idx := indexOf(mr.m.triggerSources, s)
		if idx < 0 {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("unknown trigger source %q", s))
		}
		if err := scpiSet(ds.ep, dialect.setTriggerSource, s); err != nil {
			mr.invalidate()
			return err
		}
		mr.triggerSourceIdx = idx
		return nil

	case models.KeyTriggerSlope:
		n, ok := val.U64()
		if !ok || n > 1 {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("trigger_slope requires 0 or 1"))
		}
		token := "NEG"
		if n == 1 {
			token = "POS"
		}
		if err := scpiSet(ds.ep, dialect.setTriggerSlope, token); err != nil {
			mr.invalidate()
			return err
		}
		mr.triggerSlopeIdx = int(n)
		return nil

	case models.KeyHorizTriggerPos:
		f, ok := val.F64()
		if !ok || f < -0.5 || f > 0.5 {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("horiz_trigger_pos must be in [-0.5, 0.5]"))
		}
		if err := scpiSet(ds.ep, dialect.setHorizTriggerPos, f); err != nil {
			mr.invalidate()
			return err
		}
		mr.horizTriggerPos = f
		return nil

	case models.KeyEnabled:
		return configSetEnabled(ds, mr, group, val)

	case models.KeyLimitSamples:
		n, ok := val.U64()
		if !ok {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("limit_samples requires u64"))
		}
		mr.limitSamples = n
		return nil

	case models.KeyLimitMsec:
		n, ok := val.U64()
		if !ok {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("limit_msec requires u64"))
		}
		mr.limitMsec = n
		return nil

	case models.KeyLimitFrames:
		n, ok := val.U64()
		if !ok {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("limit_frames requires u64"))
		}
		mr.limitFrames = n
		return nil

	default:
		return models.NewError(models.KindNotApplicable, "scope.ConfigSet", nil)
	}
}

// configSetEnabled enables/disables an analog channel, a whole pod, or an
// individual digital line. Enabling any line in a pod auto-enables the pod
// (§4.5.1, §8 invariant 6).
func configSetEnabled(ds *deviceState, mr *mirror, group *models.ChannelGroup, val *models.Value) error {
	if group == nil || len(group.Channels) == 0 {
		return models.NewError(models.KindChannelGroup, "scope.ConfigSet", nil)
	}
	b, ok := val.Bool()
	if !ok {
		return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("enabled requires a bool value"))
	}
	dialect := mr.m.dialect
	ch := group.Channels[0]

	switch ch.Type {
	case models.ChannelAnalog:
		if ch.Index < 0 || ch.Index >= len(mr.analog) {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("channel index %d out of range", ch.Index))
		}
		if err := scpiSet(ds.ep, dialect.setAnalogChanState, ch.Index+1, boolToInt(b)); err != nil {
			mr.invalidate()
			return err
		}
		mr.analog[ch.Index].enabled = b
		ch.Enabled = b
		return nil

	case models.ChannelDigitalPod:
		if err := scpiSet(ds.ep, dialect.setPodState, ch.Index+1, boolToInt(b)); err != nil {
			mr.invalidate()
			return err
		}
		mr.pods[ch.Index].enabled = b
		ch.Enabled = b
		return nil

	case models.ChannelLogic:
		pod, bit := podForDigitalChannel(ch.Index)
		if pod >= len(mr.pods) {
			return models.NewError(models.KindInvalidArg, "scope.ConfigSet", fmt.Errorf("digital line %d out of range", ch.Index))
		}
		if err := scpiSet(ds.ep, dialect.setDigitalChanState, ch.Index, boolToInt(b)); err != nil {
			mr.invalidate()
			return err
		}
		mr.pods[pod].chanEnabled[bit] = b
		ch.Enabled = b
		if b && !mr.pods[pod].enabled {
			if err := scpiSet(ds.ep, dialect.setPodState, pod+1, 1); err != nil {
				mr.invalidate()
				return err
			}
			mr.pods[pod].enabled = true
			if pod < len(ds.podChans) {
				ds.podChans[pod].Enabled = true
			}
		}
		return nil

	default:
		return models.NewError(models.KindChannelGroup, "scope.ConfigSet", nil)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ConfigList enumerates permissible values (§4.2).
func (d *Driver) ConfigList(key models.KeyID, dev *models.Device, group *models.ChannelGroup) (*models.Value, error) {
	dev.Lock()
	defer dev.Unlock()
	ds := dev.Context.(*deviceState)
	mr := ds.mr

	switch key {
	case models.KeyTimebase:
		return models.NewArrayRational(mr.m.timebaseTable)
	case models.KeyVdiv:
		return models.NewArrayRational(mr.m.vdivTable)
	case models.KeyTriggerSource:
		return models.NewArrayString(mr.m.triggerSources), nil
	case models.KeyCoupling:
		return models.NewArrayString(couplingOptions), nil
	case models.KeyTriggerSlope:
		return models.NewArrayU64([]uint64{0, 1}), nil
	default:
		return nil, models.NewError(models.KindNotApplicable, "scope.ConfigList", nil)
	}
}

// validateChannelConfiguration enforces the conflict rule: on models with a
// digital pod sharing circuitry with the top two analog channels, pod 1
// (index 0) cannot run with analog channel 3 (index 2), nor pod 2 (index 1)
// with analog channel 4 (index 3) (§4.5.1, §8 scenario 6). It also rejects
// an empty selection.
func validateChannelConfiguration(mr *mirror) ([]*models.Channel, error) {
	var enabled []*models.Channel
	enabledAnalog := map[int]bool{}
	enabledPods := map[int]bool{}

	for i, a := range mr.analog {
		if a.enabled {
			enabledAnalog[i] = true
		}
	}
	for p, pd := range mr.pods {
		if pd.enabled {
			enabledPods[p] = true
		}
	}

	if enabledPods[0] && enabledAnalog[2] {
		return nil, models.NewError(models.KindInvalidArg, "scope.AcquisitionStart", fmt.Errorf("pod 1 conflicts with analog channel 3"))
	}
	if enabledPods[1] && enabledAnalog[3] {
		return nil, models.NewError(models.KindInvalidArg, "scope.AcquisitionStart", fmt.Errorf("pod 2 conflicts with analog channel 4"))
	}

	for i := range mr.analog {
		if enabledAnalog[i] {
			enabled = append(enabled, &models.Channel{Index: i, Type: models.ChannelAnalog})
		}
	}
	for p := range mr.pods {
		if enabledPods[p] {
			enabled = append(enabled, &models.Channel{Index: p, Type: models.ChannelDigitalPod})
		}
	}

	if len(enabled) == 0 {
		return nil, models.NewError(models.KindInvalidArg, "scope.AcquisitionStart", fmt.Errorf("no channel enabled"))
	}
	return enabled, nil
}

// AcquisitionStart validates the channel selection, reconciles the sample
// rate, emits df-header, and registers a 50 ms timer source with the
// session's event loop instead of spawning its own goroutine: every poll
// iteration then runs as a driver callback dispatched by Session.Run, so the
// session owns all scheduling (§4.5.1, §4.6, §5).
func (d *Driver) AcquisitionStart(dev *models.Device, cb models.FeedCallback, addSource func(*models.Source)) error {
	dev.Lock()
	if dev.Status != models.StatusActive {
		dev.Unlock()
		return models.NewError(models.KindDeviceClosed, "scope.AcquisitionStart", nil)
	}
	ds := dev.Context.(*deviceState)
	mr := ds.mr

	enabled, err := validateChannelConfiguration(mr)
	if err != nil {
		dev.Unlock()
		return err
	}

	if err := reconcileSampleRate(ds, mr, enabled); err != nil {
		dev.Unlock()
		return err
	}

	ds.acqMu.Lock()
	if ds.acquiring {
		ds.acqMu.Unlock()
		dev.Unlock()
		return models.NewError(models.KindInvalidArg, "scope.AcquisitionStart", fmt.Errorf("acquisition already running"))
	}
	ds.acquiring = true
	ds.acqMu.Unlock()

	cb(dev, models.HeaderPacket())
	dev.Unlock()

	limiter := session.NewLimiter(mr.limitSamples, mr.limitMsec)
	idx := 0
	var frame uint64

	addSource(&models.Source{
		Kind:        models.SourceTimer,
		Descriptor:  dev.Conn,
		TimeoutMsec: int(pollInterval / time.Millisecond),
		OnReady:     d.pollOneIteration(dev, ds, mr, enabled, cb, limiter, &idx, &frame),
	})
	return nil
}

// pollOneIteration returns the per-tick closure registered as a timer
// source's OnReady: it cycles through the enabled channels, issuing each
// one's data query and bracketing the result with df-frame-begin/
// df-frame-end, advancing the frame counter once every channel has been
// visited, and ending the acquisition on a limiter bound (§4.5.1, §4.6).
// Once the acquisition has ended (naturally or via AcquisitionStop) it is a
// no-op, since the source itself is only deregistered later by the session.
func (d *Driver) pollOneIteration(dev *models.Device, ds *deviceState, mr *mirror, enabled []*models.Channel, cb models.FeedCallback, limiter *session.Limiter, idx *int, frame *uint64) func() error {
	return func() error {
		ds.acqMu.Lock()
		acquiring := ds.acquiring
		ds.acqMu.Unlock()
		if !acquiring {
			return nil
		}

		dev.Lock()
		ch := enabled[*idx]
		cb(dev, models.FrameBeginPacket(ch.Index))

		n, err := pollChannel(dev, ds, mr, ch, cb)
		if err != nil {
			d.lc.Warn(fmt.Sprintf("scope: acquisition poll error on %s: %v", dev.Conn, err))
			mr.invalidate()
		}
		cb(dev, models.FrameEndPacket(ch.Index))
		dev.Unlock()

		*idx++
		if *idx >= len(enabled) {
			*idx = 0
			*frame++
			if mr.limitFrames > 0 && *frame >= mr.limitFrames {
				finishAcquisition(dev, ds, cb)
				return nil
			}
		}

		if limiter.Submit(uint64(n)) {
			finishAcquisition(dev, ds, cb)
		}
		return nil
	}
}

// finishAcquisition marks dev's acquisition inactive and emits the closing
// df-end packet; idempotent against a concurrent AcquisitionStop.
func finishAcquisition(dev *models.Device, ds *deviceState, cb models.FeedCallback) {
	ds.acqMu.Lock()
	if !ds.acquiring {
		ds.acqMu.Unlock()
		return
	}
	ds.acquiring = false
	ds.acqMu.Unlock()
	cb(dev, models.EndPacket())
}

// reconcileSampleRate queries the live per-channel sample rate and divides
// by (timebase * x-divisions); with no channels enabled a single-shot
// samplerate query is used instead (§4.5.1).
func reconcileSampleRate(ds *deviceState, mr *mirror, enabled []*models.Channel) error {
	if len(enabled) == 0 {
		sr, err := scpiQueryFloat(ds.ep, mr.m.dialect.getSamplerate)
		if err != nil {
			return err
		}
		mr.sampleRate = uint64(sr)
		return nil
	}
	first := enabled[0]
	if first.Type != models.ChannelAnalog {
		sr, err := scpiQueryFloat(ds.ep, mr.m.dialect.getSamplerate)
		if err != nil {
			return err
		}
		mr.sampleRate = uint64(sr)
		return nil
	}
	points, err := scpiQueryFloat(ds.ep, fmt.Sprintf(mr.m.dialect.getSamplePoints, first.Index+1))
	if err != nil {
		return err
	}
	tb := mr.m.timebaseTable[mr.timebaseIndex]
	timebaseSeconds := float64(tb.Num) / float64(tb.Den)
	denom := timebaseSeconds * float64(mr.m.gridDivsH)
	if denom <= 0 {
		return models.NewError(models.KindSamplerate, "scope.reconcileSampleRate", fmt.Errorf("degenerate timebase"))
	}
	mr.sampleRate = uint64(points / denom)
	return nil
}

// pollChannel issues the data query for one channel and emits the
// resulting df-analog or df-logic packet, returning the sample count
// delivered.
func pollChannel(dev *models.Device, ds *deviceState, mr *mirror, ch *models.Channel, cb models.FeedCallback) (int, error) {
	switch ch.Type {
	case models.ChannelAnalog:
		resp, err := scpiQuery(ds.ep, fmt.Sprintf(mr.m.dialect.getAnalogData, ch.Index+1))
		if err != nil {
			return 0, err
		}
		samples := parseFloatCSV(resp)
		cb(dev, models.AnalogPacket(&models.AnalogData{
			NumSamples: uint32(len(samples)),
			Channels:   []int{ch.Index},
			MQ:         models.MQVoltage,
			Unit:       models.UnitVolt,
			Digits:     6,
			Data:       samples,
		}))
		return len(samples), nil

	case models.ChannelDigitalPod:
		resp, err := scpiQuery(ds.ep, fmt.Sprintf(mr.m.dialect.getPodData, ch.Index+1))
		if err != nil {
			return 0, err
		}
		emitPodSamples(dev, cb, []byte(resp))
		return len(resp), nil

	default:
		return 0, nil
	}
}

// emitPodSamples routes one pod's raw samples through a FeedQueue, which
// aggregates consecutive identical levels into run-length chunks bounded at
// 4 KiB before emitting a df-logic packet (§4.6), exactly the large-run
// digital-pod capture case the queue is built for.
func emitPodSamples(dev *models.Device, cb models.FeedCallback, data []byte) {
	if len(data) == 0 {
		return
	}
	fq := session.NewFeedQueue(1, func(pkt models.Packet) { cb(dev, pkt) })
	i := 0
	for i < len(data) {
		j := i + 1
		for j < len(data) && data[j] == data[i] {
			j++
		}
		fq.Submit(data[i], j-i)
		i = j
	}
	fq.Flush()
}

func parseFloatCSV(s string) []float64 {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// AcquisitionStop marks dev's acquisition inactive, so the timer source's
// next OnReady invocation becomes a no-op; the owning session removes the
// source itself once this returns (Session.teardownDevice / RequestStop).
// Reentrant-safe invocation from inside a feed callback is provided by
// session.Session.StopDevice, which defers the teardown to the event loop's
// next iteration instead of calling this method directly.
func (d *Driver) AcquisitionStop(dev *models.Device) error {
	ds := dev.Context.(*deviceState)

	ds.acqMu.Lock()
	if !ds.acquiring {
		ds.acqMu.Unlock()
		return nil
	}
	ds.acquiring = false
	ds.acqMu.Unlock()
	return nil
}

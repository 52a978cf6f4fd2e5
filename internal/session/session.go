// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package session implements the session/data-feed pipeline (spec.md §4.6):
// event-loop integration, source registration, and the reusable Limiter and
// FeedQueue helpers drivers use while streaming samples. It generalizes the
// teacher's internal/scheduler/manager.go sync.Once-guarded start/stop and
// entry-map bookkeeping from cron schedule entries to generic event sources.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/circutor/instrument-sdk-go/internal/common"
	"github.com/circutor/instrument-sdk-go/internal/scheduler"
	"github.com/circutor/instrument-sdk-go/pkg/models"
)

// Source, SourceKind and the SourceFD/SourceUSB/SourceTimer constants live
// in pkg/models so that models.Driver.AcquisitionStart can reference Source
// without this package importing that interface (it would be a cycle, since
// Session already imports models for Device/Packet/etc.). These aliases let
// the rest of this package, and driver code that already imports session for
// Limiter/FeedQueue, keep referring to them as session.Source.
type Source = models.Source
type SourceKind = models.SourceKind

const (
	SourceFD    = models.SourceFD
	SourceUSB   = models.SourceUSB
	SourceTimer = models.SourceTimer
)

// boundDevice tracks a device's binding to this session and whether a
// reentrant AcquisitionStop call is pending teardown.
type boundDevice struct {
	dev         *models.Device
	driver      models.Driver
	pendingStop bool
}

var (
	globalBindMu sync.Mutex
	globalBound  = map[*models.Device]string{} // device -> owning session id
)

// Session is a process-wide object maintaining the set of active devices
// bound to it, its registered event sources, a one-shot stop flag, and the
// frontend data callback (spec.md §3 "Session"). A process may host
// multiple independent sessions in separate host threads (spec.md §5).
type Session struct {
	mu sync.Mutex

	id      string
	lc      common.LoggingClient
	devices map[*models.Device]*boundDevice
	sources []*Source

	// lastFired tracks each timer-kind source's last firing time. It lives
	// here rather than on Source itself so that pkg/models.Source stays a
	// plain value the Driver interface can build without reaching into
	// session-private bookkeeping.
	lastFired map[*Source]time.Time

	stopRequested bool
	inCallback    bool

	housekeeping *scheduler.Manager
}

// New returns an independent session. lc may be nil, in which case a
// no-op-free default client is used.
func New(lc common.LoggingClient) *Session {
	if lc == nil {
		lc = common.NewDefaultClient("session")
	}
	return &Session{
		id:           uuid.New().String(),
		lc:           lc,
		devices:      make(map[*models.Device]*boundDevice),
		lastFired:    make(map[*Source]time.Time),
		housekeeping: scheduler.NewManager(lc),
	}
}

// AddHousekeepingJob registers a session-wide periodic task — independent
// of any single device's acquisition — on the given cron schedule. This is
// the timer-kind source family spec.md §4.6 mentions alongside FD/USB
// sources: bookkeeping work (stale-binding sweeps, periodic stats logging)
// that runs on a wall-clock cadence rather than in response to device
// readiness.
func (s *Session) AddHousekeepingJob(name, cronSpec string, job func()) error {
	return s.housekeeping.AddJob(name, cronSpec, job)
}

// ID returns this session's correlation identifier.
func (s *Session) ID() string { return s.id }

// BindDevice claims dev for this session. A device already bound to any
// session (this one or another) is an error (spec.md §3 invariant: "Exactly
// one session may drive a given device at a time").
func (s *Session) BindDevice(dev *models.Device, drv models.Driver) error {
	globalBindMu.Lock()
	defer globalBindMu.Unlock()

	if owner, ok := globalBound[dev]; ok {
		return models.NewError(models.KindInvalidArg, "Session.BindDevice", fmt.Errorf("device already bound to session %s", owner))
	}
	globalBound[dev] = s.id

	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[dev] = &boundDevice{dev: dev, driver: drv}
	return nil
}

// UnbindDevice releases dev from this session, without stopping any
// acquisition in progress; callers should StopDevice first.
func (s *Session) UnbindDevice(dev *models.Device) {
	globalBindMu.Lock()
	delete(globalBound, dev)
	globalBindMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, dev)
}

// AddSource registers a new event source with the session's event loop.
func (s *Session) AddSource(src *Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, src)
}

// RemoveSource deregisters a previously-added source.
func (s *Session) RemoveSource(src *Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sr := range s.sources {
		if sr == src {
			s.sources = append(s.sources[:i], s.sources[i+1:]...)
			delete(s.lastFired, sr)
			return
		}
	}
}

// RemoveSourcesFor deregisters every source whose Descriptor matches desc,
// used when tearing down one device's acquisition without disturbing
// another device's sources in the same session.
func (s *Session) RemoveSourcesFor(desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sources[:0]
	for _, sr := range s.sources {
		if sr.Descriptor != desc {
			kept = append(kept, sr)
		} else {
			delete(s.lastFired, sr)
		}
	}
	s.sources = kept
}

// StopDevice stops the acquisition bound to dev. If called from inside a
// data callback (reentrancy, spec.md §5 "Cancellation"), it marks a
// pending-stop flag and returns immediately; the event loop performs the
// actual teardown at the next iteration. Otherwise it tears down
// synchronously.
func (s *Session) StopDevice(dev *models.Device) error {
	s.mu.Lock()
	bd, ok := s.devices[dev]
	if !ok {
		s.mu.Unlock()
		return models.NewError(models.KindInvalidArg, "Session.StopDevice", fmt.Errorf("device not bound to this session"))
	}
	if s.inCallback {
		bd.pendingStop = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.teardownDevice(bd)
}

func (s *Session) teardownDevice(bd *boundDevice) error {
	err := bd.driver.AcquisitionStop(bd.dev)
	s.RemoveSourcesFor(deviceDescriptor(bd.dev))
	return err
}

func deviceDescriptor(dev *models.Device) string {
	return dev.Conn
}

// Run polls every registered source with the smallest active timeout; on
// any ready source, its callback is invoked synchronously. Run returns once
// RequestStop is called and every live device's acquisition has been
// stopped.
func (s *Session) Run() error {
	for {
		s.mu.Lock()
		if s.stopRequested {
			s.mu.Unlock()
			return nil
		}
		sources := append([]*Source(nil), s.sources...)
		s.mu.Unlock()

		if len(sources) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		timeout := smallestTimeout(sources)

		for _, src := range sources {
			if err := s.pollOne(src, timeout); err != nil {
				s.lc.Warn(fmt.Sprintf("session %s: source %s: %v", s.id, src.Descriptor, err))
			}
		}

		s.drainPendingStops()
	}
}

func (s *Session) pollOne(src *Source, timeout time.Duration) error {
	ready := false
	var err error

	switch src.Kind {
	case SourceTimer:
		s.mu.Lock()
		last := s.lastFired[src]
		s.mu.Unlock()
		if time.Since(last) >= time.Duration(src.TimeoutMsec)*time.Millisecond {
			ready = true
			s.mu.Lock()
			s.lastFired[src] = time.Now()
			s.mu.Unlock()
		}
	default:
		ready, err = src.Poll(timeout)
	}
	if err != nil || !ready {
		return err
	}

	s.mu.Lock()
	s.inCallback = true
	s.mu.Unlock()

	cbErr := src.OnReady()

	s.mu.Lock()
	s.inCallback = false
	s.mu.Unlock()

	return cbErr
}

func (s *Session) drainPendingStops() {
	s.mu.Lock()
	var pending []*boundDevice
	for _, bd := range s.devices {
		if bd.pendingStop {
			bd.pendingStop = false
			pending = append(pending, bd)
		}
	}
	s.mu.Unlock()

	for _, bd := range pending {
		if err := s.teardownDevice(bd); err != nil {
			s.lc.Warn(fmt.Sprintf("session %s: deferred stop for %s: %v", s.id, bd.dev.Conn, err))
		}
	}
}

// RequestStop iterates every live device bound to this session, invokes
// each driver's AcquisitionStop, then removes all sources, following
// spec.md §4.6 "On stop the session iterates live devices and invokes each
// driver's acquisition_stop, then removes all sources."
func (s *Session) RequestStop() {
	s.mu.Lock()
	devices := make([]*boundDevice, 0, len(s.devices))
	for _, bd := range s.devices {
		devices = append(devices, bd)
	}
	s.mu.Unlock()

	for _, bd := range devices {
		if err := bd.driver.AcquisitionStop(bd.dev); err != nil {
			s.lc.Warn(fmt.Sprintf("session %s: stop %s: %v", s.id, bd.dev.Conn, err))
		}
	}

	s.housekeeping.Stop()

	s.mu.Lock()
	s.sources = nil
	s.lastFired = make(map[*Source]time.Time)
	s.stopRequested = true
	s.mu.Unlock()
}

func smallestTimeout(sources []*Source) time.Duration {
	sorted := append([]*Source(nil), sources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimeoutMsec < sorted[j].TimeoutMsec })
	return time.Duration(sorted[0].TimeoutMsec) * time.Millisecond
}

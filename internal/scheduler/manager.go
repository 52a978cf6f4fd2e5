// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package scheduler runs named periodic jobs on cron schedules. It
// generalizes the teacher's schedule-event manager (one sync.Once-guarded
// cron.Cron, one name-to-EntryID map, add/remove/stop operations) from
// EdgeX ScheduleEvents pulled out of a cache to arbitrary housekeeping
// callbacks a session registers directly.
package scheduler

import (
	"fmt"
	"sync"

	robfigcron "gopkg.in/robfig/cron.v2"

	"github.com/circutor/instrument-sdk-go/internal/common"
)

// Manager owns one cron.Cron instance and the named jobs registered on it.
// The cron is started lazily, on the first AddJob call, the same way the
// teacher's StartScheduler deferred cr.Start() until schedule events
// existed to run.
type Manager struct {
	mu        sync.Mutex
	startOnce sync.Once

	lc       common.LoggingClient
	cr       *robfigcron.Cron
	entryMap map[string]robfigcron.EntryID
}

// NewManager returns a Manager with no jobs registered and its cron not yet
// started.
func NewManager(lc common.LoggingClient) *Manager {
	if lc == nil {
		lc = common.NewDefaultClient("scheduler")
	}
	return &Manager{lc: lc, entryMap: make(map[string]robfigcron.EntryID)}
}

func (m *Manager) ensureStarted() {
	m.startOnce.Do(func() {
		m.cr = robfigcron.New()
		m.cr.Start()
	})
}

// AddJob registers job under name to run on cronSpec. Registering two jobs
// under the same name is an error, mirroring AddScheduleEvent's duplicate
// check.
func (m *Manager) AddJob(name, cronSpec string, job func()) error {
	m.ensureStarted()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entryMap[name]; exists {
		return fmt.Errorf("housekeeping job %q already registered", name)
	}

	id, err := m.cr.AddFunc(cronSpec, job)
	if err != nil {
		return err
	}
	m.entryMap[name] = id
	m.lc.Info(fmt.Sprintf("registered housekeeping job %q on schedule %q", name, cronSpec))
	return nil
}

// RemoveJob cancels a previously registered job.
func (m *Manager) RemoveJob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.entryMap[name]
	if !ok {
		return fmt.Errorf("housekeeping job %q not registered", name)
	}
	m.cr.Remove(id)
	delete(m.entryMap, name)
	return nil
}

// Stop halts the underlying cron, if it was ever started. Safe to call even
// when no job was ever registered.
func (m *Manager) Stop() {
	m.mu.Lock()
	cr := m.cr
	m.mu.Unlock()

	if cr != nil {
		cr.Stop()
		m.lc.Info("stopped housekeeping scheduler")
	}
}

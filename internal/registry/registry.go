// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package registry is the process-wide driver registry and device lifecycle
// manager (spec.md §3/§4.4/§5): it holds one descriptor per registered
// driver, generalizing the teacher's single common.Driver package-global
// (internal/common/globalvars.go) into a read-mostly-locked map of many.
package registry

import (
	"fmt"
	"sync"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

// Registry is a process-wide, read-mostly-locked collection of driver
// descriptors. Exactly one instance lives for the life of the process
// (see New for tests, which may construct independent registries).
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{drivers: make(map[string]models.Driver)}
}

var global = New()

// Global returns the process-wide registry singleton.
func Global() *Registry { return global }

// Register adds drv to the registry and calls its Init. Registering two
// drivers under the same Name is a programming error.
func (r *Registry) Register(drv models.Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[drv.Name()]; exists {
		return models.NewError(models.KindInvalidArg, "Registry.Register", fmt.Errorf("driver %q already registered", drv.Name()))
	}
	if err := drv.Init(); err != nil {
		return err
	}
	r.drivers[drv.Name()] = drv
	return nil
}

// Unregister calls drv's Cleanup (which implicitly clears its devices) and
// removes it from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	drv, ok := r.drivers[name]
	if !ok {
		return models.NewError(models.KindInvalidArg, "Registry.Unregister", fmt.Errorf("driver %q not registered", name))
	}
	if err := drv.Cleanup(); err != nil {
		return err
	}
	delete(r.drivers, name)
	return nil
}

// Driver returns the registered driver with the given name.
func (r *Registry) Driver(name string) (models.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	drv, ok := r.drivers[name]
	return drv, ok
}

// Drivers enumerates all registered driver descriptors.
func (r *Registry) Drivers() []models.Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Driver, 0, len(r.drivers))
	for _, drv := range r.drivers {
		out = append(out, drv)
	}
	return out
}

// ScanAll calls Scan on every registered driver and aggregates the
// resulting device lists, letting a frontend enumerate every instrument on
// a host without knowing driver names up front. A single driver's scan
// error does not abort the others; it is recorded against that driver's
// name in the returned error map.
func (r *Registry) ScanAll(opts models.ScanOptions) ([]*models.Device, map[string]error) {
	r.mu.RLock()
	drivers := make([]models.Driver, 0, len(r.drivers))
	for _, drv := range r.drivers {
		drivers = append(drivers, drv)
	}
	r.mu.RUnlock()

	var devices []*models.Device
	errs := make(map[string]error)
	for _, drv := range drivers {
		found, err := drv.Scan(opts)
		if err != nil {
			errs[drv.Name()] = err
			continue
		}
		devices = append(devices, found...)
	}
	return devices, errs
}

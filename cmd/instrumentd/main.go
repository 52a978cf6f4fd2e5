// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// This package boots a process that registers every available driver
// family, scans for devices on the connections given on the command line,
// opens whatever it finds, and relays their data feeds to stdout until
// interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/circutor/instrument-sdk-go/internal/common"
	"github.com/circutor/instrument-sdk-go/internal/config"
	"github.com/circutor/instrument-sdk-go/internal/drivers/eload"
	"github.com/circutor/instrument-sdk-go/internal/drivers/scope"
	"github.com/circutor/instrument-sdk-go/internal/registry"
	"github.com/circutor/instrument-sdk-go/internal/session"
	"github.com/circutor/instrument-sdk-go/pkg/models"
)

func main() {
	var profile, confDir, scopeConn, eloadConn string

	flag.StringVar(&profile, "profile", "", "Specify a profile other than default.")
	flag.StringVar(&profile, "p", "", "Specify a profile other than default.")
	flag.StringVar(&confDir, "confdir", "", "Specify an alternate configuration directory.")
	flag.StringVar(&confDir, "c", "", "Specify an alternate configuration directory.")
	flag.StringVar(&scopeConn, "scope-conn", "", "Serial device path to scan for an oscilloscope.")
	flag.StringVar(&eloadConn, "eload-conn", "", "Serial device path to scan for an electronic load.")
	flag.Parse()

	if err := run(profile, confDir, scopeConn, eloadConn); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(profile, confDir, scopeConn, eloadConn string) error {
	cfg, err := config.LoadConfig(profile, confDir)
	if err != nil {
		return err
	}

	logOut := os.Stderr
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	lc := common.NewClient(cfg.Service.Name, logOut, logLevelFor(cfg.Logging.Level))
	lc.Info(fmt.Sprintf("starting %s %s", cfg.Service.Name, cfg.Service.Version))

	reg := registry.Global()
	if err := reg.Register(scope.New(lc)); err != nil {
		return err
	}
	if err := reg.Register(eload.New(lc)); err != nil {
		return err
	}

	sess := session.New(lc)
	if err := sess.AddHousekeepingJob("registered-driver-count", "@every 1m", func() {
		lc.Info(fmt.Sprintf("session %s: %d driver(s) registered", sess.ID(), len(reg.Drivers())))
	}); err != nil {
		return err
	}

	if scopeConn != "" {
		if err := scanOpenAndStream(reg, sess, lc, "hameg-hmo", scopeConn); err != nil {
			lc.Error(fmt.Sprintf("scope scan on %s: %v", scopeConn, err))
		}
	}
	if eloadConn != "" {
		if err := scanOpenAndStream(reg, sess, lc, "generic-eload", eloadConn); err != nil {
			lc.Error(fmt.Sprintf("eload scan on %s: %v", eloadConn, err))
		}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- sess.Run() }()

	select {
	case sig := <-ch:
		lc.Info(fmt.Sprintf("exiting on %s signal", sig))
		sess.RequestStop()
		<-done
	case err := <-done:
		return err
	}
	return nil
}

// scanOpenAndStream drives one driver's scan→open→acquire lifecycle and
// binds the resulting device into sess so the session's single-owner
// enforcement and reentrant stop handling cover it.
func scanOpenAndStream(reg *registry.Registry, sess *session.Session, lc common.LoggingClient, driverName, conn string) error {
	drv, ok := reg.Driver(driverName)
	if !ok {
		return fmt.Errorf("driver %q not registered", driverName)
	}

	devices, err := drv.Scan(models.ScanOptions{Conn: conn})
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("no device found on %s", conn)
	}

	for _, dev := range devices {
		if err := drv.DevOpen(dev); err != nil {
			return err
		}
		if err := sess.BindDevice(dev, drv); err != nil {
			return err
		}

		d := dev
		cb := func(dev *models.Device, pkt models.Packet) {
			logPacket(lc, d, pkt)
		}
		if err := drv.AcquisitionStart(dev, cb, sess.AddSource); err != nil {
			return err
		}
		lc.Info(fmt.Sprintf("%s: acquisition started on %s %s (%s)", driverName, dev.Vendor, dev.Model, dev.Conn))
	}
	return nil
}

func logPacket(lc common.LoggingClient, dev *models.Device, pkt models.Packet) {
	switch pkt.Kind {
	case models.PacketAnalog:
		lc.Debug(fmt.Sprintf("%s: analog samples=%d mq=%d", dev.Conn, pkt.Analog.NumSamples, pkt.Analog.MQ))
	case models.PacketLogic:
		lc.Debug(fmt.Sprintf("%s: logic bytes=%d", dev.Conn, len(pkt.Logic.Data)))
	case models.PacketMeta:
		lc.Debug(fmt.Sprintf("%s: meta update (%d keys)", dev.Conn, len(pkt.Meta)))
	case models.PacketEnd:
		lc.Info(fmt.Sprintf("%s: acquisition ended", dev.Conn))
	}
}

func logLevelFor(level string) common.LogLevel {
	switch level {
	case "DEBUG":
		return common.LogDebug
	case "WARN":
		return common.LogWarn
	case "ERROR":
		return common.LogError
	default:
		return common.LogInfo
	}
}

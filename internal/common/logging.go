// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// LogLevel orders the severities a LoggingClient accepts, from most to
// least verbose.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "DEBUG"
	case LogInfo:
		return "INFO"
	case LogWarn:
		return "WARN"
	case LogError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func parseLogLevel(s string) LogLevel {
	switch s {
	case "DEBUG":
		return LogDebug
	case "WARN":
		return LogWarn
	case "ERROR":
		return LogError
	default:
		return LogInfo
	}
}

// LoggingClient is the structured logging contract every package in this
// module logs through, mirroring the teacher's logger.LoggingClient
// package-global (internal/common/globalvars.go's LoggingClient field).
// There is no remote logging target in this module's scope (no Non-goal
// exempts logging itself, but there is also no remote service to ship to);
// the client here always writes to a local io.Writer.
type LoggingClient interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	SetLogLevel(level LogLevel)
}

type client struct {
	mu    sync.Mutex
	level LogLevel
	out   *log.Logger
}

// NewClient builds a LoggingClient writing to w, filtering anything below
// minLevel. Following initializeLoggingClient's local-file branch: EdgeX's
// remote-vs-local target switch is dropped since no remote logging service
// exists in this module's scope.
func NewClient(serviceName string, w io.Writer, minLevel LogLevel) LoggingClient {
	return &client{
		level: minLevel,
		out:   log.New(w, fmt.Sprintf("[%s] ", serviceName), log.LstdFlags|log.Lmicroseconds),
	}
}

// NewDefaultClient builds a LoggingClient writing to stderr at LogInfo.
func NewDefaultClient(serviceName string) LoggingClient {
	return NewClient(serviceName, os.Stderr, LogInfo)
}

func (c *client) log(level LogLevel, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level < c.level {
		return
	}
	c.out.Printf("%s %s", level, msg)
}

func (c *client) Debug(msg string) { c.log(LogDebug, msg) }
func (c *client) Info(msg string)  { c.log(LogInfo, msg) }
func (c *client) Warn(msg string)  { c.log(LogWarn, msg) }
func (c *client) Error(msg string) { c.log(LogError, msg) }

func (c *client) SetLogLevel(level LogLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = level
}

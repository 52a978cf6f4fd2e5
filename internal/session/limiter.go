// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package session

import "time"

// Limiter is the shared helper spec.md §4.6 describes: it tracks
// samples-seen, start-time, limit-samples, and limit-msec, and tells the
// driver after each sample submission whether the acquisition should stop.
// A zero limit means "no bound" for that dimension.
type Limiter struct {
	limitSamples uint64
	limitMsec    uint64
	samplesSeen  uint64
	startedAt    time.Time
}

// NewLimiter starts a limiter's clock immediately; call it at
// acquisition_start time.
func NewLimiter(limitSamples, limitMsec uint64) *Limiter {
	return &Limiter{
		limitSamples: limitSamples,
		limitMsec:    limitMsec,
		startedAt:    time.Now(),
	}
}

// Submit records n newly-delivered samples and reports whether the
// acquisition should stop as a result (testable property 7: limit-samples
// stops with fewer than L + one-frame-worth samples delivered).
func (l *Limiter) Submit(n uint64) bool {
	l.samplesSeen += n
	return l.ShouldStop()
}

// ShouldStop reports whether either bound has been reached without
// recording any new samples; used by pollers that want to check the
// time bound between sample submissions.
func (l *Limiter) ShouldStop() bool {
	if l.limitSamples > 0 && l.samplesSeen >= l.limitSamples {
		return true
	}
	if l.limitMsec > 0 && uint64(time.Since(l.startedAt)/time.Millisecond) >= l.limitMsec {
		return true
	}
	return false
}

// SamplesSeen returns the running sample count.
func (l *Limiter) SamplesSeen() uint64 { return l.samplesSeen }

// Elapsed returns the time since the limiter started.
func (l *Limiter) Elapsed() time.Duration { return time.Since(l.startedAt) }

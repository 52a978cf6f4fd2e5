// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterStopsAtSampleBound(t *testing.T) {
	l := NewLimiter(100, 0)
	stop := false
	for i := 0; i < 11 && !stop; i++ {
		stop = l.Submit(10)
	}
	assert.True(t, stop)
	assert.GreaterOrEqual(t, l.SamplesSeen(), uint64(100))
	assert.Less(t, l.SamplesSeen(), uint64(110))
}

func TestLimiterStopsAtTimeBound(t *testing.T) {
	l := NewLimiter(0, 1)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, l.ShouldStop())
}

func TestLimiterNoBoundNeverStops(t *testing.T) {
	l := NewLimiter(0, 0)
	assert.False(t, l.Submit(1_000_000))
}

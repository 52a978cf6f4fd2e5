// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobRejectsDuplicateName(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.AddJob("job-a", "@every 1h", func() {}))

	err := m.AddJob("job-a", "@every 1h", func() {})
	require.Error(t, err)

	m.Stop()
}

func TestAddJobRunsOnSchedule(t *testing.T) {
	m := NewManager(nil)
	var fired int32

	require.NoError(t, m.AddJob("ticker", "@every 50ms", func() {
		atomic.AddInt32(&fired, 1)
	}))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
}

func TestRemoveJobStopsFutureRuns(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.AddJob("one-shot", "@every 30ms", func() {}))
	require.NoError(t, m.RemoveJob("one-shot"))

	err := m.RemoveJob("one-shot")
	assert.Error(t, err)

	m.Stop()
}

func TestStopIsSafeWithoutAnyJob(t *testing.T) {
	m := NewManager(nil)
	m.Stop()
}

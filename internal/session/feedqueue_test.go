// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/instrument-sdk-go/pkg/models"
)

func TestFeedQueueAggregatesRunsUntilFlush(t *testing.T) {
	var packets []models.Packet
	q := NewFeedQueue(1, func(p models.Packet) { packets = append(packets, p) })

	q.Submit(0xFF, 10)
	assert.Empty(t, packets, "should not emit before Flush or chunk boundary")

	q.Flush()
	require.Len(t, packets, 1)
	assert.Equal(t, models.PacketLogic, packets[0].Kind)
	assert.EqualValues(t, 10, packets[0].Logic.Length)
}

func TestFeedQueueChunksAtBoundary(t *testing.T) {
	var packets []models.Packet
	q := NewFeedQueue(1, func(p models.Packet) { packets = append(packets, p) })

	q.Submit(0x01, maxChunkBytes+10)
	require.Len(t, packets, 1, "should have flushed one full chunk already")
	assert.EqualValues(t, maxChunkBytes, packets[0].Logic.Length)

	q.Flush()
	require.Len(t, packets, 2)
	assert.EqualValues(t, 10, packets[1].Logic.Length)
}

func TestFeedQueueFlushNoopWhenEmpty(t *testing.T) {
	called := false
	q := NewFeedQueue(1, func(p models.Packet) { called = true })
	q.Flush()
	assert.False(t, called)
}

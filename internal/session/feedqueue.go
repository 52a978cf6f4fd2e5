// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package session

import "github.com/circutor/instrument-sdk-go/pkg/models"

// maxChunkBytes bounds the run-length chunk a FeedQueue aggregates before
// emitting a df-logic packet (spec.md §4.6: "bounded at 4 KiB").
const maxChunkBytes = 4096

// FeedQueue is the per (device, channel) FIFO described in spec.md §4.6: it
// aggregates consecutive identical samples into run-length chunks, used by
// drivers emitting logic signals with large runs of identical levels (e.g.
// digital-pod captures).
type FeedQueue struct {
	unitSize uint8
	emit     func(models.Packet)

	level byte
	run   int
	buf   []byte
}

// NewFeedQueue builds a queue that calls emit with a df-logic packet
// whenever a run-length chunk fills or Flush is called. unitSize is the
// number of bytes per sample (passed through to LogicData).
func NewFeedQueue(unitSize uint8, emit func(models.Packet)) *FeedQueue {
	return &FeedQueue{unitSize: unitSize, emit: emit}
}

// Submit appends count samples of the given level.
func (q *FeedQueue) Submit(level byte, count int) {
	for count > 0 {
		take := count
		if take > maxChunkBytes-len(q.buf) {
			take = maxChunkBytes - len(q.buf)
		}
		for i := 0; i < take; i++ {
			q.buf = append(q.buf, level)
		}
		count -= take
		if len(q.buf) >= maxChunkBytes {
			q.flushChunk()
		}
	}
}

func (q *FeedQueue) flushChunk() {
	if len(q.buf) == 0 {
		return
	}
	data := make([]byte, len(q.buf))
	copy(data, q.buf)
	q.emit(models.LogicPacket(&models.LogicData{
		Length:   uint32(len(data)),
		UnitSize: q.unitSize,
		Data:     data,
	}))
	q.buf = q.buf[:0]
}

// Flush forces any remaining buffered bytes out to the frontend.
func (q *FeedQueue) Flush() {
	q.flushChunk()
}

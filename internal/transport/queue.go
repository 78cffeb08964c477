// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transport

import (
	internal_type "github.com/interviewx/client/internal/type"
)

type queuedFrame struct {
	message     internal_type.Message
	coalesceKey string
}

// sendQueue holds frames issued while the connection is not open. It is
// bounded; on overflow the oldest half is discarded. Not safe for
// concurrent use, the client guards it.
type sendQueue struct {
	max    int
	frames []queuedFrame
}

func newSendQueue(max int) *sendQueue {
	if max < 2 {
		max = 2
	}
	return &sendQueue{max: max, frames: make([]queuedFrame, 0, max)}
}

// push appends f and returns how many frames were dropped to make room.
// A frame with a coalesce key replaces the queued frame carrying that key
// in place.
func (q *sendQueue) push(f queuedFrame) int {
	if f.coalesceKey != "" {
		for i := range q.frames {
			if q.frames[i].coalesceKey == f.coalesceKey {
				q.frames[i] = f
				return 0
			}
		}
	}
	dropped := 0
	if len(q.frames) >= q.max {
		dropped = len(q.frames) / 2
		q.frames = append(q.frames[:0:0], q.frames[dropped:]...)
	}
	q.frames = append(q.frames, f)
	return dropped
}

// take removes and returns every queued frame in enqueue order.
func (q *sendQueue) take() []queuedFrame {
	out := q.frames
	q.frames = make([]queuedFrame, 0, q.max)
	return out
}

// restore puts frames that could not be written back at the head.
func (q *sendQueue) restore(frames []queuedFrame) {
	q.frames = append(append([]queuedFrame(nil), frames...), q.frames...)
}

func (q *sendQueue) len() int { return len(q.frames) }

func (q *sendQueue) clear() { q.frames = q.frames[:0] }

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package event carries state machine events from the porting layer to
// the slave poll loop.
package event

import (
	"context"

	"github.com/ffutop/modbus-rtu-slave/modbus/rtu"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultCapacity is enough for one of each event plus slack.
const DefaultCapacity = 16

// Queue is a bounded multi-producer event queue. Post never blocks, so it
// is safe to call while holding the stack's critical section.
type Queue struct {
	q      *xsync.MPMCQueueOf[rtu.Event]
	notify chan struct{}
}

// NewQueue creates a queue holding up to capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		q:      xsync.NewMPMCQueueOf[rtu.Event](capacity),
		notify: make(chan struct{}, 1),
	}
}

// Post implements rtu.EventPoster. It reports false when the queue is full.
func (q *Queue) Post(ev rtu.Event) bool {
	if !q.q.TryEnqueue(ev) {
		return false
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// TryGet returns the next event without waiting.
func (q *Queue) TryGet() (rtu.Event, bool) {
	return q.q.TryDequeue()
}

// Get waits for the next event or for ctx to be done.
func (q *Queue) Get(ctx context.Context) (rtu.Event, error) {
	for {
		if ev, ok := q.q.TryDequeue(); ok {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-q.notify:
		}
	}
}

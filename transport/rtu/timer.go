// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"sync"
	"time"

	"github.com/ffutop/modbus-rtu-slave/modbus/rtu"
)

// Timer is a one-shot t3.5 timer backed by time.AfterFunc.
//
// Enable restarts the countdown. Each arm carries a generation so that an
// expiry racing with a restart or a Disable is dropped.
type Timer struct {
	fire func()

	mu      sync.Mutex
	timeout time.Duration
	gen     uint64
	t       *time.Timer
}

// NewTimer creates a timer. Bind must be called before Enable.
func NewTimer() *Timer {
	return &Timer{}
}

// Bind sets the expiry target, normally the stack's TimerExpired.
func (t *Timer) Bind(fire func()) {
	t.fire = fire
}

// Init implements rtu.Timer.
func (t *Timer) Init(ticks uint16) error {
	if ticks == 0 {
		return rtu.ErrPort
	}
	t.mu.Lock()
	t.timeout = time.Duration(ticks) * rtu.TickDuration
	t.mu.Unlock()
	return nil
}

// Timeout returns the configured countdown.
func (t *Timer) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

// Enable implements rtu.Timer.
func (t *Timer) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	if t.t != nil {
		t.t.Stop()
	}
	t.t = time.AfterFunc(t.timeout, func() { t.expire(gen) })
}

// Disable implements rtu.Timer.
func (t *Timer) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	current := gen == t.gen
	t.mu.Unlock()
	if current && t.fire != nil {
		t.fire()
	}
}

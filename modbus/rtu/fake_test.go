// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "errors"

type enableCall struct{ rx, tx bool }

// fakeSerial records what the stack does to the port.
type fakeSerial struct {
	configured *LineConfig
	configErr  error
	enables    []enableCall
	sent       []byte
	rejectPut  bool
	next       byte
	hasNext    bool
}

func (f *fakeSerial) Configure(cfg LineConfig) error {
	if f.configErr != nil {
		return f.configErr
	}
	f.configured = &cfg
	return nil
}

func (f *fakeSerial) Enable(rx, tx bool) { f.enables = append(f.enables, enableCall{rx, tx}) }

func (f *fakeSerial) PutByte(b byte) bool {
	if f.rejectPut {
		return false
	}
	f.sent = append(f.sent, b)
	return true
}

func (f *fakeSerial) GetByte() (byte, bool) {
	b, ok := f.next, f.hasNext
	f.hasNext = false
	return b, ok
}

func (f *fakeSerial) lastEnable() enableCall { return f.enables[len(f.enables)-1] }

type fakeTimer struct {
	ticks    uint16
	initErr  error
	running  bool
	restarts int
}

func (t *fakeTimer) Init(ticks uint16) error {
	if t.initErr != nil {
		return t.initErr
	}
	t.ticks = ticks
	return nil
}

func (t *fakeTimer) Enable() {
	t.running = true
	t.restarts++
}

func (t *fakeTimer) Disable() { t.running = false }

type eventLog struct {
	events []Event
	full   bool
}

func (l *eventLog) Post(ev Event) bool {
	if l.full {
		return false
	}
	l.events = append(l.events, ev)
	return true
}

var errHardware = errors.New("hardware fault")

type harness struct {
	serial *fakeSerial
	timer  *fakeTimer
	events *eventLog
	stack  *Stack
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		serial: &fakeSerial{},
		timer:  &fakeTimer{},
		events: &eventLog{},
	}
	h.stack = New(h.serial, h.timer, h.events, opts...)
	return h
}

// ready brings the stack to receiver idle as after the startup settle.
func (h *harness) ready() {
	h.stack.Start()
	h.stack.TimerExpired()
	h.events.events = nil
}

func (h *harness) feed(bs ...byte) {
	for _, b := range bs {
		h.serial.next, h.serial.hasNext = b, true
		h.stack.ByteReceived()
	}
}

// drain runs the transmitter until it returns to idle.
func (h *harness) drain() int {
	calls := 0
	for {
		_, tx := h.stack.States()
		if tx == TxIdle {
			return calls
		}
		h.stack.TransmitterEmpty()
		calls++
	}
}

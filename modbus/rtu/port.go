// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// LineConfig describes the serial line. Data bits are always 8.
type LineConfig struct {
	BaudRate int
	// Parity: N - None, E - Even, O - Odd
	Parity   string
	StopBits int
}

// Serial is the byte level view of a half-duplex serial port.
//
// Implementations must not call back into the Stack from Enable or
// PutByte; byte and transmitter-empty notifications are delivered from
// their own context through Stack.ByteReceived and Stack.TransmitterEmpty.
type Serial interface {
	// Configure applies the line settings. It is called once from Init.
	Configure(cfg LineConfig) error
	// Enable switches the receiver and transmitter on or off. Enabling the
	// transmitter arms the transmitter-empty notification.
	Enable(rx, tx bool)
	// PutByte queues one byte for transmission. It reports false if the
	// port could not accept it.
	PutByte(b byte) bool
	// GetByte returns the byte that raised the last receive notification.
	GetByte() (byte, bool)
}

// Timer is a one-shot timer with the frame timeout period.
//
// Expiry is delivered through Stack.TimerExpired. Enable restarts the
// period from zero; a running timer never fires for an earlier period.
type Timer interface {
	// Init sets the period in ticks of TickDuration.
	Init(ticks uint16) error
	Enable()
	Disable()
}

// EventPoster receives events from the state machines. Post must not block.
type EventPoster interface {
	Post(ev Event) bool
}

// PosterFunc adapts a function to EventPoster.
type PosterFunc func(ev Event) bool

func (f PosterFunc) Post(ev Event) bool { return f(ev) }

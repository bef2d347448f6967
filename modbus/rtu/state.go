// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// RxState is the state of the receive state machine.
type RxState uint8

const (
	// RxInit waits for the bus to stay quiet for t3.5 after Start.
	RxInit RxState = iota
	// RxIdle waits for the first byte of a frame.
	RxIdle
	// RxReceiving accumulates bytes until the bus goes quiet.
	RxReceiving
	// RxError swallows the rest of a frame that overflowed the buffer.
	RxError
)

func (s RxState) String() string {
	switch s {
	case RxInit:
		return "init"
	case RxIdle:
		return "idle"
	case RxReceiving:
		return "receiving"
	case RxError:
		return "error"
	default:
		return "unknown"
	}
}

// TxState is the state of the transmit state machine.
type TxState uint8

const (
	TxIdle TxState = iota
	TxTransmitting
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxTransmitting:
		return "transmitting"
	default:
		return "unknown"
	}
}

// Event is posted upward by the state machines.
type Event uint8

const (
	// EventReady is posted once the bus has been quiet for t3.5 after Start.
	EventReady Event = iota + 1
	// EventFrameReceived is posted when a frame closed on t3.5 silence.
	// The frame is not validated yet; call Receive.
	EventFrameReceived
	// EventFrameSent is posted after the last byte of a reply was accepted
	// by the port.
	EventFrameSent
)

func (e Event) String() string {
	switch e {
	case EventReady:
		return "ready"
	case EventFrameReceived:
		return "frame_received"
	case EventFrameSent:
		return "frame_sent"
	default:
		return "unknown"
	}
}

// Expiry names what a timer expiry means. The stack owns a single timer
// whose period is t3.5; restarting it on every byte makes the same timer
// detect both the startup settle and the end of a frame, so the meaning
// is decided only by the receiver state at the moment it fires.
type Expiry uint8

const (
	// ExpiryStartupSettled: fired in RxInit, the bus went quiet after Start.
	ExpiryStartupSettled Expiry = iota
	// ExpiryFrameComplete: fired in RxReceiving, the frame boundary.
	ExpiryFrameComplete
	// ExpiryErrorFlushed: fired in RxError, the broken frame is over.
	ExpiryErrorFlushed
	// ExpiryIdleRefresh: fired in RxIdle, nothing to do.
	ExpiryIdleRefresh
)

func expiryFor(s RxState) Expiry {
	switch s {
	case RxInit:
		return ExpiryStartupSettled
	case RxReceiving:
		return ExpiryFrameComplete
	case RxError:
		return ExpiryErrorFlushed
	default:
		return ExpiryIdleRefresh
	}
}

func (e Expiry) String() string {
	switch e {
	case ExpiryStartupSettled:
		return "startup_settled"
	case ExpiryFrameComplete:
		return "frame_complete"
	case ExpiryErrorFlushed:
		return "error_flushed"
	default:
		return "idle_refresh"
	}
}

// Mode is the system wide network mode.
type Mode int32

const (
	// ModeModbus runs the protocol stack normally.
	ModeModbus Mode = iota
	// ModePassThrough mirrors the secondary port onto the primary line.
	ModePassThrough
)

func (m Mode) String() string {
	switch m {
	case ModeModbus:
		return "modbus"
	case ModePassThrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "modbus":
		return ModeModbus, true
	case "passthrough", "pass-through":
		return ModePassThrough, true
	default:
		return ModeModbus, false
	}
}

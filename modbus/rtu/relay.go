// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// Relay forwards bytes received on a secondary port onto the primary
// port of a Stack while the system is in pass-through mode.
//
// A byte is forwarded only when the stack's receiver and transmitter are
// both idle. The primary port is claimed with a compare-and-swap flag for
// the duration of one PutByte; a byte arriving while the flag is held is
// dropped and counted in Metrics.RelayDropped.
type Relay struct {
	stack  *Stack
	source Serial
}

// NewRelay binds source to the primary port of stack.
func NewRelay(stack *Stack, source Serial) *Relay {
	return &Relay{stack: stack, source: source}
}

// ByteReceived is called by the secondary port for every received byte.
// It reports whether the byte was forwarded.
func (r *Relay) ByteReceived() bool {
	b, ok := r.source.GetByte()
	if !ok {
		return false
	}
	s := r.stack
	if s.Mode() != ModePassThrough {
		return false
	}
	if !s.relayOwned.CompareAndSwap(false, true) {
		s.Metrics.RelayDropped.Add(1)
		return false
	}
	defer s.relayOwned.Store(false)

	rx, tx := s.States()
	if rx != RxIdle || tx != TxIdle {
		s.Metrics.RelayDropped.Add(1)
		return false
	}
	if !s.serial.PutByte(b) {
		s.Metrics.RelayDropped.Add(1)
		return false
	}
	s.Metrics.RelayForwarded.Add(1)
	return true
}

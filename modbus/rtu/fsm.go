// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// ByteReceived is called by the porting layer for every received byte.
func (s *Stack) ByteReceived() {
	s.cs.Lock()
	defer s.cs.Unlock()

	b, ok := s.serial.GetByte()
	if !ok {
		return
	}
	s.Metrics.BytesReceived.Add(1)

	// The line is half duplex; anything heard while talking is our echo.
	if s.txState != TxIdle {
		s.Metrics.BytesDiscarded.Add(1)
		return
	}

	switch s.rxState {
	case RxInit:
		// Still waiting for the bus to settle after Start.
		s.Metrics.BytesDiscarded.Add(1)
		s.timer.Enable()
	case RxError:
		// Swallow until the frame ends.
		s.Metrics.BytesDiscarded.Add(1)
		s.timer.Enable()
	case RxIdle:
		s.rcvPos = 0
		s.buf[s.rcvPos] = b
		s.rcvPos++
		s.rxState = RxReceiving
		s.timer.Enable()
	case RxReceiving:
		if s.rcvPos < MaxSize {
			s.buf[s.rcvPos] = b
			s.rcvPos++
		} else {
			s.rxState = RxError
			s.Metrics.FramesOverrun.Add(1)
			s.Metrics.BytesDiscarded.Add(1)
		}
		s.timer.Enable()
	}
}

// TransmitterEmpty is called by the porting layer whenever the port can
// take another byte while the transmitter is enabled.
func (s *Stack) TransmitterEmpty() {
	s.cs.Lock()
	defer s.cs.Unlock()

	switch s.txState {
	case TxIdle:
		// Nothing to send; fall back to listening.
		s.serial.Enable(true, false)
	case TxTransmitting:
		if s.sndCount != 0 {
			if s.serial.PutByte(s.buf[s.sndPos]) {
				s.sndPos++
				s.sndCount--
			}
			return
		}
		s.Metrics.FramesSent.Add(1)
		s.post(EventFrameSent)
		s.serial.Enable(true, false)
		s.txState = TxIdle
	}
}

// TimerExpired is called by the porting layer when t3.5 elapsed since the
// last Enable of the timer.
func (s *Stack) TimerExpired() {
	s.cs.Lock()
	defer s.cs.Unlock()

	expiry := expiryFor(s.rxState)
	switch expiry {
	case ExpiryStartupSettled:
		s.post(EventReady)
	case ExpiryFrameComplete:
		s.post(EventFrameReceived)
	case ExpiryErrorFlushed, ExpiryIdleRefresh:
	}
	s.timer.Disable()
	s.rxState = RxIdle
}

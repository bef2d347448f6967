// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the Modbus RTU serial line framing: the receive
// and transmit state machines, frame validation and the pass-through
// relay of a secondary port.
//
// The state machines are driven by three notifications that the porting
// layer delivers from its own context: ByteReceived, TransmitterEmpty and
// TimerExpired. Frames are delimited by t3.5 of bus silence, detected by a
// single timer that every received byte restarts.
package rtu

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ffutop/modbus-rtu-slave/modbus/crc"
)

// Stack is one RTU protocol stack bound to one serial port and one timer.
type Stack struct {
	serial Serial
	timer  Timer
	events EventPoster
	cs     sync.Locker
	logger *slog.Logger

	line    LineConfig
	ticks   uint16
	started bool

	rxState RxState
	txState TxState

	// buf is shared by receive and transmit; the two never run at once.
	buf      [MaxSize]byte
	rcvPos   int
	sndPos   int
	sndCount int

	// frame holds the last frame handed out by Receive.
	frame [MaxSize]byte

	mode       atomic.Int32
	relayOwned atomic.Bool

	Metrics Metrics
}

// Option configures a Stack.
type Option func(*Stack)

// WithLocker sets the critical section guarding the state machines. It
// defaults to a private mutex.
func WithLocker(l sync.Locker) Option {
	return func(s *Stack) { s.cs = l }
}

// WithLogger sets the logger. It defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Stack) { s.logger = l }
}

// WithMode sets the initial network mode.
func WithMode(m Mode) Option {
	return func(s *Stack) { s.mode.Store(int32(m)) }
}

// New creates a stack over the given port, timer and event sink.
func New(serial Serial, timer Timer, events EventPoster, opts ...Option) *Stack {
	s := &Stack{
		serial:  serial,
		timer:   timer,
		events:  events,
		cs:      &sync.Mutex{},
		logger:  slog.Default(),
		rxState: RxInit,
		txState: TxIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init configures the serial port and arms the timer with t3.5 for the
// line settings. Any failure is reported as ErrPort.
func (s *Stack) Init(line LineConfig) error {
	s.cs.Lock()
	defer s.cs.Unlock()

	if s.started {
		return fmt.Errorf("%w: init while started", ErrIllegalState)
	}
	ticks, err := TimeoutTicks(line.BaudRate, line.Parity, line.StopBits)
	if err != nil {
		return err
	}
	if err := s.serial.Configure(line); err != nil {
		return fmt.Errorf("%w: serial: %v", ErrPort, err)
	}
	if err := s.timer.Init(ticks); err != nil {
		return fmt.Errorf("%w: timer: %v", ErrPort, err)
	}
	s.line = line
	s.ticks = ticks
	s.logger.Debug("rtu stack initialised",
		"baud", line.BaudRate, "parity", line.Parity, "stop_bits", line.StopBits,
		"t35", TimeoutDuration(ticks))
	return nil
}

// Start enables the receiver and waits for t3.5 of silence before the
// stack reports EventReady.
func (s *Stack) Start() {
	s.cs.Lock()
	defer s.cs.Unlock()

	s.rxState = RxInit
	s.txState = TxIdle
	s.rcvPos = 0
	s.started = true
	s.serial.Enable(true, false)
	s.timer.Enable()
}

// Stop disables the port and the timer.
func (s *Stack) Stop() {
	s.cs.Lock()
	defer s.cs.Unlock()

	s.serial.Enable(false, false)
	s.timer.Disable()
	s.started = false
}

// Receive validates the frame closed by the last EventFrameReceived and
// returns its address and PDU. The PDU is valid until the next call to
// Receive.
func (s *Stack) Receive() (addr byte, pdu []byte, err error) {
	s.cs.Lock()
	defer s.cs.Unlock()

	n := s.rcvPos
	if n < MinSize {
		s.Metrics.FramesInvalid.Add(1)
		return 0, nil, fmt.Errorf("%w: short frame of %d bytes", ErrFrame, n)
	}
	if !crc.Valid(s.buf[:n]) {
		s.Metrics.FramesInvalid.Add(1)
		return 0, nil, fmt.Errorf("%w: crc mismatch", ErrFrame)
	}
	copy(s.frame[:n], s.buf[:n])
	s.Metrics.FramesReceived.Add(1)
	return s.frame[AddressOffset], s.frame[PDUOffset : n-CRCSize], nil
}

// Send frames pdu with addr and the CRC and starts transmission. It fails
// with ErrBusy unless both state machines are idle.
func (s *Stack) Send(addr byte, pdu []byte) error {
	s.cs.Lock()
	defer s.cs.Unlock()

	if s.rxState != RxIdle || s.txState != TxIdle || s.relayOwned.Load() {
		s.Metrics.SendsRejected.Add(1)
		return fmt.Errorf("%w: receiver %s, transmitter %s", ErrBusy, s.rxState, s.txState)
	}
	n := 1 + len(pdu)
	if n+CRCSize > MaxSize || len(pdu) == 0 {
		return fmt.Errorf("%w: pdu of %d bytes", ErrInvalid, len(pdu))
	}

	copy(s.buf[PDUOffset:], pdu)
	s.buf[AddressOffset] = addr
	sum := crc.Checksum(s.buf[:n])
	s.buf[n] = byte(sum)
	s.buf[n+1] = byte(sum >> 8)

	s.sndPos = 0
	s.sndCount = n + CRCSize
	s.txState = TxTransmitting
	s.serial.Enable(false, true)
	return nil
}

// SetMode switches the network mode.
func (s *Stack) SetMode(m Mode) {
	if Mode(s.mode.Swap(int32(m))) != m {
		s.logger.Info("network mode changed", "mode", m)
	}
}

// Mode returns the current network mode.
func (s *Stack) Mode() Mode {
	return Mode(s.mode.Load())
}

// States returns the receiver and transmitter states.
func (s *Stack) States() (RxState, TxState) {
	s.cs.Lock()
	defer s.cs.Unlock()
	return s.rxState, s.txState
}

// Timeout returns the configured t3.5 in ticks.
func (s *Stack) Timeout() uint16 {
	s.cs.Lock()
	defer s.cs.Unlock()
	return s.ticks
}

func (s *Stack) post(ev Event) {
	if s.events == nil || !s.events.Post(ev) {
		s.Metrics.EventsDropped.Add(1)
		s.logger.Warn("rtu event dropped", "event", ev)
	}
}

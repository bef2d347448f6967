// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu binds the RTU protocol stack to a host serial device and a
// host timer.
package rtu

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-rtu-slave/internal/config"
	"github.com/ffutop/modbus-rtu-slave/internal/event"
	"github.com/ffutop/modbus-rtu-slave/modbus/rtu"
)

// Server is the slave side of one serial bus: the primary port, its frame
// timer, the protocol stack driving them and the event queue it posts to.
// An optional relay port mirrors a second bus onto the primary one in
// pass-through mode.
type Server struct {
	Config config.SerialConfig

	Port   *Port
	Timer  *Timer
	Stack  *rtu.Stack
	Events *event.Queue

	relay     *Port
	relayPipe *rtu.Relay
	logger    *slog.Logger
}

// NewServer creates the port, timer, queue and stack for cfg. Nothing is
// opened until the stack is initialized.
func NewServer(cfg config.SerialConfig, logger *slog.Logger, opts ...rtu.Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Config: cfg,
		Port:   NewPort(cfg),
		Timer:  NewTimer(),
		Events: event.NewQueue(event.DefaultCapacity),
		logger: logger,
	}
	s.Port.logger = logger

	opts = append([]rtu.Option{rtu.WithLogger(logger)}, opts...)
	s.Stack = rtu.New(s.Port, s.Timer, s.Events, opts...)
	s.Port.Bind(func() { s.Stack.ByteReceived() }, func() { s.Stack.TransmitterEmpty() })
	s.Timer.Bind(func() { s.Stack.TimerExpired() })
	return s
}

// Line returns the line settings the stack is initialized with.
func (s *Server) Line() rtu.LineConfig {
	return rtu.LineConfig{
		BaudRate: s.Config.BaudRate,
		Parity:   s.Config.Parity,
		StopBits: s.Config.StopBits,
	}
}

// AttachRelay opens the secondary port and forwards its bytes to the
// primary port while the stack is in pass-through mode.
func (s *Server) AttachRelay(cfg config.SerialConfig) error {
	if s.relay != nil {
		return rtu.ErrIllegalState
	}
	p := NewPort(cfg)
	p.logger = s.logger
	s.relayPipe = rtu.NewRelay(s.Stack, p)
	p.Bind(func() { s.relayPipe.ByteReceived() }, nil)
	if err := p.Connect(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	p.Enable(true, false)
	s.relay = p
	s.logger.Info("relay attached", "device", cfg.Device)
	return nil
}

// Close stops the stack and closes the ports.
func (s *Server) Close() error {
	s.Stack.Stop()
	s.Timer.Disable()
	var errs []error
	if s.relay != nil {
		errs = append(errs, s.relay.Close())
	}
	errs = append(errs, s.Port.Close())
	return errors.Join(errs...)
}

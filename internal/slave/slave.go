// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave is the task side of the RTU stack: it waits for stack
// events, validates and filters received frames, dispatches requests to
// function handlers and sends the replies.
package slave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/regmap"
	"github.com/ffutop/modbus-rtu-slave/modbus"
	"github.com/ffutop/modbus-rtu-slave/modbus/rtu"
	"github.com/ffutop/modbus-rtu-slave/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrNoResources is returned when a fixed size resource is exhausted.
	ErrNoResources = errors.New("modbus: insufficient resources")
)

// MaxHandlers bounds the number of registered function codes.
const MaxHandlers = 16

// Stack is the part of rtu.Stack the slave drives.
type Stack interface {
	Init(line rtu.LineConfig) error
	Start()
	Stop()
	Receive() (addr byte, pdu []byte, err error)
	Send(addr byte, pdu []byte) error
	Mode() rtu.Mode
}

// Events delivers stack events.
type Events interface {
	Get(ctx context.Context) (rtu.Event, error)
}

// Observer is told about every request the slave answered.
type Observer interface {
	RequestHandled(slaveID byte, req, resp modbus.ProtocolDataUnit)
}

type state int

const (
	stateNotInitialized state = iota
	stateDisabled
	stateEnabled
)

// Config holds the identity of the slave.
type Config struct {
	// Addresses the slave answers to. The first one also serves broadcasts.
	Addresses []byte
	// ID, Running and Additional make up the Report Slave ID response.
	ID         byte
	Running    bool
	Additional []byte
}

// Slave answers requests for one or more slave addresses.
type Slave struct {
	stack    Stack
	events   Events
	model    *model.DataModel
	maps     *regmap.Registry
	handlers *xsync.MapOf[byte, transport.RequestHandler]
	observer Observer
	logger   *slog.Logger

	addresses map[byte]struct{}
	primary   byte

	mu      sync.Mutex
	state   state
	slaveID []byte
}

// Option configures a Slave.
type Option func(*Slave)

func WithLogger(l *slog.Logger) Option {
	return func(s *Slave) { s.logger = l }
}

func WithObserver(o Observer) Option {
	return func(s *Slave) { s.observer = o }
}

// New creates a slave over stack and events, serving data from m through
// the register maps in maps. The default handlers are registered.
func New(cfg Config, stack Stack, events Events, m *model.DataModel, maps *regmap.Registry, opts ...Option) (*Slave, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("%w: no slave address", rtu.ErrInvalid)
	}
	s := &Slave{
		stack:     stack,
		events:    events,
		model:     m,
		maps:      maps,
		handlers:  xsync.NewMapOf[byte, transport.RequestHandler](),
		logger:    slog.Default(),
		addresses: make(map[byte]struct{}, len(cfg.Addresses)),
		primary:   cfg.Addresses[0],
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, a := range cfg.Addresses {
		if a < rtu.MinSlaveAddress || a > rtu.MaxSlaveAddress {
			return nil, fmt.Errorf("%w: slave address %d", rtu.ErrInvalid, a)
		}
		s.addresses[a] = struct{}{}
	}
	if err := s.SetSlaveID(cfg.ID, cfg.Running, cfg.Additional); err != nil {
		return nil, err
	}
	s.registerDefaults()
	return s, nil
}

// Init configures the stack for line. It is valid only before the first
// Init or after Close.
func (s *Slave) Init(line rtu.LineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateNotInitialized {
		return fmt.Errorf("%w: already initialised", rtu.ErrIllegalState)
	}
	if err := s.stack.Init(line); err != nil {
		return err
	}
	s.state = stateDisabled
	return nil
}

// Enable starts the stack.
func (s *Slave) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateDisabled {
		return fmt.Errorf("%w: enable", rtu.ErrIllegalState)
	}
	s.stack.Start()
	s.state = stateEnabled
	return nil
}

// Disable stops the stack. Disabling a disabled slave is a no-op.
func (s *Slave) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateEnabled:
		s.stack.Stop()
		s.state = stateDisabled
		return nil
	case stateDisabled:
		return nil
	default:
		return fmt.Errorf("%w: disable", rtu.ErrIllegalState)
	}
}

// Close releases the stack. The slave must be disabled.
func (s *Slave) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateDisabled {
		return fmt.Errorf("%w: close", rtu.ErrIllegalState)
	}
	s.state = stateNotInitialized
	return nil
}

func (s *Slave) enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateEnabled
}

// Run polls until ctx is done.
func (s *Slave) Run(ctx context.Context) error {
	for {
		if err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Poll waits for one stack event and handles it.
func (s *Slave) Poll(ctx context.Context) error {
	if !s.enabled() {
		return fmt.Errorf("%w: poll while not enabled", rtu.ErrIllegalState)
	}
	ev, err := s.events.Get(ctx)
	if err != nil {
		return err
	}
	if s.stack.Mode() != rtu.ModeModbus {
		// The line belongs to the relay.
		return nil
	}

	switch ev {
	case rtu.EventReady:
		s.logger.Debug("rtu stack ready")
	case rtu.EventFrameReceived:
		s.serveFrame(ctx)
	case rtu.EventFrameSent:
		s.logger.Debug("rtu frame sent")
	}
	return nil
}

func (s *Slave) serveFrame(ctx context.Context) {
	addr, raw, err := s.stack.Receive()
	if err != nil {
		s.logger.Debug("rtu frame discarded", "err", err)
		return
	}
	if !s.Accepts(addr) {
		return
	}

	req := modbus.ProtocolDataUnit{FunctionCode: raw[0], Data: raw[1:]}
	resp, err := s.Process(ctx, addr, req)
	if err != nil {
		s.logger.Error("request failed", "slave_id", addr, "function", req.FunctionCode, "err", err)
		return
	}
	if addr == rtu.BroadcastAddress {
		return
	}
	if err := s.stack.Send(addr, resp.Bytes()); err != nil {
		s.logger.Warn("reply not sent", "slave_id", addr, "function", req.FunctionCode, "err", err)
	}
}

// Accepts reports whether the slave answers requests sent to addr. The
// broadcast address is always accepted.
func (s *Slave) Accepts(addr byte) bool {
	if addr == rtu.BroadcastAddress {
		return true
	}
	_, ok := s.addresses[addr]
	return ok
}

// Process dispatches req to the handler of its function code. It is a
// transport.RequestHandler and is shared with non-serial upstreams.
func (s *Slave) Process(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	handler, ok := s.handlers.Load(req.FunctionCode)
	if !ok {
		resp := modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
		s.observe(slaveID, req, resp)
		return resp, nil
	}

	resp, err := handler(ctx, slaveID, req)
	if err != nil {
		var mbErr *modbus.ModbusError
		if errors.As(err, &mbErr) {
			resp = modbus.NewException(req.FunctionCode, mbErr.ExceptionCode)
		} else {
			s.logger.Warn("handler failed", "slave_id", slaveID, "function", req.FunctionCode, "err", err)
			resp = modbus.NewException(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
		}
	}
	s.observe(slaveID, req, resp)
	return resp, nil
}

func (s *Slave) observe(slaveID byte, req, resp modbus.ProtocolDataUnit) {
	if s.observer != nil {
		s.observer.RequestHandled(slaveID, req, resp)
	}
}

// Register installs handler for funcCode, replacing any previous one. A
// nil handler removes the function code.
func (s *Slave) Register(funcCode byte, handler transport.RequestHandler) error {
	if funcCode == 0 || funcCode&modbus.ExceptionFlag != 0 {
		return fmt.Errorf("%w: function code 0x%02X", rtu.ErrInvalid, funcCode)
	}
	if handler == nil {
		s.handlers.Delete(funcCode)
		return nil
	}
	if _, exists := s.handlers.Load(funcCode); !exists && s.handlers.Size() >= MaxHandlers {
		return fmt.Errorf("%w: %d handlers registered", ErrNoResources, MaxHandlers)
	}
	s.handlers.Store(funcCode, handler)
	return nil
}

// Model returns the data model served by the slave.
func (s *Slave) Model() *model.DataModel {
	return s.model
}

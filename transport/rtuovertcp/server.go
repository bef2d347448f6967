// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp serves RTU frames carried over TCP so the slave can
// be exercised without a serial line.
package rtuovertcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/modbus-rtu-slave/modbus"
	rtupacket "github.com/ffutop/modbus-rtu-slave/modbus/rtu"
	"github.com/ffutop/modbus-rtu-slave/transport"
)

// fullHeader covers the byte count of the write-multiple requests.
const fullHeader = 7

// Server implements a Modbus RTU over TCP Server.
// Each connection is a stream of RTU request frames.
type Server struct {
	Address string
	// Accepts filters slave addresses; nil accepts every address.
	Accepts func(addr byte) bool
	Logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

var _ transport.Upstream = (*Server)(nil)

// NewServer creates a new RTU over TCP Server.
func NewServer(address string, accepts func(addr byte) bool) *Server {
	return &Server{
		Address: address,
		Accepts: accepts,
		Logger:  slog.Default(),
	}
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.Logger.Info("RTU over TCP server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConnection(ctx, conn, handler)
	}
}

// Addr returns the listening address once Start is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		err := s.listener.Close()
		s.listener = nil
		return err
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.RequestHandler) {
	defer conn.Close()
	s.Logger.Debug("RTU over TCP client connected", "addr", conn.RemoteAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, rtupacket.MaxSize)
	for {
		frame, err := readFrame(conn, buf)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.Logger.Warn("RTU over TCP connection dropped", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}

		adu, err := rtupacket.Decode(frame)
		if err != nil {
			s.Logger.Warn("RTU frame decode failed", "err", err)
			continue
		}
		if s.Accepts != nil && !s.Accepts(adu.SlaveID) {
			continue
		}

		resp, err := handler(ctx, adu.SlaveID, adu.Pdu)
		if err != nil {
			s.Logger.Error("Handler failed", "err", err)
			continue
		}
		if adu.SlaveID == rtupacket.BroadcastAddress {
			continue
		}

		respAdu := &rtupacket.ApplicationDataUnit{SlaveID: adu.SlaveID, Pdu: resp}
		raw, err := respAdu.Encode()
		if err != nil {
			s.Logger.Error("Failed to encode response", "err", err)
			continue
		}
		if _, err := conn.Write(raw); err != nil {
			s.Logger.Warn("Failed to write response", "err", err)
			return
		}
	}
}

// readFrame reads one request frame into buf. Unknown function codes and
// oversized frames end the stream since the frame boundary is lost.
func readFrame(r io.Reader, buf []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return nil, err
	}
	current := 2
	expected, err := rtupacket.CalculateRequestLength(buf[1], buf[:current])
	if err != nil && (buf[1] == modbus.FuncCodeWriteMultipleCoils || buf[1] == modbus.FuncCodeWriteMultipleRegisters) {
		if _, err := io.ReadFull(r, buf[current:fullHeader]); err != nil {
			return nil, err
		}
		current = fullHeader
		expected, err = rtupacket.CalculateRequestLength(buf[1], buf[:current])
	}
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, buf[current:expected]); err != nil {
		return nil, err
	}
	return buf[:expected], nil
}

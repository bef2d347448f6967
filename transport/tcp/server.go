// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp serves Modbus TCP requests from the slave's handlers.
package tcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/modbus-rtu-slave/transport"
)

// Server implements a Modbus TCP Server.
type Server struct {
	Address string
	// Accepts filters unit identifiers; nil accepts every unit.
	Accepts func(unit byte) bool
	Logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

var _ transport.Upstream = (*Server)(nil)

// NewServer creates a new TCP Server.
func NewServer(address string, accepts func(unit byte) bool) *Server {
	return &Server{
		Address: address,
		Accepts: accepts,
		Logger:  slog.Default(),
	}
}

// Start starts the TCP server.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.Logger.Info("Modbus TCP server listening", "addr", listener.Addr())

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
	s.Logger.Debug("TCP client connected", "addr", conn.RemoteAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, tcpMaxSize)
	for {
		if _, err := io.ReadFull(conn, buf[:headerSize]); err != nil {
			if err == io.EOF {
				s.Logger.Debug("TCP client disconnected", "addr", conn.RemoteAddr())
			} else if ctx.Err() == nil {
				s.Logger.Warn("Failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
		adu, pduLen, err := decodeHeader(buf[:headerSize])
		if err != nil {
			// The stream cannot be resynchronised.
			s.Logger.Warn("Invalid MBAP header", "addr", conn.RemoteAddr(), "err", err)
			return
		}
		if _, err := io.ReadFull(conn, buf[headerSize:headerSize+pduLen]); err != nil {
			return
		}
		adu.Pdu.FunctionCode = buf[headerSize]
		adu.Pdu.Data = buf[headerSize+1 : headerSize+pduLen]

		if s.Accepts != nil && !s.Accepts(adu.SlaveID) {
			continue
		}

		respPdu, err := handler(ctx, adu.SlaveID, adu.Pdu)
		if err != nil {
			s.Logger.Error("Handler failed", "err", err)
			continue
		}

		respAdu := &ApplicationDataUnit{
			TransactionID: adu.TransactionID,
			ProtocolID:    adu.ProtocolID,
			SlaveID:       adu.SlaveID,
			Pdu:           respPdu,
		}
		respRaw, err := respAdu.Encode()
		if err != nil {
			s.Logger.Error("Failed to encode TCP response", "err", err)
			continue
		}
		if _, err := conn.Write(respRaw); err != nil {
			s.Logger.Warn("Failed to write response to connection", "err", err)
			return
		}
	}
}

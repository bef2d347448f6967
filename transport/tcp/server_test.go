// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package tcp

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ffutop/modbus-rtu-slave/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(transID uint16, unit byte, pdu []byte) []byte {
	raw := make([]byte, headerSize+len(pdu))
	binary.BigEndian.PutUint16(raw[0:], transID)
	binary.BigEndian.PutUint16(raw[2:], 0)
	binary.BigEndian.PutUint16(raw[4:], uint16(1+len(pdu)))
	raw[6] = unit
	copy(raw[7:], pdu)
	return raw
}

func startServer(t *testing.T, accepts func(byte) bool) net.Conn {
	t.Helper()
	s := NewServer("127.0.0.1:0", accepts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		switch pdu.FunctionCode {
		case modbus.FuncCodeReadHoldingRegisters:
			return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0xAA, slaveID}}, nil
		case modbus.FuncCodeWriteMultipleRegisters:
			return modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: pdu.Data[:4]}, nil
		}
		return modbus.NewException(pdu.FunctionCode, modbus.ExceptionCodeIllegalFunction), nil
	}
	go func() {
		if err := s.Start(ctx, handler); err != nil {
			t.Logf("Server stopped: %v", err)
		}
	}()
	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func readResponse(t *testing.T, conn net.Conn) *ApplicationDataUnit {
	t.Helper()
	header := make([]byte, headerSize)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)
	n := binary.BigEndian.Uint16(header[4:]) - 1
	body := make([]byte, n)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	adu, err := Decode(append(header, body...))
	require.NoError(t, err)
	return adu
}

func TestServer_Start_And_Handle(t *testing.T) {
	conn := startServer(t, nil)

	_, err := conn.Write(frame(123, 1, []byte{0x03, 0x00, 0x01, 0x00, 0x01}))
	require.NoError(t, err)
	resp := readResponse(t, conn)
	assert.Equal(t, uint16(123), resp.TransactionID)
	assert.Equal(t, byte(1), resp.SlaveID)
	assert.Equal(t, byte(0x03), resp.Pdu.FunctionCode)
	assert.Equal(t, []byte{0x02, 0xAA, 0x01}, resp.Pdu.Data)

	_, err = conn.Write(frame(124, 1, []byte{0x10, 0x00, 0x01, 0x00, 0x01, 0x02, 0x12, 0x34}))
	require.NoError(t, err)
	resp = readResponse(t, conn)
	assert.Equal(t, uint16(124), resp.TransactionID)
	assert.Equal(t, byte(0x10), resp.Pdu.FunctionCode)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x01}, resp.Pdu.Data)

	_, err = conn.Write(frame(125, 1, []byte{0x2B, 0x0E}))
	require.NoError(t, err)
	resp = readResponse(t, conn)
	assert.True(t, resp.Pdu.IsException())
}

func TestServer_FiltersUnits(t *testing.T) {
	conn := startServer(t, func(unit byte) bool { return unit == 7 })

	var stream []byte
	stream = append(stream, frame(1, 3, []byte{0x03, 0x00, 0x00, 0x00, 0x01})...)
	stream = append(stream, frame(2, 7, []byte{0x03, 0x00, 0x00, 0x00, 0x01})...)
	_, err := conn.Write(stream)
	require.NoError(t, err)

	resp := readResponse(t, conn)
	assert.Equal(t, uint16(2), resp.TransactionID)
	assert.Equal(t, byte(7), resp.SlaveID)
}

func TestServer_BadHeaderClosesConnection(t *testing.T) {
	conn := startServer(t, nil)

	raw := frame(1, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	binary.BigEndian.PutUint16(raw[2:], 5) // not modbus
	_, err := conn.Write(raw[:headerSize])
	require.NoError(t, err)

	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_LifeCycle(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx, func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
			return pdu, nil
		})
	}()
	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, s.Close())
}

func TestADU(t *testing.T) {
	adu := &ApplicationDataUnit{TransactionID: 9, SlaveID: 2, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x06, Data: []byte{0x03, 0xE8, 0x00, 0x01}}}
	raw, err := adu.Encode()
	require.NoError(t, err)
	assert.Equal(t, frame(9, 2, []byte{0x06, 0x03, 0xE8, 0x00, 0x01}), raw)

	_, err = Decode(raw[:5])
	assert.Error(t, err)
	_, err = Decode(append(raw, 0x00))
	assert.Error(t, err)

	adu.Pdu.Data = make([]byte, tcpMaxSize)
	_, err = adu.Encode()
	assert.Error(t, err)
}

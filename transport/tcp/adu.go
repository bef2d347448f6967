// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-rtu-slave/modbus"
)

const (
	headerSize = 7
	tcpMinSize = headerSize + 1
	tcpMaxSize = 260
)

// ApplicationDataUnit is a Modbus TCP frame: the MBAP header followed by
// the PDU.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	SlaveID       byte
	Pdu           modbus.ProtocolDataUnit
}

// decodeHeader parses the MBAP header and returns the number of PDU bytes
// that follow it.
func decodeHeader(raw []byte) (adu *ApplicationDataUnit, pduLen int, err error) {
	adu = &ApplicationDataUnit{
		TransactionID: binary.BigEndian.Uint16(raw[0:]),
		ProtocolID:    binary.BigEndian.Uint16(raw[2:]),
		Length:        binary.BigEndian.Uint16(raw[4:]),
		SlaveID:       raw[6],
	}
	if adu.ProtocolID != 0 {
		return nil, 0, fmt.Errorf("modbus: protocol id '%v' is not modbus", adu.ProtocolID)
	}
	pduLen = int(adu.Length) - 1
	if pduLen < 1 || headerSize+pduLen > tcpMaxSize {
		return nil, 0, fmt.Errorf("modbus: length in header '%v' is out of range", adu.Length)
	}
	return adu, pduLen, nil
}

// Decode parses a complete frame. Pdu.Data aliases raw.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	if len(raw) < tcpMinSize {
		return nil, fmt.Errorf("modbus: request length '%v' does not meet minimum '%v'", len(raw), tcpMinSize)
	}
	adu, pduLen, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	if headerSize+pduLen != len(raw) {
		return nil, fmt.Errorf("modbus: length in header '%v' does not match frame '%v'", adu.Length, len(raw))
	}
	adu.Pdu.FunctionCode = raw[7]
	adu.Pdu.Data = raw[8:]
	return adu, nil
}

// Encode returns the frame. Length is computed from the PDU.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + tcpMinSize
	if length > tcpMaxSize {
		return nil, fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, tcpMaxSize)
	}
	raw := make([]byte, length)
	binary.BigEndian.PutUint16(raw[0:], adu.TransactionID)
	binary.BigEndian.PutUint16(raw[2:], adu.ProtocolID)
	binary.BigEndian.PutUint16(raw[4:], uint16(length-headerSize+1))
	raw[6] = adu.SlaveID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)
	return raw, nil
}

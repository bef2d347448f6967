// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/modbus-rtu-slave/modbus"
	"github.com/ffutop/modbus-rtu-slave/modbus/crc"
)

// ApplicationDataUnit is a decoded RTU frame. The serial stack works on its
// own buffer and never allocates one of these; they are used by stream
// transports and tests.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode validates raw as a complete RTU frame. Pdu.Data aliases raw.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	length := len(raw)
	if length < MinSize {
		return nil, fmt.Errorf("%w: length '%v' does not meet minimum '%v'", ErrFrame, length, MinSize)
	}
	if length > MaxSize {
		return nil, fmt.Errorf("%w: length '%v' exceeds maximum '%v'", ErrFrame, length, MaxSize)
	}
	if !crc.Valid(raw) {
		checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
		return nil, fmt.Errorf("%w: crc '%04x' does not match expected '%04x'",
			ErrFrame, checksum, crc.Checksum(raw[:length-CRCSize]))
	}
	return &ApplicationDataUnit{
		SlaveID: raw[AddressOffset],
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: raw[PDUOffset],
			Data:         raw[PDUOffset+1 : length-CRCSize],
		},
	}, nil
}

// Encode encodes the PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes, low byte first
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + MinSize
	if length > MaxSize {
		return nil, fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", ErrInvalid, length, MaxSize)
	}
	raw := make([]byte, 2, length)
	raw[AddressOffset] = adu.SlaveID
	raw[PDUOffset] = adu.Pdu.FunctionCode
	raw = append(raw, adu.Pdu.Data...)
	return crc.Append(raw), nil
}

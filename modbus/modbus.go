// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the protocol data unit and the function and
// exception codes shared by the RTU stack and the slave.
package modbus

import "fmt"

// Function Codes
const (
	FuncCodeReadCoils                  = 0x01
	FuncCodeReadDiscreteInputs         = 0x02
	FuncCodeReadHoldingRegisters       = 0x03
	FuncCodeReadInputRegisters         = 0x04
	FuncCodeWriteSingleCoil            = 0x05
	FuncCodeWriteSingleRegister        = 0x06
	FuncCodeWriteMultipleCoils         = 0x0F
	FuncCodeWriteMultipleRegisters     = 0x10
	FuncCodeReportSlaveID              = 0x11
	FuncCodeMaskWriteRegister          = 0x16
	FuncCodeReadWriteMultipleRegisters = 0x17
	FuncCodeReadFIFOQueue              = 0x18
	FuncCodeReadDeviceIdentification   = 0x2B
)

// Exception Codes
const (
	ExceptionCodeIllegalFunction                    = 0x01
	ExceptionCodeIllegalDataAddress                 = 0x02
	ExceptionCodeIllegalDataValue                   = 0x03
	ExceptionCodeServerDeviceFailure                = 0x04
	ExceptionCodeAcknowledge                        = 0x05
	ExceptionCodeServerDeviceBusy                   = 0x06
	ExceptionCodeMemoryParityError                  = 0x08
	ExceptionCodeGatewayPathUnavailable             = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 0x0B
)

// ExceptionFlag is set on the function code of an exception response.
const ExceptionFlag = 0x80

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Bytes returns the PDU as it appears on the wire: function code then data.
func (pdu ProtocolDataUnit) Bytes() []byte {
	raw := make([]byte, 1+len(pdu.Data))
	raw[0] = pdu.FunctionCode
	copy(raw[1:], pdu.Data)
	return raw
}

// IsException reports whether the PDU is an exception response.
func (pdu ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&ExceptionFlag != 0
}

// NewException builds the exception response for funcCode.
func NewException(funcCode, code byte) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: funcCode | ExceptionFlag,
		Data:         []byte{code},
	}
}

// ModbusError implements error interface.
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

// Error converts known modbus exception code to error message.
func (e *ModbusError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	case ExceptionCodeAcknowledge:
		name = "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		name = "server device busy"
	case ExceptionCodeMemoryParityError:
		name = "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		name = "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		name = "gateway target device failed to respond"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode)
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/regmap"
	"github.com/ffutop/modbus-rtu-slave/modbus"
	"github.com/ffutop/modbus-rtu-slave/modbus/rtu"
)

func (s *Slave) registerDefaults() {
	s.handlers.Store(modbus.FuncCodeReadHoldingRegisters, s.handleReadHoldingRegisters)
	s.handlers.Store(modbus.FuncCodeReadInputRegisters, s.handleReadInputRegisters)
	s.handlers.Store(modbus.FuncCodeWriteSingleRegister, s.handleWriteSingleRegister)
	s.handlers.Store(modbus.FuncCodeWriteMultipleRegisters, s.handleWriteMultipleRegisters)
	s.handlers.Store(modbus.FuncCodeReportSlaveID, s.handleReportSlaveID)
}

// registerMap returns the map serving slaveID. Broadcasts use the map of
// the primary address.
func (s *Slave) registerMap(slaveID byte) (*regmap.Map, bool) {
	if slaveID == rtu.BroadcastAddress {
		slaveID = s.primary
	}
	return s.maps.Get(slaveID)
}

func (s *Slave) handleReadHoldingRegisters(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 125 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}

	m, ok := s.registerMap(slaveID)
	if !ok {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	data, err := m.ReadHolding(s.model, address, quantity)
	if err != nil {
		return registerException(req.FunctionCode, err)
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}, nil
}

func (s *Slave) handleReadInputRegisters(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 125 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}

	data, err := s.model.ReadInputRegisters(address, quantity)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}, nil
}

func (s *Slave) handleWriteSingleRegister(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])

	m, ok := s.registerMap(slaveID)
	if !ok {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	if err := m.WriteHolding(s.model, address, 1, req.Data[2:4]); err != nil {
		return registerException(req.FunctionCode, err)
	}

	return req, nil // Echo request
}

func (s *Slave) handleWriteMultipleRegisters(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) < 6 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > 123 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	if int(byteCount) != int(quantity)*2 || len(req.Data)-5 != int(byteCount) {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}

	m, ok := s.registerMap(slaveID)
	if !ok {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	if err := m.WriteHolding(s.model, address, quantity, req.Data[5:]); err != nil {
		return registerException(req.FunctionCode, err)
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}, nil
}

func (s *Slave) handleReportSlaveID(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 0 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	id := s.SlaveID()
	respData := make([]byte, 1+len(id))
	respData[0] = byte(len(id))
	copy(respData[1:], id)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}, nil
}

func registerException(funcCode byte, err error) (modbus.ProtocolDataUnit, error) {
	if errors.Is(err, regmap.ErrNoRegister) {
		return exception(funcCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	return modbus.ProtocolDataUnit{}, err
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.NewException(funcCode, code)
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	MaxAddress  = 65535
	MaxVariable = 65535
)

// TableType represents the type of data table.
type TableType int

const (
	TableVariables TableType = iota
	TableInputRegisters
)

func (t TableType) String() string {
	switch t {
	case TableVariables:
		return "variables"
	case TableInputRegisters:
		return "input_registers"
	default:
		return "unknown"
	}
}

// WriteHook is called after a table range was modified.
type WriteHook func(table TableType, address, quantity uint16)

// DataModel holds the device data in memory.
//
// Variables are the 32-bit process values of the pump controller. Holding
// registers are not stored directly; the register map of each slave
// address projects them onto variables, so several registers may show
// the same variable. Variable 0 is reserved for "no variable".
type DataModel struct {
	mu sync.RWMutex

	// Variables indexed by variable id.
	Variables []uint32
	// 3x Input Registers (Read Only).
	InputRegisters []uint16

	onWrite WriteHook
}

// NewDataModel creates a new memory model initialized to zero.
func NewDataModel() *DataModel {
	return &DataModel{
		Variables:      make([]uint32, MaxVariable+1),
		InputRegisters: make([]uint16, MaxAddress+1),
	}
}

// OnWrite installs the hook invoked after every modification.
func (m *DataModel) OnWrite(hook WriteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = hook
}

// Var returns variable id.
func (m *DataModel) Var(id uint16) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Variables[id]
}

// SetVar stores value in variable id. Writes to variable 0 are ignored.
func (m *DataModel) SetVar(id uint16, value uint32) {
	if id == 0 {
		return
	}
	m.mu.Lock()
	m.Variables[id] = value
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(TableVariables, id, 1)
	}
}

// ReadInputRegisters reads a range of input registers and returns them as BigEndian bytes.
func (m *DataModel) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], m.InputRegisters[int(address)+i])
	}
	return result, nil
}

// SetInputRegisters updates input registers starting at address. It is
// the application side of the read-only table.
func (m *DataModel) SetInputRegisters(address uint16, values ...uint16) error {
	if len(values) > MaxAddress {
		return fmt.Errorf("too many values: %d", len(values))
	}
	quantity := uint16(len(values))

	m.mu.Lock()
	if err := validateRange(address, quantity); err != nil {
		m.mu.Unlock()
		return err
	}
	copy(m.InputRegisters[address:], values)
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(TableInputRegisters, address, quantity)
	}
	return nil
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	// address is 0-based.
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("address range out of bounds")
	}
	return nil
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package regmap maps Modbus holding registers onto device variables.
//
// A Map is a sorted table of registers for one slave address. Each
// register has a size (one or two words), an access mode and optionally
// a callback that computes the value on read or transforms it on write.
// Register addresses are PDU addresses, that is the 4xxxxx register
// number minus HoldingBase; addresses below HoldingStart are reserved.
package regmap

import (
	"errors"
	"fmt"
	"sort"
)

const (
	// HoldingBase is the offset of the 4xxxxx register numbering.
	HoldingBase = 400000
	// HoldingStart is the lowest mappable holding register address.
	HoldingStart = 1000
)

var (
	// ErrNoRegister is returned when a request touches an address that is
	// not mapped, or a register in a way its access mode forbids.
	ErrNoRegister = errors.New("regmap: illegal register address")
	// ErrInvalidMap is returned by New for unsorted or overlapping maps.
	ErrInvalidMap = errors.New("regmap: invalid register map")
)

// Size is the width of a register.
type Size uint8

const (
	U16 Size = iota
	U32
)

// Words returns the number of 16-bit registers covered.
func (s Size) Words() int {
	if s == U32 {
		return 2
	}
	return 1
}

func (s Size) String() string {
	if s == U32 {
		return "u32"
	}
	return "u16"
}

// Access is the permission of a register.
type Access uint8

const (
	Read Access = 1 << iota
	Write
	ReadWrite = Read | Write
)

func (a Access) CanRead() bool  { return a&Read != 0 }
func (a Access) CanWrite() bool { return a&Write != 0 }

func (a Access) String() string {
	switch a {
	case Read:
		return "r"
	case Write:
		return "w"
	case ReadWrite:
		return "rw"
	default:
		return "none"
	}
}

// Variables is the value store registers are projected onto.
type Variables interface {
	Var(id uint16) uint32
	SetVar(id uint16, value uint32)
}

// Callback computes a register value. On read write is false and value is
// zero; the result is the value returned to the master. On write value is
// the value written by the master and the result is stored into the
// register's variable, if it has one.
type Callback func(vars Variables, reg *Register, write bool, value uint32) uint32

// Register is one entry of a Map.
type Register struct {
	Address  uint16
	Variable uint16
	Size     Size
	Access   Access
	Name     string
	Callback Callback
}

// Map is the register table of one slave address.
type Map struct {
	regs []Register
}

// New validates and returns a Map over regs. The slice is copied and
// sorted by address.
func New(regs []Register) (*Map, error) {
	sorted := make([]Register, len(regs))
	copy(sorted, regs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	for i, r := range sorted {
		if r.Address < HoldingStart {
			return nil, fmt.Errorf("%w: register %d below %d", ErrInvalidMap, r.Address, HoldingStart)
		}
		if int(r.Address)+r.Size.Words() > 0x10000 {
			return nil, fmt.Errorf("%w: register %d overflows address space", ErrInvalidMap, r.Address)
		}
		if i > 0 {
			prev := sorted[i-1]
			if int(prev.Address)+prev.Size.Words() > int(r.Address) {
				return nil, fmt.Errorf("%w: register %d overlaps %d", ErrInvalidMap, r.Address, prev.Address)
			}
		}
	}
	return &Map{regs: sorted}, nil
}

// Len returns the number of registers.
func (m *Map) Len() int { return len(m.regs) }

// Index returns the position of the register at address, or -1.
func (m *Map) Index(address uint16) int {
	i := sort.Search(len(m.regs), func(i int) bool { return m.regs[i].Address >= address })
	if i < len(m.regs) && m.regs[i].Address == address {
		return i
	}
	return -1
}

// Lookup returns the register at address.
func (m *Map) Lookup(address uint16) (Register, bool) {
	i := m.Index(address)
	if i < 0 {
		return Register{}, false
	}
	return m.regs[i], true
}

// span resolves quantity words starting at address to consecutive
// registers. Every word must belong to a register that starts inside
// the range and ends inside it.
func (m *Map) span(address, quantity uint16) ([]Register, error) {
	if address < HoldingStart || quantity == 0 {
		return nil, fmt.Errorf("%w: %d+%d", ErrNoRegister, address, quantity)
	}
	i := m.Index(address)
	if i < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoRegister, address)
	}
	end := int(address) + int(quantity)
	next := int(address)
	j := i
	for next < end {
		if j >= len(m.regs) || int(m.regs[j].Address) != next {
			return nil, fmt.Errorf("%w: %d", ErrNoRegister, next)
		}
		next += m.regs[j].Size.Words()
		j++
	}
	if next != end {
		return nil, fmt.Errorf("%w: range %d+%d splits register %d", ErrNoRegister, address, quantity, m.regs[j-1].Address)
	}
	return m.regs[i:j], nil
}

// ReadHolding encodes quantity words starting at address, big-endian, high
// word of a U32 first.
func (m *Map) ReadHolding(vars Variables, address, quantity uint16) ([]byte, error) {
	regs, err := m.span(address, quantity)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, int(quantity)*2)
	for k := range regs {
		r := &regs[k]
		if !r.Access.CanRead() {
			return nil, fmt.Errorf("%w: %d is write only", ErrNoRegister, r.Address)
		}
		var v uint32
		if r.Callback != nil {
			v = r.Callback(vars, r, false, 0)
		} else {
			v = vars.Var(r.Variable)
		}
		if r.Size == U32 {
			out = append(out, byte(v>>24), byte(v>>16))
		}
		out = append(out, byte(v>>8), byte(v))
	}
	return out, nil
}

// WriteHolding decodes quantity words from data and stores them starting
// at address. The whole range is checked before anything is stored.
func (m *Map) WriteHolding(vars Variables, address, quantity uint16, data []byte) error {
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("%w: short data", ErrNoRegister)
	}
	regs, err := m.span(address, quantity)
	if err != nil {
		return err
	}
	for k := range regs {
		if !regs[k].Access.CanWrite() {
			return fmt.Errorf("%w: %d is read only", ErrNoRegister, regs[k].Address)
		}
	}
	for k := range regs {
		r := &regs[k]
		var v uint32
		if r.Size == U32 {
			v = uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
			data = data[4:]
		} else {
			v = uint32(data[0])<<8 | uint32(data[1])
			data = data[2:]
		}
		if r.Callback != nil {
			v = r.Callback(vars, r, true, v)
		}
		vars.SetVar(r.Variable, v)
	}
	return nil
}

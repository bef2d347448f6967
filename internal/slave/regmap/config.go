// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regmap

import (
	"fmt"
	"strings"

	"github.com/ffutop/modbus-rtu-slave/internal/config"
)

// ParseSize parses "u16" or "u32". Empty means u16.
func ParseSize(s string) (Size, error) {
	switch strings.ToLower(s) {
	case "", "u16":
		return U16, nil
	case "u32":
		return U32, nil
	}
	return 0, fmt.Errorf("%w: unknown size %q", ErrInvalidMap, s)
}

// ParseAccess parses "r", "w" or "rw". Empty means rw.
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(s) {
	case "r":
		return Read, nil
	case "w":
		return Write, nil
	case "", "rw":
		return ReadWrite, nil
	}
	return 0, fmt.Errorf("%w: unknown access %q", ErrInvalidMap, s)
}

// FromConfig builds a Map from configured registers. Register numbers are
// given in 4xxxxx form.
func FromConfig(specs []config.RegisterSpec, cbs *Callbacks) (*Map, error) {
	regs := make([]Register, 0, len(specs))
	for _, spec := range specs {
		addr := spec.Register - HoldingBase
		if addr < HoldingStart || addr > 0xFFFF {
			return nil, fmt.Errorf("%w: register %d out of range", ErrInvalidMap, spec.Register)
		}
		if spec.Variable < 0 || spec.Variable > 0xFFFF {
			return nil, fmt.Errorf("%w: register %d: variable %d out of range", ErrInvalidMap, spec.Register, spec.Variable)
		}
		size, err := ParseSize(spec.Size)
		if err != nil {
			return nil, fmt.Errorf("register %d: %w", spec.Register, err)
		}
		access, err := ParseAccess(spec.Access)
		if err != nil {
			return nil, fmt.Errorf("register %d: %w", spec.Register, err)
		}
		reg := Register{
			Address:  uint16(addr),
			Variable: uint16(spec.Variable),
			Size:     size,
			Access:   access,
			Name:     spec.Name,
		}
		if spec.Callback != "" {
			cb, ok := cbs.Get(spec.Callback)
			if !ok {
				return nil, fmt.Errorf("%w: register %d: unknown callback %q", ErrInvalidMap, spec.Register, spec.Callback)
			}
			reg.Callback = cb
		}
		regs = append(regs, reg)
	}
	return New(regs)
}

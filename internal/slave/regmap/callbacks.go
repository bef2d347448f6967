// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regmap

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// UpperWord shows the high 16 bits of a 32-bit variable in a U16 register.
func UpperWord(vars Variables, reg *Register, write bool, value uint32) uint32 {
	cur := vars.Var(reg.Variable)
	if write {
		return cur&0x0000FFFF | (value&0xFFFF)<<16
	}
	return cur >> 16
}

// LowerWord shows the low 16 bits of a 32-bit variable in a U16 register.
func LowerWord(vars Variables, reg *Register, write bool, value uint32) uint32 {
	cur := vars.Var(reg.Variable)
	if write {
		return cur&0xFFFF0000 | value&0xFFFF
	}
	return cur & 0xFFFF
}

// Callbacks resolves callback names used in configuration files.
type Callbacks struct {
	m *xsync.MapOf[string, Callback]
}

// NewCallbacks returns a set holding the built-in callbacks.
func NewCallbacks() *Callbacks {
	c := &Callbacks{m: xsync.NewMapOf[string, Callback]()}
	c.Register("upper_word", UpperWord)
	c.Register("lower_word", LowerWord)
	return c
}

// Register adds or replaces a named callback. A nil fn removes it.
func (c *Callbacks) Register(name string, fn Callback) {
	if fn == nil {
		c.m.Delete(name)
		return
	}
	c.m.Store(name, fn)
}

// Get returns the named callback.
func (c *Callbacks) Get(name string) (Callback, bool) {
	return c.m.Load(name)
}

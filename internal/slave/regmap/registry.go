// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regmap

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry holds the register map of every slave address.
type Registry struct {
	maps *xsync.MapOf[byte, *Map]
}

func NewRegistry() *Registry {
	return &Registry{maps: xsync.NewMapOf[byte, *Map]()}
}

// Add installs m for slaveID, replacing any previous map.
func (r *Registry) Add(slaveID byte, m *Map) {
	r.maps.Store(slaveID, m)
}

// Remove drops the map of slaveID.
func (r *Registry) Remove(slaveID byte) {
	r.maps.Delete(slaveID)
}

// Get returns the map of slaveID.
func (r *Registry) Get(slaveID byte) (*Map, bool) {
	return r.maps.Load(slaveID)
}

// Len returns the number of registered maps.
func (r *Registry) Len() int {
	return r.maps.Size()
}

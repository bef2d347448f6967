// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence keeps the device variables and input registers
// across restarts.
package persistence

import (
	"fmt"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
)

// Storage defines the interface for persisting the slave data model.
type Storage interface {
	// Load loads the data model from storage.
	Load() (*model.DataModel, error)

	// Save saves the current data model to storage.
	Save(model *model.DataModel) error

	// OnWrite is a hook called whenever a table range is modified.
	OnWrite(table model.TableType, address, quantity uint16)

	Close() error
}

// Open creates the storage of the given type: memory, file or mmap.
func Open(kind, path string) (Storage, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		if path == "" {
			return nil, fmt.Errorf("file storage requires a path")
		}
		return NewFileStorage(path), nil
	case "mmap":
		if path == "" {
			return nil, fmt.Errorf("mmap storage requires a path")
		}
		return NewMmapStorage(path), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", kind)
	}
}

// Attach loads the model from s and routes its writes back to s.
func Attach(s Storage) (*model.DataModel, error) {
	m, err := s.Load()
	if err != nil {
		return nil, err
	}
	m.OnWrite(s.OnWrite)
	return m, nil
}

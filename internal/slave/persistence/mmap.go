// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
)

// MmapStorage maps the image file into memory; the model tables alias the
// mapping and every write is flushed with msync.
type MmapStorage struct {
	path string

	mu   sync.Mutex
	file *os.File
	data mmap.MMap
}

// NewMmapStorage creates a new MmapStorage.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{
		path: path,
	}
}

// Load maps the image file, creating it zeroed if missing.
func (ms *MmapStorage) Load() (*model.DataModel, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	f, err := openImage(ms.path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	ms.file = f
	ms.data = data
	return mapBytesToModel(data), nil
}

// Save flushes the mapping to disk.
func (ms *MmapStorage) Save(m *model.DataModel) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	return ms.data.Flush()
}

// OnWrite flushes the mapping. mmap-go flushes whole mappings only.
func (ms *MmapStorage) OnWrite(table model.TableType, address, quantity uint16) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.data == nil {
		return
	}
	if err := ms.data.Flush(); err != nil {
		slog.Error("Failed to flush mmap", "table", table, "address", address, "err", err)
	}
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
)

// FileStorage keeps the image in memory and writes each modified range
// back with WriteAt followed by fsync.
type FileStorage struct {
	path string

	mu   sync.Mutex
	file *os.File
	data []byte
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load reads the image file, creating it zeroed if missing.
func (fs *FileStorage) Load() (*model.DataModel, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := openImage(fs.path)
	if err != nil {
		return nil, err
	}
	data := make([]byte, totalSize)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read %s: %w", fs.path, err)
	}
	fs.file = f
	fs.data = data
	return mapBytesToModel(data), nil
}

// Save writes the whole image.
func (fs *FileStorage) Save(m *model.DataModel) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeRange(0, totalSize)
}

// OnWrite persists the modified range.
func (fs *FileStorage) OnWrite(table model.TableType, address, quantity uint16) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	start, end := byteRange(table, address, quantity)
	if err := fs.writeRange(start, end); err != nil {
		slog.Error("Failed to persist", "table", table, "address", address, "quantity", quantity, "err", err)
	}
}

func (fs *FileStorage) writeRange(start, end int) error {
	if fs.data == nil || fs.file == nil || start >= end {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.data[start:end], int64(start)); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close the file.
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
)

// Image layout:
// - Variables: 65536 * 4 bytes (Offset 0)
// - InputRegisters: 65536 * 2 bytes (Offset 262144)
// Total Size: 393216 bytes
const (
	sizeVariables = (model.MaxVariable + 1) * 4
	sizeInput     = (model.MaxAddress + 1) * 2
	totalSize     = sizeVariables + sizeInput

	offsetVariables = 0
	offsetInput     = offsetVariables + sizeVariables
)

// mapBytesToModel constructs a DataModel backed by the provided data slice.
// The tables alias data in host byte order, so an image is not portable
// between architectures of different endianness.
func mapBytesToModel(data []byte) *model.DataModel {
	m := &model.DataModel{}

	vars := data[offsetVariables : offsetVariables+sizeVariables]
	m.Variables = unsafe.Slice((*uint32)(unsafe.Pointer(&vars[0])), sizeVariables/4)

	input := data[offsetInput : offsetInput+sizeInput]
	m.InputRegisters = unsafe.Slice((*uint16)(unsafe.Pointer(&input[0])), sizeInput/2)

	return m
}

// byteRange returns the image slice [start, end) holding a table range.
func byteRange(table model.TableType, address, quantity uint16) (start, end int) {
	switch table {
	case model.TableVariables:
		start = offsetVariables + int(address)*4
		end = start + int(quantity)*4
	case model.TableInputRegisters:
		start = offsetInput + int(address)*2
		end = start + int(quantity)*2
	}
	if end > totalSize {
		end = totalSize
	}
	return start, end
}

// openImage opens path read-write, creating it, and sizes it to the image.
func openImage(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize %s: %w", path, err)
		}
	}
	return f, nil
}

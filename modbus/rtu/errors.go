// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
)

var (
	// ErrPort is returned when the serial port or the timer could not be
	// initialised. It is fatal for the stack instance.
	ErrPort = errors.New("modbus: porting layer error")
	// ErrIO is the parent of all frame level I/O conditions.
	ErrIO = errors.New("modbus: i/o error")
	// ErrBusy is returned by Send while a frame is being received or sent.
	ErrBusy = fmt.Errorf("%w: bus busy", ErrIO)
	// ErrFrame is returned by Receive for short frames and CRC mismatches.
	ErrFrame = fmt.Errorf("%w: malformed frame", ErrIO)
	// ErrInvalid is returned for arguments the stack cannot encode.
	ErrInvalid = errors.New("modbus: illegal argument")
	// ErrIllegalState is returned when an operation does not fit the
	// current lifecycle state.
	ErrIllegalState = errors.New("modbus: protocol stack in illegal state")
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"
	"time"
)

// TickDuration is the unit of the frame timeout.
const TickDuration = 50 * time.Microsecond

// fastTimeoutTicks is t3.5 above 19200 baud, fixed at 1750us.
const fastTimeoutTicks = 35

// BitsPerChar returns the character width used for t3.5:
// eight data bits, one parity bit unless parity is "N", plus stop bits.
func BitsPerChar(parity string, stopBits int) int {
	bits := DataBits + stopBits
	if parity != "" && parity != "N" {
		bits++
	}
	return bits
}

// TimeoutTicks returns t3.5 in ticks of TickDuration for the given line
// settings.
func TimeoutTicks(baudRate int, parity string, stopBits int) (uint16, error) {
	if err := validateLine(baudRate, parity, stopBits); err != nil {
		return 0, err
	}
	if baudRate > 19200 {
		return fastTimeoutTicks, nil
	}
	ticks := (7 * 20000 * BitsPerChar(parity, stopBits)) / (2 * baudRate)
	if ticks == 0 || ticks > 0xFFFF {
		return 0, fmt.Errorf("%w: baud rate %d gives timeout of %d ticks", ErrPort, baudRate, ticks)
	}
	return uint16(ticks), nil
}

// TimeoutDuration converts ticks to a wall clock duration.
func TimeoutDuration(ticks uint16) time.Duration {
	return time.Duration(ticks) * TickDuration
}

func validateLine(baudRate int, parity string, stopBits int) error {
	if baudRate <= 0 {
		return fmt.Errorf("%w: invalid baud rate %d", ErrPort, baudRate)
	}
	switch parity {
	case "", "N", "E", "O":
	default:
		return fmt.Errorf("%w: invalid parity %q", ErrPort, parity)
	}
	if stopBits != 1 && stopBits != 2 {
		return fmt.Errorf("%w: invalid stop bits %d", ErrPort, stopBits)
	}
	return nil
}

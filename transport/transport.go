// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"

	"github.com/ffutop/modbus-rtu-slave/modbus"
)

// RequestHandler handles one Modbus request addressed to slaveID and
// returns the response PDU. Exceptions are returned as exception PDUs;
// an error means no response can be produced at all.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Upstream is a source of requests from a Modbus master other than the
// serial line, such as the RTU-over-TCP debug endpoint.
type Upstream interface {
	// Start serves requests until ctx is done or the listener fails.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}

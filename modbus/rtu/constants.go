// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// Serial line frame layout: [address][PDU ...][CRC lo][CRC hi]
const (
	MinSize = 4
	MaxSize = 256

	CRCSize       = 2
	AddressOffset = 0
	PDUOffset     = 1

	ExceptionSize = 5

	// DataBits is fixed for RTU framing.
	DataBits = 8
)

// BroadcastAddress is accepted by every slave; requests sent to it are
// never answered.
const BroadcastAddress = 0

// Valid unicast slave addresses.
const (
	MinSlaveAddress = 1
	MaxSlaveAddress = 247
)

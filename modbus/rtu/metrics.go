// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "sync/atomic"

// Metrics holds the frame counters of a Stack. All fields are updated
// atomically and may be read at any time.
type Metrics struct {
	BytesReceived  atomic.Uint64
	BytesDiscarded atomic.Uint64
	FramesReceived atomic.Uint64
	FramesInvalid  atomic.Uint64
	FramesOverrun  atomic.Uint64
	FramesSent     atomic.Uint64
	SendsRejected  atomic.Uint64
	RelayForwarded atomic.Uint64
	RelayDropped   atomic.Uint64
	EventsDropped  atomic.Uint64
}

// Snapshot is a point in time copy of Metrics.
type Snapshot struct {
	BytesReceived  uint64 `json:"bytes_received"`
	BytesDiscarded uint64 `json:"bytes_discarded"`
	FramesReceived uint64 `json:"frames_received"`
	FramesInvalid  uint64 `json:"frames_invalid"`
	FramesOverrun  uint64 `json:"frames_overrun"`
	FramesSent     uint64 `json:"frames_sent"`
	SendsRejected  uint64 `json:"sends_rejected"`
	RelayForwarded uint64 `json:"relay_forwarded"`
	RelayDropped   uint64 `json:"relay_dropped"`
	EventsDropped  uint64 `json:"events_dropped"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BytesReceived:  m.BytesReceived.Load(),
		BytesDiscarded: m.BytesDiscarded.Load(),
		FramesReceived: m.FramesReceived.Load(),
		FramesInvalid:  m.FramesInvalid.Load(),
		FramesOverrun:  m.FramesOverrun.Load(),
		FramesSent:     m.FramesSent.Load(),
		SendsRejected:  m.SendsRejected.Load(),
		RelayForwarded: m.RelayForwarded.Load(),
		RelayDropped:   m.RelayDropped.Load(),
		EventsDropped:  m.EventsDropped.Load(),
	}
}

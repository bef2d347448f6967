// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package monitor publishes stack counters and served requests to an
// MQTT broker.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"time"

	"github.com/ffutop/modbus-rtu-slave/modbus"
	"github.com/ffutop/modbus-rtu-slave/modbus/rtu"
)

// Publisher sends one message. It must not block for long; the monitor
// calls it from the slave poll loop.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MetricsSource returns the stack counters.
type MetricsSource interface {
	Snapshot() rtu.Snapshot
}

// Request is the payload published for every answered request.
type Request struct {
	Time      time.Time `json:"time"`
	SlaveID   byte      `json:"slave_id"`
	Function  byte      `json:"function"`
	Exception byte      `json:"exception,omitempty"`
}

// Metrics is the periodic counter payload.
type Metrics struct {
	Time time.Time `json:"time"`
	Mode string    `json:"mode"`
	rtu.Snapshot
}

// Monitor implements slave.Observer.
type Monitor struct {
	pub      Publisher
	prefix   string
	source   MetricsSource
	mode     func() rtu.Mode
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a monitor publishing below prefix.
func New(pub Publisher, prefix string, source MetricsSource, mode func() rtu.Mode, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		pub:      pub,
		prefix:   prefix,
		source:   source,
		mode:     mode,
		interval: interval,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

func (m *Monitor) topic(name string) string {
	return path.Join(m.prefix, name)
}

// RequestHandled publishes one request outcome.
func (m *Monitor) RequestHandled(slaveID byte, req, resp modbus.ProtocolDataUnit) {
	msg := Request{
		Time:     m.now(),
		SlaveID:  slaveID,
		Function: req.FunctionCode,
	}
	if resp.IsException() && len(resp.Data) > 0 {
		msg.Exception = resp.Data[0]
	}
	m.publish("requests", msg)
}

// PublishMetrics publishes the current counters.
func (m *Monitor) PublishMetrics() {
	msg := Metrics{Time: m.now(), Snapshot: m.source.Snapshot()}
	if m.mode != nil {
		msg.Mode = m.mode().String()
	}
	m.publish("metrics", msg)
}

func (m *Monitor) publish(name string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("monitor encode failed", "topic", name, "err", err)
		return
	}
	if err := m.pub.Publish(m.topic(name), payload); err != nil {
		m.logger.Debug("monitor publish failed", "topic", name, "err", err)
	}
}

// Run publishes counters every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.PublishMetrics()
		}
	}
}

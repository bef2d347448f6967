// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtu

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ffutop/modbus-rtu-slave/internal/config"
	"github.com/ffutop/modbus-rtu-slave/modbus/crc"
	"github.com/ffutop/modbus-rtu-slave/modbus/rtu"
	"github.com/grid-x/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPort is the device side of two pipes; the test holds the other ends.
type mockPort struct {
	in  *io.PipeReader
	out *io.PipeWriter
}

func (m *mockPort) Read(p []byte) (int, error)  { return m.in.Read(p) }
func (m *mockPort) Write(p []byte) (int, error) { return m.out.Write(p) }

func (m *mockPort) Close() error {
	m.in.Close()
	m.out.Close()
	return nil
}

type host struct {
	w *io.PipeWriter
	r *io.PipeReader
}

func newMockPort() (*mockPort, host) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &mockPort{in: inR, out: outW}, host{w: inW, r: outR}
}

// 1200 baud keeps t3.5 at 32ms, far above scheduling jitter.
func testSerialConfig(device string) config.SerialConfig {
	return config.SerialConfig{
		Device:   device,
		BaudRate: 1200,
		DataBits: 8,
		Parity:   "E",
		StopBits: 1,
		Timeout:  100 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, opts ...rtu.Option) (*Server, map[string]host) {
	t.Helper()
	ports := map[string]*mockPort{}
	hosts := map[string]host{}
	for _, dev := range []string{"/dev/ttyS0", "/dev/ttyS1"} {
		p, h := newMockPort()
		ports[dev], hosts[dev] = p, h
	}

	srv := NewServer(testSerialConfig("/dev/ttyS0"), nil, opts...)
	srv.Port.open = func(cfg *serial.Config) (io.ReadWriteCloser, error) {
		p, ok := ports[cfg.Address]
		if !ok {
			return nil, errors.New("no such device")
		}
		return p, nil
	}
	t.Cleanup(func() { srv.Close() })
	return srv, hosts
}

func waitEvent(t *testing.T, srv *Server, want rtu.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := srv.Events.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, want, ev)
}

func TestServer_RoundTrip(t *testing.T) {
	srv, hosts := newTestServer(t)
	h := hosts["/dev/ttyS0"]

	require.NoError(t, srv.Stack.Init(srv.Line()))
	assert.Equal(t, uint16(641), srv.Stack.Timeout())
	assert.Equal(t, 641*rtu.TickDuration, srv.Timer.Timeout())
	srv.Stack.Start()
	waitEvent(t, srv, rtu.EventReady)

	req := crc.Append([]byte{0x01, 0x03, 0x03, 0xE8, 0x00, 0x01})
	_, err := h.w.Write(req)
	require.NoError(t, err)
	waitEvent(t, srv, rtu.EventFrameReceived)

	addr, pdu, err := srv.Stack.Receive()
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), addr)
	assert.Equal(t, []byte{0x03, 0x03, 0xE8, 0x00, 0x01}, pdu)

	require.NoError(t, srv.Stack.Send(0x01, []byte{0x03, 0x02, 0x00, 0x2A}))
	want := crc.Append([]byte{0x01, 0x03, 0x02, 0x00, 0x2A})
	got := make([]byte, len(want))
	_, err = io.ReadFull(h.r, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	waitEvent(t, srv, rtu.EventFrameSent)
	snap := srv.Stack.Metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.FramesReceived)
	assert.Equal(t, uint64(1), snap.FramesSent)
}

func TestServer_BytesBeforeReadyDiscarded(t *testing.T) {
	srv, hosts := newTestServer(t)
	h := hosts["/dev/ttyS0"]

	require.NoError(t, srv.Stack.Init(srv.Line()))
	srv.Stack.Start()
	_, err := h.w.Write([]byte{0xFF, 0xFF, 0xFF})
	require.NoError(t, err)

	waitEvent(t, srv, rtu.EventReady)
	assert.Equal(t, uint64(3), srv.Stack.Metrics.BytesDiscarded.Load())
	_, ok := srv.Events.TryGet()
	assert.False(t, ok)
}

func TestServer_OpenFailure(t *testing.T) {
	srv := NewServer(testSerialConfig("/dev/missing"), nil)
	srv.Port.open = func(*serial.Config) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	}
	err := srv.Stack.Init(srv.Line())
	assert.ErrorIs(t, err, rtu.ErrPort)
	assert.NoError(t, srv.Close())
}

func TestServer_LineReachesDevice(t *testing.T) {
	srv, _ := newTestServer(t)
	open := srv.Port.open
	var seen serial.Config
	srv.Port.open = func(cfg *serial.Config) (io.ReadWriteCloser, error) {
		seen = *cfg
		return open(cfg)
	}

	line := rtu.LineConfig{BaudRate: 9600, Parity: "N", StopBits: 2}
	require.NoError(t, srv.Stack.Init(line))
	assert.Equal(t, "/dev/ttyS0", seen.Address)
	assert.Equal(t, 9600, seen.BaudRate)
	assert.Equal(t, "N", seen.Parity)
	assert.Equal(t, 2, seen.StopBits)
	assert.Equal(t, 8, seen.DataBits)
}

func TestServer_Relay(t *testing.T) {
	srv, hosts := newTestServer(t, rtu.WithMode(rtu.ModePassThrough))

	require.NoError(t, srv.Stack.Init(srv.Line()))
	srv.Stack.Start()
	waitEvent(t, srv, rtu.EventReady)

	require.NoError(t, srv.AttachRelay(testSerialConfig("/dev/ttyS1")))
	assert.ErrorIs(t, srv.AttachRelay(testSerialConfig("/dev/ttyS1")), rtu.ErrIllegalState)

	frame := []byte{0x11, 0x22, 0x33}
	_, err := hosts["/dev/ttyS1"].w.Write(frame)
	require.NoError(t, err)

	got := make([]byte, len(frame))
	_, err = io.ReadFull(hosts["/dev/ttyS0"].r, got)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
	assert.Eventually(t, func() bool {
		return srv.Stack.Metrics.RelayForwarded.Load() == uint64(len(frame))
	}, time.Second, 5*time.Millisecond)
}

func TestTimer(t *testing.T) {
	tm := NewTimer()
	var fired atomic.Int32
	tm.Bind(func() { fired.Add(1) })

	assert.ErrorIs(t, tm.Init(0), rtu.ErrPort)
	require.NoError(t, tm.Init(20))
	assert.Equal(t, time.Millisecond, tm.Timeout())

	tm.Enable()
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)

	// Restarting keeps a single pending expiry.
	tm.Enable()
	tm.Enable()
	tm.Enable()
	assert.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(2), fired.Load())
}

func TestTimer_Disable(t *testing.T) {
	tm := NewTimer()
	var fired atomic.Int32
	tm.Bind(func() { fired.Add(1) })
	require.NoError(t, tm.Init(200)) // 10ms

	tm.Enable()
	tm.Disable()
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

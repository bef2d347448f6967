// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-rtu-slave/internal/config"
	"github.com/ffutop/modbus-rtu-slave/modbus/rtu"
	"github.com/grid-x/serial"
)

// putRetryDelay throttles the transmit pump after a failed write.
const putRetryDelay = 10 * time.Millisecond

// OpenFunc opens the device described by cfg.
type OpenFunc func(cfg *serial.Config) (io.ReadWriteCloser, error)

func openSerial(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(cfg)
}

// Port is a serial port seen byte by byte, the way the RTU state machines
// expect a UART: a receive notification per byte and a transmitter-empty
// notification while the transmitter is enabled.
//
// Notifications run on the port's own goroutines: one reads the device,
// one pumps the transmitter. Neither Enable nor PutByte call back.
type Port struct {
	// Serial port configuration.
	serial.Config

	open   OpenFunc
	logger *slog.Logger

	onByte    func()
	onTxEmpty func()

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port   io.ReadWriteCloser
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rxEnabled atomic.Bool
	txEnabled atomic.Bool
	txKick    chan struct{}
	putFailed atomic.Bool

	rxMu   sync.Mutex
	rxByte byte
	rxHave bool

	wmu sync.Mutex
}

// NewPort creates a port for the device in cfg. The line settings are
// taken from the stack in Configure.
func NewPort(cfg config.SerialConfig) *Port {
	p := &Port{
		open:   openSerial,
		logger: slog.Default(),
		txKick: make(chan struct{}, 1),
	}
	p.Config.Address = cfg.Device
	p.Config.BaudRate = cfg.BaudRate
	p.Config.DataBits = rtu.DataBits
	p.Config.StopBits = cfg.StopBits
	p.Config.Parity = cfg.Parity
	p.Config.Timeout = cfg.Timeout
	p.Config.RS485 = serial.RS485Config{
		Enabled:            cfg.RS485,
		DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
		DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
		RtsHighDuringSend:  cfg.RtsHighDuringSend,
		RtsHighAfterSend:   cfg.RtsHighAfterSend,
		RxDuringTx:         cfg.RxDuringTx,
	}
	return p
}

// Bind sets the notification targets. onTxEmpty may be nil for a port
// that never transmits on its own, such as the relay source.
func (p *Port) Bind(onByte, onTxEmpty func()) {
	p.onByte = onByte
	p.onTxEmpty = onTxEmpty
}

// Configure applies the line settings and opens the device. It implements
// rtu.Serial.
func (p *Port) Configure(line rtu.LineConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Config.BaudRate = line.BaudRate
	p.Config.Parity = line.Parity
	p.Config.StopBits = line.StopBits
	return p.connect()
}

// Connect opens the device with the configured settings. It is used for
// ports that are not driven by a stack.
func (p *Port) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connect()
}

// connect opens the device and starts the port goroutines. Caller must hold the mutex.
func (p *Port) connect() error {
	if p.port != nil {
		return nil
	}
	port, err := p.open(&p.Config)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", p.Config.Address, err)
	}
	p.port = port

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(2)
	go p.readLoop(ctx, port)
	go p.txPump(ctx)
	p.logger.Debug("serial port open", "device", p.Config.Address, "baud", p.Config.BaudRate,
		"parity", p.Config.Parity, "stop_bits", p.Config.StopBits)
	return nil
}

// Enable implements rtu.Serial.
func (p *Port) Enable(rx, tx bool) {
	p.rxEnabled.Store(rx)
	p.txEnabled.Store(tx)
	if tx {
		select {
		case p.txKick <- struct{}{}:
		default:
		}
	}
}

// PutByte writes b to the device. It implements rtu.Serial.
func (p *Port) PutByte(b byte) bool {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return false
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := port.Write([]byte{b}); err != nil {
		p.putFailed.Store(true)
		p.logger.Warn("serial write failed", "device", p.Config.Address, "err", err)
		return false
	}
	return true
}

// GetByte returns the byte being delivered. It implements rtu.Serial.
func (p *Port) GetByte() (byte, bool) {
	p.rxMu.Lock()
	defer p.rxMu.Unlock()
	b, ok := p.rxByte, p.rxHave
	p.rxHave = false
	return b, ok
}

func (p *Port) readLoop(ctx context.Context, port io.Reader) {
	defer p.wg.Done()

	buf := make([]byte, rtu.MaxSize)
	for {
		n, err := port.Read(buf)
		if ctx.Err() != nil {
			return
		}
		for _, b := range buf[:n] {
			if !p.rxEnabled.Load() || p.onByte == nil {
				continue
			}
			p.rxMu.Lock()
			p.rxByte, p.rxHave = b, true
			p.rxMu.Unlock()
			p.onByte()
		}
		if err != nil && n == 0 {
			// Read timeouts are how an idle line looks.
			if err == io.EOF || err == io.ErrClosedPipe {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(putRetryDelay):
			}
		}
	}
}

func (p *Port) txPump(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.txKick:
		}
		for p.txEnabled.Load() && p.onTxEmpty != nil {
			if ctx.Err() != nil {
				return
			}
			p.onTxEmpty()
			if p.putFailed.Swap(false) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(putRetryDelay):
				}
			}
		}
	}
}

// Close stops the port goroutines and closes the device.
func (p *Port) Close() (err error) {
	p.mu.Lock()
	if p.port == nil {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	err = p.port.Close()
	p.port = nil
	p.mu.Unlock()

	p.wg.Wait()
	return err
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/goburrow/modbus"
)

const (
	pts0      = "/tmp/mrs-pts0" // slave side
	pts1      = "/tmp/mrs-pts1" // master side
	slaveID   = 1
	debugTCP  = "127.0.0.1:33520"
	modbusTCP = "127.0.0.1:33502"
)

var slaveBinaryPath string

// registers is the register map every test configuration carries.
const registers = `
  registers:
    - {register: 401000, variable: 1, size: u16, access: rw, name: setpoint}
    - {register: 401001, variable: 2, size: u32, access: rw, name: dose}
    - {register: 401003, variable: 3, size: u16, access: r, name: status}
    - {register: 401004, variable: 2, access: r, callback: upper_word}
    - {register: 401005, variable: 2, access: r, callback: lower_word}
`

// TestMain builds the serial line out of a socat pty pair; the slave
// binary itself is started by each test.
func TestMain(m *testing.M) {
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get working directory: %v", err)
	}
	slaveBinaryPath = filepath.Join(cwd, "..", "modbus-rtu-slave")
	if _, err := os.Stat(slaveBinaryPath); os.IsNotExist(err) {
		log.Printf("modbus-rtu-slave binary not found at %s, build it first; skipping", slaveBinaryPath)
		os.Exit(0)
	}
	if _, err := exec.LookPath("socat"); err != nil {
		log.Printf("socat not found; skipping")
		os.Exit(0)
	}

	socat := exec.Command("socat",
		"pty,raw,echo=0,link="+pts0,
		"pty,raw,echo=0,link="+pts1)
	if err := socat.Start(); err != nil {
		log.Fatalf("failed to start socat: %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(pts1); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	code := m.Run()

	socat.Process.Kill()
	socat.Wait()
	os.Exit(code)
}

// writeConfig writes a configuration for the slave on pts0 and returns
// its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	content := fmt.Sprintf(`
log:
  level: debug
serial:
  device: %q
  baud_rate: 19200
  parity: E
  stop_bits: 1
slave:
  addresses: [%d]
  id: 42
%s
%s`, pts0, slaveID, registers, extra)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// startSlave runs the binary with configFile until the test ends or stop
// is called.
func startSlave(t *testing.T, configFile string) (stop func()) {
	t.Helper()
	cmd := exec.Command(slaveBinaryPath, "-c", configFile)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start slave: %v", err)
	}
	stopped := false
	stop = func() {
		if stopped {
			return
		}
		stopped = true
		cmd.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() { cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			cmd.Process.Kill()
			<-done
		}
	}
	t.Cleanup(stop)

	// Let the slave open the port and the line settle.
	time.Sleep(500 * time.Millisecond)
	return stop
}

// newRTUClient connects a Modbus RTU master on pts1.
func newRTUClient(t *testing.T) modbus.Client {
	t.Helper()
	handler := modbus.NewRTUClientHandler(pts1)
	handler.BaudRate = 19200
	handler.DataBits = 8
	handler.Parity = "E"
	handler.StopBits = 1
	handler.SlaveId = slaveID
	handler.Timeout = 2 * time.Second

	if err := handler.Connect(); err != nil {
		t.Fatalf("failed to open %s: %v", pts1, err)
	}
	t.Cleanup(func() { handler.Close() })
	return modbus.NewClient(handler)
}

func u16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func TestReadWriteHoldingRegisters(t *testing.T) {
	startSlave(t, writeConfig(t, ""))
	client := newRTUClient(t)

	// setpoint, then dose as a high/low word pair
	_, err := client.WriteMultipleRegisters(1000, 3, []byte{0x00, 0x2A, 0x12, 0x34, 0x56, 0x78})
	if err != nil {
		t.Fatalf("write multiple registers failed: %v", err)
	}

	results, err := client.ReadHoldingRegisters(1000, 6)
	if err != nil {
		t.Fatalf("read holding registers failed: %v", err)
	}
	want := []byte{0x00, 0x2A, 0x12, 0x34, 0x56, 0x78, 0x00, 0x00, 0x12, 0x34, 0x56, 0x78}
	if !bytes.Equal(results, want) {
		t.Errorf("read back % X, want % X", results, want)
	}
}

func TestWriteSingleRegister(t *testing.T) {
	startSlave(t, writeConfig(t, ""))
	client := newRTUClient(t)

	const value uint16 = 0xABCD
	results, err := client.WriteSingleRegister(1000, value)
	if err != nil {
		t.Fatalf("write single register failed: %v", err)
	}
	if u16(results) != value {
		t.Errorf("echoed value %#x, want %#x", u16(results), value)
	}

	results, err = client.ReadHoldingRegisters(1000, 1)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if u16(results) != value {
		t.Errorf("read back %#x, want %#x", u16(results), value)
	}
}

func TestExceptions(t *testing.T) {
	startSlave(t, writeConfig(t, ""))
	client := newRTUClient(t)

	tests := []struct {
		name string
		call func() ([]byte, error)
		code byte
	}{
		{"unmapped register", func() ([]byte, error) { return client.ReadHoldingRegisters(2000, 1) }, modbus.ExceptionCodeIllegalDataAddress},
		{"split u32", func() ([]byte, error) { return client.ReadHoldingRegisters(1002, 1) }, modbus.ExceptionCodeIllegalDataAddress},
		{"read only", func() ([]byte, error) { return client.WriteSingleRegister(1003, 1) }, modbus.ExceptionCodeIllegalDataAddress},
		{"unsupported function", func() ([]byte, error) { return client.ReadCoils(0, 1) }, modbus.ExceptionCodeIllegalFunction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.call()
			var mbErr *modbus.ModbusError
			if !errors.As(err, &mbErr) {
				t.Fatalf("expected modbus exception, got %v", err)
			}
			if mbErr.ExceptionCode != tt.code {
				t.Errorf("exception code %d, want %d", mbErr.ExceptionCode, tt.code)
			}
		})
	}
}

func TestReadInputRegisters(t *testing.T) {
	startSlave(t, writeConfig(t, ""))
	client := newRTUClient(t)

	results, err := client.ReadInputRegisters(0, 4)
	if err != nil {
		t.Fatalf("read input registers failed: %v", err)
	}
	if !bytes.Equal(results, make([]byte, 8)) {
		t.Errorf("input registers % X, want zeros", results)
	}
}

func TestRtuOverTcp(t *testing.T) {
	startSlave(t, writeConfig(t, fmt.Sprintf("debug:\n  rtu_over_tcp: %q\n", debugTCP)))
	client := newRTUClient(t)
	if _, err := client.WriteSingleRegister(1000, 0x1234); err != nil {
		t.Fatalf("write single register failed: %v", err)
	}

	conn, err := net.DialTimeout("tcp", debugTCP, time.Second)
	if err != nil {
		t.Fatalf("failed to connect to %s: %v", debugTCP, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	// read holding register 401000
	if _, err := conn.Write([]byte{0x01, 0x03, 0x03, 0xE8, 0x00, 0x01, 0x04, 0x7A}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	resp := make([]byte, 7)
	if _, err := io.ReadFull(conn, resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	want := []byte{0x01, 0x03, 0x02, 0x12, 0x34, 0xB5, 0x33}
	if !bytes.Equal(resp, want) {
		t.Errorf("response % X, want % X", resp, want)
	}
}

func TestModbusTcp(t *testing.T) {
	startSlave(t, writeConfig(t, fmt.Sprintf("debug:\n  tcp: %q\n", modbusTCP)))

	handler := modbus.NewTCPClientHandler(modbusTCP)
	handler.Timeout = 2 * time.Second
	handler.SlaveId = slaveID
	if err := handler.Connect(); err != nil {
		t.Fatalf("failed to connect to %s: %v", modbusTCP, err)
	}
	defer handler.Close()
	tcpClient := modbus.NewClient(handler)

	if _, err := tcpClient.WriteMultipleRegisters(1001, 2, []byte{0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatalf("write over tcp failed: %v", err)
	}

	// The serial line sees the same data.
	results, err := newRTUClient(t).ReadHoldingRegisters(1004, 2)
	if err != nil {
		t.Fatalf("read over rtu failed: %v", err)
	}
	if want := []byte{0xDE, 0xAD, 0xBE, 0xEF}; !bytes.Equal(results, want) {
		t.Errorf("read back % X, want % X", results, want)
	}
}

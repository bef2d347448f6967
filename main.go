// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ffutop/modbus-rtu-slave/internal/config"
	"github.com/ffutop/modbus-rtu-slave/internal/monitor"
	"github.com/ffutop/modbus-rtu-slave/internal/slave"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/persistence"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/regmap"
	mbrtu "github.com/ffutop/modbus-rtu-slave/modbus/rtu"
	"github.com/ffutop/modbus-rtu-slave/transport/rtu"
	"github.com/ffutop/modbus-rtu-slave/transport/rtuovertcp"
	"github.com/ffutop/modbus-rtu-slave/transport/tcp"
	"github.com/phsym/console-slog"
	"github.com/spf13/pflag"
)

const appID = "modbus-rtu-slave"

func main() {
	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Load Configuration
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	if err := run(cfg); err != nil {
		slog.Error("Slave stopped with error", "err", err)
		closeLog()
		os.Exit(1)
	}
	slog.Info("Goodbye.")
}

func run(cfg *config.Config) error {
	slog.Info("Starting Modbus RTU slave...", "device", cfg.Serial.Device, "mode", cfg.Mode)

	mode, ok := mbrtu.ParseMode(cfg.Mode)
	if !ok {
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	// Data model and register maps
	store, err := persistence.Open(cfg.Persistence.Type, cfg.Persistence.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	dm, err := persistence.Attach(store)
	if err != nil {
		return fmt.Errorf("load data model: %w", err)
	}

	regs, err := regmap.FromConfig(cfg.Slave.Registers, regmap.NewCallbacks())
	if err != nil {
		return err
	}
	maps := regmap.NewRegistry()
	addresses := make([]byte, 0, len(cfg.Slave.Addresses))
	for _, a := range cfg.Slave.Addresses {
		addresses = append(addresses, byte(a))
		maps.Add(byte(a), regs)
	}

	additional := []byte(cfg.Slave.Additional)
	if cfg.Slave.Additional == "machine" {
		if additional, err = slave.MachineIdent(appID); err != nil {
			slog.Warn("Machine id unavailable", "err", err)
			additional = nil
		}
	}

	// Serial line
	srv := rtu.NewServer(cfg.Serial, slog.Default(), mbrtu.WithMode(mode))
	defer srv.Close()

	opts := []slave.Option{slave.WithLogger(slog.Default())}
	var mon *monitor.Monitor
	if cfg.Monitor.Broker != "" {
		pub, prefix, err := monitor.DialMQTT(cfg.Monitor.Broker, 5*time.Second)
		if err != nil {
			return err
		}
		defer pub.Close()
		mon = monitor.New(pub, prefix, &srv.Stack.Metrics, srv.Stack.Mode, cfg.Monitor.Interval)
		opts = append(opts, slave.WithObserver(mon))
	}

	s, err := slave.New(slave.Config{
		Addresses:  addresses,
		ID:         byte(cfg.Slave.ID),
		Running:    cfg.Slave.Running,
		Additional: additional,
	}, srv.Stack, srv.Events, dm, maps, opts...)
	if err != nil {
		return err
	}
	if err := s.Init(srv.Line()); err != nil {
		return err
	}
	defer s.Close()

	if cfg.Relay.Enabled {
		if err := srv.AttachRelay(cfg.Relay.Serial); err != nil {
			return err
		}
	}
	if err := s.Enable(); err != nil {
		return err
	}
	slog.Info("RTU slave listening", "device", cfg.Serial.Device, "addresses", cfg.Slave.Addresses,
		"t35", mbrtu.TimeoutDuration(srv.Stack.Timeout()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 4)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errc <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("slave", s.Run)
	if mon != nil {
		start("monitor", mon.Run)
	}
	if cfg.Debug.RtuOverTcp != "" {
		dbg := rtuovertcp.NewServer(cfg.Debug.RtuOverTcp, s.Accepts)
		dbg.Logger = slog.Default()
		start("rtu over tcp", func(ctx context.Context) error { return dbg.Start(ctx, s.Process) })
	}
	if cfg.Debug.Tcp != "" {
		dbg := tcp.NewServer(cfg.Debug.Tcp, s.Accepts)
		dbg.Logger = slog.Default()
		start("modbus tcp", func(ctx context.Context) error { return dbg.Start(ctx, s.Process) })
	}

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		slog.Info("Shutting down...")
	case err = <-errc:
	}
	cancel()
	wg.Wait()

	if derr := s.Disable(); derr != nil {
		slog.Warn("Disable failed", "err", derr)
	}
	return err
}

func setupLogger(cfg config.LogConfig) (closeFn func()) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stdout
	closeFn = func() {}
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
		} else {
			w = f
			closeFn = func() { f.Close() }
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "console":
		handler = console.NewHandler(w, &console.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
	return closeFn
}

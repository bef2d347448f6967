// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Mode        string            `mapstructure:"mode"` // "modbus" or "passthrough"
	Serial      SerialConfig      `mapstructure:"serial"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Slave       SlaveConfig       `mapstructure:"slave"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Debug       DebugConfig       `mapstructure:"debug"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	File   string `mapstructure:"file"`   // Log file path, "-" for stdout
	Format string `mapstructure:"format"` // text, json, console
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // Read poll interval of the port

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// RelayConfig defines the secondary port mirrored in pass-through mode
type RelayConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Serial  SerialConfig `mapstructure:"serial"`
}

// SlaveConfig defines the identity and register maps of the slave
type SlaveConfig struct {
	Addresses  []int          `mapstructure:"addresses"`
	ID         int            `mapstructure:"id"`
	Running    bool           `mapstructure:"running"`
	Additional string         `mapstructure:"additional"` // Report Slave ID extra data; "machine" uses the host id
	Registers  []RegisterSpec `mapstructure:"registers"`
}

// RegisterSpec defines one holding register
type RegisterSpec struct {
	Register int    `mapstructure:"register"` // 4xxxxx number, e.g. 401000
	Variable int    `mapstructure:"variable"`
	Size     string `mapstructure:"size"`   // "u16" or "u32"
	Access   string `mapstructure:"access"` // "r", "w", "rw"
	Name     string `mapstructure:"name"`
	Callback string `mapstructure:"callback"` // upper_word, lower_word
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// MonitorConfig defines the MQTT monitor
type MonitorConfig struct {
	Broker   string        `mapstructure:"broker"` // mqtt://host:1883/topic/prefix
	Interval time.Duration `mapstructure:"interval"`
}

// DebugConfig defines the network debug endpoints; empty addresses disable them
type DebugConfig struct {
	RtuOverTcp string `mapstructure:"rtu_over_tcp"` // e.g. "127.0.0.1:5020"
	Tcp        string `mapstructure:"tcp"`          // Modbus TCP, e.g. "127.0.0.1:5502"
}

// Flags returns the command line flags understood by LoadConfig.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("modbus-rtu-slave", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Path to config file")
	fs.StringP("log_level", "v", "", "Log level (debug, info, warn, error)")
	fs.StringP("device", "p", "", "Serial device of the Modbus line")
	fs.IntP("baud_rate", "s", 0, "Baud rate of the Modbus line")
	fs.String("mode", "", "Network mode (modbus, passthrough)")
	return fs
}

// LoadConfig loads configuration from the file named by the config flag,
// or from the default search path, and applies flag overrides.
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	configFile, _ := flags.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-rtu-slave/")
		v.AddConfigPath("$HOME/.modbus-rtu-slave")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("mode", "modbus")
	v.SetDefault("serial.baud_rate", 19200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "E")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("slave.addresses", []int{247})
	v.SetDefault("slave.running", true)
	v.SetDefault("persistence.type", "memory")
	v.SetDefault("monitor.interval", 10*time.Second)

	bind := map[string]string{
		"log.level":        "log_level",
		"serial.device":    "device",
		"serial.baud_rate": "baud_rate",
		"mode":             "mode",
	}
	for key, name := range bind {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Serial)
	fixupSerial(&config.Relay.Serial)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "E"
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 100 * time.Millisecond
	}
}

// Validate checks the settings that cannot be fixed up.
func (c *Config) Validate() error {
	if err := c.Serial.validate("serial"); err != nil {
		return err
	}
	if c.Relay.Enabled {
		if err := c.Relay.Serial.validate("relay.serial"); err != nil {
			return err
		}
	}
	switch c.Mode {
	case "modbus", "passthrough":
	default:
		return fmt.Errorf("mode: unknown mode %q", c.Mode)
	}
	if c.Mode == "passthrough" && !c.Relay.Enabled {
		return fmt.Errorf("mode: passthrough requires relay.enabled")
	}
	if len(c.Slave.Addresses) == 0 {
		return fmt.Errorf("slave.addresses: at least one address required")
	}
	for _, a := range c.Slave.Addresses {
		if a < 1 || a > 247 {
			return fmt.Errorf("slave.addresses: %d not in 1..247", a)
		}
	}
	if c.Slave.ID < 0 || c.Slave.ID > 255 {
		return fmt.Errorf("slave.id: %d not a byte", c.Slave.ID)
	}
	return nil
}

func (s *SerialConfig) validate(section string) error {
	if s.Device == "" {
		return fmt.Errorf("%s.device: required", section)
	}
	if s.BaudRate <= 0 {
		return fmt.Errorf("%s.baud_rate: must be positive, got %d", section, s.BaudRate)
	}
	if s.DataBits != 8 {
		return fmt.Errorf("%s.data_bits: RTU requires 8, got %d", section, s.DataBits)
	}
	switch s.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("%s.parity: must be N, E or O, got %q", section, s.Parity)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("%s.stop_bits: must be 1 or 2, got %d", section, s.StopBits)
	}
	return nil
}

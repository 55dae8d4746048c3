package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/pkg/peripheral"
	"gopkg.in/yaml.v3"
)

// Where adapter on/off events come from.
const (
	AdapterSourceStatic = "static" // the adapter is assumed on at startup
	AdapterSourceBlueZ  = "bluez"  // org.bluez Adapter1.Powered over D-Bus
	AdapterSourceInput  = "input"  // {"adapter":"on|off"} lines on the input stream
)

// Where JSON-lines input events are read from.
const (
	InputStdin = "stdin"
	InputPTY   = "pty"
	InputNone  = "none"
)

// AdvertiseConfig mirrors peripheral.AdvertiseSettings in YAML-friendly form.
type AdvertiseConfig struct {
	Mode              string        `yaml:"mode" default:"low_latency"`
	TxPower           string        `yaml:"tx_power" default:"high"`
	Connectable       bool          `yaml:"connectable" default:"true"`
	IncludeDeviceName bool          `yaml:"include_device_name" default:"true"`
	IncludeTxPower    bool          `yaml:"include_tx_power" default:"false"`
	ServiceData       string        `yaml:"service_data" default:"Data"`
	Settle            time.Duration `yaml:"settle" default:"200ms"`
}

// Config holds application configuration
type Config struct {
	LogLevel           string          `yaml:"log_level" default:"info"`
	DeviceName         string          `yaml:"device_name" default:"blemote"`
	HCIDevice          int             `yaml:"hci_device" default:"0"`
	ServiceUUID        string          `yaml:"service_uuid" default:"0000bee1-0000-1000-8000-00805f9b34fb"`
	CharacteristicUUID string          `yaml:"characteristic_uuid" default:"0000bee2-0000-1000-8000-00805f9b34fb"`
	Advertise          AdvertiseConfig `yaml:"advertise"`
	AdapterSource      string          `yaml:"adapter_source" default:"static"`
	Input              string          `yaml:"input" default:"stdin"`
	BlueZAdapter       string          `yaml:"bluez_adapter" default:"/org/bluez/hci0"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.DeviceName == "" {
		errs = append(errs, errors.New("device_name: must not be empty"))
	}
	if c.HCIDevice < 0 {
		errs = append(errs, fmt.Errorf("hci_device: must be >= 0, got %d", c.HCIDevice))
	}
	if _, err := c.Definition(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.AdvertiseSettings(); err != nil {
		errs = append(errs, err)
	}

	switch c.AdapterSource {
	case AdapterSourceStatic, AdapterSourceBlueZ, AdapterSourceInput:
	default:
		errs = append(errs, fmt.Errorf("adapter_source: invalid value %q (must be static, bluez or input)", c.AdapterSource))
	}
	switch c.Input {
	case InputStdin, InputPTY, InputNone:
	default:
		errs = append(errs, fmt.Errorf("input: invalid value %q (must be stdin, pty or none)", c.Input))
	}
	if c.AdapterSource == AdapterSourceInput && c.Input == InputNone {
		errs = append(errs, errors.New("adapter_source: input requires an input stream"))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Definition builds the GATT topology from the configured UUIDs.
func (c *Config) Definition() (peripheral.Definition, error) {
	service, err := peripheral.ParseUUID(c.ServiceUUID)
	if err != nil {
		return peripheral.Definition{}, fmt.Errorf("service_uuid: %w", err)
	}
	characteristic, err := peripheral.ParseUUID(c.CharacteristicUUID)
	if err != nil {
		return peripheral.Definition{}, fmt.Errorf("characteristic_uuid: %w", err)
	}
	if peripheral.SameUUID(service, characteristic) {
		return peripheral.Definition{}, errors.New("characteristic_uuid: must differ from service_uuid")
	}
	return peripheral.NewDefinition(service, characteristic), nil
}

func (c *Config) AdvertiseSettings() (peripheral.AdvertiseSettings, error) {
	mode, err := peripheral.ParseAdvertiseMode(c.Advertise.Mode)
	if err != nil {
		return peripheral.AdvertiseSettings{}, fmt.Errorf("advertise.mode: %w", err)
	}
	power, err := peripheral.ParseTxPowerLevel(c.Advertise.TxPower)
	if err != nil {
		return peripheral.AdvertiseSettings{}, fmt.Errorf("advertise.tx_power: %w", err)
	}
	if c.Advertise.Settle < 0 {
		return peripheral.AdvertiseSettings{}, fmt.Errorf("advertise.settle: must not be negative, got %s", c.Advertise.Settle)
	}

	var data []byte
	if c.Advertise.ServiceData != "" {
		data = []byte(c.Advertise.ServiceData)
	}
	return peripheral.AdvertiseSettings{
		Mode:              mode,
		TxPower:           power,
		Connectable:       c.Advertise.Connectable,
		IncludeDeviceName: c.Advertise.IncludeDeviceName,
		IncludeTxPower:    c.Advertise.IncludeTxPower,
		ServiceData:       data,
		Settle:            c.Advertise.Settle,
	}, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

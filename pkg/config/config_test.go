package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/internal/testutils"
	"github.com/srg/blemote/pkg/peripheral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "blemote", cfg.DeviceName)
	assert.Equal(t, 0, cfg.HCIDevice)
	assert.Equal(t, AdapterSourceStatic, cfg.AdapterSource)
	assert.Equal(t, InputStdin, cfg.Input)
	assert.Equal(t, "/org/bluez/hci0", cfg.BlueZAdapter)

	def, err := cfg.Definition()
	require.NoError(t, err)
	assert.True(t, peripheral.SameUUID(peripheral.DefaultServiceUUID, def.Service))
	assert.True(t, peripheral.SameUUID(peripheral.DefaultCharacteristicUUID, def.Characteristic))

	settings, err := cfg.AdvertiseSettings()
	require.NoError(t, err)
	assert.Equal(t, peripheral.DefaultAdvertiseSettings(), settings)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(testutils.Dedent(`
		log_level: debug
		device_name: pad-1
		hci_device: 1
		service_uuid: "0xFFE0"
		characteristic_uuid: "ffe1"
		adapter_source: bluez
		input: pty
		advertise:
		  mode: balanced
		  tx_power: low
		  include_device_name: false
		  service_data: ""
		  settle: 500ms
	`)))
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, "pad-1", cfg.DeviceName)
	assert.Equal(t, 1, cfg.HCIDevice)
	assert.Equal(t, AdapterSourceBlueZ, cfg.AdapterSource)
	assert.Equal(t, InputPTY, cfg.Input)

	def, err := cfg.Definition()
	require.NoError(t, err)
	assert.True(t, peripheral.SameUUID(ble.UUID16(0xffe0), def.Service))
	assert.True(t, peripheral.SameUUID(ble.UUID16(0xffe1), def.Characteristic))

	settings, err := cfg.AdvertiseSettings()
	require.NoError(t, err)
	assert.Equal(t, peripheral.AdvertiseBalanced, settings.Mode)
	assert.Equal(t, peripheral.TxPowerLow, settings.TxPower)
	assert.True(t, settings.Connectable, "untouched fields keep their defaults")
	assert.False(t, settings.IncludeDeviceName)
	assert.Nil(t, settings.ServiceData)
	assert.Equal(t, 500*time.Millisecond, settings.Settle)
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad log level", "log_level: chatty", "log_level"},
		{"empty name", `device_name: ""`, "device_name"},
		{"negative hci", "hci_device: -1", "hci_device"},
		{"bad service uuid", "service_uuid: not-a-uuid", "service_uuid"},
		{"same uuids", "characteristic_uuid: 0000bee1-0000-1000-8000-00805f9b34fb", "must differ"},
		{"bad mode", "advertise: {mode: turbo}", "advertise.mode"},
		{"bad tx power", "advertise: {tx_power: max}", "advertise.tx_power"},
		{"bad adapter source", "adapter_source: udev", "adapter_source"},
		{"bad input", "input: serial", "input"},
		{"input adapter without input", "{adapter_source: input, input: none}", "requires an input stream"},
		{"not yaml", "log_level: [", "invalid YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	cfg.Input = "serial"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "input")
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "blemote.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_name: desk\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "desk", cfg.DeviceName)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{"creates logger with debug level", "debug", logrus.DebugLevel},
		{"creates logger with info level", "info", logrus.InfoLevel},
		{"creates logger with warn level", "warn", logrus.WarnLevel},
		{"creates logger with error level", "error", logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ryansname/battmon/src/battery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTempFile creates a temporary file with the given content and returns its path.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0", cfg.Sensor.Bus)
	assert.Equal(t, uint16(0x45), cfg.Sensor.Address)
	assert.Equal(t, 3, cfg.Battery.Cells)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Delay)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, battery.ForCells(3), cfg.Thresholds())

	// Each call returns a distinct instance
	assert.NotSame(t, cfg, DefaultConfig())
}

func TestLoadConfig_Cases(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
		validate    func(t *testing.T, cfg *Config)
	}{
		{
			name: "full file",
			content: `
sensor:
  bus: "1"
  address: 0x40
battery:
  name: Camper Pack
  cells: 4
  rearm: true
monitor:
  delay: 30s
mqtt:
  broker: mqtt.lan
  client_id: camper
`,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "1", cfg.Sensor.Bus)
				assert.Equal(t, uint16(0x40), cfg.Sensor.Address)
				assert.Equal(t, "Camper Pack", cfg.Battery.Name)
				assert.Equal(t, 4, cfg.Battery.Cells)
				assert.True(t, cfg.Battery.Rearm)
				assert.Equal(t, 30*time.Second, cfg.Monitor.Delay)
				assert.Equal(t, "mqtt.lan", cfg.MQTT.Broker)
				assert.Equal(t, "camper", cfg.MQTT.ClientID)
				assert.NoError(t, cfg.Validate())
			},
		},
		{
			name: "partial file keeps defaults",
			content: `
battery:
  cells: 2
`,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2, cfg.Battery.Cells)
				assert.Equal(t, "0", cfg.Sensor.Bus)
				assert.Equal(t, uint16(0x45), cfg.Sensor.Address)
				assert.Equal(t, 5*time.Second, cfg.Monitor.Delay)
			},
		},
		{
			name: "explicit thresholds",
			content: `
battery:
  thresholds:
    min: 11.0
    max: 14.4
    low: 12.2
    very_low: 12.0
    critical: 11.8
`,
			validate: func(t *testing.T, cfg *Config) {
				require.NotNil(t, cfg.Battery.Thresholds)
				assert.Equal(t, battery.Thresholds{Min: 11.0, Max: 14.4, Low: 12.2, VeryLow: 12.0, Critical: 11.8}, cfg.Thresholds())
				assert.NoError(t, cfg.Validate())
			},
		},
		{
			name: "nan threshold loads but fails validation",
			content: `
battery:
  thresholds:
    min: 9.9
    max: 12.6
    low: .nan
    very_low: 10.5
    critical: 10.05
`,
			validate: func(t *testing.T, cfg *Config) {
				err := cfg.Validate()
				require.ErrorIs(t, err, battery.ErrInvalidThresholds)
				assert.Contains(t, err.Error(), "low must be a finite voltage")
			},
		},
		{
			name:        "malformed yaml",
			content:     "battery: [cells",
			errContains: "failed to unmarshal config",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeTempFile(t, "battmon.yaml", tc.content))
			if tc.errContains != "" {
				require.Error(t, err)
				assert.Nil(t, cfg)
				assert.Contains(t, err.Error(), tc.errContains)
				return
			}
			require.NoError(t, err)
			tc.validate(t, cfg)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BATTMON_I2C_BUS", "3")
	t.Setenv("BATTMON_I2C_ADDRESS", "0x41")
	t.Setenv("MQTT_BROKER", "broker.lan")
	t.Setenv("MQTT_USERNAME", "user")
	t.Setenv("MQTT_PASSWORD", "secret")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnvOverrides(cfg))

	assert.Equal(t, "3", cfg.Sensor.Bus)
	assert.Equal(t, uint16(0x41), cfg.Sensor.Address)
	assert.Equal(t, "broker.lan", cfg.MQTT.Broker)
	assert.Equal(t, "user", cfg.MQTT.Username)
	assert.Equal(t, "secret", cfg.MQTT.Password)
}

func TestApplyEnvOverrides_BadAddress(t *testing.T) {
	t.Setenv("BATTMON_I2C_ADDRESS", "banana")

	err := ApplyEnvOverrides(DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "BATTMON_I2C_ADDRESS")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Config)
		target error
	}{
		{"zero cells", func(cfg *Config) { cfg.Battery.Cells = 0 }, ErrInvalidConfig},
		{"zero delay", func(cfg *Config) { cfg.Monitor.Delay = 0 }, ErrInvalidConfig},
		{"address out of range", func(cfg *Config) { cfg.Sensor.Address = 0x100 }, ErrInvalidConfig},
		{"non-monotonic thresholds", func(cfg *Config) {
			th := battery.ForCells(3)
			th.VeryLow, th.Low = th.Low, th.VeryLow
			cfg.Battery.Thresholds = &th
		}, battery.ErrInvalidThresholds},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), tc.target)
		})
	}
}

func TestMonitorConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Battery.Rearm = true

	mc := cfg.MonitorConfig(true, SkipOnSensorError)

	assert.Equal(t, "Battery", mc.Name)
	assert.Equal(t, battery.ForCells(3), mc.Thresholds)
	assert.True(t, mc.Rearm)
	assert.True(t, mc.Repeat)
	assert.Equal(t, 5*time.Second, mc.Delay)
	assert.Equal(t, SkipOnSensorError, mc.OnSensorError)
	assert.False(t, mc.FullSample)

	// Current and power are only worth reading when MQTT publishes them
	cfg.MQTT.Broker = "broker.lan"
	assert.True(t, cfg.MonitorConfig(true, SkipOnSensorError).FullSample)
}

func TestLoadConfig_ExampleFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "battmon.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ryansname/battmon/src/battery"
	"github.com/ryansname/battmon/src/ina260"
	"gopkg.in/yaml.v3"
)

// SensorConfig locates the INA260 on the I2C bus
type SensorConfig struct {
	Bus     string `yaml:"bus"`
	Address uint16 `yaml:"address"`
}

// BatteryConfig describes the monitored pack
type BatteryConfig struct {
	Name  string `yaml:"name"`
	Cells int    `yaml:"cells"`
	// Thresholds replaces the per-cell defaults entirely when set
	Thresholds *battery.Thresholds `yaml:"thresholds"`
	Rearm      bool                `yaml:"rearm"`
}

// MonitorSettings controls the polling loop
type MonitorSettings struct {
	Delay time.Duration `yaml:"delay"`
}

// MQTTConfig holds connection details for the optional MQTT publisher.
// An empty Broker disables publishing.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// Config is the file-level configuration, overridden by env and flags
type Config struct {
	Sensor  SensorConfig    `yaml:"sensor"`
	Battery BatteryConfig   `yaml:"battery"`
	Monitor MonitorSettings `yaml:"monitor"`
	MQTT    MQTTConfig      `yaml:"mqtt"`
}

// ErrInvalidConfig is returned for settings that can never work
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultConfig returns the reference deployment: a 3S pack on bus 0 at 0x45
func DefaultConfig() *Config {
	return &Config{
		Sensor: SensorConfig{
			Bus:     ina260.DefaultBus,
			Address: ina260.DefaultAddress,
		},
		Battery: BatteryConfig{
			Name:  "Battery",
			Cells: battery.DefaultCells,
		},
		Monitor: MonitorSettings{
			Delay: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID: "battmon",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides updates cfg from the environment (and .env, once loaded).
// Recognized variables:
//   - BATTMON_I2C_BUS overrides cfg.Sensor.Bus
//   - BATTMON_I2C_ADDRESS overrides cfg.Sensor.Address (0x prefix allowed)
//   - MQTT_BROKER, MQTT_USERNAME and MQTT_PASSWORD override cfg.MQTT
func ApplyEnvOverrides(cfg *Config) error {
	if bus := os.Getenv("BATTMON_I2C_BUS"); bus != "" {
		cfg.Sensor.Bus = bus
	}
	if addr := os.Getenv("BATTMON_I2C_ADDRESS"); addr != "" {
		parsed, err := parseAddress(addr)
		if err != nil {
			return fmt.Errorf("BATTMON_I2C_ADDRESS: %w", err)
		}
		cfg.Sensor.Address = parsed
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		cfg.MQTT.Broker = broker
	}
	if username := os.Getenv("MQTT_USERNAME"); username != "" {
		cfg.MQTT.Username = username
	}
	if password := os.Getenv("MQTT_PASSWORD"); password != "" {
		cfg.MQTT.Password = password
	}
	return nil
}

// parseAddress accepts decimal, 0x hex or 0o octal 7-bit addresses
func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: bad I2C address %q", ErrInvalidConfig, s)
	}
	if v > 0x7F {
		return 0, fmt.Errorf("%w: I2C address 0x%X out of range", ErrInvalidConfig, v)
	}
	return uint16(v), nil
}

// Thresholds returns the explicit thresholds if configured, otherwise the
// per-cell defaults scaled to the pack
func (c *Config) Thresholds() battery.Thresholds {
	if c.Battery.Thresholds != nil {
		return *c.Battery.Thresholds
	}
	return battery.ForCells(c.Battery.Cells)
}

// Validate checks everything that would otherwise surface mid-run
func (c *Config) Validate() error {
	if c.Battery.Thresholds == nil && c.Battery.Cells <= 0 {
		return fmt.Errorf("%w: cell count must be positive, got %d", ErrInvalidConfig, c.Battery.Cells)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if c.Monitor.Delay <= 0 {
		return fmt.Errorf("%w: delay must be positive, got %v", ErrInvalidConfig, c.Monitor.Delay)
	}
	if c.Sensor.Address > 0x7F {
		return fmt.Errorf("%w: I2C address 0x%X out of range", ErrInvalidConfig, c.Sensor.Address)
	}
	return nil
}

// MonitorConfig creates the worker configuration from the resolved settings
func (c *Config) MonitorConfig(repeat bool, policy SensorErrorPolicy) MonitorConfig {
	return MonitorConfig{
		Name:          c.Battery.Name,
		Thresholds:    c.Thresholds(),
		Rearm:         c.Battery.Rearm,
		Repeat:        repeat,
		Delay:         c.Monitor.Delay,
		OnSensorError: policy,
		FullSample:    c.MQTT.Broker != "",
	}
}

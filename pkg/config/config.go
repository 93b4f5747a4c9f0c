// Package config loads the receiver daemon configuration from YAML.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDataInvalidTimeout = 300 // s
	MinDataInvalidTimeout     = 60  // s
)

// Config is the daemon configuration
type Config struct {
	Hardware HardwareConfig `yaml:"hardware"`
	Radio    RadioConfig    `yaml:"radio"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Log      LogConfig      `yaml:"log"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Serial   SerialConfig   `yaml:"serial"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// HardwareConfig describes the SPI bus and GPIO lines the CC1101 is wired to
type HardwareConfig struct {
	SPIPort    string `yaml:"spi_port"`     // periph port name, empty selects the first port
	SPISpeedHz int64  `yaml:"spi_speed_hz"` // bus clock
	GPIOChip   string `yaml:"gpio_chip"`    // e.g. gpiochip0
	GDO2Pin    int    `yaml:"gdo2_pin"`     // line offset of GDO2
	CSPin      int    `yaml:"cs_pin"`       // line offset of CSn, -1 when the SPI driver owns it
}

// RadioConfig tunes the transceiver driver
type RadioConfig struct {
	MaxStatePolls int    `yaml:"max_state_polls"` // MARCSTATE reads per state transition
	SyncTimeoutMs int    `yaml:"sync_timeout_ms"` // wait for GDO2 release
	FrequencyHz   uint64 `yaml:"frequency_hz"`    // 0 keeps 433.92 MHz
}

// DaemonConfig controls the reception loop and the reading lifetime
type DaemonConfig struct {
	DataInvalidTimeout int  `yaml:"data_invalid_timeout"` // s after which the last reading is stale
	TestMode           bool `yaml:"test_mode"`            // log every reading as received
	StatsLogEvery      int  `yaml:"stats_log_every"`      // bad/all log period in reads, test mode
}

// LogConfig selects the logrus level and formatter
type LogConfig struct {
	Level  string `yaml:"level"`  // logrus level name
	Format string `yaml:"format"` // text or json
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`    // empty generates one from the instance id
	TopicPrefix string `yaml:"topic_prefix"` // readings go to <prefix>/reading, commands come from <prefix>/reset
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// SerialConfig writes one line per reading to a tty
type SerialConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
}

// MetricsConfig exposes Prometheus metrics over HTTP
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Hardware: HardwareConfig{
			SPISpeedHz: 8000000,
			GPIOChip:   "gpiochip0",
			GDO2Pin:    25,
			CSPin:      -1,
		},
		Radio: RadioConfig{
			MaxStatePolls: 10000,
			SyncTimeoutMs: 500,
		},
		Daemon: DaemonConfig{
			DataInvalidTimeout: DefaultDataInvalidTimeout,
			StatsLogEvery:      50,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "oregon",
		},
		Serial: SerialConfig{
			Baud: 9600,
		},
		Metrics: MetricsConfig{
			Listen: ":9101",
			Path:   "/metrics",
		},
	}
}

// Load reads filename on top of the defaults and validates the result
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	cfg.applyFloors()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFloors() {
	if c.Daemon.DataInvalidTimeout < MinDataInvalidTimeout {
		c.Daemon.DataInvalidTimeout = MinDataInvalidTimeout
	}
	if c.Daemon.StatsLogEvery <= 0 {
		c.Daemon.StatsLogEvery = 50
	}
}

// Validate checks the settings that cannot be repaired by a default
func (c *Config) Validate() error {
	if c.Hardware.SPISpeedHz <= 0 || c.Hardware.SPISpeedHz > 10000000 {
		return errors.Errorf("hardware.spi_speed_hz %d out of range (1 - 10000000)", c.Hardware.SPISpeedHz)
	}
	if c.Hardware.GPIOChip == "" {
		return errors.New("hardware.gpio_chip is required")
	}
	if c.Hardware.GDO2Pin < 0 {
		return errors.Errorf("hardware.gdo2_pin %d invalid", c.Hardware.GDO2Pin)
	}
	if c.Hardware.CSPin < -1 || (c.Hardware.CSPin >= 0 && c.Hardware.CSPin == c.Hardware.GDO2Pin) {
		return errors.Errorf("hardware.cs_pin %d invalid", c.Hardware.CSPin)
	}
	if c.Radio.MaxStatePolls <= 0 {
		return errors.Errorf("radio.max_state_polls %d must be positive", c.Radio.MaxStatePolls)
	}
	if c.Radio.SyncTimeoutMs <= 0 {
		return errors.Errorf("radio.sync_timeout_ms %d must be positive", c.Radio.SyncTimeoutMs)
	}
	if c.Radio.FrequencyHz != 0 && (c.Radio.FrequencyHz < 300000000 || c.Radio.FrequencyHz > 928000000) {
		return errors.Errorf("radio.frequency_hz %d out of range", c.Radio.FrequencyHz)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			return errors.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS)
		}
	}
	if c.Serial.Enabled && c.Serial.Port == "" {
		return errors.New("serial.port is required when serial is enabled")
	}
	return nil
}

// DataInvalidAfter returns the reading lifetime
func (c *Config) DataInvalidAfter() time.Duration {
	return time.Duration(c.Daemon.DataInvalidTimeout) * time.Second
}

// SyncTimeout returns the GDO2 release wait
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Radio.SyncTimeoutMs) * time.Millisecond
}

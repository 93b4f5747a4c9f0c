package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
hardware:
  spi_port: /dev/spidev0.0
  gdo2_pin: 6
radio:
  sync_timeout_ms: 250
daemon:
  data_invalid_timeout: 20
  test_mode: true
mqtt:
  enabled: true
  broker: tcp://broker:1883
  topic_prefix: home/outdoor
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Hardware.SPIPort != "/dev/spidev0.0" || cfg.Hardware.GDO2Pin != 6 {
		t.Errorf("hardware = %+v", cfg.Hardware)
	}
	// untouched keys keep their defaults
	if cfg.Hardware.SPISpeedHz != 8000000 || cfg.Hardware.CSPin != -1 {
		t.Errorf("hardware defaults lost: %+v", cfg.Hardware)
	}
	if cfg.DataInvalidAfter() != time.Minute {
		t.Errorf("data invalid timeout = %s, want the 60 s floor", cfg.DataInvalidAfter())
	}
	if cfg.SyncTimeout() != 250*time.Millisecond {
		t.Errorf("sync timeout = %s", cfg.SyncTimeout())
	}
	if !cfg.Daemon.TestMode || cfg.Daemon.StatsLogEvery != 50 {
		t.Errorf("daemon = %+v", cfg.Daemon)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.TopicPrefix != "home/outdoor" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := map[string]string{
		"spi speed":   "hardware:\n  spi_speed_hz: 0\n",
		"cs on gdo2":  "hardware:\n  gdo2_pin: 6\n  cs_pin: 6\n",
		"format":      "log:\n  format: xml\n",
		"mqtt broker": "mqtt:\n  enabled: true\n  broker: \"\"\n",
		"serial port": "serial:\n  enabled: true\n",
		"frequency":   "radio:\n  frequency_hz: 100\n",
		"yaml":        "hardware: [\n",
	}
	for name, data := range tests {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: invalid config accepted", name)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MQTT struct {
		Server          string `yaml:"server"`
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		ClientID        string `yaml:"client_id"`
		Version         int    `yaml:"version"`
		Namespace       string `yaml:"namespace"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
	} `yaml:"mqtt"`
	WMS struct {
		SerialPort string `yaml:"serial_port"`
		Channel    int    `yaml:"channel"`
		PanID      string `yaml:"pan_id"`
		Key        string `yaml:"key"`
		// Intervals are in milliseconds.
		PollingInterval int `yaml:"polling_interval"`
		MovingInterval  int `yaml:"moving_interval"`
		ScanTimeout     int `yaml:"scan_timeout"`
	} `yaml:"wms"`
	Devices struct {
		Ignored []string `yaml:"ignored"`
		Forced  []string `yaml:"forced"` // "snr" or "snr:type"
	} `yaml:"devices"`
	Web struct {
		Listen         string   `yaml:"listen"` // empty disables the status API
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Influx struct {
		URL           string `yaml:"url"` // empty disables telemetry
		Token         string `yaml:"token"`
		Org           string `yaml:"org"`
		Bucket        string `yaml:"bucket"`
		FlushInterval int    `yaml:"flush_interval"` // milliseconds
	} `yaml:"influx"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

var (
	panIDPattern = regexp.MustCompile(`^[0-9A-F]{4}$`)
	keyPattern   = regexp.MustCompile(`^[0-9A-F]{32}$`)
)

func (c *Config) validate() error {
	if c.MQTT.Server == "" {
		return fmt.Errorf("mqtt.server is required")
	}
	if c.MQTT.Version < 3 || c.MQTT.Version > 5 {
		return fmt.Errorf("mqtt.version must be 3, 4 or 5, got %d", c.MQTT.Version)
	}
	if strings.ContainsAny(c.MQTT.Namespace, "/+#") {
		return fmt.Errorf("mqtt.namespace must be a single topic level, got %q", c.MQTT.Namespace)
	}
	if c.WMS.SerialPort == "" {
		return fmt.Errorf("wms.serial_port is required")
	}
	if c.WMS.Channel < 11 || c.WMS.Channel > 26 {
		return fmt.Errorf("wms.channel must be 11-26, got %d", c.WMS.Channel)
	}
	if !panIDPattern.MatchString(c.WMS.PanID) {
		return fmt.Errorf("wms.pan_id must be 4 hex digits, got %q", c.WMS.PanID)
	}
	if !keyPattern.MatchString(c.WMS.Key) {
		return fmt.Errorf("wms.key must be 32 hex digits")
	}
	if c.WMS.PollingInterval <= 0 || c.WMS.MovingInterval <= 0 {
		return fmt.Errorf("wms polling and moving intervals must be positive")
	}
	if c.Influx.URL != "" && c.Influx.Bucket == "" {
		return fmt.Errorf("influx.bucket is required when influx.url is set")
	}
	return nil
}

// loadConfig reads path and fills in defaults. An empty path yields the
// defaults only.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.Server == "" {
		c.MQTT.Server = "tcp://localhost:1883"
	}
	if c.MQTT.Version == 0 {
		c.MQTT.Version = 3
	}
	if c.MQTT.Namespace == "" {
		c.MQTT.Namespace = "warema"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.WMS.SerialPort == "" {
		c.WMS.SerialPort = "/dev/ttyUSB0"
	}
	if c.WMS.Channel == 0 {
		c.WMS.Channel = 17
	}
	if c.WMS.PanID == "" {
		c.WMS.PanID = "FFFF"
	}
	if c.WMS.Key == "" {
		c.WMS.Key = "00112233445566778899AABBCCDDEEFF"
	}
	if c.WMS.PollingInterval == 0 {
		c.WMS.PollingInterval = 30000
	}
	if c.WMS.MovingInterval == 0 {
		c.WMS.MovingInterval = 1000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	c.normalize()
}

// normalize upper-cases hex settings so "ffff" and "FFFF" mean the same PAN.
func (c *Config) normalize() {
	c.WMS.PanID = strings.ToUpper(strings.TrimSpace(c.WMS.PanID))
	c.WMS.Key = strings.ToUpper(strings.TrimSpace(c.WMS.Key))
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"warema-bridge/internal/profile"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// resolve runs the command line with args and returns the resolved config
// instead of starting the bridge.
func resolve(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg *Config
		err error
	)
	c := cmd()
	c.Action = func(_ context.Context, cmd *cli.Command) error {
		cfg, err = resolveConfig(cmd)
		return nil
	}
	require.NoError(t, c.Run(context.Background(), append([]string{"warema-bridge"}, args...)))
	return cfg, err
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Server)
	assert.Equal(t, 3, cfg.MQTT.Version)
	assert.Equal(t, "warema", cfg.MQTT.Namespace)
	assert.Equal(t, "homeassistant", cfg.MQTT.DiscoveryPrefix)
	assert.Equal(t, "/dev/ttyUSB0", cfg.WMS.SerialPort)
	assert.Equal(t, 17, cfg.WMS.Channel)
	assert.Equal(t, "FFFF", cfg.WMS.PanID)
	assert.Equal(t, "00112233445566778899AABBCCDDEEFF", cfg.WMS.Key)
	assert.Equal(t, 30000, cfg.WMS.PollingInterval)
	assert.Equal(t, 1000, cfg.WMS.MovingInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Web.Listen)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  server: tcp://broker:1883
  username: bridge
  version: 4
wms:
  serial_port: /dev/ttyACM0
  channel: 21
  pan_id: abcd
  key: 0123456789abcdef0123456789abcdef
  polling_interval: 60000
devices:
  ignored: ["111", "222"]
  forced: ["555:25", "777"]
web:
  listen: 127.0.0.1:8080
log:
  level: debug
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Server)
	assert.Equal(t, "bridge", cfg.MQTT.Username)
	assert.Equal(t, 4, cfg.MQTT.Version)
	assert.Equal(t, 21, cfg.WMS.Channel)
	assert.Equal(t, "ABCD", cfg.WMS.PanID)
	assert.Equal(t, "0123456789ABCDEF0123456789ABCDEF", cfg.WMS.Key)
	assert.Equal(t, 60000, cfg.WMS.PollingInterval)
	assert.Equal(t, 1000, cfg.WMS.MovingInterval)
	assert.Equal(t, []string{"111", "222"}, cfg.Devices.Ignored)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.Listen)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = loadConfig(writeConfig(t, "mqtt: [unclosed"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mqtt version", func(c *Config) { c.MQTT.Version = 6 }, "mqtt.version"},
		{"namespace", func(c *Config) { c.MQTT.Namespace = "a/b" }, "mqtt.namespace"},
		{"channel low", func(c *Config) { c.WMS.Channel = 10 }, "wms.channel"},
		{"channel high", func(c *Config) { c.WMS.Channel = 27 }, "wms.channel"},
		{"pan id", func(c *Config) { c.WMS.PanID = "12345" }, "wms.pan_id"},
		{"key", func(c *Config) { c.WMS.Key = "00" }, "wms.key"},
		{"polling", func(c *Config) { c.WMS.PollingInterval = -1 }, "intervals"},
		{"influx bucket", func(c *Config) { c.Influx.URL = "http://influx:8086" }, "influx.bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.validate(), tt.want)
		})
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  server: tcp://from-file:1883
wms:
  channel: 21
`)
	t.Setenv("MQTT_SERVER", "tcp://from-env:1883")
	t.Setenv("MQTT_VERSION", "5")
	t.Setenv("WMS_PAN_ID", "beef")
	t.Setenv("IGNORED_DEVICES", "1, 2,,3")
	t.Setenv("FORCE_DEVICES", "555:25,777")
	t.Setenv("POLLING_INTERVAL", "15000")

	cfg, err := resolve(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://from-env:1883", cfg.MQTT.Server)
	assert.Equal(t, 5, cfg.MQTT.Version)
	assert.Equal(t, 21, cfg.WMS.Channel)
	assert.Equal(t, "BEEF", cfg.WMS.PanID)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.Devices.Ignored)
	assert.Equal(t, []string{"555:25", "777"}, cfg.Devices.Forced)
	assert.Equal(t, 15000, cfg.WMS.PollingInterval)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("WMS_CHANNEL", "12")
	cfg, err := resolve(t, "--wms-channel", "22", "--log-format", "json")
	require.NoError(t, err)
	assert.Equal(t, 22, cfg.WMS.Channel)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestResolveConfigInvalid(t *testing.T) {
	t.Setenv("WMS_KEY", "nothex")
	_, err := resolve(t)
	assert.ErrorContains(t, err, "invalid config")
}

func TestBridgeConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.Devices.Forced = []string{"555:25", "777"}
	cfg.Devices.Ignored = []string{"9"}
	cfg.WMS.ScanTimeout = 2500

	bcfg, err := bridgeConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "warema", bcfg.Namespace)
	assert.Equal(t, 30*time.Second, bcfg.PollingInterval)
	assert.Equal(t, time.Second, bcfg.MovingInterval)
	assert.Equal(t, 2500*time.Millisecond, bcfg.ScanTimeout)
	require.Len(t, bcfg.Forced, 2)
	assert.Equal(t, profile.TypeVerticalAwning, bcfg.Forced[1].Type)
	assert.Equal(t, []string{"9"}, bcfg.Ignored)

	cfg.Devices.Forced = []string{":20"}
	_, err = bridgeConfig(cfg)
	assert.Error(t, err)
}

func TestWMSSettingsDiscoveryMode(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.True(t, wmsSettings(cfg).DiscoveryMode())

	cfg.WMS.PanID = "1A2B"
	s := wmsSettings(cfg)
	assert.False(t, s.DiscoveryMode())
	assert.Equal(t, 17, s.Channel)
	assert.Equal(t, "/dev/ttyUSB0", s.Port)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,, b ,"))
	assert.Nil(t, splitList(""))
}

func TestLogBus(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.Log.Level = "error"
	b := &logBus{logger: newLogger(cfg)}

	b.Publish("warema/1/state", []byte("open"), true)
	assert.NoError(t, b.Connect(func(string, []byte) error { return nil }))
	assert.False(t, b.IsConnected())
	assert.NoError(t, b.Stop())
}

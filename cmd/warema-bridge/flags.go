package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func cmd() *cli.Command {
	return &cli.Command{
		Name:    "warema-bridge",
		Usage:   "Bridge a Warema WMS stick to MQTT with Home Assistant discovery",
		Version: version,
		Flags:   flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			slog.SetDefault(logger)
			logger.Info("warema-bridge starting", "version", version)
			return run(ctx, cfg, logger)
		},
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Load configuration from `FILE`",
			Sources: cli.EnvVars("CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:    "mqtt-server",
			Usage:   "MQTT broker `URL` (default tcp://localhost:1883)",
			Sources: cli.EnvVars("MQTT_SERVER"),
		},
		&cli.StringFlag{
			Name:    "mqtt-user",
			Usage:   "MQTT username",
			Sources: cli.EnvVars("MQTT_USER"),
		},
		&cli.StringFlag{
			Name:    "mqtt-password",
			Usage:   "MQTT password",
			Sources: cli.EnvVars("MQTT_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "mqtt-clientid",
			Usage:   "MQTT client id (generated when empty)",
			Sources: cli.EnvVars("MQTT_CLIENTID"),
		},
		&cli.IntFlag{
			Name:    "mqtt-version",
			Usage:   "MQTT protocol version: 3 (3.1) or 4 (3.1.1); 5 falls back to 4",
			Sources: cli.EnvVars("MQTT_VERSION"),
		},
		&cli.StringFlag{
			Name:    "mqtt-namespace",
			Usage:   "Topic namespace of the bridge (default warema)",
			Sources: cli.EnvVars("MQTT_NAMESPACE"),
		},
		&cli.StringFlag{
			Name:    "discovery-prefix",
			Usage:   "Home Assistant discovery prefix (default homeassistant)",
			Sources: cli.EnvVars("DISCOVERY_PREFIX"),
		},
		&cli.StringFlag{
			Name:    "ignored-devices",
			Usage:   "Comma separated serial numbers to ignore",
			Sources: cli.EnvVars("IGNORED_DEVICES"),
		},
		&cli.StringFlag{
			Name:    "force-devices",
			Usage:   "Comma separated `SNR[:TYPE]` list registered instead of scan results",
			Sources: cli.EnvVars("FORCE_DEVICES"),
		},
		&cli.IntFlag{
			Name:    "polling-interval",
			Usage:   "Position polling interval in milliseconds (default 30000)",
			Sources: cli.EnvVars("POLLING_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "moving-interval",
			Usage:   "Polling interval of moving blinds in milliseconds (default 1000)",
			Sources: cli.EnvVars("MOVING_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "wms-channel",
			Usage:   "WMS radio channel (default 17)",
			Sources: cli.EnvVars("WMS_CHANNEL"),
		},
		&cli.StringFlag{
			Name:    "wms-key",
			Usage:   "WMS network key, 32 hex digits",
			Sources: cli.EnvVars("WMS_KEY"),
		},
		&cli.StringFlag{
			Name:    "wms-pan-id",
			Usage:   "WMS PAN id, 4 hex digits; FFFF only listens for network parameters",
			Sources: cli.EnvVars("WMS_PAN_ID"),
		},
		&cli.StringFlag{
			Name:    "wms-serial-port",
			Usage:   "Serial device of the WMS stick (default /dev/ttyUSB0)",
			Sources: cli.EnvVars("WMS_SERIAL_PORT"),
		},
		&cli.StringFlag{
			Name:    "web-listen",
			Usage:   "Status API listen `ADDRESS`; empty disables it",
			Sources: cli.EnvVars("WEB_LISTEN"),
		},
		&cli.StringFlag{
			Name:    "web-api-key",
			Usage:   "API key required on /api/ requests",
			Sources: cli.EnvVars("WEB_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "influx-url",
			Usage:   "InfluxDB v2 `URL`; empty disables telemetry",
			Sources: cli.EnvVars("INFLUX_URL"),
		},
		&cli.StringFlag{
			Name:    "influx-token",
			Usage:   "InfluxDB token",
			Sources: cli.EnvVars("INFLUX_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "influx-org",
			Usage:   "InfluxDB organization",
			Sources: cli.EnvVars("INFLUX_ORG"),
		},
		&cli.StringFlag{
			Name:    "influx-bucket",
			Usage:   "InfluxDB bucket",
			Sources: cli.EnvVars("INFLUX_BUCKET"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text or json",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// resolveConfig loads the config file, then lets flags and environment
// variables override it.
func resolveConfig(cmd *cli.Command) (*Config, error) {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, cmd)
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *Config, cmd *cli.Command) {
	setString := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	setInt := func(name string, dst *int) {
		if cmd.IsSet(name) {
			*dst = cmd.Int(name)
		}
	}
	setList := func(name string, dst *[]string) {
		if cmd.IsSet(name) {
			*dst = splitList(cmd.String(name))
		}
	}

	setString("mqtt-server", &cfg.MQTT.Server)
	setString("mqtt-user", &cfg.MQTT.Username)
	setString("mqtt-password", &cfg.MQTT.Password)
	setString("mqtt-clientid", &cfg.MQTT.ClientID)
	setInt("mqtt-version", &cfg.MQTT.Version)
	setString("mqtt-namespace", &cfg.MQTT.Namespace)
	setString("discovery-prefix", &cfg.MQTT.DiscoveryPrefix)
	setList("ignored-devices", &cfg.Devices.Ignored)
	setList("force-devices", &cfg.Devices.Forced)
	setInt("polling-interval", &cfg.WMS.PollingInterval)
	setInt("moving-interval", &cfg.WMS.MovingInterval)
	setInt("wms-channel", &cfg.WMS.Channel)
	setString("wms-key", &cfg.WMS.Key)
	setString("wms-pan-id", &cfg.WMS.PanID)
	setString("wms-serial-port", &cfg.WMS.SerialPort)
	setString("web-listen", &cfg.Web.Listen)
	setString("web-api-key", &cfg.Web.APIKey)
	setString("influx-url", &cfg.Influx.URL)
	setString("influx-token", &cfg.Influx.Token)
	setString("influx-org", &cfg.Influx.Org)
	setString("influx-bucket", &cfg.Influx.Bucket)
	setString("log-level", &cfg.Log.Level)
	setString("log-format", &cfg.Log.Format)
}

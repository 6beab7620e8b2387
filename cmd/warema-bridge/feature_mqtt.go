//go:build !no_mqtt

package main

import (
	"log/slog"

	"warema-bridge/internal/bridge"
	"warema-bridge/internal/mqtt"
)

func newBus(cfg *Config, topics bridge.Topics, logger *slog.Logger) bus {
	return mqtt.New(mqtt.Config{
		Broker:          cfg.MQTT.Server,
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		ClientID:        cfg.MQTT.ClientID,
		ProtocolVersion: cfg.MQTT.Version,
		StateTopic:      topics.BridgeState(),
		Subscriptions:   topics.CommandSubscriptions(),
	}, logger)
}

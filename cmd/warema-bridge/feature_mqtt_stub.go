//go:build no_mqtt

package main

import (
	"log/slog"

	"warema-bridge/internal/bridge"
)

func newBus(_ *Config, _ bridge.Topics, logger *slog.Logger) bus {
	logger.Warn("built without MQTT support, messages are only logged")
	return &logBus{logger: logger.With("component", "bus")}
}

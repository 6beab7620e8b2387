// Package bridge translates between the WMS driver and the MQTT bus: it
// registers devices and publishes their discovery payloads, turns driver
// events into state topics and routes inbound command topics to the driver.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warema-bridge/internal/profile"
	"warema-bridge/internal/registry"
	"warema-bridge/internal/wms"
)

// Manufacturer is reported in every discovery payload.
const Manufacturer = "Warema"

// Publisher sends a message to the bus. Delivery is owned by the implementation.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool)
}

// Config holds bridge configuration.
type Config struct {
	Namespace       string
	DiscoveryPrefix string
	Ignored         []string
	Forced          []ForcedDevice
	PollingInterval time.Duration
	MovingInterval  time.Duration
	ScanTimeout     time.Duration
}

// ForcedDevice is an operator-configured device that replaces scan results.
type ForcedDevice struct {
	Serial string
	Type   profile.TypeCode
}

// DefaultForcedType is used for forced entries without an explicit type.
const DefaultForcedType = profile.TypeVerticalAwning

// ParseForced parses a forced device list such as "555:25,777".
func ParseForced(s string) ([]ForcedDevice, error) {
	var list []ForcedDevice
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		snr, typ, _ := strings.Cut(entry, ":")
		snr = strings.TrimSpace(snr)
		if snr == "" {
			return nil, fmt.Errorf("forced device %q: empty serial", entry)
		}
		code := profile.TypeCode(strings.TrimSpace(typ))
		if code == "" {
			code = DefaultForcedType
		}
		list = append(list, ForcedDevice{Serial: snr, Type: code})
	}
	return list, nil
}

// Bridge owns the device registry and connects driver, registry and bus.
type Bridge struct {
	driver wms.Driver
	pub    Publisher
	reg    *registry.Registry
	events *EventBus
	topics Topics
	cfg    Config
	ignore map[string]struct{}
	logger *slog.Logger
}

// New creates a bridge. events may be nil.
func New(driver wms.Driver, pub Publisher, reg *registry.Registry, events *EventBus, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.Namespace == "" {
		cfg.Namespace = "warema"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	ignore := make(map[string]struct{}, len(cfg.Ignored))
	for _, snr := range cfg.Ignored {
		if snr = strings.TrimSpace(snr); snr != "" {
			ignore[snr] = struct{}{}
		}
	}
	return &Bridge{
		driver: driver,
		pub:    pub,
		reg:    reg,
		events: events,
		topics: Topics{Namespace: cfg.Namespace, Discovery: cfg.DiscoveryPrefix},
		cfg:    cfg,
		ignore: ignore,
		logger: logger.With("component", "bridge"),
	}
}

// Run consumes driver events one at a time until ctx is cancelled or the
// driver closes its event channel.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("bridge started", "namespace", b.cfg.Namespace,
		"ignored", len(b.ignore), "forced", len(b.cfg.Forced))
	events := b.driver.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				b.logger.Info("driver event stream closed")
				return nil
			}
			b.HandleEvent(e)
		}
	}
}

func (b *Bridge) publish(topic, payload string, retained bool) {
	b.pub.Publish(topic, []byte(payload), retained)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.topics.BridgeState(), state, true)
}

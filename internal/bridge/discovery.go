package bridge

import (
	"encoding/json"

	"warema-bridge/internal/profile"
	"warema-bridge/internal/registry"
)

// Outcome describes what Register did with a device.
type Outcome string

const (
	OutcomeAddressable   Outcome = "addressable"
	OutcomeBroadcastOnly Outcome = "broadcast_only"
	OutcomeIgnoredClass  Outcome = "ignored_class"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeUnknownType   Outcome = "unknown_type"
	OutcomeDriverError   Outcome = "driver_error"
)

// discoveryMsg is one Home Assistant discovery message.
type discoveryMsg struct {
	Topic   string
	Payload []byte
}

type haAvailability struct {
	Topic string `json:"topic"`
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  string `json:"identifiers"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Name         string `json:"name"`
}

// haDiscovery is the discovery payload for covers and weather sensors.
// Name is always null so Home Assistant uses the device name.
type haDiscovery struct {
	Name              *string          `json:"name"`
	UniqueID          string           `json:"unique_id"`
	ObjectID          string           `json:"object_id,omitempty"`
	Availability      []haAvailability `json:"availability"`
	Device            haDevice         `json:"device"`
	CommandTopic      string           `json:"command_topic,omitempty"`
	StateTopic        string           `json:"state_topic,omitempty"`
	PositionTopic     string           `json:"position_topic,omitempty"`
	SetPositionTopic  string           `json:"set_position_topic,omitempty"`
	PositionOpen      *int             `json:"position_open,omitempty"`
	PositionClosed    *int             `json:"position_closed,omitempty"`
	TiltStatusTopic   string           `json:"tilt_status_topic,omitempty"`
	TiltCommandTopic  string           `json:"tilt_command_topic,omitempty"`
	TiltClosedValue   *int             `json:"tilt_closed_value,omitempty"`
	TiltOpenedValue   *int             `json:"tilt_opened_value,omitempty"`
	TiltMin           *int             `json:"tilt_min,omitempty"`
	TiltMax           *int             `json:"tilt_max,omitempty"`
	DeviceClass       string           `json:"device_class,omitempty"`
	UnitOfMeasurement string           `json:"unit_of_measurement,omitempty"`
	PayloadOn         string           `json:"payload_on,omitempty"`
	PayloadOff        string           `json:"payload_off,omitempty"`
}

func intPtr(v int) *int { return &v }

func (b *Bridge) baseDiscovery(p profile.Profile, snr string) haDiscovery {
	return haDiscovery{
		UniqueID: snr,
		Availability: []haAvailability{
			{Topic: b.topics.BridgeState()},
			{Topic: b.topics.Availability(snr)},
		},
		Device: haDevice{
			Identifiers:  snr,
			Manufacturer: Manufacturer,
			Model:        p.Model,
			Name:         snr,
		},
	}
}

// buildCoverDiscovery builds the discovery message of an addressable device.
// Only topics the profile's capabilities warrant are included.
func (b *Bridge) buildCoverDiscovery(p profile.Profile, snr string) discoveryMsg {
	d := b.baseDiscovery(p, snr)
	if p.HasCommand {
		d.CommandTopic = b.topics.Command(snr)
	}
	if p.HasState {
		d.StateTopic = b.topics.State(snr)
	}
	if p.PositionTopics() {
		d.PositionTopic = b.topics.Position(snr)
		d.SetPositionTopic = b.topics.SetPosition(snr)
	}
	if p.HasPosition {
		d.PositionOpen = intPtr(0)
		d.PositionClosed = intPtr(100)
	}
	if p.HasTilt {
		d.TiltStatusTopic = b.topics.Tilt(snr)
		d.TiltCommandTopic = b.topics.SetTilt(snr)
		if !p.SlatAngle {
			d.TiltClosedValue = intPtr(-100)
			d.TiltOpenedValue = intPtr(100)
			d.TiltMin = intPtr(-100)
			d.TiltMax = intPtr(100)
		}
	}
	return discoveryMsg{Topic: b.topics.CoverConfig(snr), Payload: mustJSON(d)}
}

// buildSensorDiscovery builds one message per sensor of a broadcast-only device.
func (b *Bridge) buildSensorDiscovery(p profile.Profile, snr string) []discoveryMsg {
	msgs := make([]discoveryMsg, 0, len(p.Sensors))
	for _, s := range p.Sensors {
		d := b.baseDiscovery(p, snr)
		d.UniqueID = snr + "_" + s.Key
		d.ObjectID = snr + "_" + s.Key
		d.StateTopic = b.topics.SensorState(snr, s.Key)
		d.DeviceClass = s.DeviceClass
		d.UnitOfMeasurement = s.Unit
		if s.Component == "binary_sensor" {
			d.PayloadOn = "ON"
			d.PayloadOff = "OFF"
		}
		msgs = append(msgs, discoveryMsg{
			Topic:   b.topics.SensorConfig(s.Component, snr, s.Key),
			Payload: mustJSON(d),
		})
	}
	return msgs
}

// Register resolves the profile of a device and, depending on its class,
// adds it to the driver, records it and publishes its discovery payloads and
// availability. Calling it again for the same device republishes the same
// retained messages.
func (b *Bridge) Register(snr string, code profile.TypeCode) (Outcome, error) {
	b.logger.Debug("registering device", "snr", snr, "type", code)

	p, err := profile.Resolve(code)
	if err != nil {
		b.logger.Warn("unrecognized device type", "snr", snr, "type", code)
		return OutcomeUnknownType, err
	}

	switch {
	case p.Addressable():
	case p.IgnoredClass:
		b.logger.Debug("network member not addressed", "snr", snr, "model", p.Model)
		return OutcomeIgnoredClass, nil
	default:
		for _, msg := range b.buildSensorDiscovery(p, snr) {
			b.pub.Publish(msg.Topic, msg.Payload, true)
		}
		b.publish(b.topics.Availability(snr), "online", true)
		b.reg.Upsert(snr, p.Code)
		b.logger.Info("weather updates are broadcast, not adding to stick", "snr", snr, "type", p.Code)
		b.emitRegistered(snr, p, OutcomeBroadcastOnly)
		return OutcomeBroadcastOnly, nil
	}

	if registry.IsIgnored(snr, b.ignore) {
		b.logger.Info("ignoring device", "snr", snr, "type", p.Code)
		b.reg.MarkIgnored(snr, p.Code)
		return OutcomeIgnored, nil
	}

	b.logger.Debug("adding device", "snr", snr, "type", p.Code)
	if err := b.driver.AddBlind(snr, snr); err != nil {
		b.logger.Error("add blind failed", "snr", snr, "err", err)
		return OutcomeDriverError, err
	}
	b.reg.Upsert(snr, p.Code)

	msg := b.buildCoverDiscovery(p, snr)
	b.pub.Publish(msg.Topic, msg.Payload, true)
	b.publish(b.topics.Availability(snr), "online", true)
	b.emitRegistered(snr, p, OutcomeAddressable)
	return OutcomeAddressable, nil
}

func (b *Bridge) emitRegistered(snr string, p profile.Profile, o Outcome) {
	b.events.Emit(Event{Type: EventDeviceRegistered, Data: DeviceRegistered{
		Serial:  snr,
		Type:    string(p.Code),
		Model:   p.Model,
		Outcome: o,
	}})
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

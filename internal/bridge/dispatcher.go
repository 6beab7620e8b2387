package bridge

import (
	"fmt"
	"strconv"

	"warema-bridge/internal/profile"
	"warema-bridge/internal/wms"
)

// HandleEvent processes one driver event. Every recognised event refreshes
// the bridge's own availability, so it tracks driver activity.
func (b *Bridge) HandleEvent(e wms.Event) {
	if e.Err != nil {
		b.logger.Error("driver error", "kind", e.Kind, "err", e.Err)
	}

	switch e.Kind {
	case wms.EventInitCompletion:
		b.handleInitCompletion()
	case wms.EventScannedDevices:
		p, ok := e.Payload.(wms.ScanPayload)
		if !ok {
			b.unexpectedPayload(e)
			return
		}
		b.handleScannedDevices(p)
	case wms.EventWeatherBroadcast:
		p, ok := e.Payload.(wms.WeatherPayload)
		if !ok {
			b.unexpectedPayload(e)
			return
		}
		b.handleWeather(p)
	case wms.EventPositionUpdate:
		p, ok := e.Payload.(wms.PositionPayload)
		if !ok {
			b.unexpectedPayload(e)
			return
		}
		b.handlePositionUpdate(p)
	case wms.EventError:
		return
	default:
		b.logger.Warn("unrecognized driver event", "kind", e.Kind, "payload", e.Payload)
		return
	}

	b.publishBridgeState("online")
}

func (b *Bridge) unexpectedPayload(e wms.Event) {
	b.logger.Warn("unexpected driver event payload", "kind", e.Kind, "payload_type", fmt.Sprintf("%T", e.Payload))
}

func (b *Bridge) handleInitCompletion() {
	b.logger.Info("WMS init completed")
	if b.cfg.PollingInterval > 0 {
		b.driver.SetPollingInterval(b.cfg.PollingInterval)
	}
	if b.cfg.MovingInterval > 0 {
		b.driver.SetMovingCheckInterval(b.cfg.MovingInterval)
	}
	b.logger.Info("scanning")
	if err := b.driver.ScanDevices(wms.ScanOptions{AutoAssignBlinds: false, Timeout: b.cfg.ScanTimeout}); err != nil {
		b.logger.Error("scan failed", "err", err)
	}
}

func (b *Bridge) handleScannedDevices(p wms.ScanPayload) {
	b.logger.Debug("scanned devices", "devices", p.Devices)
	if len(b.cfg.Forced) > 0 {
		if len(p.Devices) > 0 {
			b.logger.Info("forced device list configured, ignoring scan results", "scanned", len(p.Devices))
		}
		for _, f := range b.cfg.Forced {
			b.Register(f.Serial, f.Type)
		}
	} else {
		for _, d := range p.Devices {
			b.Register(d.Serial, profile.TypeCode(d.Type))
		}
	}
	b.logger.Debug("registered devices", "count", b.reg.Len())
	if l, ok := b.driver.(wms.BlindLister); ok {
		b.logger.Info("stick blinds", "snr", l.Blinds())
	}
}

func (b *Bridge) handleWeather(p wms.WeatherPayload) {
	if _, ok := b.reg.Get(p.Serial); !ok {
		b.Register(p.Serial, profile.TypeWeatherStation)
	}

	temp := strconv.FormatFloat(p.Temp, 'f', -1, 64)
	b.publish(b.topics.SensorState(p.Serial, "illuminance"), strconv.Itoa(p.Lumen), true)
	b.publish(b.topics.SensorState(p.Serial, "temperature"), temp, true)
	b.publish(b.topics.SensorState(p.Serial, "wind"), strconv.Itoa(p.Wind), true)
	b.publish(b.topics.SensorState(p.Serial, "rain"), onOff(p.Rain), true)

	b.events.Emit(Event{Type: EventWeatherUpdate, Data: WeatherUpdate{
		Serial:      p.Serial,
		Illuminance: p.Lumen,
		Temperature: p.Temp,
		Wind:        p.Wind,
		Rain:        p.Rain,
	}})
}

func (b *Bridge) handlePositionUpdate(p wms.PositionPayload) {
	settled := p.Moving != nil && !*p.Moving

	if p.Position != nil {
		if err := b.reg.SetPosition(p.Serial, *p.Position); err != nil {
			b.logger.Warn("position update for unregistered device", "snr", p.Serial, "err", err)
		}
		b.publish(b.topics.Position(p.Serial), strconv.Itoa(*p.Position), true)
		if settled {
			b.publish(b.topics.State(p.Serial), stateLabel(*p.Position), true)
		}
	}
	if p.Angle != nil {
		if err := b.reg.SetTilt(p.Serial, *p.Angle); err != nil {
			b.logger.Warn("tilt update for unregistered device", "snr", p.Serial, "err", err)
		}
		b.publish(b.topics.Tilt(p.Serial), strconv.Itoa(*p.Angle), true)
		if settled {
			b.publish(b.topics.TiltState(p.Serial), stateLabel(*p.Angle), true)
		}
	}

	b.events.Emit(Event{Type: EventPositionUpdate, Data: PositionUpdate{
		Serial:   p.Serial,
		Position: p.Position,
		Tilt:     p.Angle,
		Moving:   p.Moving,
	}})
}

// stateLabel maps a settled position or angle to a cover state.
func stateLabel(v int) string {
	switch v {
	case 0:
		return "open"
	case 100:
		return "closed"
	default:
		return "stopped"
	}
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

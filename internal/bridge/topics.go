package bridge

import "fmt"

// Topics builds the MQTT topic grammar for one namespace.
type Topics struct {
	Namespace string // e.g. "warema"
	Discovery string // e.g. "homeassistant"
}

func (t Topics) device(snr, leaf string) string {
	return t.Namespace + "/" + snr + "/" + leaf
}

// BridgeState is the retained online/offline topic of the bridge itself.
func (t Topics) BridgeState() string { return t.Namespace + "/bridge/state" }

// Availability is the retained online/offline topic of one device.
func (t Topics) Availability(snr string) string { return t.device(snr, "availability") }

// State carries open/closed/stopped and the transient opening/closing.
func (t Topics) State(snr string) string { return t.device(snr, "state") }

// TiltState carries the settled state of the slat angle.
func (t Topics) TiltState(snr string) string { return t.device(snr, "state_tilt") }

// Position carries the last reported position, 0 open to 100 closed.
func (t Topics) Position(snr string) string { return t.device(snr, "position") }

// SetPosition is the command topic for moving to a position.
func (t Topics) SetPosition(snr string) string { return t.device(snr, "set_position") }

// Tilt carries the last reported slat angle, -100 to 100.
func (t Topics) Tilt(snr string) string { return t.device(snr, "tilt") }

// SetTilt is the command topic for changing the slat angle.
func (t Topics) SetTilt(snr string) string { return t.device(snr, "set_tilt") }

// Command is the command topic for OPEN, CLOSE and STOP.
func (t Topics) Command(snr string) string { return t.device(snr, "set") }

// SensorState is the state topic of one weather station sensor.
func (t Topics) SensorState(snr, sensor string) string {
	return t.Namespace + "/" + snr + "/" + sensor + "/state"
}

// CoverConfig is the discovery topic of an addressable device.
func (t Topics) CoverConfig(snr string) string {
	return fmt.Sprintf("%s/cover/%s/config", t.Discovery, snr)
}

// SensorConfig is the discovery topic of one weather station sensor.
func (t Topics) SensorConfig(component, snr, sensor string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.Discovery, component, snr, sensor)
}

// CommandSubscriptions lists the wildcard topics the bridge listens on.
func (t Topics) CommandSubscriptions() []string {
	return []string{
		t.Namespace + "/+/set",
		t.Namespace + "/+/set_position",
		t.Namespace + "/+/set_tilt",
	}
}

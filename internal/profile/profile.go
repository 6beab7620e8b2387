// Package profile maps WMS device type codes to the capabilities the bridge
// exposes for them. The table is closed: unknown codes are rejected.
package profile

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned for type codes outside the catalog.
var ErrUnknownType = errors.New("unknown device type")

// TypeCode is the two-character vendor code reported by a device.
type TypeCode string

// Known type codes.
const (
	TypeWeatherStation TypeCode = "63"
	TypeRemoteControl  TypeCode = "07"
	TypeWebControl     TypeCode = "09"
	TypePlugReceiver   TypeCode = "20"
	TypeActuatorUP     TypeCode = "21"
	TypeSmartSocket    TypeCode = "24"
	TypeVerticalAwning TypeCode = "25"
	TypeLED            TypeCode = "28"
	TypeSlatRoof       TypeCode = "2A"
)

// Sensor describes one value reported by a broadcast-only device.
type Sensor struct {
	Key         string // topic segment and unique_id suffix
	Component   string // HA component: "sensor" or "binary_sensor"
	DeviceClass string
	Unit        string
}

// Profile is the capability set derived from a type code.
type Profile struct {
	Code          TypeCode
	Model         string
	HasPosition   bool
	HasTilt       bool
	HasState      bool
	HasCommand    bool
	BroadcastOnly bool
	IgnoredClass  bool
	// SlatAngle marks tilt-only devices whose position topics carry the
	// slat angle instead of a travel position.
	SlatAngle bool
	Sensors   []Sensor
}

// Addressable reports whether the device is registered with the stick and
// controlled through command topics.
func (p Profile) Addressable() bool {
	return !p.BroadcastOnly && !p.IgnoredClass
}

// PositionTopics reports whether position and set_position topics exist.
func (p Profile) PositionTopics() bool {
	return p.HasPosition || p.SlatAngle
}

var weatherSensors = []Sensor{
	{Key: "illuminance", Component: "sensor", DeviceClass: "illuminance", Unit: "lx"},
	{Key: "temperature", Component: "sensor", DeviceClass: "temperature", Unit: "°C"},
	{Key: "wind", Component: "sensor", DeviceClass: "wind_speed", Unit: "m/s"},
	{Key: "rain", Component: "binary_sensor", DeviceClass: "moisture"},
}

var catalog = map[TypeCode]Profile{
	TypeWeatherStation: {
		Model:         "Weather station pro",
		BroadcastOnly: true,
		Sensors:       weatherSensors,
	},
	TypeRemoteControl: {Model: "WMS Remote pro", IgnoredClass: true},
	TypeWebControl:    {Model: "WMS WebControl pro", IgnoredClass: true},
	TypePlugReceiver: {
		Model:       "Plug receiver",
		HasPosition: true,
		HasTilt:     true,
		HasState:    true,
		HasCommand:  true,
	},
	TypeActuatorUP: {
		Model:       "Actuator UP",
		HasPosition: true,
		HasTilt:     true,
		HasCommand:  true,
	},
	TypeSmartSocket: {
		Model:      "Smart socket",
		HasState:   true,
		HasCommand: true,
	},
	TypeVerticalAwning: {
		Model:       "Vertical awning",
		HasPosition: true,
		HasState:    true,
		HasCommand:  true,
	},
	TypeLED: {
		Model:       "LED",
		HasPosition: true,
		HasState:    true,
		HasCommand:  true,
	},
	TypeSlatRoof: {
		Model:     "Slat roof",
		HasTilt:   true,
		SlatAngle: true,
	},
}

// Resolve returns the profile for a type code. Lowercase hex codes are accepted.
func Resolve(code TypeCode) (Profile, error) {
	norm := TypeCode(strings.ToUpper(strings.TrimSpace(string(code))))
	p, ok := catalog[norm]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownType, string(code))
	}
	p.Code = norm
	p.Sensors = append([]Sensor(nil), p.Sensors...)
	return p, nil
}


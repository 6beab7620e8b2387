// Package wms defines the driver side of the bridge: the operations the bridge
// issues against the Warema WMS radio network and the events it receives back.
// Backend: WMS USB stick over a serial port (see Stick).
package wms

import (
	"errors"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed driver.
	ErrClosed = errors.New("wms: driver closed")
	// ErrTimeout is returned when the stick does not answer in time.
	ErrTimeout = errors.New("wms: timeout")
)

// Driver is the abstract interface for a WMS network backend.
type Driver interface {
	ScanDevices(opts ScanOptions) error
	AddBlind(snr, label string) error
	SetBlindPosition(snr string, position int, angle *int) error
	StopBlind(snr string) error
	SetPollingInterval(d time.Duration)
	SetMovingCheckInterval(d time.Duration)

	// Events delivers driver events in arrival order. The channel is closed
	// when the driver shuts down.
	Events() <-chan Event

	Close() error
}

// BlindLister is implemented by drivers that can report the blinds they poll.
type BlindLister interface {
	Blinds() []string
}

// EventKind names a driver event.
type EventKind string

// Event kinds.
const (
	EventInitCompletion   EventKind = "wms-vb-init-completion"
	EventScannedDevices   EventKind = "wms-vb-scanned-devices"
	EventWeatherBroadcast EventKind = "wms-vb-rcv-weather-broadcast"
	EventPositionUpdate   EventKind = "wms-vb-blind-position-update"
	EventError            EventKind = "wms-vb-error"
)

// Event is one message from the driver. Err is set when the driver reports a
// failure; Payload is one of the *Payload types below, or nil.
type Event struct {
	Kind    EventKind
	Err     error
	Payload any
}

// ScanOptions controls a network scan.
type ScanOptions struct {
	AutoAssignBlinds bool
	Timeout          time.Duration
}

// ScannedDevice is one device answering a scan.
type ScannedDevice struct {
	Serial string `json:"snr"`
	Type   string `json:"type"`
}

// ScanPayload accompanies EventScannedDevices.
type ScanPayload struct {
	Devices []ScannedDevice `json:"devices"`
}

// WeatherPayload accompanies EventWeatherBroadcast.
type WeatherPayload struct {
	Serial string  `json:"snr"`
	Lumen  int     `json:"lumen"`
	Temp   float64 `json:"temp"`
	Wind   int     `json:"wind"`
	Rain   bool    `json:"rain"`
}

// PositionPayload accompanies EventPositionUpdate. Nil fields were not
// reported in this update.
type PositionPayload struct {
	Serial   string `json:"snr"`
	Position *int   `json:"position,omitempty"`
	Angle    *int   `json:"angle,omitempty"`
	Moving   *bool  `json:"moving,omitempty"`
}

// Settings are the radio network parameters of the stick.
type Settings struct {
	Port    string
	Channel int
	PanID   string
	Key     string
}

// DiscoveryMode reports whether the network parameters are still unknown.
// In that mode the stick only listens and logs frames.
func (s Settings) DiscoveryMode() bool {
	return s.PanID == "" || s.PanID == "FFFF"
}

package bridge

import (
	"log/slog"
	"sync"
)

// Event types emitted by the bridge for in-process observers.
const (
	EventDeviceRegistered = "device_registered"
	EventPositionUpdate   = "position_update"
	EventWeatherUpdate    = "weather_update"
	EventCommand          = "command"
)

// Event is a bridge event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// DeviceRegistered is the data of EventDeviceRegistered.
type DeviceRegistered struct {
	Serial  string  `json:"snr"`
	Type    string  `json:"type"`
	Model   string  `json:"model"`
	Outcome Outcome `json:"outcome"`
}

// PositionUpdate is the data of EventPositionUpdate.
type PositionUpdate struct {
	Serial   string `json:"snr"`
	Position *int   `json:"position,omitempty"`
	Tilt     *int   `json:"tilt,omitempty"`
	Moving   *bool  `json:"moving,omitempty"`
}

// WeatherUpdate is the data of EventWeatherUpdate.
type WeatherUpdate struct {
	Serial      string  `json:"snr"`
	Illuminance int     `json:"illuminance"`
	Temperature float64 `json:"temperature"`
	Wind        int     `json:"wind"`
	Rain        bool    `json:"rain"`
}

// CommandIssued is the data of EventCommand.
type CommandIssued struct {
	Serial  string `json:"snr"`
	Command string `json:"command"`
	Payload string `json:"payload"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscriber struct {
	id      uint64
	types   map[string]bool // nil receives every event
	handler EventHandler
}

// EventBus fans bridge events out to in-process observers such as the
// websocket hub and the telemetry sink.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64
	logger *slog.Logger
}

// NewEventBus creates an event bus without subscribers.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger.With("component", "events")}
}

// On registers handler for the given event types and returns a function
// that removes it.
func (eb *EventBus) On(eventType string, handler EventHandler, more ...string) func() {
	types := map[string]bool{eventType: true}
	for _, t := range more {
		types[t] = true
	}
	return eb.subscribe(types, handler)
}

// OnAll registers handler for every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.subscribe(nil, handler)
}

func (eb *EventBus) subscribe(types map[string]bool, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.subs = append(eb.subs, subscriber{id: id, types: types, handler: handler})
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		for i, s := range eb.subs {
			if s.id == id {
				eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers event synchronously in subscription order. A nil bus drops
// the event. A panicking handler is logged and does not stop delivery.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	subs := eb.subs
	eb.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil && !s.types[event.Type] {
			continue
		}
		eb.deliver(s.handler, event)
	}
}

func (eb *EventBus) deliver(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}

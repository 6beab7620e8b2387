package profile

import (
	"errors"
	"testing"
)

func TestResolveCatalog(t *testing.T) {
	tests := []struct {
		code      TypeCode
		model     string
		position  bool
		tilt      bool
		state     bool
		broadcast bool
		ignored   bool
	}{
		{"63", "Weather station pro", false, false, false, true, false},
		{"07", "WMS Remote pro", false, false, false, false, true},
		{"09", "WMS WebControl pro", false, false, false, false, true},
		{"20", "Plug receiver", true, true, true, false, false},
		{"21", "Actuator UP", true, true, false, false, false},
		{"24", "Smart socket", false, false, true, false, false},
		{"25", "Vertical awning", true, false, true, false, false},
		{"28", "LED", true, false, true, false, false},
		{"2A", "Slat roof", false, true, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			p, err := Resolve(tt.code)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.code, err)
			}
			if p.Code != tt.code {
				t.Errorf("Code = %q, want %q", p.Code, tt.code)
			}
			if p.Model != tt.model {
				t.Errorf("Model = %q, want %q", p.Model, tt.model)
			}
			if p.HasPosition != tt.position {
				t.Errorf("HasPosition = %v, want %v", p.HasPosition, tt.position)
			}
			if p.HasTilt != tt.tilt {
				t.Errorf("HasTilt = %v, want %v", p.HasTilt, tt.tilt)
			}
			if p.HasState != tt.state {
				t.Errorf("HasState = %v, want %v", p.HasState, tt.state)
			}
			if p.BroadcastOnly != tt.broadcast {
				t.Errorf("BroadcastOnly = %v, want %v", p.BroadcastOnly, tt.broadcast)
			}
			if p.IgnoredClass != tt.ignored {
				t.Errorf("IgnoredClass = %v, want %v", p.IgnoredClass, tt.ignored)
			}
			if p.Addressable() == (tt.broadcast || tt.ignored) {
				t.Errorf("Addressable = %v", p.Addressable())
			}
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	for code := range catalog {
		a, errA := Resolve(code)
		b, errB := Resolve(code)
		if errA != nil || errB != nil {
			t.Fatalf("Resolve(%q): %v, %v", code, errA, errB)
		}
		if a.Model != b.Model || a.HasTilt != b.HasTilt || len(a.Sensors) != len(b.Sensors) {
			t.Errorf("Resolve(%q) not deterministic", code)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	for _, code := range []TypeCode{"", "00", "99", "2B", "636"} {
		if _, err := Resolve(code); !errors.Is(err, ErrUnknownType) {
			t.Errorf("Resolve(%q) err = %v, want ErrUnknownType", code, err)
		}
	}
}

func TestResolveLowercase(t *testing.T) {
	p, err := Resolve("2a")
	if err != nil {
		t.Fatalf("Resolve(2a): %v", err)
	}
	if p.Code != TypeSlatRoof {
		t.Errorf("Code = %q, want 2A", p.Code)
	}
}

func TestWeatherSensors(t *testing.T) {
	p, _ := Resolve(TypeWeatherStation)
	want := map[string]string{
		"illuminance": "illuminance",
		"temperature": "temperature",
		"wind":        "wind_speed",
		"rain":        "moisture",
	}
	if len(p.Sensors) != len(want) {
		t.Fatalf("sensors = %d, want %d", len(p.Sensors), len(want))
	}
	for _, s := range p.Sensors {
		if want[s.Key] != s.DeviceClass {
			t.Errorf("sensor %s device_class = %q, want %q", s.Key, s.DeviceClass, want[s.Key])
		}
	}

	// Mutating the returned slice must not leak into the catalog.
	p.Sensors[0].Key = "mutated"
	again, _ := Resolve(TypeWeatherStation)
	if again.Sensors[0].Key != "illuminance" {
		t.Error("catalog sensors were mutated through a resolved profile")
	}
}

func TestSlatRoofPositionTopics(t *testing.T) {
	p, _ := Resolve(TypeSlatRoof)
	if !p.PositionTopics() {
		t.Error("slat roof should expose position topics for the slat angle")
	}
	socket, _ := Resolve(TypeSmartSocket)
	if socket.PositionTopics() {
		t.Error("smart socket should not expose position topics")
	}
}

package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"warema-bridge/internal/profile"
	"warema-bridge/internal/registry"
)

// DeviceView is the API representation of a registered device.
type DeviceView struct {
	Serial   string     `json:"snr"`
	Type     string     `json:"type"`
	Model    string     `json:"model,omitempty"`
	Position *int       `json:"position,omitempty"`
	Tilt     *int       `json:"tilt,omitempty"`
	Ignored  bool       `json:"ignored"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Devices      int    `json:"devices"`
	BusConnected *bool  `json:"mqtt_connected,omitempty"`
}

func newDeviceView(rec registry.Record) DeviceView {
	v := DeviceView{
		Serial:   rec.Serial,
		Type:     string(rec.Type),
		Position: rec.Position,
		Tilt:     rec.Tilt,
		Ignored:  rec.Ignored,
	}
	if p, err := profile.Resolve(rec.Type); err == nil {
		v.Model = p.Model
	}
	if !rec.Seen.IsZero() {
		seen := rec.Seen
		v.LastSeen = &seen
	}
	return v
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		Devices: s.reg.Len(),
	}
	if s.busConnected != nil {
		connected := s.busConnected()
		resp.BusConnected = &connected
		if !connected {
			resp.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deviceViews() []DeviceView {
	records := s.reg.List()
	views := make([]DeviceView, 0, len(records))
	for _, rec := range records {
		views = append(views, newDeviceView(rec))
	}
	return views
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deviceViews())
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	snr := chi.URLParam(r, "snr")
	rec, ok := s.reg.Get(snr)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, newDeviceView(rec))
}

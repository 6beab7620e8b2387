// Package web serves a read-only status API for the bridge and streams bridge
// events to websocket clients.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"warema-bridge/internal/bridge"
	"warema-bridge/internal/registry"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey requires the X-API-Key header on /api/ requests.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the version reported by /api/health.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithBusStatus reports broker connectivity in /api/health.
func WithBusStatus(connected func() bool) ServerOption {
	return func(s *Server) {
		s.busConnected = connected
	}
}

// Server is the HTTP handler of the status API.
type Server struct {
	reg            *registry.Registry
	wsHub          *WSHub
	logger         *slog.Logger
	router         chi.Router
	apiKey         string
	allowedOrigins []string
	version        string
	busConnected   func() bool
	unsubEvents    func()
}

// NewServer creates the server and subscribes its websocket hub to events.
// events may be nil, in which case /ws only keeps connections open.
func NewServer(reg *registry.Registry, events *bridge.EventBus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		reg:     reg,
		logger:  logger.With("component", "web"),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	if events != nil {
		s.unsubEvents = events.OnAll(s.wsHub.Broadcast)
	}

	s.router = s.routes()
	return s
}

// Stop detaches the server from the event bus and disconnects websocket clients.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/health", s.handleAPIHealth)
		r.Get("/devices", s.handleAPIListDevices)
		r.Get("/devices/{snr}", s.handleAPIGetDevice)
	})
	r.Get("/ws", s.handleWS)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && len(s.allowedOrigins) > 0 {
		if !s.isOriginAllowed(origin) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	s.router.ServeHTTP(w, r)
}

// requireAPIKey rejects requests without a matching X-API-Key when a key is
// configured. The websocket is not covered because browsers cannot set
// headers on the upgrade request.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

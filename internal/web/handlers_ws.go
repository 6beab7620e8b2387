package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"warema-bridge/internal/bridge"
)

// EventSnapshot is the first message on every websocket connection. Its data
// is the current device list.
const EventSnapshot = "snapshot"

const (
	wsSendBuffer   = 64
	wsReadLimit    = 4096
	wsWriteTimeout = 10 * time.Second
)

// WSHub fans bridge events out to websocket clients. A client whose queue is
// full is dropped rather than slowing down the bridge.
type WSHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	stopped bool
	logger  *slog.Logger
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[string]bool // nil subscribes to every event type
}

func (c *wsClient) wants(eventType string) bool {
	return c.types == nil || c.types[eventType]
}

// NewWSHub creates an empty hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

// add registers c. It reports false once the hub is stopped.
func (h *WSHub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("ws client connected", "total", len(h.clients))
	return true
}

// remove unregisters c and closes its queue. Unknown clients are ignored.
func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Debug("ws client disconnected", "total", len(h.clients))
}

// Len returns the number of connected clients.
func (h *WSHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues e for every client subscribed to its type. It never blocks.
func (h *WSHub) Broadcast(e bridge.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("ws marshal", "type", e.Type, "err", err)
		return
	}
	for c := range h.clients {
		if !c.wants(e.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("ws client evicted (too slow)", "type", e.Type)
		}
	}
}

// Stop disconnects every client and rejects new ones. Safe to call more than once.
func (h *WSHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// parseEventTypes parses the "types" query parameter, e.g.
// "weather_update,position_update". Empty means every type.
func parseEventTypes(q string) map[string]bool {
	var types map[string]bool
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		if types == nil {
			types = make(map[string]bool)
		}
		types[t] = true
	}
	return types
}

// handleWS streams bridge events to one client. Messages from the client are
// discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins})
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client := &wsClient{
		conn:  conn,
		send:  make(chan []byte, wsSendBuffer),
		types: parseEventTypes(r.URL.Query().Get("types")),
	}
	// Queued before the client joins the hub so it always arrives first.
	snapshot, err := json.Marshal(bridge.Event{Type: EventSnapshot, Data: s.deviceViews()})
	if err == nil {
		client.send <- snapshot
	}
	if !s.wsHub.add(client) {
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}
	defer s.wsHub.remove(client)

	ctx := conn.CloseRead(r.Context())
	s.wsWritePump(ctx, client)
}

func (s *Server) wsWritePump(ctx context.Context, client *wsClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.send:
			if !ok {
				client.conn.Close(websocket.StatusGoingAway, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := client.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				s.logger.Debug("ws write", "err", err)
				return
			}
		}
	}
}

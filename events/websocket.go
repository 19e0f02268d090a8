package events

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jonwraymond/dispatchops/observe"
)

// Hub streams bus events to websocket clients. It is a pure observability
// surface: client failures disconnect that client and nothing else.
type Hub struct {
	bus      *Bus
	logger   observe.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]func()
}

// NewHub creates a hub fed by the given bus.
func NewHub(bus *Bus, logger observe.Logger) *Hub {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Hub{
		bus:    bus,
		logger: logger.WithComponent("events.hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]func()),
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", observe.Field{Key: "error", Value: err.Error()})
		return
	}

	ch, cancel := h.bus.Subscribe()

	h.mu.Lock()
	h.clients[conn] = cancel
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info(r.Context(), "client connected", observe.Field{Key: "clients", Value: n})

	// Read pump: we ignore client messages but need reads to notice closes.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	for e := range ch {
		if err := conn.WriteJSON(e); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	cancel, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		cancel()
		conn.Close()
		h.logger.Info(context.Background(), "client disconnected", observe.Field{Key: "clients", Value: n})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.drop(conn)
	}
}

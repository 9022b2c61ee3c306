package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jamesruggles/scanmanager/internal/migrate"
)

const (
	writeTimeout = 2 * time.Second
	eventBuffer  = 64
)

// Hub fans migration events out to the connected WebSocket clients. Events
// are queued by Observe and written to the clients by the hub's own
// goroutine.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	events    chan migrate.Event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewHub() *Hub {
	h := &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		events:  make(chan migrate.Event, eventBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case e := <-h.events:
			h.Broadcast(e)
		case <-h.done:
			return
		}
	}
}

// Close stops delivering events and waits for the delivery goroutine to
// finish. Events observed afterwards are never delivered.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	<-h.stopped
}

func (h *Hub) Subscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Clients returns the number of subscribed connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Observe queues a migration event for broadcast. It never waits: when the
// queue is full the event is dropped.
func (h *Hub) Observe(e migrate.Event) {
	select {
	case h.events <- e:
	default:
		slog.Warn("migration event dropped, feed queue full", "kind", e.Kind, "version", e.Version)
	}
}

// Broadcast writes an event to every client. A client that cannot take the
// event within the write timeout is dropped.
func (h *Hub) Broadcast(e migrate.Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("ws write error", "error", err)
			h.Unsubscribe(conn)
			conn.Close(websocket.StatusNormalClosure, "")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("ws accept error", "error", err)
		return
	}
	defer conn.CloseNow()

	s.hub.Subscribe(conn)
	defer s.hub.Unsubscribe(conn)

	// The feed is one way; reading only notices the close.
	for {
		_, _, err := conn.Read(r.Context())
		if err != nil {
			return
		}
	}
}

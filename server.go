// Package main - server.go
//
// Websocket status hub: pushes per-cycle detection results to any number of
// UI subscribers (overlay windows, debug dashboards).
//
// One message per cycle, JSON-encoded:
//   {"slots": [...], "cast_bar": {...}, "outcome": {...}|null,
//    "armed": bool, "active_list_id": "...", "timestamp": ...}
//
// Slow or dead subscribers are dropped on the first failed write; the engine
// loop never blocks on a client.
package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Status stream is local tooling, not an internet-facing surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusUpdate is the per-cycle payload pushed to subscribers.
type StatusUpdate struct {
	Slots        []SlotSnapshot   `json:"slots"`
	CastBar      CastBarState     `json:"cast_bar"`
	Outcome      *DispatchOutcome `json:"outcome"`
	Armed        bool             `json:"armed"`
	ActiveListID string           `json:"active_list_id"`
	Timestamp    float64          `json:"timestamp"`
}

// StatusHub fans status updates out to websocket subscribers.
type StatusHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewStatusHub creates an empty hub.
func NewStatusHub() *StatusHub {
	return &StatusHub{clients: make(map[*websocket.Conn]bool)}
}

// HandleWS upgrades an HTTP request into a status subscription. Inbound
// messages are drained and discarded; the stream is push-only.
func (h *StatusHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		LogWarn("ws upgrade: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	LogInfo("status subscriber connected (%d total)", count)

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast pushes one update to every subscriber. Failed writes drop the
// subscriber.
func (h *StatusHub) Broadcast(update StatusUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		LogError("status marshal: %v", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(conn)
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (h *StatusHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all subscribers.
func (h *StatusHub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (h *StatusHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		LogInfo("status subscriber disconnected (%d total)", len(h.clients))
	}
	h.mu.Unlock()
	conn.Close()
}

// Package ws implements the WebSocket adapter for streaming task events to clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/TaskForge/internal/port/broadcast"
)

// sendBuffer is the per-connection queue of pending messages. A client that
// falls further behind than this is disconnected rather than allowed to
// stall the broadcasters.
const sendBuffer = 64

// writeWait bounds a single frame write to a client.
const writeWait = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection with its outbound queue.
type conn struct {
	ws   *websocket.Conn
	msgs chan []byte
}

func (c *conn) closeSlow() {
	_ = c.ws.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with events")
}

// Hub manages all active WebSocket connections and broadcasts messages.
// Broadcast never blocks: each connection has a bounded outbound queue
// drained by its own handler goroutine, and clients that cannot keep up
// are dropped.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket connection and streams
// broadcast messages to it until the client disconnects. The endpoint is
// write-only: clients must not send data frames.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	c := &conn{ws: ws, msgs: make(chan []byte, sendBuffer)}
	h.add(c)
	defer func() {
		h.remove(c)
		_ = ws.CloseNow()
	}()

	h.log.Info("websocket connected", "remote", r.RemoteAddr)

	// CloseRead handles control frames and surfaces the disconnect through
	// context cancellation.
	ctx := ws.CloseRead(r.Context())

	for {
		select {
		case msg := <-c.msgs:
			if err := writeTimeout(ctx, writeWait, ws, msg); err != nil {
				return
			}
		case <-ctx.Done():
			_ = ws.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// Broadcast queues a message for every connected client. Clients whose
// queue is full are disconnected.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		select {
		case c.msgs <- data:
		default:
			h.log.Debug("websocket client too slow, dropping")
			go c.closeSlow()
		}
	}
}

// BroadcastEvent marshals a typed event payload and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client. Hijacked WebSocket connections are not
// covered by http.Server.Shutdown, so this runs first during shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		h.log.Info("websocket disconnected")
	}
}

func writeTimeout(ctx context.Context, timeout time.Duration, ws *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, msg)
}

var _ broadcast.Broadcaster = (*Hub)(nil)

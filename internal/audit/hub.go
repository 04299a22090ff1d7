package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Hub manages active WebSocket subscribers of the audit feed.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event
}

// NewHub creates an empty subscriber hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber and returns its channel and an
// unsubscribe function. Slow subscribers drop events rather than block
// the emitting operation.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Broadcast delivers an event to every subscriber without blocking.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("Audit subscriber lagging, event dropped", "type", ev.Type)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// FeedHandler upgrades the request to a WebSocket and streams audit events
// until the client disconnects.
type FeedHandler struct {
	hub   *Hub
	isDev bool
}

// NewFeedHandler creates the /ws/audit handler.
func NewFeedHandler(hub *Hub, isDev bool) *FeedHandler {
	return &FeedHandler{hub: hub, isDev: isDev}
}

// ServeHTTP implements http.Handler for the audit feed upgrade.
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.isDev,
	})
	if err != nil {
		slog.Debug("Audit feed upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "feed closed")

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	slog.Info("Audit feed subscriber connected", "ip", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("Failed to marshal audit event", "error", err)
				continue
			}
			if err := conn.Write(context.Background(), websocket.MessageText, payload); err != nil {
				slog.Debug("Audit feed write failed, dropping subscriber", "error", err)
				return
			}
		}
	}
}

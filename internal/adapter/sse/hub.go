// Package sse implements the broadcast.Broadcaster port over Server-Sent
// Events, for dashboards and monitoring tools that want a live feed of fleet
// activity (broadcasts, contradiction resolutions, agent status changes)
// without polling memory search. It is separate from the MCP facade's own
// SSE transport, which carries JSON-RPC tool/resource traffic rather than
// fire-and-forget notifications.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// event is the envelope written to every connected client.
type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// client is a single connected SSE subscriber.
type client struct {
	ch     chan event
	cancel context.CancelFunc
}

// Hub fans broadcast events out to every connected SSE client. The zero
// value is not usable; construct with NewHub.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty SSE hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// BroadcastEvent implements broadcast.Broadcaster. A slow or disconnected
// client never blocks the broadcaster: events are dropped for that client
// rather than backing up the sender.
func (h *Hub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	ev := event{Type: eventType, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.ch <- ev:
		default:
			slog.Debug("sse hub: dropping event for slow client", "event_type", eventType)
		}
	}
}

// ServeHTTP upgrades the request into a long-lived SSE stream. Handlers
// mounting this should sit behind the same auth middleware as the rest of
// the monitoring surface; the hub itself does not check credentials.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{ch: make(chan event, 32), cancel: cancel}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer h.remove(c)

	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-c.ch:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("sse hub: marshal event failed", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ConnectionCount returns the number of active subscribers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		c.cancel()
		delete(h.clients, c)
	}
}

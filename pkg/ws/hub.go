// Package ws is the transport and event layer: a hub owning every live
// connection, per-connection read/write pumps over gorilla/websocket, and
// the dispatcher that routes client intents to the messaging components.
package ws

import (
	"context"
	"sync"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/telemetry"
)

// Hub owns the set of live clients and serializes register/unregister
// through its run loop. Broadcast fan-out is lock-guarded, not
// loop-serialized, so delivery does not queue behind connection churn.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// onDisconnect runs for every unregistered client, before the client
	// is closed. The dispatcher hooks presence and room cleanup here.
	onDisconnect func(*Client)
}

// NewHub returns a hub ready to run.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. Call it in its own goroutine; it exits
// after Shutdown.
func (h *Hub) Run(d *Dispatcher) {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			telemetry.OpenConnections.Set(float64(n))
			logger.Info("client_registered", "conn", c.id, "remote", c.addr, "total", n)
			go c.writePump()
			go c.readPump(d)

		case c := <-h.unregister:
			h.mu.Lock()
			_, known := h.clients[c]
			delete(h.clients, c)
			n := len(h.clients)
			h.mu.Unlock()
			if !known {
				continue
			}
			telemetry.OpenConnections.Set(float64(n))
			if h.onDisconnect != nil {
				h.onDisconnect(c)
			}
			c.close()
			logger.Info("client_unregistered", "conn", c.id, "total", n)
		}
	}
}

// BroadcastAll sends one event to every live connection, e.g. presence
// updates.
func (h *Hub) BroadcastAll(event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.Send(event, payload)
	}
	telemetry.Broadcasts.WithLabelValues(event).Inc()
}

// closeAll snapshots the client set and releases the lock before running
// the disconnect hooks: cleanup broadcasts presence updates, which needs
// the lock itself.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		if h.onDisconnect != nil {
			h.onDisconnect(c)
		}
		c.close()
		_ = c.conn.Close()
	}
	telemetry.OpenConnections.Set(0)
}

// Shutdown stops the run loop and closes every connection, waiting for the
// loop to drain or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

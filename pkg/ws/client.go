package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/logger"
)

// ConnState is the per-connection lifecycle. Disconnected is terminal; no
// room joins or message intents are accepted before Active.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateActive
	StateDisconnected
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Client is one websocket connection. It owns zero-or-one authenticated
// user identity and lives exactly as long as the transport link; the hub
// tears it down on any disconnect, abrupt or not.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	addr string

	send chan []byte

	mu       sync.RWMutex
	state    ConnState
	userID   string
	handlers map[string]handlerFunc
	closed   bool

	authTimer *time.Timer
}

func newClient(id string, hub *Hub, conn *websocket.Conn, addr string) *Client {
	return &Client{
		id:    id,
		hub:   hub,
		conn:  conn,
		addr:  addr,
		send:  make(chan []byte, sendBufferSize),
		state: StateConnecting,
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user id, empty before Active.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// State returns the current lifecycle state.
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// activate transitions Authenticating -> Active, binding the user identity
// and the dispatch table in one step.
func (c *Client) activate(userID string, handlers map[string]handlerFunc) {
	c.mu.Lock()
	c.userID = userID
	c.handlers = handlers
	c.state = StateActive
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	c.mu.Unlock()
}

func (c *Client) handlerFor(event string) (handlerFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[event]
	return h, ok
}

// Send queues one event for delivery. It never blocks: a full buffer or a
// closed connection reports false and the event is dropped for this
// connection only.
func (c *Client) Send(event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("event_marshal_failed", "event", event, "error", err)
		return false
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.state == StateDisconnected {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close marks the client terminal and releases the writer. Safe to call
// more than once; only the hub's run loop calls it.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateDisconnected
	close(c.send)
	c.mu.Unlock()
}

// readPump reads inbound frames and hands them to the dispatcher. Frames
// for one connection are handled serially here, so a handler's store I/O
// suspends only this connection. Exit always funnels through unregister,
// which guarantees presence and room cleanup even on a network drop.
func (c *Client) readPump(d *Dispatcher) {
	// The write pump owns closing the socket: unregistering closes the
	// send channel, the write pump drains any queued frames (a final
	// error event included) and then tears the connection down. During
	// shutdown the run loop is gone; closeAll already tore us down.
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
	}()

	c.conn.SetReadLimit(d.maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("ws_read_error", "conn", c.id, "remote", c.addr, "error", err)
			} else {
				logger.Debug("ws_closed", "conn", c.id, "remote", c.addr)
			}
			return
		}
		d.handleFrame(c, raw)
		if c.State() == StateDisconnected {
			return
		}
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings. One writer per connection; gorilla allows at most one concurrent
// writer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("ws_write_error", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/pagination"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/reactions"
	"chatrelay/pkg/rooms"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/threads"
	"chatrelay/pkg/utils"
	"chatrelay/pkg/validation"
)

const authTimeout = 10 * time.Second

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage)

// Deps are the collaborators the dispatcher routes between. It holds no
// business state of its own: every intent maps 1:1 to a component call and
// every result to one or more room-scoped broadcasts.
type Deps struct {
	Verifier  auth.Verifier
	Access    auth.AccessChecker
	Presence  *presence.Registry
	Rooms     *rooms.Manager
	Pages     *pagination.Engine
	Reactions *reactions.Aggregator
	Threads   *threads.Manager
	Store     store.Store

	// AllowedOrigins gates the websocket upgrade. Empty allows only
	// same-host browsers plus non-browser clients; "*" allows any origin.
	AllowedOrigins []string
	// MaxFrameBytes caps inbound frame size. Zero means 64 KiB.
	MaxFrameBytes int64
}

// Dispatcher is the wire-level protocol layer.
type Dispatcher struct {
	deps          Deps
	hub           *Hub
	upgrader      websocket.Upgrader
	baseCtx       context.Context
	maxFrameBytes int64
}

// NewDispatcher wires a dispatcher and its hub. Run the hub before
// serving: go d.Hub().Run(d).
func NewDispatcher(ctx context.Context, deps Deps) *Dispatcher {
	d := &Dispatcher{
		deps:          deps,
		hub:           NewHub(),
		baseCtx:       ctx,
		maxFrameBytes: deps.MaxFrameBytes,
	}
	if d.maxFrameBytes <= 0 {
		d.maxFrameBytes = 64 * 1024
	}
	d.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     d.checkOrigin,
	}
	d.hub.onDisconnect = d.cleanup
	return d
}

// Hub returns the dispatcher's hub.
func (d *Dispatcher) Hub() *Hub { return d.hub }

// checkOrigin accepts non-browser clients (no Origin header), same-host
// origins, and anything on the configured allow list.
func (d *Dispatcher) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	for _, allowed := range d.deps.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and registers the connection. The client
// enters Authenticating and must present a valid auth frame within
// authTimeout or the socket is dropped.
func (d *Dispatcher) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newClient(utils.GenConnID(), d.hub, conn, r.RemoteAddr)
	c.setState(StateAuthenticating)
	c.authTimer = time.AfterFunc(authTimeout, func() {
		if c.State() != StateActive {
			logger.Warn("auth_timeout", "conn", c.id, "remote", c.addr)
			_ = conn.Close()
		}
	})
	select {
	case d.hub.register <- c:
	case <-d.hub.ctx.Done():
		// upgrade raced shutdown; the run loop will never accept it
		c.authTimer.Stop()
		_ = conn.Close()
	}
}

// handleFrame is the per-connection state machine entry point. It runs on
// the connection's read goroutine, so one connection's intents are always
// handled in order.
func (d *Dispatcher) handleFrame(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.sendErr(c, "malformed frame", CodeInvalidPayload, err.Error())
		return
	}

	switch c.State() {
	case StateConnecting, StateAuthenticating:
		if env.Event != EvtAuth {
			d.sendErr(c, "authentication required", CodeAuthFailed, "")
			return
		}
		d.handleAuth(c, env.Data)
	case StateActive:
		telemetry.EventsIn.WithLabelValues(env.Event).Inc()
		d.deps.Presence.Touch(c.UserID())
		h, ok := c.handlerFor(env.Event)
		if !ok {
			d.sendErr(c, "unknown event: "+env.Event, CodeInvalidPayload, "")
			return
		}
		h(d.baseCtx, c, env.Data)
	case StateDisconnected:
		// terminal; drop the frame
	}
}

// handleAuth verifies the token. Failure transitions straight to
// Disconnected without ever entering Active.
func (d *Dispatcher) handleAuth(c *Client, data json.RawMessage) {
	var p authPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Token == "" {
		d.rejectAuth(c, "authentication required")
		return
	}
	userID, err := d.deps.Verifier.Verify(p.Token)
	if err != nil {
		d.rejectAuth(c, "authentication failed")
		return
	}

	c.activate(userID, d.table())
	entry := d.deps.Presence.SetOnline(userID, c.id)
	telemetry.OnlineUsers.Set(float64(d.deps.Presence.OnlineCount()))

	// The full presence list goes to this client before any incremental
	// update, so it can never miss the initial snapshot.
	c.Send(EvtPresenceList, d.deps.Presence.List())
	d.hub.BroadcastAll(EvtPresenceUpdate, entry)
	logger.Info("client_authenticated", "conn", c.id, "user", userID)
}

func (d *Dispatcher) rejectAuth(c *Client, msg string) {
	telemetry.AuthFailures.Inc()
	logger.Warn("auth_rejected", "conn", c.id, "remote", c.addr)
	c.Send(EvtError, errorPayload{Message: msg, Code: CodeAuthFailed})
	c.setState(StateDisconnected)
}

// table is the explicit dispatch table for Active connections, keyed by
// event name. Built once per connection at activation; joins never
// re-register anything.
func (d *Dispatcher) table() map[string]handlerFunc {
	return map[string]handlerFunc{
		EvtJoinChannel:    d.onJoinChannel,
		EvtLeaveChannel:   d.onLeaveChannel,
		EvtLoadMore:       d.onLoadMore,
		EvtChannelMessage: d.onChannelMessage,
		EvtThreadJoin:     d.onThreadJoin,
		EvtThreadLeave:    d.onThreadLeave,
		EvtThreadMessage:  d.onThreadMessage,
		EvtAddReaction:    d.onAddReaction,
		EvtRemoveReaction: d.onRemoveReaction,
		EvtPresenceStatus: d.onPresenceStatus,
		EvtJoinDM:         d.onJoinDM,
		EvtDirectMessage:  d.onDirectMessage,
	}
}

// sendErr delivers an error event to the originating connection only.
// Component failures never broadcast to a room.
func (d *Dispatcher) sendErr(c *Client, msg, code, details string) {
	c.Send(EvtError, errorPayload{Message: msg, Code: code, Details: details})
}

// fail maps a component error onto the wire taxonomy. Store failures get a
// generic message; the cause stays in the logs.
func (d *Dispatcher) fail(c *Client, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		d.sendErr(c, op+" failed: not found", CodeNotFound, "")
	case errors.Is(err, threads.ErrInvalidChannel):
		d.sendErr(c, "invalid channel ID", CodeInvalidChannel, "")
	default:
		telemetry.StoreErrors.Inc()
		logger.Error("operation_failed", "op", op, "conn", c.id, "error", err)
		d.sendErr(c, op+" failed", CodeStoreFailure, "")
	}
}

// broadcast fans an event out to one room, counting it.
func (d *Dispatcher) broadcast(room, event string, payload any) {
	d.deps.Rooms.Broadcast(room, event, payload)
	telemetry.Broadcasts.WithLabelValues(event).Inc()
}

// checkAccess runs the channel access collaborator when configured.
func (d *Dispatcher) checkAccess(ctx context.Context, c *Client, channelID string) bool {
	if d.deps.Access == nil {
		return true
	}
	ok, err := d.deps.Access.CanAccess(ctx, c.UserID(), channelID)
	if err != nil {
		d.fail(c, "channel access check", err)
		return false
	}
	if !ok {
		d.sendErr(c, "access to channel denied", CodeForbidden, "")
		return false
	}
	return true
}

// requireSelf resolves the acting user: an empty payload user id means the
// authenticated identity, and a mismatching one is rejected rather than
// trusted.
func (d *Dispatcher) requireSelf(c *Client, payloadUserID string) (string, bool) {
	if payloadUserID == "" || payloadUserID == c.UserID() {
		return c.UserID(), true
	}
	d.sendErr(c, "userId does not match authenticated user", CodeForbidden, "")
	return "", false
}

func (d *Dispatcher) onJoinChannel(ctx context.Context, c *Client, data json.RawMessage) {
	var p joinChannelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed join-channel payload", CodeInvalidPayload, err.Error())
		return
	}
	if err := validation.ValidateID("channelId", p.ChannelID); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}
	if !d.checkAccess(ctx, c, p.ChannelID) {
		return
	}
	d.deps.Rooms.Join(c.id, c, rooms.Channel(p.ChannelID))

	var (
		page models.Page
		err  error
	)
	if p.Cursor != nil {
		page, err = d.deps.Pages.PageBefore(ctx, p.ChannelID, *p.Cursor, p.Limit)
	} else {
		page, err = d.deps.Pages.FirstPage(ctx, p.ChannelID, p.Limit)
	}
	if err != nil {
		d.fail(c, "fetch messages", err)
		return
	}
	c.Send(EvtChannelMessages, page)
}

func (d *Dispatcher) onLeaveChannel(ctx context.Context, c *Client, data json.RawMessage) {
	var p leaveChannelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed leave-channel payload", CodeInvalidPayload, err.Error())
		return
	}
	d.deps.Rooms.Leave(c.id, rooms.Channel(p.ChannelID))
}

func (d *Dispatcher) onLoadMore(ctx context.Context, c *Client, data json.RawMessage) {
	var p loadMorePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed load-more payload", CodeInvalidPayload, err.Error())
		return
	}
	if err := validation.ValidateID("channelId", p.ChannelID); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}
	if p.Cursor <= 0 {
		d.sendErr(c, "cursor is required", CodeInvalidPayload, "")
		return
	}
	if !d.checkAccess(ctx, c, p.ChannelID) {
		return
	}
	page, err := d.deps.Pages.PageBefore(ctx, p.ChannelID, p.Cursor, p.Limit)
	if err != nil {
		d.fail(c, "load more messages", err)
		return
	}
	c.Send(EvtMoreMessages, page)
}

func (d *Dispatcher) onChannelMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var p channelMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed channel-message payload", CodeInvalidPayload, err.Error())
		return
	}
	userID, ok := d.requireSelf(c, p.UserID)
	if !ok {
		return
	}
	if err := validation.ValidateID("channelId", p.ChannelID); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}
	if err := validation.ValidateContent(p.Content); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}
	if !d.checkAccess(ctx, c, p.ChannelID) {
		return
	}

	m := models.Message{
		ID:        utils.GenMessageID(),
		ChannelID: p.ChannelID,
		AuthorID:  userID,
		Content:   p.Content,
		TS:        time.Now().UTC().UnixNano(),
	}
	if err := d.deps.Store.SaveMessage(ctx, m); err != nil {
		d.fail(c, "save message", err)
		return
	}
	if u, err := d.deps.Store.GetUser(ctx, userID); err == nil {
		m.Author = &u
	}
	d.broadcast(rooms.Channel(p.ChannelID), EvtNewChannelMessage, m)
}

func (d *Dispatcher) onThreadJoin(ctx context.Context, c *Client, data json.RawMessage) {
	var p threadRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed thread:join payload", CodeInvalidPayload, err.Error())
		return
	}
	if err := validation.ValidateID("threadId", p.ThreadID); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}
	replies, err := d.deps.Threads.Join(ctx, p.ThreadID)
	if err != nil {
		d.fail(c, "fetch thread messages", err)
		return
	}
	d.deps.Rooms.Join(c.id, c, rooms.Thread(p.ThreadID))
	c.Send(EvtThreadMessages, replies)
}

func (d *Dispatcher) onThreadLeave(ctx context.Context, c *Client, data json.RawMessage) {
	var p threadRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed thread:leave payload", CodeInvalidPayload, err.Error())
		return
	}
	d.deps.Rooms.Leave(c.id, rooms.Thread(p.ThreadID))
}

func (d *Dispatcher) onThreadMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var p threadMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed thread:message payload", CodeInvalidPayload, err.Error())
		return
	}
	userID, ok := d.requireSelf(c, p.UserID)
	if !ok {
		return
	}
	if err := validation.ValidateID("parentMessageId", p.ParentMessageID); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}
	if err := validation.ValidateContent(p.Content); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}

	reply, preview, err := d.deps.Threads.Reply(ctx, p.ParentMessageID, p.ChannelID, userID, p.Content)
	if err != nil {
		d.fail(c, "save thread message", err)
		return
	}
	d.broadcast(rooms.Thread(p.ParentMessageID), EvtThreadMessage, reply)
	d.broadcast(rooms.Channel(p.ChannelID), EvtThreadUpdated, preview)
}

func (d *Dispatcher) onAddReaction(ctx context.Context, c *Client, data json.RawMessage) {
	d.onReaction(ctx, c, data, true)
}

func (d *Dispatcher) onRemoveReaction(ctx context.Context, c *Client, data json.RawMessage) {
	d.onReaction(ctx, c, data, false)
}

func (d *Dispatcher) onReaction(ctx context.Context, c *Client, data json.RawMessage, add bool) {
	var p reactionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed reaction payload", CodeInvalidPayload, err.Error())
		return
	}
	userID, ok := d.requireSelf(c, p.UserID)
	if !ok {
		return
	}
	if err := validation.ValidateID("messageId", p.MessageID); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}
	if err := validation.ValidateEmoji(p.Emoji); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}

	// Broadcasting from inside the aggregator's critical section keeps
	// room delivery in commit order across concurrent reactors.
	publish := func(m models.Message) {
		d.broadcast(rooms.Channel(m.ChannelID), EvtReactionUpdated, m)
	}
	var err error
	if add {
		_, err = d.deps.Reactions.Add(ctx, p.MessageID, userID, p.Emoji, publish)
	} else {
		_, err = d.deps.Reactions.Remove(ctx, p.MessageID, userID, p.Emoji, publish)
	}
	if err != nil {
		d.fail(c, "handle reaction", err)
	}
}

func (d *Dispatcher) onPresenceStatus(ctx context.Context, c *Client, data json.RawMessage) {
	var p presenceStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed presence:status payload", CodeInvalidPayload, err.Error())
		return
	}
	status := models.Status(p.Status)
	if !models.ValidStatus(status) {
		d.sendErr(c, "unknown presence status: "+p.Status, CodeInvalidPayload, "")
		return
	}
	entry, ok := d.deps.Presence.SetStatus(c.UserID(), status)
	if !ok {
		return
	}
	d.hub.BroadcastAll(EvtPresenceUpdate, entry)
}

// onJoinDM subscribes the connection to its own DM room only; a dm room
// holds one user's side of every conversation, so joining someone else's
// would leak their messages.
func (d *Dispatcher) onJoinDM(ctx context.Context, c *Client, data json.RawMessage) {
	var p joinDMPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed join-dm payload", CodeInvalidPayload, err.Error())
		return
	}
	userID, ok := d.requireSelf(c, p.UserID)
	if !ok {
		return
	}
	d.deps.Rooms.Join(c.id, c, rooms.DM(userID))
}

func (d *Dispatcher) onDirectMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var p directMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, "malformed direct-message payload", CodeInvalidPayload, err.Error())
		return
	}
	senderID, ok := d.requireSelf(c, p.SenderID)
	if !ok {
		return
	}
	if err := validation.ValidateID("receiverId", p.ReceiverID); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}
	if err := validation.ValidateContent(p.Content); err != nil {
		d.sendErr(c, err.Error(), CodeInvalidPayload, "")
		return
	}

	dm := models.DirectMessage{
		ID:         utils.GenMessageID(),
		SenderID:   senderID,
		ReceiverID: p.ReceiverID,
		Content:    p.Content,
		TS:         time.Now().UTC().UnixNano(),
	}
	if err := d.deps.Store.SaveDirectMessage(ctx, dm); err != nil {
		d.fail(c, "save direct message", err)
		return
	}
	if u, err := d.deps.Store.GetUser(ctx, senderID); err == nil {
		dm.Sender = &u
	}
	if u, err := d.deps.Store.GetUser(ctx, p.ReceiverID); err == nil {
		dm.Receiver = &u
	}
	d.broadcast(rooms.DM(senderID), EvtNewDirectMessage, dm)
	if p.ReceiverID != senderID {
		d.broadcast(rooms.DM(p.ReceiverID), EvtNewDirectMessage, dm)
	}
}

// cleanup runs for every disconnect, voluntary or abrupt. Room membership
// and presence both come down with the connection; the offline update only
// broadcasts when this was the user's last connection.
func (d *Dispatcher) cleanup(c *Client) {
	d.deps.Rooms.LeaveAll(c.id)
	entry, changed := d.deps.Presence.RemoveConnection(c.id)
	telemetry.OnlineUsers.Set(float64(d.deps.Presence.OnlineCount()))
	if changed {
		d.hub.BroadcastAll(EvtPresenceUpdate, entry)
	}
}

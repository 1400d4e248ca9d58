package ws

import "encoding/json"

// Inbound event names.
const (
	EvtAuth           = "auth"
	EvtJoinChannel    = "join-channel"
	EvtLeaveChannel   = "leave-channel"
	EvtLoadMore       = "load-more-messages"
	EvtChannelMessage = "channel-message"
	EvtThreadJoin     = "thread:join"
	EvtThreadLeave    = "thread:leave"
	EvtThreadMessage  = "thread:message"
	EvtAddReaction    = "add-reaction"
	EvtRemoveReaction = "remove-reaction"
	EvtPresenceStatus = "presence:status"
	EvtJoinDM         = "join-dm"
	EvtDirectMessage  = "direct-message"
)

// Outbound event names. EvtThreadMessage is reused: inbound it is a post
// intent, outbound it carries the created reply to the thread room.
const (
	EvtChannelMessages   = "channel-messages"
	EvtMoreMessages      = "more-messages"
	EvtNewChannelMessage = "new-channel-message"
	EvtThreadMessages    = "thread:messages"
	EvtThreadUpdated     = "thread:updated"
	EvtReactionUpdated   = "reaction-updated"
	EvtNewDirectMessage  = "new-direct-message"
	EvtPresenceUpdate    = "presence:update"
	EvtPresenceList      = "presence:list"
	EvtError             = "error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Machine-readable error codes carried on the error event.
const (
	CodeAuthFailed     = "auth_failed"
	CodeNotFound       = "not_found"
	CodeInvalidChannel = "invalid_channel"
	CodeForbidden      = "forbidden"
	CodeInvalidPayload = "invalid_payload"
	CodeStoreFailure   = "store_failure"
)

type authPayload struct {
	Token string `json:"token"`
}

type joinChannelPayload struct {
	ChannelID string `json:"channelId"`
	Cursor    *int64 `json:"cursor,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type leaveChannelPayload struct {
	ChannelID string `json:"channelId"`
}

type loadMorePayload struct {
	ChannelID string `json:"channelId"`
	Cursor    int64  `json:"cursor"`
	Limit     int    `json:"limit,omitempty"`
}

type channelMessagePayload struct {
	Content   string `json:"content"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId,omitempty"`
}

type threadRefPayload struct {
	ThreadID string `json:"threadId"`
}

type threadMessagePayload struct {
	Content         string `json:"content"`
	ChannelID       string `json:"channelId"`
	ParentMessageID string `json:"parentMessageId"`
	UserID          string `json:"userId,omitempty"`
}

type reactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId,omitempty"`
}

type presenceStatusPayload struct {
	Status string `json:"status"`
}

type joinDMPayload struct {
	UserID string `json:"userId"`
}

type directMessagePayload struct {
	Content    string `json:"content"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId"`
}

type errorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

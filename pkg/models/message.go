package models

// Message is a channel message. A zero ParentID marks a root message;
// root messages carry the denormalized thread counters. Messages are
// immutable after creation except ReplyCount/LastReplyAt, which only the
// thread reply transaction touches.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	AuthorID  string `json:"userId"`
	Content   string `json:"content"`
	// TS is the creation timestamp in UTC nanoseconds. It doubles as the
	// pagination cursor for root messages.
	TS       int64  `json:"ts"`
	ParentID string `json:"parentId,omitempty"`

	// Valid only on root messages.
	ReplyCount  int   `json:"replyCount,omitempty"`
	LastReplyAt int64 `json:"lastReplyAt,omitempty"`

	// Hydrated for delivery; never persisted.
	Author    *User      `json:"user,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// Root reports whether the message anchors a thread rather than living in one.
func (m Message) Root() bool { return m.ParentID == "" }

// Reaction is one user's emoji on one message. At most one row exists per
// (MessageID, UserID) pair; adding a different emoji replaces the old row.
type Reaction struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	TS        int64  `json:"ts"`
	User      *User  `json:"user,omitempty"`
}

// DirectMessage is a one-to-one message outside any channel.
type DirectMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	TS         int64  `json:"ts"`
	Sender     *User  `json:"sender,omitempty"`
	Receiver   *User  `json:"receiver,omitempty"`
}

// Channel metadata. This core only reads channels, for access checks and
// room naming; membership management lives elsewhere.
type Channel struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Private bool     `json:"private"`
	Members []string `json:"members,omitempty"`
}

// CanAccess reports whether userID may read and post to the channel.
// Public channels are open to everyone.
func (c Channel) CanAccess(userID string) bool {
	if !c.Private {
		return true
	}
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Page is one window of root messages in chronological (oldest-first)
// order. NextCursor is nil once the channel history is exhausted.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor *int64    `json:"nextCursor"`
	HasMore    bool      `json:"hasMore"`
}

// ThreadPreview is the lightweight thread:updated payload broadcast to the
// owning channel so channel views can render reply previews without
// subscribing to every thread.
type ThreadPreview struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	User      *User  `json:"user,omitempty"`
}

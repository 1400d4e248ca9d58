// Package threads creates replies and keeps the parent's denormalized
// counters honest. A thread is not stored as its own entity: it is a root
// message plus the children pointing at it, reconstructed by a timeline
// scan, never an in-memory object graph.
package threads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/utils"
)

// ErrInvalidChannel is returned when a reply names a channel that does not
// match the parent message's channel. The mismatch is a validation failure
// the caller reported, never silently corrected.
var ErrInvalidChannel = errors.New("channel does not match parent message")

// PreviewRunes bounds the truncated content in thread:updated payloads.
const PreviewRunes = 120

// Manager creates replies and serves thread views.
type Manager struct {
	store store.Store
	now   func() time.Time
}

// NewManager returns a thread manager over s.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s, now: time.Now}
}

// Join returns the thread's replies ordered oldest-first, authors
// hydrated. store.ErrNotFound when the root message does not exist.
func (m *Manager) Join(ctx context.Context, threadID string) ([]models.Message, error) {
	if _, err := m.store.GetMessage(ctx, threadID); err != nil {
		return nil, err
	}
	replies, err := m.store.ListReplies(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	users := make(map[string]*models.User)
	for i := range replies {
		r := &replies[i]
		if u, ok := users[r.AuthorID]; ok {
			r.Author = u
		} else if u, err := m.store.GetUser(ctx, r.AuthorID); err == nil {
			cp := u
			users[r.AuthorID] = &cp
			r.Author = &cp
		}
	}
	return replies, nil
}

// Reply validates the parent, then creates the reply row and bumps the
// parent's replyCount/lastReplyAt as one atomic unit: either both land or
// neither is visible. Returns the created reply and the channel-side
// preview payload.
func (m *Manager) Reply(ctx context.Context, parentID, channelID, userID, content string) (models.Message, models.ThreadPreview, error) {
	parent, err := m.store.GetMessage(ctx, parentID)
	if err != nil {
		return models.Message{}, models.ThreadPreview{}, err
	}
	if parent.ChannelID != channelID {
		logger.Warn("reply_channel_mismatch", "parent", parentID, "got", channelID, "want", parent.ChannelID)
		return models.Message{}, models.ThreadPreview{}, ErrInvalidChannel
	}

	reply := models.Message{
		ID:        utils.GenMessageID(),
		ChannelID: channelID,
		AuthorID:  userID,
		Content:   content,
		TS:        m.now().UTC().UnixNano(),
		ParentID:  parentID,
	}

	err = m.store.Update(ctx, parentID, func(tx store.Tx) error {
		if err := tx.InsertMessage(reply); err != nil {
			return err
		}
		return tx.UpdateMessage(parentID, func(p *models.Message) error {
			p.ReplyCount++
			p.LastReplyAt = reply.TS
			return nil
		})
	})
	if err != nil {
		logger.Error("reply_tx_failed", "parent", parentID, "error", err)
		return models.Message{}, models.ThreadPreview{}, fmt.Errorf("create reply: %w", err)
	}

	if u, err := m.store.GetUser(ctx, userID); err == nil {
		cp := u
		reply.Author = &cp
	}
	preview := models.ThreadPreview{
		ThreadID:  parentID,
		MessageID: reply.ID,
		Content:   truncate(content, PreviewRunes),
		User:      reply.Author,
	}
	logger.Debug("reply_created", "parent", parentID, "id", reply.ID)
	return reply, preview, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// Package pagination shapes backward (older-than-cursor) windows over a
// channel's root messages. The engine is stateless: the cursor, the
// creation timestamp of the oldest message the client has seen, carries
// all position. Strictly-less-than comparison means messages inserted
// above the cursor while the client pages never duplicate or punch holes
// in later pages.
package pagination

import (
	"context"
	"fmt"

	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

const (
	// DefaultLimit mirrors the client default page size.
	DefaultLimit = 50
	maxLimit     = 200
)

// Engine answers first-page and page-before queries against the store.
type Engine struct {
	store store.Store
}

// NewEngine returns a pagination engine over s.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// FirstPage returns the newest window of root messages for the channel.
func (e *Engine) FirstPage(ctx context.Context, channelID string, limit int) (models.Page, error) {
	return e.page(ctx, channelID, 0, limit)
}

// PageBefore returns the window of root messages strictly older than
// cursor.
func (e *Engine) PageBefore(ctx context.Context, channelID string, cursor int64, limit int) (models.Page, error) {
	return e.page(ctx, channelID, cursor, limit)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// page fetches limit+1 rows newest-first. A full fetch means more history
// exists: the limit-th row's timestamp becomes the next cursor and the
// sentinel row is discarded. The window is then reversed to chronological
// order for display.
func (e *Engine) page(ctx context.Context, channelID string, cursor int64, limit int) (models.Page, error) {
	limit = clampLimit(limit)
	rows, err := e.store.ListRootBefore(ctx, channelID, cursor, limit+1)
	if err != nil {
		return models.Page{}, fmt.Errorf("list root messages: %w", err)
	}

	hasMore := len(rows) > limit
	var nextCursor *int64
	if hasMore {
		ts := rows[limit-1].TS
		nextCursor = &ts
		rows = rows[:limit]
	}

	// newest-first to oldest-first
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	if err := e.hydrate(ctx, rows); err != nil {
		return models.Page{}, err
	}
	return models.Page{Messages: rows, NextCursor: nextCursor, HasMore: hasMore}, nil
}

// hydrate attaches authors and reaction sets for delivery. Unknown authors
// are left nil rather than failing the page.
func (e *Engine) hydrate(ctx context.Context, msgs []models.Message) error {
	users := make(map[string]*models.User)
	for i := range msgs {
		m := &msgs[i]
		if u, ok := users[m.AuthorID]; ok {
			m.Author = u
		} else if u, err := e.store.GetUser(ctx, m.AuthorID); err == nil {
			cp := u
			users[m.AuthorID] = &cp
			m.Author = &cp
		}
		rs, err := e.store.ListReactions(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("list reactions for %s: %w", m.ID, err)
		}
		m.Reactions = rs
	}
	return nil
}

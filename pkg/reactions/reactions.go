// Package reactions enforces the one-reaction-per-user invariant. Add is
// delete-then-insert inside one store transaction rather than a
// conditional check, so concurrent re-adds from the same user's multiple
// connections cannot leave two rows behind.
package reactions

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

// Aggregator mutates reaction rows and returns full message snapshots.
// A striped per-message lock spans commit, snapshot and publication, so
// publications for one message always carry snapshots in commit order.
type Aggregator struct {
	store store.Store
	now   func() time.Time
	locks [64]sync.Mutex
}

// NewAggregator returns an aggregator over s.
func NewAggregator(s store.Store) *Aggregator {
	return &Aggregator{store: s, now: time.Now}
}

func (a *Aggregator) lockFor(messageID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	return &a.locks[h.Sum32()%uint32(len(a.locks))]
}

// Add sets the user's reaction on the message, replacing any prior emoji
// from the same user. It returns the message with its full updated
// reaction set; store.ErrNotFound when the message does not exist.
// publish, when non-nil, is called with the snapshot while the message's
// ordering lock is still held.
func (a *Aggregator) Add(ctx context.Context, messageID, userID, emoji string, publish func(models.Message)) (models.Message, error) {
	if _, err := a.store.GetMessage(ctx, messageID); err != nil {
		return models.Message{}, err
	}
	r := models.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		TS:        a.now().UTC().UnixNano(),
	}

	mu := a.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	err := a.store.Update(ctx, messageID, func(tx store.Tx) error {
		if err := tx.DeleteUserReactions(messageID, userID); err != nil {
			return err
		}
		return tx.SetReaction(r)
	})
	if err != nil {
		logger.Error("reaction_add_failed", "message", messageID, "user", userID, "error", err)
		return models.Message{}, fmt.Errorf("add reaction: %w", err)
	}
	return a.emit(ctx, messageID, publish)
}

// Remove deletes the exact (message, user, emoji) row. Removing a reaction
// that does not exist is a no-op, not an error. Returns the updated
// snapshot, publishing it under the same ordering lock as Add.
func (a *Aggregator) Remove(ctx context.Context, messageID, userID, emoji string, publish func(models.Message)) (models.Message, error) {
	if _, err := a.store.GetMessage(ctx, messageID); err != nil {
		return models.Message{}, err
	}

	mu := a.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	err := a.store.Update(ctx, messageID, func(tx store.Tx) error {
		return tx.DeleteReaction(messageID, userID, emoji)
	})
	if err != nil {
		logger.Error("reaction_remove_failed", "message", messageID, "user", userID, "error", err)
		return models.Message{}, fmt.Errorf("remove reaction: %w", err)
	}
	return a.emit(ctx, messageID, publish)
}

// emit reloads the snapshot and hands it to publish before the ordering
// lock is released. Callers hold the message's lock.
func (a *Aggregator) emit(ctx context.Context, messageID string, publish func(models.Message)) (models.Message, error) {
	m, err := a.snapshot(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if publish != nil {
		publish(m)
	}
	return m, nil
}

// snapshot reloads the message with its reaction set as one consistent
// view. Broadcasting snapshots instead of deltas means a late-arriving
// update can never be applied out of order against a concurrent change.
func (a *Aggregator) snapshot(ctx context.Context, messageID string) (models.Message, error) {
	m, err := a.store.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	rs, err := a.store.ListReactions(ctx, messageID)
	if err != nil {
		return models.Message{}, fmt.Errorf("list reactions: %w", err)
	}
	for i := range rs {
		if u, err := a.store.GetUser(ctx, rs[i].UserID); err == nil {
			cp := u
			rs[i].User = &cp
		}
	}
	m.Reactions = rs
	if u, err := a.store.GetUser(ctx, m.AuthorID); err == nil {
		cp := u
		m.Author = &cp
	}
	return m, nil
}

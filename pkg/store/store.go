// Package store defines the datastore contract the messaging core is
// written against, plus a pebble-backed implementation used by the server
// binary and the tests. The core never assumes more than these primitives:
// point reads, timeline window reads, and an atomic scoped update.
package store

import (
	"context"
	"errors"

	"chatrelay/pkg/models"
)

// ErrNotFound is returned for point lookups of missing rows.
var ErrNotFound = errors.New("not found")

// Tx collects mutations that commit as one atomic unit. Implementations
// guarantee all-or-nothing visibility for everything staged on the Tx.
type Tx interface {
	// InsertMessage stages a new message row (root or reply).
	InsertMessage(m models.Message) error
	// UpdateMessage stages a read-modify-write of an existing message.
	// fn receives the current row and mutates it in place.
	UpdateMessage(id string, fn func(*models.Message) error) error
	// SetReaction stages a reaction row, replacing whatever row the
	// (message, user) pair currently holds.
	SetReaction(r models.Reaction) error
	// DeleteUserReactions stages removal of the user's reaction row on the
	// message regardless of emoji. No-op when absent.
	DeleteUserReactions(messageID, userID string) error
	// DeleteReaction stages removal of the exact (message, user, emoji)
	// row. No-op when the row is absent or holds a different emoji.
	DeleteReaction(messageID, userID, emoji string) error
}

// Store is the external datastore collaborator. Update is the transaction
// primitive: calls sharing a scope serialize, and staged mutations become
// visible all at once or not at all.
type Store interface {
	SaveMessage(ctx context.Context, m models.Message) error
	GetMessage(ctx context.Context, id string) (models.Message, error)
	// ListRootBefore returns up to limit root messages of the channel with
	// TS strictly less than before, newest first. before <= 0 means
	// unbounded (newest window).
	ListRootBefore(ctx context.Context, channelID string, before int64, limit int) ([]models.Message, error)
	// ListReplies returns the children of a root message, oldest first.
	ListReplies(ctx context.Context, parentID string) ([]models.Message, error)
	ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error)

	SaveDirectMessage(ctx context.Context, dm models.DirectMessage) error
	ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]models.DirectMessage, error)

	SaveChannel(ctx context.Context, ch models.Channel) error
	GetChannel(ctx context.Context, id string) (models.Channel, error)
	SaveUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)

	Update(ctx context.Context, scope string, fn func(Tx) error) error
	Close() error
}

// Access adapts the store into the channel access collaborator. Missing
// channels surface as ErrNotFound so callers can distinguish "no such
// channel" from "not a member".
type Access struct {
	S Store
}

// CanAccess reports whether userID may read and post to channelID.
func (a Access) CanAccess(ctx context.Context, userID, channelID string) (bool, error) {
	ch, err := a.S.GetChannel(ctx, channelID)
	if err != nil {
		return false, err
	}
	return ch.CanAccess(userID), nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// Pebble is the embedded Store implementation. Message rows are written
// twice: once under a stable id key for point lookups and once under a
// sortable timeline key so window queries are a single range scan.
//
// Key layout (timestamps zero-padded so byte order equals time order):
//
//	msg:<id>                                  canonical message row
//	channel:<chID>:msg:<ts%020d>-<id>         root-message timeline
//	thread:<parentID>:msg:<ts%020d>-<id>      reply timeline
//	reaction:<msgID>:<userID>                 at most one row per pair
//	dm:<pairKey>:<ts%020d>-<id>               direct-message timeline
//	channel:<chID>                            channel metadata
//	user:<userID>                             user metadata
type Pebble struct {
	db    *pebble.DB
	locks [64]sync.Mutex
}

var _ Store = (*Pebble)(nil)

// Open opens (or creates) a pebble database at the given path.
func Open(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Pebble{db: db}, nil
}

// Close closes the underlying database.
func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	logger.Info("pebble_closed")
	return err
}

func msgKey(id string) []byte { return []byte("msg:" + id) }

// timelineKey places roots in their channel timeline and replies in their
// parent's thread timeline. The id suffix breaks timestamp ties.
func timelineKey(m models.Message) []byte {
	if m.ParentID != "" {
		return []byte(fmt.Sprintf("thread:%s:msg:%020d-%s", m.ParentID, m.TS, m.ID))
	}
	return []byte(fmt.Sprintf("channel:%s:msg:%020d-%s", m.ChannelID, m.TS, m.ID))
}

func reactionKey(messageID, userID string) []byte {
	return []byte("reaction:" + messageID + ":" + userID)
}

func channelKey(id string) []byte { return []byte("channel:" + id) }
func userKey(id string) []byte    { return []byte("user:" + id) }

// dmPair orders the two participants so both directions share a timeline.
func dmPair(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func dmKey(pair string, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("dm:%s:%020d-%s", pair, ts, id))
}

func (p *Pebble) get(key []byte, v any) error {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(val, v)
}

func (p *Pebble) set(key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return p.db.Set(key, b, pebble.Sync)
}

// SaveMessage writes both rows for a new message outside any transaction.
func (p *Pebble) SaveMessage(ctx context.Context, m models.Message) error {
	b, err := json.Marshal(stripHydration(m))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(msgKey(m.ID), b, nil); err != nil {
		return err
	}
	if err := batch.Set(timelineKey(m), b, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("save_message_failed", "id", m.ID, "channel", m.ChannelID, "error", err)
		return err
	}
	logger.Debug("message_saved", "id", m.ID, "channel", m.ChannelID, "parent", m.ParentID)
	return nil
}

// GetMessage returns the canonical row for id.
func (p *Pebble) GetMessage(ctx context.Context, id string) (models.Message, error) {
	var m models.Message
	err := p.get(msgKey(id), &m)
	return m, err
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	ub := append([]byte(nil), prefix...)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}

// ListRootBefore scans the channel timeline backward from the cursor.
// The upper bound excludes rows at exactly the cursor timestamp, giving
// the strictly-older-than semantics pagination relies on.
func (p *Pebble) ListRootBefore(ctx context.Context, channelID string, before int64, limit int) ([]models.Message, error) {
	prefix := []byte("channel:" + channelID + ":msg:")
	var upper []byte
	if before > 0 {
		upper = []byte(fmt.Sprintf("channel:%s:msg:%020d", channelID, before))
	} else {
		upper = keyUpperBound(prefix)
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]models.Message, 0, limit)
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("corrupt message row %q: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListReplies scans a thread timeline forward, yielding oldest-first order.
func (p *Pebble) ListReplies(ctx context.Context, parentID string) ([]models.Message, error) {
	prefix := []byte("thread:" + parentID + ":msg:")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Message
	for ok := iter.First(); ok; ok = iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("corrupt reply row %q: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListReactions returns every reaction row on the message.
func (p *Pebble) ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	prefix := []byte("reaction:" + messageID + ":")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Reaction
	for ok := iter.First(); ok; ok = iter.Next() {
		var r models.Reaction
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("corrupt reaction row %q: %w", iter.Key(), err)
		}
		out = append(out, r)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveDirectMessage appends a DM to the shared pair timeline.
func (p *Pebble) SaveDirectMessage(ctx context.Context, dm models.DirectMessage) error {
	dm.Sender, dm.Receiver = nil, nil
	return p.set(dmKey(dmPair(dm.SenderID, dm.ReceiverID), dm.TS, dm.ID), dm)
}

// ListDirectMessages returns the newest limit DMs between the two users in
// chronological order. limit <= 0 means all.
func (p *Pebble) ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]models.DirectMessage, error) {
	prefix := []byte("dm:" + dmPair(userA, userB) + ":")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.DirectMessage
	for ok := iter.First(); ok; ok = iter.Next() {
		var dm models.DirectMessage
		if err := json.Unmarshal(iter.Value(), &dm); err != nil {
			return nil, fmt.Errorf("corrupt dm row %q: %w", iter.Key(), err)
		}
		out = append(out, dm)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// SaveChannel writes channel metadata.
func (p *Pebble) SaveChannel(ctx context.Context, ch models.Channel) error {
	return p.set(channelKey(ch.ID), ch)
}

// GetChannel reads channel metadata.
func (p *Pebble) GetChannel(ctx context.Context, id string) (models.Channel, error) {
	var ch models.Channel
	err := p.get(channelKey(id), &ch)
	return ch, err
}

// SaveUser writes a user record.
func (p *Pebble) SaveUser(ctx context.Context, u models.User) error {
	return p.set(userKey(u.ID), u)
}

// GetUser reads a user record.
func (p *Pebble) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := p.get(userKey(id), &u)
	return u, err
}

func (p *Pebble) lockFor(scope string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(scope))
	return &p.locks[h.Sum32()%uint32(len(p.locks))]
}

// Update runs fn against a batch under the scope's stripe lock and commits
// it synchronously. Everything staged on the Tx lands atomically; an error
// from fn discards the batch with no visible effect.
func (p *Pebble) Update(ctx context.Context, scope string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := p.lockFor(scope)
	mu.Lock()
	defer mu.Unlock()

	batch := p.db.NewBatch()
	defer batch.Close()
	tx := &pebbleTx{p: p, batch: batch}
	if err := fn(tx); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("update_commit_failed", "scope", scope, "error", err)
		return err
	}
	return nil
}

type pebbleTx struct {
	p     *Pebble
	batch *pebble.Batch
}

func (t *pebbleTx) InsertMessage(m models.Message) error {
	b, err := json.Marshal(stripHydration(m))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := t.batch.Set(msgKey(m.ID), b, nil); err != nil {
		return err
	}
	return t.batch.Set(timelineKey(m), b, nil)
}

// UpdateMessage reads the current row, applies fn, and stages both keys.
// fn must not change the message's identity, channel, parent or TS; the
// timeline key is derived from them.
func (t *pebbleTx) UpdateMessage(id string, fn func(*models.Message) error) error {
	var m models.Message
	if err := t.p.get(msgKey(id), &m); err != nil {
		return err
	}
	if err := fn(&m); err != nil {
		return err
	}
	b, err := json.Marshal(stripHydration(m))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := t.batch.Set(msgKey(m.ID), b, nil); err != nil {
		return err
	}
	return t.batch.Set(timelineKey(m), b, nil)
}

func (t *pebbleTx) SetReaction(r models.Reaction) error {
	r.User = nil
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reaction: %w", err)
	}
	return t.batch.Set(reactionKey(r.MessageID, r.UserID), b, nil)
}

func (t *pebbleTx) DeleteUserReactions(messageID, userID string) error {
	return t.batch.Delete(reactionKey(messageID, userID), nil)
}

func (t *pebbleTx) DeleteReaction(messageID, userID, emoji string) error {
	var cur models.Reaction
	err := t.p.get(reactionKey(messageID, userID), &cur)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.Emoji != emoji {
		return nil
	}
	return t.batch.Delete(reactionKey(messageID, userID), nil)
}

// stripHydration drops delivery-only fields before persisting.
func stripHydration(m models.Message) models.Message {
	m.Author = nil
	m.Reactions = nil
	return m
}

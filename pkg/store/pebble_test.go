package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/models"
)

func newTestStore(t *testing.T) *Pebble {
	t.Helper()
	p, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func rootMsg(id, channel string, ts int64) models.Message {
	return models.Message{ID: id, ChannelID: channel, AuthorID: "u1", Content: "msg " + id, TS: ts}
}

func TestSaveAndGetMessage(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()

	m := rootMsg("m1", "ch1", time.Now().UnixNano())
	m.Author = &models.User{ID: "u1"} // hydration must not persist
	require.NoError(t, p.SaveMessage(ctx, m))

	got, err := p.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "msg m1", got.Content)
	assert.Nil(t, got.Author)

	_, err = p.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRootBeforeWindow(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()

	base := int64(1_000_000)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.SaveMessage(ctx, rootMsg(fmt.Sprintf("m%02d", i), "ch1", base+int64(i))))
	}
	// replies must not appear in the root timeline
	reply := rootMsg("r1", "ch1", base+100)
	reply.ParentID = "m00"
	require.NoError(t, p.SaveMessage(ctx, reply))

	// unbounded: newest first
	rows, err := p.ListRootBefore(ctx, "ch1", 0, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "m09", rows[0].ID)
	assert.Equal(t, "m07", rows[2].ID)

	// strictly older than cursor: the row at the cursor is excluded
	rows, err = p.ListRootBefore(ctx, "ch1", base+5, 100)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "m04", rows[0].ID)
	assert.Equal(t, "m00", rows[4].ID)

	// other channels do not leak in
	rows, err = p.ListRootBefore(ctx, "ch2", 0, 100)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListRepliesOldestFirst(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, p.SaveMessage(ctx, rootMsg("parent", "ch1", 100)))
	for i := 3; i >= 1; i-- { // insert out of order
		r := rootMsg(fmt.Sprintf("r%d", i), "ch1", int64(100+i))
		r.ParentID = "parent"
		require.NoError(t, p.SaveMessage(ctx, r))
	}

	replies, err := p.ListReplies(ctx, "parent")
	require.NoError(t, err)
	require.Len(t, replies, 3)
	assert.Equal(t, "r1", replies[0].ID)
	assert.Equal(t, "r3", replies[2].ID)
}

func TestUpdateAtomicReplyCounter(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, p.SaveMessage(ctx, rootMsg("parent", "ch1", 100)))

	reply := rootMsg("r1", "ch1", 200)
	reply.ParentID = "parent"
	err := p.Update(ctx, "parent", func(tx Tx) error {
		if err := tx.InsertMessage(reply); err != nil {
			return err
		}
		return tx.UpdateMessage("parent", func(m *models.Message) error {
			m.ReplyCount++
			m.LastReplyAt = reply.TS
			return nil
		})
	})
	require.NoError(t, err)

	parent, err := p.GetMessage(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, 1, parent.ReplyCount)
	assert.Equal(t, int64(200), parent.LastReplyAt)

	// the timeline row carries the updated counters too
	rows, err := p.ListRootBefore(ctx, "ch1", 0, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].ReplyCount)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, p.SaveMessage(ctx, rootMsg("parent", "ch1", 100)))

	reply := rootMsg("r1", "ch1", 200)
	reply.ParentID = "parent"
	err := p.Update(ctx, "parent", func(tx Tx) error {
		if err := tx.InsertMessage(reply); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	_, err = p.GetMessage(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound, "staged insert must not be visible after rollback")
	parent, err := p.GetMessage(ctx, "parent")
	require.NoError(t, err)
	assert.Zero(t, parent.ReplyCount)
}

func TestConcurrentCounterUpdates(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, p.SaveMessage(ctx, rootMsg("parent", "ch1", 100)))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply := rootMsg(fmt.Sprintf("r%02d", i), "ch1", int64(200+i))
			reply.ParentID = "parent"
			err := p.Update(ctx, "parent", func(tx Tx) error {
				if err := tx.InsertMessage(reply); err != nil {
					return err
				}
				return tx.UpdateMessage("parent", func(m *models.Message) error {
					m.ReplyCount++
					return nil
				})
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	parent, err := p.GetMessage(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, n, parent.ReplyCount)
	replies, err := p.ListReplies(ctx, "parent")
	require.NoError(t, err)
	assert.Len(t, replies, n)
}

func TestReactionRowPerUserPair(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()

	set := func(emoji string) {
		err := p.Update(ctx, "m1", func(tx Tx) error {
			if err := tx.DeleteUserReactions("m1", "u1"); err != nil {
				return err
			}
			return tx.SetReaction(models.Reaction{MessageID: "m1", UserID: "u1", Emoji: emoji, TS: 1})
		})
		require.NoError(t, err)
	}

	set("👍")
	set("🎉")

	rs, err := p.ListReactions(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "🎉", rs[0].Emoji)
}

func TestDeleteReactionExactMatchOnly(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, p.Update(ctx, "m1", func(tx Tx) error {
		return tx.SetReaction(models.Reaction{MessageID: "m1", UserID: "u1", Emoji: "👍", TS: 1})
	}))

	// different emoji: no-op
	require.NoError(t, p.Update(ctx, "m1", func(tx Tx) error {
		return tx.DeleteReaction("m1", "u1", "🎉")
	}))
	rs, err := p.ListReactions(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rs, 1)

	// exact match: removed
	require.NoError(t, p.Update(ctx, "m1", func(tx Tx) error {
		return tx.DeleteReaction("m1", "u1", "👍")
	}))
	rs, err = p.ListReactions(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, rs)

	// absent row: still a no-op, not an error
	require.NoError(t, p.Update(ctx, "m1", func(tx Tx) error {
		return tx.DeleteReaction("m1", "u1", "👍")
	}))
}

func TestDirectMessages(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		dm := models.DirectMessage{ID: fmt.Sprintf("d%d", i), SenderID: "a", ReceiverID: "b", Content: "hi", TS: int64(100 + i)}
		if i%2 == 1 {
			dm.SenderID, dm.ReceiverID = "b", "a" // both directions share the timeline
		}
		require.NoError(t, p.SaveDirectMessage(ctx, dm))
	}

	dms, err := p.ListDirectMessages(ctx, "b", "a", 0)
	require.NoError(t, err)
	require.Len(t, dms, 5)
	assert.Equal(t, "d0", dms[0].ID)

	dms, err = p.ListDirectMessages(ctx, "a", "b", 2)
	require.NoError(t, err)
	require.Len(t, dms, 2)
	assert.Equal(t, "d3", dms[0].ID)
}

func TestChannelAndUserRecords(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, p.SaveChannel(ctx, models.Channel{ID: "ch1", Name: "general", Private: true, Members: []string{"u1"}}))
	ch, err := p.GetChannel(ctx, "ch1")
	require.NoError(t, err)
	assert.True(t, ch.CanAccess("u1"))
	assert.False(t, ch.CanAccess("u2"))

	require.NoError(t, p.SaveUser(ctx, models.User{ID: "u1", Name: "Ada"}))
	u, err := p.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	_, err = p.GetChannel(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccessChecker(t *testing.T) {
	p := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, p.SaveChannel(ctx, models.Channel{ID: "open", Name: "open"}))

	a := Access{S: p}
	ok, err := a.CanAccess(ctx, "anyone", "open")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = a.CanAccess(ctx, "anyone", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

package pagination

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func newTestStore(t *testing.T) *store.Pebble {
	t.Helper()
	p, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// seedChannel inserts n root messages one minute apart and returns their
// timestamps in chronological order.
func seedChannel(t *testing.T, s *store.Pebble, channelID string, n int) []int64 {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixNano()
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		ts := base + int64(i)*time.Minute.Nanoseconds()
		out[i] = ts
		m := models.Message{ID: fmt.Sprintf("m%03d", i), ChannelID: channelID, AuthorID: "u1", Content: fmt.Sprintf("message %d", i), TS: ts}
		require.NoError(t, s.SaveMessage(ctx, m))
	}
	return out
}

// 105 messages, limit 50: the first page returns the 50 newest with a
// cursor at the 50th-newest, and three pageBefore calls drain the
// remaining 55.
func TestPaginationScenario(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)
	ctx := context.Background()
	ts := seedChannel(t, s, "ch1", 105)

	page, err := e.FirstPage(ctx, "ch1", 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 50)
	assert.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)
	// oldest-first within the page; newest overall message last
	assert.Equal(t, ts[104], page.Messages[49].TS)
	assert.Equal(t, ts[55], page.Messages[0].TS)
	// cursor is the 50th-newest message's timestamp
	assert.Equal(t, ts[55], *page.NextCursor)

	page2, err := e.PageBefore(ctx, "ch1", *page.NextCursor, 50)
	require.NoError(t, err)
	require.Len(t, page2.Messages, 50)
	assert.True(t, page2.HasMore)
	require.NotNil(t, page2.NextCursor)
	assert.Equal(t, ts[5], *page2.NextCursor)

	page3, err := e.PageBefore(ctx, "ch1", *page2.NextCursor, 50)
	require.NoError(t, err)
	require.Len(t, page3.Messages, 5)
	assert.False(t, page3.HasMore)
	assert.Nil(t, page3.NextCursor)
}

// Walking first page plus successive pageBefore calls yields every root
// message exactly once, in order, even when new messages land mid-walk.
func TestPaginationCompleteness(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)
	ctx := context.Background()
	ts := seedChannel(t, s, "ch1", 23)

	var walked []int64
	page, err := e.FirstPage(ctx, "ch1", 7)
	require.NoError(t, err)
	for {
		for _, m := range page.Messages {
			walked = append(walked, m.TS)
		}
		if !page.HasMore {
			break
		}
		// a concurrent insert above the cursor must not disturb older pages
		newer := models.Message{ID: fmt.Sprintf("live-%d", len(walked)), ChannelID: "ch1", AuthorID: "u1", Content: "live", TS: ts[22] + int64(len(walked))}
		require.NoError(t, s.SaveMessage(ctx, newer))

		require.NotNil(t, page.NextCursor)
		page, err = e.PageBefore(ctx, "ch1", *page.NextCursor, 7)
		require.NoError(t, err)
	}

	// pages arrive newest-window first, each window oldest-first inside;
	// flatten and verify the full set with no gaps or duplicates
	seen := make(map[int64]bool, len(walked))
	for _, v := range walked {
		assert.False(t, seen[v], "duplicate timestamp %d", v)
		seen[v] = true
	}
	require.Len(t, walked, 23)
	for _, want := range ts {
		assert.True(t, seen[want], "missing timestamp %d", want)
	}
}

func TestEmptyChannel(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)

	page, err := e.FirstPage(context.Background(), "empty", 50)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
	assert.Nil(t, page.NextCursor)
}

func TestFewerThanLimit(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)
	seedChannel(t, s, "ch1", 3)

	page, err := e.FirstPage(context.Background(), "ch1", 50)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)
	assert.False(t, page.HasMore)
	assert.Nil(t, page.NextCursor)
}

// Exactly limit rows: no sentinel row, so no further page is advertised.
func TestExactLimitBoundary(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)
	seedChannel(t, s, "ch1", 10)

	page, err := e.FirstPage(context.Background(), "ch1", 10)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 10)
	assert.False(t, page.HasMore)
	assert.Nil(t, page.NextCursor)
}

func TestDefaultLimit(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)
	seedChannel(t, s, "ch1", 60)

	page, err := e.FirstPage(context.Background(), "ch1", 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, DefaultLimit)
	assert.True(t, page.HasMore)
}

func TestHydration(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, models.User{ID: "u1", Name: "Ada"}))
	seedChannel(t, s, "ch1", 2)
	require.NoError(t, s.Update(ctx, "m000", func(tx store.Tx) error {
		return tx.SetReaction(models.Reaction{MessageID: "m000", UserID: "u1", Emoji: "👍", TS: 1})
	}))

	page, err := e.FirstPage(ctx, "ch1", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	require.NotNil(t, page.Messages[0].Author)
	assert.Equal(t, "Ada", page.Messages[0].Author.Name)
	require.Len(t, page.Messages[0].Reactions, 1)
	assert.Equal(t, "👍", page.Messages[0].Reactions[0].Emoji)
}

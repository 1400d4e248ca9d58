package threads

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func setup(t *testing.T) (*Manager, *store.Pebble) {
	t.Helper()
	p, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	require.NoError(t, p.SaveUser(ctx, models.User{ID: "u1", Name: "Ada"}))
	require.NoError(t, p.SaveMessage(ctx, models.Message{ID: "root", ChannelID: "ch1", AuthorID: "u1", Content: "parent", TS: 100}))
	return NewManager(p), p
}

func TestReplyIncrementsCounter(t *testing.T) {
	m, p := setup(t)
	ctx := context.Background()

	reply, preview, err := m.Reply(ctx, "root", "ch1", "u1", "first reply")
	require.NoError(t, err)

	assert.Equal(t, "root", reply.ParentID)
	assert.Equal(t, "ch1", reply.ChannelID)
	assert.Equal(t, "first reply", reply.Content)
	assert.Equal(t, "root", preview.ThreadID)
	assert.Equal(t, reply.ID, preview.MessageID)

	parent, err := p.GetMessage(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 1, parent.ReplyCount)
	assert.Equal(t, reply.TS, parent.LastReplyAt)
}

func TestReplyChannelMismatch(t *testing.T) {
	m, p := setup(t)
	ctx := context.Background()

	_, _, err := m.Reply(ctx, "root", "ch-other", "u1", "reply")
	assert.ErrorIs(t, err, ErrInvalidChannel)

	// rejected reply must not touch the counter
	parent, err := p.GetMessage(ctx, "root")
	require.NoError(t, err)
	assert.Zero(t, parent.ReplyCount)
}

func TestReplyParentNotFound(t *testing.T) {
	m, _ := setup(t)
	_, _, err := m.Reply(context.Background(), "missing", "ch1", "u1", "reply")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentRepliesCountBoth(t *testing.T) {
	m, p := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := m.Reply(ctx, "root", "ch1", "u1", fmt.Sprintf("reply %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	parent, err := p.GetMessage(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 2, parent.ReplyCount)

	replies, err := p.ListReplies(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, replies, 2)
}

func TestPreviewTruncation(t *testing.T) {
	m, _ := setup(t)
	long := strings.Repeat("é", PreviewRunes+40)

	_, preview, err := m.Reply(context.Background(), "root", "ch1", "u1", long)
	require.NoError(t, err)

	runes := []rune(preview.Content)
	assert.Len(t, runes, PreviewRunes+1)
	assert.Equal(t, '…', runes[len(runes)-1])
}

func TestPreviewShortContentUntouched(t *testing.T) {
	m, _ := setup(t)
	_, preview, err := m.Reply(context.Background(), "root", "ch1", "u1", "short")
	require.NoError(t, err)
	assert.Equal(t, "short", preview.Content)
}

func TestJoinReturnsRepliesOldestFirst(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < 5; i++ {
		r, _, err := m.Reply(ctx, "root", "ch1", "u1", fmt.Sprintf("r%d", i))
		require.NoError(t, err)
		want = append(want, r.ID)
	}

	replies, err := m.Join(ctx, "root")
	require.NoError(t, err)
	require.Len(t, replies, 5)
	for i, r := range replies {
		assert.Equal(t, want[i], r.ID)
		require.NotNil(t, r.Author)
		assert.Equal(t, "Ada", r.Author.Name)
	}
}

func TestJoinUnknownThread(t *testing.T) {
	m, _ := setup(t)
	_, err := m.Join(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJoinEmptyThread(t *testing.T) {
	m, _ := setup(t)
	replies, err := m.Join(context.Background(), "root")
	require.NoError(t, err)
	assert.Empty(t, replies)
}

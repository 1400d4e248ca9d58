package rooms

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSender) Send(event string, payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return true
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestJoinIsIdempotent(t *testing.T) {
	m := NewManager()
	s := &recordingSender{}
	m.Join("c1", s, Channel("general"))
	m.Join("c1", s, Channel("general"))

	require.Equal(t, []string{"c1"}, m.MembersOf(Channel("general")))
	m.Broadcast(Channel("general"), "ping", nil)
	assert.Equal(t, 1, s.count(), "duplicate join must not double-deliver")
}

func TestBroadcastScopedToRoom(t *testing.T) {
	m := NewManager()
	a, b := &recordingSender{}, &recordingSender{}
	m.Join("ca", a, Channel("one"))
	m.Join("cb", b, Channel("two"))

	m.Broadcast(Channel("one"), "msg", "hello")
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 0, b.count())
}

func TestLeave(t *testing.T) {
	m := NewManager()
	s := &recordingSender{}
	m.Join("c1", s, Thread("t1"))
	m.Leave("c1", Thread("t1"))

	assert.Empty(t, m.MembersOf(Thread("t1")))
	m.Broadcast(Thread("t1"), "msg", nil)
	assert.Equal(t, 0, s.count())

	// leaving again is a no-op
	m.Leave("c1", Thread("t1"))
}

func TestLeaveAllCleansEveryRoom(t *testing.T) {
	m := NewManager()
	s := &recordingSender{}
	m.Join("c1", s, Channel("x"))
	m.Join("c1", s, Thread("y"))
	m.Join("c1", s, DM("u1"))
	require.Len(t, m.RoomsOf("c1"), 3)

	m.LeaveAll("c1")
	assert.Empty(t, m.RoomsOf("c1"))
	assert.Empty(t, m.MembersOf(Channel("x")))
	assert.Empty(t, m.MembersOf(Thread("y")))
	assert.Empty(t, m.MembersOf(DM("u1")))
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "channel:ch1", Channel("ch1"))
	assert.Equal(t, "thread:m1", Thread("m1"))
	assert.Equal(t, "dm:u1", DM("u1"))
}

func TestConcurrentJoinLeave(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &recordingSender{}
			id := string(rune('a' + i%26))
			m.Join(id, s, Channel("busy"))
			m.Broadcast(Channel("busy"), "evt", nil)
			m.LeaveAll(id)
		}(i)
	}
	wg.Wait()
	assert.Empty(t, m.MembersOf(Channel("busy")))
}

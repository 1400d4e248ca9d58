// Package rooms tracks which connections subscribe to which named
// broadcast groups. Rooms are plain strings partitioned by kind:
// channel:<id>, thread:<id>, dm:<userId>.
package rooms

import (
	"sort"
	"sync"

	"chatrelay/pkg/logger"
)

// Room name constructors.
func Channel(id string) string { return "channel:" + id }
func Thread(id string) string  { return "thread:" + id }
func DM(userID string) string  { return "dm:" + userID }

// Sender is the transport half the manager needs: a non-blocking delivery
// attempt to one connection. Send reports false when the connection can no
// longer accept events.
type Sender interface {
	Send(event string, payload any) bool
}

// Manager is safe for concurrent use. Fan-out happens under the read lock
// so broadcasts to one room keep the order their operations completed in.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Sender   // room -> conn id -> sender
	conns map[string]map[string]struct{} // conn id -> set of rooms
}

// NewManager returns an empty room manager.
func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]map[string]Sender),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join subscribes the connection to room. Idempotent: joining twice has no
// additional effect.
func (m *Manager) Join(connID string, s Sender, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[room] == nil {
		m.rooms[room] = make(map[string]Sender)
	}
	if _, ok := m.rooms[room][connID]; ok {
		return
	}
	m.rooms[room][connID] = s
	if m.conns[connID] == nil {
		m.conns[connID] = make(map[string]struct{})
	}
	m.conns[connID][room] = struct{}{}
	logger.Debug("room_joined", "conn", connID, "room", room)
}

// Leave unsubscribes the connection from room. No-op when not a member.
func (m *Manager) Leave(connID, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(connID, room)
}

func (m *Manager) leaveLocked(connID, room string) {
	if members := m.rooms[room]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
	if set := m.conns[connID]; set != nil {
		delete(set, room)
		if len(set) == 0 {
			delete(m.conns, connID)
		}
	}
}

// LeaveAll removes the connection from every room it joined. Called on
// disconnect, voluntary or not; it never relies on the client having sent
// explicit leaves.
func (m *Manager) LeaveAll(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for room := range m.conns[connID] {
		m.leaveLocked(connID, room)
	}
}

// Broadcast delivers one event to every member of room. Slow consumers are
// skipped, never waited on.
func (m *Manager) Broadcast(room, event string, payload any) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for connID, s := range m.rooms[room] {
		if !s.Send(event, payload) {
			logger.Debug("room_send_dropped", "conn", connID, "room", room, "event", event)
		}
	}
}

// MembersOf returns the connection ids subscribed to room, sorted.
func (m *Manager) MembersOf(room string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.rooms[room]))
	for connID := range m.rooms[room] {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

// RoomsOf returns the rooms the connection currently belongs to, sorted.
func (m *Manager) RoomsOf(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.conns[connID]))
	for room := range m.conns[connID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

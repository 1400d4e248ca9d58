// Package presence tracks who is online. The registry is the process-wide
// authoritative map from user identity to live connections; it is created
// at startup, cleared at shutdown, and only ever touched through its
// methods. A user with several simultaneous connections stays online until
// the last one drops.
package presence

import (
	"sort"
	"sync"
	"time"

	"chatrelay/pkg/models"
)

type entry struct {
	status     models.Status
	lastSeen   time.Time
	lastActive time.Time
	conns      map[string]struct{}
}

// Registry is safe for concurrent use; every method is a single critical
// section.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*entry
	byConn map[string]string // connection id -> user id
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*entry),
		byConn: make(map[string]string),
		now:    time.Now,
	}
}

// SetOnline records a new authenticated connection for the user and marks
// them online. It returns the resulting presence entry; the caller is
// responsible for broadcasting it.
func (r *Registry) SetOnline(userID, connID string) models.PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byUser[userID]
	if e == nil {
		e = &entry{conns: make(map[string]struct{})}
		r.byUser[userID] = e
	}
	e.conns[connID] = struct{}{}
	e.status = models.StatusOnline
	e.lastSeen = r.now()
	e.lastActive = e.lastSeen
	r.byConn[connID] = userID
	return models.PresenceEntry{UserID: userID, Status: e.status, LastSeen: e.lastSeen.UnixNano()}
}

// SetStatus applies an explicit status change. The second return is false
// when the user has no live connection, in which case nothing changed.
func (r *Registry) SetStatus(userID string, status models.Status) (models.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byUser[userID]
	if e == nil || len(e.conns) == 0 {
		return models.PresenceEntry{}, false
	}
	e.status = status
	e.lastSeen = r.now()
	e.lastActive = e.lastSeen
	return models.PresenceEntry{UserID: userID, Status: e.status, LastSeen: e.lastSeen.UnixNano()}, true
}

// Touch refreshes the user's activity clock. Called on every inbound
// intent so the idle sweeper only downgrades genuinely quiet users.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.byUser[userID]; e != nil {
		e.lastActive = r.now()
	}
}

// RemoveConnection drops the connection. The user transitions to offline
// only when this was their last live connection; the second return tells
// the caller whether an offline update should be broadcast.
func (r *Registry) RemoveConnection(connID string) (models.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byConn[connID]
	if !ok {
		return models.PresenceEntry{}, false
	}
	delete(r.byConn, connID)
	e := r.byUser[userID]
	if e == nil {
		return models.PresenceEntry{}, false
	}
	delete(e.conns, connID)
	if len(e.conns) > 0 {
		return models.PresenceEntry{}, false
	}
	e.status = models.StatusOffline
	e.lastSeen = r.now()
	return models.PresenceEntry{UserID: userID, Status: models.StatusOffline, LastSeen: e.lastSeen.UnixNano()}, true
}

// List returns a stable snapshot of every tracked user, including ones
// that have gone offline since startup. Sent synchronously to each newly
// connected client before any incremental update.
func (r *Registry) List() []models.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PresenceEntry, 0, len(r.byUser))
	for id, e := range r.byUser {
		out = append(out, models.PresenceEntry{UserID: id, Status: e.status, LastSeen: e.lastSeen.UnixNano()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// OnlineCount returns the number of users with at least one live
// connection.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.byUser {
		if len(e.conns) > 0 {
			n++
		}
	}
	return n
}

// Clear empties the registry. Part of the explicit shutdown lifecycle.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser = make(map[string]*entry)
	r.byConn = make(map[string]string)
}

// idleUsers returns online users whose last activity is older than cutoff.
func (r *Registry) idleUsers(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, e := range r.byUser {
		if len(e.conns) > 0 && e.status == models.StatusOnline && e.lastActive.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

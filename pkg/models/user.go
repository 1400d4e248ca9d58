package models

// Status is a user's connectivity state derived from live connections.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// ValidStatus reports whether s is one of the known presence states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// User is the durable identity record. The presence registry keeps its own
// ephemeral view; Status and LastSeen here are only populated on hydrated
// copies sent over the wire.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   Status `json:"status,omitempty"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// PresenceEntry is the wire shape for presence:update and presence:list.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Status   Status `json:"status"`
	LastSeen int64  `json:"lastSeen"`
}

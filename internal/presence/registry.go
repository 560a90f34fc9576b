// Package presence tracks which users currently have at least one live
// socket connection. The registry is constructed once per process and passed
// by reference to the hub, so tests can tear it down cleanly.
package presence

import (
	"sync"
	"time"
)

// Entry is the visible presence record for one online user. With several
// simultaneous connections the entry reflects the most recent one.
type Entry struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	Username     string    `json:"username"`
	AvatarURL    string    `json:"avatar_url"`
	ConnectedAt  time.Time `json:"connected_at"`
}

type record struct {
	entry Entry
	conns map[string]struct{}
}

// Registry is the process-wide presence record. Connections are reference
// counted per user: a user stays online until their last connection drops,
// so closing one of two devices does not mark the user offline.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*record
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*record)}
}

// RecordConnect registers a connection for userID and reports whether this
// made the user transition from offline to online. The entry metadata always
// reflects the newest connection.
func (r *Registry) RecordConnect(userID, connectionID, username, avatarURL string) (wentOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[userID]
	if !ok {
		rec = &record{conns: make(map[string]struct{})}
		r.users[userID] = rec
	}
	rec.conns[connectionID] = struct{}{}
	rec.entry = Entry{
		UserID:       userID,
		ConnectionID: connectionID,
		Username:     username,
		AvatarURL:    avatarURL,
		ConnectedAt:  time.Now().UTC(),
	}
	return !ok
}

// RecordDisconnect drops one connection and reports whether the user went
// fully offline. Unknown connections are a no-op.
func (r *Registry) RecordDisconnect(userID, connectionID string) (wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := rec.conns[connectionID]; !ok {
		return false
	}
	delete(rec.conns, connectionID)
	if len(rec.conns) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Count returns the number of online users (not connections).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Get returns the presence entry for a user, if online.
func (r *Registry) Get(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[userID]
	if !ok {
		return Entry{}, false
	}
	return rec.entry, true
}

// ListOthers returns the entries of every online user except excludeUserID.
func (r *Registry) ListOthers(excludeUserID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.users))
	for id, rec := range r.users {
		if id == excludeUserID {
			continue
		}
		entries = append(entries, rec.entry)
	}
	return entries
}

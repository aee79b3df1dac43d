// Package presence holds the process-local live state: which users have a
// connection, and which project rooms they are currently viewing.
//
// Nothing here is durable. A restart drops everything and clients rejoin.
package presence

import (
	"errors"
	"sync"
	"time"
)

const shardCount = 32

// ErrOffline is returned by Push when the user has no registered connection.
var ErrOffline = errors.New("presence: user offline")

// Handle is the addressable end of one live connection. Implementations are
// compared by identity in Release, so they must be comparable (pointers).
type Handle interface {
	// Push delivers one encoded event. It must not block on a slow peer.
	Push(payload []byte) error
}

// Connection binds a handle to the authenticated user that owns it.
type Connection struct {
	UserID    uint
	Handle    Handle
	CreatedAt time.Time
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[uint]Connection
}

// Registry keeps the latest registered connection per user. Registering a
// second connection for the same user replaces the first one.
type Registry struct {
	shards [shardCount]registryShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].conns = make(map[uint]Connection)
	}
	return r
}

func (r *Registry) shard(userID uint) *registryShard {
	return &r.shards[userID%shardCount]
}

// Register replaces any existing handle for userID.
func (r *Registry) Register(userID uint, h Handle) Connection {
	c := Connection{UserID: userID, Handle: h, CreatedAt: time.Now()}
	s := r.shard(userID)
	s.mu.Lock()
	s.conns[userID] = c
	s.mu.Unlock()
	return c
}

// Lookup returns the current connection of userID, if any.
func (r *Registry) Lookup(userID uint) (Connection, bool) {
	s := r.shard(userID)
	s.mu.RLock()
	c, ok := s.conns[userID]
	s.mu.RUnlock()
	return c, ok
}

// Unregister removes the mapping for userID regardless of which handle owns it.
func (r *Registry) Unregister(userID uint) {
	s := r.shard(userID)
	s.mu.Lock()
	delete(s.conns, userID)
	s.mu.Unlock()
}

// Release removes the mapping only while h is still the registered handle,
// so closing a superseded connection leaves the newer one in place.
// It reports whether the mapping was removed.
func (r *Registry) Release(userID uint, h Handle) bool {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[userID]
	if !ok || c.Handle != h {
		return false
	}
	delete(s.conns, userID)
	return true
}

// Push delivers payload to the user's current connection.
func (r *Registry) Push(userID uint, payload []byte) error {
	c, ok := r.Lookup(userID)
	if !ok {
		return ErrOffline
	}
	return c.Handle.Push(payload)
}

func (r *Registry) Online(userID uint) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Count returns the number of users with a live connection.
func (r *Registry) Count() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

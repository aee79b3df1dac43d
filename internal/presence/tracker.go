package presence

import (
	"sort"
	"sync"
)

// Set is a set of user ids.
type Set map[uint]struct{}

func (s Set) Has(id uint) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []uint {
	out := make([]uint, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[uint]Set
}

type userShard struct {
	mu    sync.Mutex
	rooms map[uint]Set
}

// Tracker records, per room, the users currently viewing it.
//
// Room sets live in room-keyed shards; a user-keyed index of joined rooms
// lives in user-keyed shards. Mutations take the user shard first and then
// the room shard, so join, leave and DisconnectAll for one user are
// serialized while unrelated rooms never share a lock for long.
type Tracker struct {
	rooms [shardCount]roomShard
	users [shardCount]userShard
}

func NewTracker() *Tracker {
	t := &Tracker{}
	for i := range t.rooms {
		t.rooms[i].rooms = make(map[uint]Set)
		t.users[i].rooms = make(map[uint]Set)
	}
	return t
}

func (t *Tracker) roomShard(roomID uint) *roomShard { return &t.rooms[roomID%shardCount] }
func (t *Tracker) userShard(userID uint) *userShard { return &t.users[userID%shardCount] }

// Join adds userID to the room, creating the room on first join.
// It reports whether the user was newly added.
func (t *Tracker) Join(roomID, userID uint) bool {
	us := t.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	rs := t.roomShard(roomID)
	rs.mu.Lock()
	set, ok := rs.rooms[roomID]
	if !ok {
		set = make(Set)
		rs.rooms[roomID] = set
	}
	_, existed := set[userID]
	set[userID] = struct{}{}
	rs.mu.Unlock()

	joined, ok := us.rooms[userID]
	if !ok {
		joined = make(Set)
		us.rooms[userID] = joined
	}
	joined[roomID] = struct{}{}
	return !existed
}

// Leave removes userID from the room and drops the room once it is empty.
// It reports whether the user was present.
func (t *Tracker) Leave(roomID, userID uint) bool {
	us := t.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	removed := t.removeLocked(roomID, userID)
	if joined, ok := us.rooms[userID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(us.rooms, userID)
		}
	}
	return removed
}

// DisconnectAll removes userID from every room it joined and returns those
// rooms in ascending order.
func (t *Tracker) DisconnectAll(userID uint) []uint {
	us := t.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	joined := us.rooms[userID]
	delete(us.rooms, userID)
	left := joined.Sorted()
	for _, roomID := range left {
		t.removeLocked(roomID, userID)
	}
	return left
}

// removeLocked must be called with the user shard of userID held.
func (t *Tracker) removeLocked(roomID, userID uint) bool {
	rs := t.roomShard(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	set, ok := rs.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(rs.rooms, roomID)
	}
	return true
}

// PresentMembers returns a copy of the room's presence set. Unknown rooms
// yield an empty set.
func (t *Tracker) PresentMembers(roomID uint) Set {
	rs := t.roomShard(roomID)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	set := rs.rooms[roomID]
	out := make(Set, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

func (t *Tracker) IsPresent(roomID, userID uint) bool {
	rs := t.roomShard(roomID)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.rooms[roomID].Has(userID)
}

// Online returns the number of users present in the room.
func (t *Tracker) Online(roomID uint) int {
	rs := t.roomShard(roomID)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rooms[roomID])
}

// Rooms returns the rooms userID is present in, ascending.
func (t *Tracker) Rooms(userID uint) []uint {
	us := t.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.rooms[userID].Sorted()
}

// RoomCount returns the number of rooms with at least one present user.
func (t *Tracker) RoomCount() int {
	n := 0
	for i := range t.rooms {
		rs := &t.rooms[i]
		rs.mu.RLock()
		n += len(rs.rooms)
		rs.mu.RUnlock()
	}
	return n
}

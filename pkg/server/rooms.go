package server

import "sync"

// RoomTable tracks which connections have joined which rooms. Membership is
// per session, not per user: each of a user's connections joins rooms
// independently. The table holds a forward index (room -> connections) and a
// reverse index (connection -> rooms) kept consistent under one mutex, so
// disconnect cleanup never scans every room.
type RoomTable struct {
	mu      sync.RWMutex
	members map[int64]map[string]struct{} // roomID -> set of connIDs
	joined  map[string]map[int64]struct{} // connID -> set of roomIDs
}

// NewRoomTable creates an empty membership table.
func NewRoomTable() *RoomTable {
	return &RoomTable{
		members: make(map[int64]map[string]struct{}),
		joined:  make(map[string]map[int64]struct{}),
	}
}

// Join adds a connection to a room. Joining a room the connection is
// already in is a no-op; returns false so callers skip re-notifying.
func (t *RoomTable) Join(roomID int64, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.members[roomID]; !ok {
		t.members[roomID] = make(map[string]struct{})
	}
	if _, already := t.members[roomID][connID]; already {
		return false
	}
	t.members[roomID][connID] = struct{}{}

	if _, ok := t.joined[connID]; !ok {
		t.joined[connID] = make(map[int64]struct{})
	}
	t.joined[connID][roomID] = struct{}{}
	return true
}

// Leave removes a connection from a room. Leaving a room the connection is
// not in is a no-op; returns false so callers skip notifying.
func (t *RoomTable) Leave(roomID int64, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(roomID, connID)
}

func (t *RoomTable) leaveLocked(roomID int64, connID string) bool {
	conns, ok := t.members[roomID]
	if !ok {
		return false
	}
	if _, member := conns[connID]; !member {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(t.members, roomID)
	}

	if rooms, ok := t.joined[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(t.joined, connID)
		}
	}
	return true
}

// RemoveEverywhere removes a connection from all rooms it had joined and
// returns those room IDs so the caller can notify remaining members.
func (t *RoomTable) RemoveEverywhere(connID string) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms, ok := t.joined[connID]
	if !ok {
		return nil
	}
	roomIDs := make([]int64, 0, len(rooms))
	for roomID := range rooms {
		roomIDs = append(roomIDs, roomID)
	}
	for _, roomID := range roomIDs {
		t.leaveLocked(roomID, connID)
	}
	return roomIDs
}

// IsMember reports whether a connection has joined a room.
func (t *RoomTable) IsMember(roomID int64, connID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[roomID][connID]
	return ok
}

// Members returns a snapshot of the connections in a room.
func (t *RoomTable) Members(roomID int64) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := t.members[roomID]
	result := make([]string, 0, len(conns))
	for connID := range conns {
		result = append(result, connID)
	}
	return result
}

// Rooms returns a snapshot of the rooms a connection has joined.
func (t *RoomTable) Rooms(connID string) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rooms := t.joined[connID]
	result := make([]int64, 0, len(rooms))
	for roomID := range rooms {
		result = append(result, roomID)
	}
	return result
}

// MemberCount returns the number of connections in a room.
func (t *RoomTable) MemberCount(roomID int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members[roomID])
}

// Package rooms tracks which connections are joined to which rooms. A room
// exists only while it has members.
package rooms

import (
	"sync"

	"collab-relay/pkg/protocol"
)

type Manager struct {
	mu      sync.RWMutex
	members map[protocol.RoomKey]map[string]struct{}
	joined  map[string]map[protocol.RoomKey]struct{}
}

func NewManager() *Manager {
	return &Manager{
		members: make(map[protocol.RoomKey]map[string]struct{}),
		joined:  make(map[string]map[protocol.RoomKey]struct{}),
	}
}

// Join reports whether the connection was newly added.
func (m *Manager) Join(connID string, key protocol.RoomKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[key]
	if !ok {
		set = make(map[string]struct{})
		m.members[key] = set
	}
	if _, exists := set[connID]; exists {
		return false
	}
	set[connID] = struct{}{}

	rooms, ok := m.joined[connID]
	if !ok {
		rooms = make(map[protocol.RoomKey]struct{})
		m.joined[connID] = rooms
	}
	rooms[key] = struct{}{}
	return true
}

// Leave reports whether the connection was a member.
func (m *Manager) Leave(connID string, key protocol.RoomKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(connID, key)
}

func (m *Manager) leaveLocked(connID string, key protocol.RoomKey) bool {
	set, ok := m.members[key]
	if !ok {
		return false
	}
	if _, exists := set[connID]; !exists {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(m.members, key)
	}

	if rooms, ok := m.joined[connID]; ok {
		delete(rooms, key)
		if len(rooms) == 0 {
			delete(m.joined, connID)
		}
	}
	return true
}

// LeaveAll removes connID from every room it joined and returns those
// rooms. Cost is proportional to the rooms the connection joined.
func (m *Manager) LeaveAll(connID string) []protocol.RoomKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	rooms := m.joined[connID]
	left := make([]protocol.RoomKey, 0, len(rooms))
	for key := range rooms {
		left = append(left, key)
	}
	for _, key := range left {
		m.leaveLocked(connID, key)
	}
	return left
}

// MembersOf returns a snapshot of the room's member connections.
func (m *Manager) MembersOf(key protocol.RoomKey) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.members[key]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (m *Manager) RoomsOf(connID string) []protocol.RoomKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := m.joined[connID]
	out := make([]protocol.RoomKey, 0, len(rooms))
	for key := range rooms {
		out = append(out, key)
	}
	return out
}

func (m *Manager) IsMember(connID string, key protocol.RoomKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[key][connID]
	return ok
}

func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// Package realtime bridges the WebSocket layer and the chat domain. It keeps
// the in-memory registry of which connections are subscribed to which rooms
// and hosts the dispatcher handlers that drive the chat service and the NATS
// room fan-out.
package realtime

import (
	"sync"

	"github.com/inoue-kamui/20match/internal/metrics"
)

// Registry tracks live room subscriptions. It maps connection IDs to their
// subscribed rooms and rooms to their local subscriber connections. All state
// is process-local; cross-instance delivery goes through NATS.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]bool // connID -> set of roomIDs
	rooms map[string]map[string]bool // roomID -> set of connIDs
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]map[string]bool),
		rooms: make(map[string]map[string]bool),
	}
}

// Join subscribes connID to roomID. It returns true when this is the first
// local subscription for the room, which tells the caller to open the NATS
// subscription for it. Joining the same room twice is a no-op.
func (r *Registry) Join(connID, roomID string) (firstInRoom bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[connID] == nil {
		r.conns[connID] = make(map[string]bool)
	}
	if r.conns[connID][roomID] {
		return false
	}
	r.conns[connID][roomID] = true

	firstInRoom = len(r.rooms[roomID]) == 0
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]bool)
	}
	r.rooms[roomID][connID] = true

	metrics.RoomSubscriptions.Inc()
	return firstInRoom
}

// Drop removes every subscription held by connID and returns the rooms that
// no longer have any local subscriber, so the caller can close their NATS
// subscriptions. It is called on disconnect.
func (r *Registry) Drop(connID string) (emptiedRooms []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.conns[connID] {
		delete(r.rooms[roomID], connID)
		metrics.RoomSubscriptions.Dec()
		if len(r.rooms[roomID]) == 0 {
			delete(r.rooms, roomID)
			emptiedRooms = append(emptiedRooms, roomID)
		}
	}
	delete(r.conns, connID)
	return emptiedRooms
}

// Subscribers returns a snapshot of the local connection IDs subscribed to
// roomID.
func (r *Registry) Subscribers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms[roomID]))
	for connID := range r.rooms[roomID] {
		out = append(out, connID)
	}
	return out
}

// IsSubscribed reports whether connID currently holds a subscription to
// roomID.
func (r *Registry) IsSubscribed(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[connID][roomID]
}

package websocket

import (
	"log"
	"sync"

	"liveclass/pkg/types"
)

// Registry tracks live connections per room, one entry per (room, user).
// It is constructed once at startup and passed by reference into every
// handler; there is no global instance.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Connection // roomID -> userID -> Connection
}

// SendResult is the per-recipient outcome of a broadcast. The caller, not
// the registry, decides follow-up notification for failures.
type SendResult struct {
	UserID string
	Err    error
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]*Connection),
	}
}

// Connect registers a connection. If the (room, user) key already holds a
// transport it is atomically replaced, last-writer-wins; the old transport
// is closed asynchronously to avoid holding the lock through socket
// teardown. Replacement is the normal reload/reconnect path, not an error.
func (r *Registry) Connect(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	roomID := conn.GetRoomID()
	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]*Connection)
		r.rooms[roomID] = members
	}

	if existing, ok := members[userID]; ok && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: room=%s user=%s err=%v", roomID, userID, err)
			}
		}()
	}

	members[userID] = conn
	return nil
}

// Disconnect removes the (room, user) entry regardless of which transport
// holds it. No-op if absent. The room's member set is garbage-collected
// when it empties.
func (r *Registry) Disconnect(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(roomID, userID)
}

// Unregister removes a specific connection instance. It does nothing if a
// newer connection has replaced this one, so a stale connection's deferred
// cleanup cannot tear down its replacement.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	roomID := conn.GetRoomID()
	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if registered, ok := members[userID]; !ok || registered != conn {
		return
	}
	r.removeLocked(roomID, userID)
}

func (r *Registry) removeLocked(roomID, userID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// GetConnection returns the current connection for (room, user).
func (r *Registry) GetConnection(roomID, userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	conn, ok := members[userID]
	return conn, ok
}

// Send delivers a frame to one connection. A failed write is treated as an
// implicit disconnect: the connection is evicted and the failure reported
// to the caller, who handles follow-up room notification.
func (r *Registry) Send(roomID, userID string, frame types.Frame) error {
	conn, ok := r.GetConnection(roomID, userID)
	if !ok {
		return ErrNotConnected
	}

	if err := conn.WriteJSON(frame); err != nil {
		r.evict(conn)
		return err
	}
	return nil
}

// Broadcast delivers a frame to a snapshot of the room's current members,
// so registry mutation during iteration cannot corrupt the broadcast.
// Failing connections are evicted and reported per recipient; delivery
// continues for the remaining members.
func (r *Registry) Broadcast(roomID string, frame types.Frame, exclude string) []SendResult {
	r.mu.RLock()
	members := r.rooms[roomID]
	snapshot := make([]*Connection, 0, len(members))
	for userID, conn := range members {
		if userID == exclude {
			continue
		}
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	var failures []SendResult
	for _, conn := range snapshot {
		if err := conn.TryWriteJSON(frame); err != nil {
			r.evict(conn)
			failures = append(failures, SendResult{UserID: conn.GetUserID(), Err: err})
		}
	}
	return failures
}

// evict removes and closes a connection whose transport failed.
func (r *Registry) evict(conn *Connection) {
	r.Unregister(conn)
	if err := conn.Close(); err != nil {
		log.Printf("Failed to close evicted connection: room=%s user=%s err=%v",
			conn.GetRoomID(), conn.GetUserID(), err)
	}
}

// RoomMembers returns the user ids currently connected in a room.
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	users := make([]string, 0, len(members))
	for userID := range members {
		users = append(users, userID)
	}
	return users
}

// GetStats returns registry statistics for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, members := range r.rooms {
		total += len(members)
	}

	return map[string]int{
		"total_connections": total,
		"active_rooms":      len(r.rooms),
	}
}

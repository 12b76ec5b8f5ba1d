package realtime

import (
	"sync"
	"sync/atomic"
	"time"
)

// wire is the write side of a websocket connection. *websocket.Conn
// satisfies it; tests substitute a recorder.
type wire interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live transport session. Writes are serialized through a mutex
// because fan-out goroutines and the connection's own handler share it.
type Conn struct {
	ID     string
	UserID string

	ws    wire
	mu    sync.Mutex
	state int32
}

func NewConn(id, userID string, ws wire) *Conn {
	return &Conn{ID: id, UserID: userID, ws: ws}
}

// WriteJSON drops the payload once the connection is closed; a fan-out
// racing a disconnect must not write into a dead socket.
func (c *Conn) WriteJSON(payload any) {
	if atomic.LoadInt32(&c.state) == stateClosed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.ws.WriteJSON(payload)
}

func (c *Conn) Close() {
	atomic.StoreInt32(&c.state, stateClosed)
	_ = c.ws.Close()
}

// UserRoom names the per-user private room; prefixed so a conversation id
// can never collide with it.
func UserRoom(userID string) string {
	return "user:" + userID
}

// Hub tracks which local connections joined which broadcast rooms. Bus
// handlers fan events out through it; it never leaves the process.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	conns map[*Conn]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: map[string]map[*Conn]struct{}{},
		conns: map[*Conn]map[string]struct{}{},
	}
}

func (h *Hub) Join(room string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = map[*Conn]struct{}{}
	}
	h.rooms[room][conn] = struct{}{}
	if _, ok := h.conns[conn]; !ok {
		h.conns[conn] = map[string]struct{}{}
	}
	h.conns[conn][room] = struct{}{}
}

func (h *Hub) Leave(room string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, conn)
}

func (h *Hub) leaveLocked(room string, conn *Conn) {
	if members, ok := h.rooms[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.conns[conn]; ok {
		delete(rooms, room)
	}
}

// Drop removes the connection from every room it joined.
func (h *Hub) Drop(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.conns[conn] {
		h.leaveLocked(room, conn)
	}
	delete(h.conns, conn)
}

func (h *Hub) IsJoined(room string, conn *Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[conn][room]
	return ok
}

// SendRoom delivers to every member of the room, returning the fan-out count.
func (h *Hub) SendRoom(room string, payload any) int {
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[room]))
	for conn := range h.rooms[room] {
		members = append(members, conn)
	}
	h.mu.RUnlock()

	for _, conn := range members {
		conn.WriteJSON(payload)
	}
	return len(members)
}

// SendUser delivers to the user's private room.
func (h *Hub) SendUser(userID string, payload any) int {
	return h.SendRoom(UserRoom(userID), payload)
}

// SendAll delivers to every local connection.
func (h *Hub) SendAll(payload any) int {
	h.mu.RLock()
	all := make([]*Conn, 0, len(h.conns))
	for conn := range h.conns {
		all = append(all, conn)
	}
	h.mu.RUnlock()

	for _, conn := range all {
		conn.WriteJSON(payload)
	}
	return len(all)
}

// UserConnected reports whether the user has a local connection; bus
// handlers use it to skip per-user work for users attached elsewhere.
func (h *Hub) UserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[UserRoom(userID)]) > 0
}

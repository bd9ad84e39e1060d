// Package gateway relays job progress events to websocket clients. Clients
// join per-job rooms; one pattern subscription on the broker feeds every
// room. Delivery is at-most-once: nothing is replayed on late subscribe.
package gateway

import (
	"sync"

	"go.uber.org/zap"
)

// session is one connected client's outbound queue. Slow consumers are
// dropped rather than allowed to block the relay.
type session struct {
	send chan []byte
}

func newSession() *session {
	return &session{send: make(chan []byte, 32)}
}

// Hub tracks which sessions are in which job rooms.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*session]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*session]struct{})}
}

// Join adds the session to a job's room.
func (h *Hub) Join(jobID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[jobID]
	if !ok {
		room = make(map[*session]struct{})
		h.rooms[jobID] = room
	}
	room[s] = struct{}{}
}

// Leave removes the session from a job's room, dropping empty rooms.
func (h *Hub) Leave(jobID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[jobID]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, jobID)
	}
}

// LeaveAll removes the session from every room, called on disconnect.
func (h *Hub) LeaveAll(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for jobID, room := range h.rooms {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, jobID)
		}
	}
}

// Broadcast sends the message to every session in the job's room. Sessions
// whose queue is full miss this message.
func (h *Hub) Broadcast(jobID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[jobID] {
		select {
		case s.send <- message:
		default:
			zap.L().Warn("dropping progress event for slow client",
				zap.String("job_id", jobID))
		}
	}
}

// RoomSize reports the member count of a job's room.
func (h *Hub) RoomSize(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[jobID])
}

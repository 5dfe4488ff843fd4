package chat

import (
	"sync"
	"sync/atomic"
)

// RoomState tracks whether the current generation in a room has been stopped
// or has failed. It is shared between the generating goroutine and stop
// requests.
type RoomState struct {
	roomID string
	failed atomic.Bool
}

func NewRoomState(roomID string) *RoomState {
	return &RoomState{roomID: roomID}
}

func (s *RoomState) RoomID() string { return s.roomID }

// Start resets the state for a new generation.
func (s *RoomState) Start() { s.failed.Store(false) }

// Stop marks the generation stopped; the streaming loop picks this up on its
// next chunk.
func (s *RoomState) Stop() { s.failed.Store(true) }

func (s *RoomState) IsStopped() bool { return s.failed.Load() }

// Registry hands out one RoomState per room, creating it on first use.
type Registry struct {
	mu     sync.Mutex
	states map[string]*RoomState
}

func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*RoomState)}
}

func (r *Registry) Get(roomID string) *RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[roomID]
	if !ok {
		state = NewRoomState(roomID)
		r.states[roomID] = state
	}
	return state
}

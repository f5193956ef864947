package chat

import (
	"sync"

	"github.com/cnc-lab/talk.git/internal/backend"
)

// Selection tracks the room currently on screen and whether it is a
// private (1:1) conversation. One instance per session.
type Selection struct {
	mu      sync.RWMutex
	room    *Room
	private bool
}

func NewSelection() *Selection { return &Selection{} }

// Select makes room the active one. Switches coming from the catalog are
// always public.
func (s *Selection) Select(room Room) {
	s.mu.Lock()
	r := room
	s.room = &r
	s.private = false
	s.mu.Unlock()
}

// SelectPrivate activates the 1:1 conversation between me and peer. The
// room id is derived from the two uids, so both participants resolve the
// same room no matter who initiates.
func (s *Selection) SelectPrivate(me, peer backend.User) Room {
	room := Room{ID: PrivateRoomID(me.UID, peer.UID), Name: peer.DisplayName}
	s.mu.Lock()
	r := room
	s.room = &r
	s.private = true
	s.mu.Unlock()
	return room
}

// PrivateRoomID pairs two participant ids lexicographically:
// max(a,b) + "/" + min(a,b). Commutative by construction.
func PrivateRoomID(a, b string) string {
	if a > b {
		return a + "/" + b
	}
	return b + "/" + a
}

// Current returns the active room, if any.
func (s *Selection) Current() (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.room == nil {
		return Room{}, false
	}
	return *s.room, true
}

// ActiveID returns the active room id, or "" when nothing is selected.
func (s *Selection) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.room == nil {
		return ""
	}
	return s.room.ID
}

func (s *Selection) IsPrivate() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.private
}

package chat

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cnc-lab/talk.git/internal/backend"
)

// Catalog maintains the ordered list of known rooms. Discovery order is
// append-only: the list mirrors the order in which room-creation events
// arrive, which under concurrent creators is not necessarily creation
// order.
type Catalog struct {
	mu        sync.RWMutex
	db        backend.RealtimeDB
	tracker   *Tracker
	selection *Selection

	rooms     []Room
	firstLoad bool
	unsubs    []backend.UnsubscribeFunc
}

func NewCatalog(db backend.RealtimeDB, tracker *Tracker, selection *Selection) *Catalog {
	return &Catalog{db: db, tracker: tracker, selection: selection, firstLoad: true}
}

// Start subscribes to room-creation events. Every discovered room is
// appended and immediately observed for unread bookkeeping; the very first
// discovery also becomes the active room (once per session).
func (c *Catalog) Start(onDiscover func(Room)) {
	unsub := c.db.ChildAdded(roomsPath, func(key string, raw []byte) {
		var room Room
		if err := json.Unmarshal(raw, &room); err != nil || room.ID == "" {
			log.Warn().Str("key", key).Msg("skipping malformed room record")
			return
		}

		c.mu.Lock()
		c.rooms = append(c.rooms, room)
		first := c.firstLoad
		c.firstLoad = false
		c.unsubs = append(c.unsubs, c.tracker.Observe(c.db, room.ID, c.selection.ActiveID))
		c.mu.Unlock()

		if first {
			c.selection.Select(room)
		}
		if onDiscover != nil {
			onDiscover(room)
		}
	})
	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()
}

// Rooms returns the discovered rooms in discovery order.
func (c *Catalog) Rooms() []Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Room, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// Find looks a room up by id.
func (c *Catalog) Find(roomID string) (Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rooms {
		if r.ID == roomID {
			return r, true
		}
	}
	return Room{}, false
}

// Create writes a new room record under a fresh key, selects it and
// returns it so the caller can navigate with the name in hand (the record
// may not have come back through the read path yet).
func (c *Catalog) Create(name, description string, by backend.User) (Room, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" || description == "" {
		return Room{}, ErrRoomForm
	}

	key := c.db.GenerateKey(roomsPath)
	room := Room{
		ID:          key,
		Name:        name,
		Description: description,
		CreatedBy:   Creator{Name: by.DisplayName, Image: by.PhotoURL},
	}
	if err := c.db.Update(roomsPath+"/"+key, map[string]any{
		"id":          room.ID,
		"name":        room.Name,
		"description": room.Description,
		"createdBy":   room.CreatedBy,
	}); err != nil {
		return Room{}, err
	}
	log.Info().Str("room", key).Str("name", name).Msg("room created")
	c.selection.Select(room)
	return room, nil
}

// Close detaches the room listener and every per-room observer.
func (c *Catalog) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

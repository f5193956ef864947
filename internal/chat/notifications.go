package chat

import (
	"sync"

	"github.com/cnc-lab/talk.git/internal/backend"
)

// notification is the per-room unread bookkeeping entry. lastKnownTotal is
// captured when the room is first observed and never reassigned afterwards,
// so count grows relative to the size at discovery time, not relative to
// the last viewing. That is the shipped behavior; resetting on view would
// be a product decision.
type notification struct {
	total          int
	lastKnownTotal int
	count          int
}

// Tracker keeps the unread badge counts for every known room. It is the
// single owner of the entries; listener callbacks feed it through Record
// and never touch shared state directly.
type Tracker struct {
	mu       sync.Mutex
	rooms    map[string]*notification
	onChange func(roomID string, count int)
}

func NewTracker() *Tracker {
	return &Tracker{rooms: map[string]*notification{}}
}

// OnChange registers a hook fired after every Record, outside the lock.
func (t *Tracker) OnChange(fn func(roomID string, count int)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Record applies one message-count delivery for roomID.
//
// The first delivery creates the entry with count 0, so the initial
// snapshot of a room can never produce a badge. Afterwards the count grows
// only while the room is not the active one and only when the snapshot
// exceeds the total captured at discovery. The running total always
// refreshes.
func (t *Tracker) Record(roomID, activeRoomID string, size int) {
	t.mu.Lock()
	e, ok := t.rooms[roomID]
	if !ok {
		e = &notification{total: size, lastKnownTotal: size}
		t.rooms[roomID] = e
	} else {
		if roomID != activeRoomID && size-e.lastKnownTotal > 0 {
			e.count = size - e.lastKnownTotal
		}
		e.total = size
	}
	count := e.count
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(roomID, count)
	}
}

// Count returns the badge for roomID; zero means no badge.
func (t *Tracker) Count(roomID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.rooms[roomID]; ok {
		return e.count
	}
	return 0
}

// Observe attaches a value listener on the room's message collection and
// feeds every delivery into Record. active resolves the room that is
// currently on screen at delivery time.
func (t *Tracker) Observe(db backend.RealtimeDB, roomID string, active func() string) backend.UnsubscribeFunc {
	return db.Value(messagesPath(roomID), func(snap backend.Snapshot) {
		t.Record(roomID, active(), snap.Size)
	})
}

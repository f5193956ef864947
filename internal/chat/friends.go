package chat

import (
	"encoding/json"
	"sync"

	"github.com/cnc-lab/talk.git/internal/backend"
)

// Friends maintains the list of other users for the friends screen.
type Friends struct {
	mu    sync.RWMutex
	db    backend.RealtimeDB
	me    string
	users []backend.User
	unsub backend.UnsubscribeFunc
}

func NewFriends(db backend.RealtimeDB, me string) *Friends {
	return &Friends{db: db, me: me}
}

// Start subscribes to user-profile creation events, skipping the current
// user's own profile.
func (f *Friends) Start(onFriend func(backend.User)) {
	unsub := f.db.ChildAdded(usersRoot, func(key string, raw []byte) {
		if key == f.me {
			return
		}
		var pr struct {
			Name  string `json:"name"`
			Image string `json:"image"`
		}
		if err := json.Unmarshal(raw, &pr); err != nil {
			return
		}
		u := backend.User{UID: key, DisplayName: pr.Name, PhotoURL: pr.Image}
		f.mu.Lock()
		f.users = append(f.users, u)
		f.mu.Unlock()
		if onFriend != nil {
			onFriend(u)
		}
	})
	f.mu.Lock()
	f.unsub = unsub
	f.mu.Unlock()
}

func (f *Friends) List() []backend.User {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]backend.User, len(f.users))
	copy(out, f.users)
	return out
}

func (f *Friends) Close() {
	f.mu.Lock()
	unsub := f.unsub
	f.unsub = nil
	f.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

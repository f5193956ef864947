package chat

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cnc-lab/talk.git/internal/backend"
)

// Event is pushed to the screen over its websocket.
type Event struct {
	Kind       string        `json:"kind"`
	Room       *Room         `json:"room,omitempty"`
	RoomID     string        `json:"room_id,omitempty"`
	Count      int           `json:"count,omitempty"`
	Percentage float64       `json:"percentage,omitempty"`
	Message    *Message      `json:"message,omitempty"`
	User       *backend.User `json:"user,omitempty"`
}

const (
	EventRoomAdded      = "room_added"
	EventBadge          = "badge"
	EventActiveRoom     = "active_room"
	EventMessage        = "message"
	EventUploadProgress = "upload_progress"
	EventFriend         = "friend"
	EventProfile        = "profile"
	EventTyping         = "typing"
)

// Session owns everything one signed-in user's screens need: the room
// catalog, unread tracking, the active selection, the composer and the
// upload workflow. Every listener it attaches is released again in Close,
// so navigating away never leaks subscriptions.
type Session struct {
	SID string

	db    backend.RealtimeDB
	store backend.BlobStore
	auth  backend.Auth

	Tracker   *Tracker
	Catalog   *Catalog
	Selection *Selection
	Composer  *Composer
	Uploader  *Uploader
	Friends   *Friends
	Errors    *ErrorList

	// Send feeds the websocket write pump; emits never block.
	Send chan Event

	mu           sync.Mutex
	user         backend.User
	threadUnsubs []backend.UnsubscribeFunc
	closed       bool
}

func NewSession(sid string, user backend.User, db backend.RealtimeDB, store backend.BlobStore, auth backend.Auth) *Session {
	s := &Session{
		SID:   sid,
		db:    db,
		store: store,
		auth:  auth,
		user:  user,
		Send:  make(chan Event, 16),
	}
	s.Errors = NewErrorList(DefaultErrorTTL)
	s.Selection = NewSelection()
	s.Tracker = NewTracker()
	s.Catalog = NewCatalog(db, s.Tracker, s.Selection)
	s.Composer = NewComposer(db, s.Selection, s.currentUser, s.Errors)
	s.Uploader = NewUploader(db, store, s.Selection, s.currentUser, s.Errors)
	s.Friends = NewFriends(db, user.UID)

	s.Tracker.OnChange(func(roomID string, count int) {
		s.emit(Event{Kind: EventBadge, RoomID: roomID, Count: count})
	})
	s.Uploader.OnProgress(func(pct float64) {
		s.emit(Event{Kind: EventUploadProgress, Percentage: pct})
	})
	return s
}

// Start attaches the room and friends listeners.
func (s *Session) Start() {
	s.Catalog.Start(func(room Room) {
		r := room
		s.emit(Event{Kind: EventRoomAdded, Room: &r})
	})
	s.Friends.Start(func(u backend.User) {
		f := u
		s.emit(Event{Kind: EventFriend, User: &f})
	})
}

func (s *Session) currentUser() backend.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// User returns the signed-in identity as of the last profile change.
func (s *Session) User() backend.User { return s.currentUser() }

// emit drops the event if the write pump is not draining; signals only.
// Held under the session lock so an emit can never race the channel close.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.Send <- ev:
	default:
	}
}

// SelectRoom activates a catalog room (always public) and drops any open
// thread listener so the next OpenThread attaches to the new room.
func (s *Session) SelectRoom(roomID string) (Room, error) {
	room, ok := s.Catalog.Find(roomID)
	if !ok {
		return Room{}, ErrUnknownRoom
	}
	s.Selection.Select(room)
	s.detachThread()
	s.emit(Event{Kind: EventActiveRoom, Room: &room})
	return room, nil
}

// SelectFriend activates the 1:1 conversation with peerUID.
func (s *Session) SelectFriend(peerUID string) (Room, error) {
	for _, u := range s.Friends.List() {
		if u.UID == peerUID {
			room := s.Selection.SelectPrivate(s.currentUser(), u)
			s.detachThread()
			s.emit(Event{Kind: EventActiveRoom, Room: &room})
			return room, nil
		}
	}
	return Room{}, ErrUnknownFriend
}

// OpenThread attaches the message and typing listeners for the active
// room, replaying the existing messages and streaming new ones as events.
// Previous thread listeners, if any, are released first.
func (s *Session) OpenThread() error {
	room, ok := s.Selection.Current()
	if !ok {
		return ErrNoActiveRoom
	}
	s.detachThread()
	msgUnsub := s.db.ChildAdded(messagesPath(room.ID), func(key string, raw []byte) {
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		s.emit(Event{Kind: EventMessage, RoomID: room.ID, Message: &m})
	})
	typingUnsub := s.db.Value(typingRoot+"/"+room.ID, func(snap backend.Snapshot) {
		s.emit(Event{Kind: EventTyping, RoomID: room.ID, Count: snap.Size})
	})
	s.mu.Lock()
	s.threadUnsubs = []backend.UnsubscribeFunc{msgUnsub, typingUnsub}
	s.mu.Unlock()
	return nil
}

func (s *Session) detachThread() {
	s.mu.Lock()
	unsubs := s.threadUnsubs
	s.threadUnsubs = nil
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// Messages reads the active room's thread in insertion order.
func (s *Session) Messages() ([]Message, error) {
	room, ok := s.Selection.Current()
	if !ok {
		return nil, ErrNoActiveRoom
	}
	kids, err := s.db.Children(messagesPath(room.ID))
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(kids))
	for _, k := range kids {
		var m Message
		if json.Unmarshal(k.Raw, &m) == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// UpdateAvatar uploads a new profile image to user_image/{uid}; on success
// the auth profile and the users/{uid} record both pick up the URL.
func (s *Session) UpdateAvatar(contentType string, r io.Reader, size int64) backend.Upload {
	me := s.currentUser()
	dest := "user_image/" + me.UID
	return s.store.Begin(dest, r, size, contentType, backend.UploadHooks{
		Error: func(err error) {
			ue := classifyUpload(err)
			log.Warn().Err(ue).Str("uid", me.UID).Msg("avatar upload failed")
			s.Errors.Push(ue.Error())
		},
		Success: func(url string) {
			updated, err := s.auth.UpdateProfile(s.SID, backend.ProfilePatch{PhotoURL: &url})
			if err != nil {
				s.Errors.Push(err.Error())
				return
			}
			if err := s.db.Update(usersRoot+"/"+me.UID, map[string]any{"image": url}); err != nil {
				s.Errors.Push(err.Error())
				return
			}
			s.mu.Lock()
			s.user = updated
			s.mu.Unlock()
			u := updated
			s.emit(Event{Kind: EventProfile, User: &u})
		},
	})
}

// SignOut ends the auth session and tears the screens down.
func (s *Session) SignOut() error {
	err := s.auth.SignOut(s.SID)
	s.Close()
	return err
}

// Close releases every listener the session holds. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.Send)
	s.mu.Unlock()

	s.detachThread()
	s.Catalog.Close()
	s.Friends.Close()
	log.Debug().Str("sid", s.SID).Msg("session closed")
}

// Sessions is the registry of live sessions, keyed by session id.
type Sessions struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{byID: map[string]*Session{}}
}

func (r *Sessions) Add(s *Session) {
	r.mu.Lock()
	r.byID[s.SID] = s
	r.mu.Unlock()
}

func (r *Sessions) Get(sid string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sid]
	return s, ok
}

func (r *Sessions) Remove(sid string) {
	r.mu.Lock()
	s := r.byID[sid]
	delete(r.byID, sid)
	r.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

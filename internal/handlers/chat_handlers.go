package handlers

import (
	"errors"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/cnc-lab/talk.git/internal/backend"
	"github.com/cnc-lab/talk.git/internal/chat"
)

const sidCookie = "talk_sid"

// Handlers is the HTTP surface of the screens. Every handler resolves the
// caller's session from the sid cookie.
type Handlers struct {
	Auth     backend.Auth
	DB       backend.RealtimeDB
	Store    backend.BlobStore
	Sessions *chat.Sessions

	// One live event socket per session; a new connection replaces the old.
	socketsMu sync.Mutex
	sockets   map[string]*socketHandle
}

func New(auth backend.Auth, db backend.RealtimeDB, store backend.BlobStore, sessions *chat.Sessions) *Handlers {
	return &Handlers{Auth: auth, DB: db, Store: store, Sessions: sessions, sockets: map[string]*socketHandle{}}
}

func (h *Handlers) session(c *fiber.Ctx) (*chat.Session, bool) {
	s, ok := h.Sessions.Get(c.Cookies(sidCookie))
	return s, ok
}

// LoginHandler POST /api/login?nick=
func (h *Handlers) LoginHandler(c *fiber.Ctx) error {
	nick := strings.TrimSpace(c.Query("nick", c.FormValue("nick")))
	if nick == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	user, sid, err := h.Auth.SignIn(nick)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	// A re-login without logout replaces the session the old cookie names;
	// Remove closes it, releasing its listeners.
	if old := c.Cookies(sidCookie); old != "" {
		h.Sessions.Remove(old)
	}
	s := chat.NewSession(sid, user, h.DB, h.Store, h.Auth)
	s.Start()
	h.Sessions.Add(s)
	c.Cookie(&fiber.Cookie{Name: sidCookie, Value: sid, HTTPOnly: true})
	log.Info().Str("uid", user.UID).Str("nick", nick).Msg("signed in")
	return c.JSON(user)
}

// LogoutHandler POST /api/logout
func (h *Handlers) LogoutHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	if err := s.SignOut(); err != nil {
		log.Warn().Err(err).Msg("sign out")
	}
	h.Sessions.Remove(s.SID)
	c.ClearCookie(sidCookie)
	return c.SendStatus(fiber.StatusNoContent)
}

// RoomsHandler GET /api/rooms — catalog order, with unread badges.
func (h *Handlers) RoomsHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	type roomJSON struct {
		chat.Room
		Count  int  `json:"count,omitempty"`
		Active bool `json:"active,omitempty"`
	}
	activeID := s.Selection.ActiveID()
	rooms := s.Catalog.Rooms()
	out := make([]roomJSON, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomJSON{Room: r, Count: s.Tracker.Count(r.ID), Active: r.ID == activeID})
	}
	return c.JSON(out)
}

// CreateRoomHandler POST /api/room/create?name=&description=
func (h *Handlers) CreateRoomHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	name := c.Query("name", c.FormValue("name"))
	description := c.Query("description", c.FormValue("description"))
	room, err := s.Catalog.Create(name, description, s.User())
	if errors.Is(err, chat.ErrRoomForm) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	// The record may not have propagated through the read path yet, so the
	// room (name included) rides along for the navigation.
	return c.Status(fiber.StatusCreated).JSON(room)
}

// SelectRoomHandler POST /api/room/select?room_id=
func (h *Handlers) SelectRoomHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	room, err := s.SelectRoom(c.Query("room_id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(room)
}

// FriendsHandler GET /api/friends
func (h *Handlers) FriendsHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	return c.JSON(s.Friends.List())
}

// SelectFriendHandler POST /api/friend/select?uid= — 1:1 conversation.
func (h *Handlers) SelectFriendHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	room, err := s.SelectFriend(c.Query("uid"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(room)
}

// MessagesHandler GET /api/messages — the active room's thread.
func (h *Handlers) MessagesHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	msgs, err := s.Messages()
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(msgs)
}

// OpenThreadHandler POST /api/thread/open — start streaming the active
// room's messages over the websocket.
func (h *Handlers) OpenThreadHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	if err := s.OpenThread(); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SubmitHandler POST /api/message (form content)
func (h *Handlers) SubmitHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	err := s.Composer.Submit(c.FormValue("content"))
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, chat.ErrNoActiveRoom):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusCreated)
}

// TypingHandler POST /api/typing (form content) — draft change.
func (h *Handlers) TypingHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	s.Composer.SetDraft(c.FormValue("content"))
	return c.SendStatus(fiber.StatusNoContent)
}

// UploadHandler POST /api/upload (multipart file) — image message upload.
func (h *Handlers) UploadHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	handle, err := s.Uploader.Upload(fh.Filename, fh.Header.Get("Content-Type"), f, fh.Size)
	if err != nil {
		_ = f.Close()
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	go func() {
		<-handle.Done()
		_ = f.Close()
	}()
	return c.SendStatus(fiber.StatusAccepted)
}

// AvatarHandler POST /api/profile/image (multipart file)
func (h *Handlers) AvatarHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	handle := s.UpdateAvatar(fh.Header.Get("Content-Type"), f, fh.Size)
	go func() {
		<-handle.Done()
		_ = f.Close()
	}()
	return c.SendStatus(fiber.StatusAccepted)
}

// ErrorsHandler GET /api/errors — the transient per-screen message list.
func (h *Handlers) ErrorsHandler(c *fiber.Ctx) error {
	s, ok := h.session(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	return c.JSON(s.Errors.Current())
}

package handlers

import (
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cnc-lab/talk.git/internal/chat"
)

// inbound is what the screen sends up the socket. Typing rides the socket
// because every keystroke may toggle presence.
type inbound struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// socketHandle identifies one live event socket. A session has at most one;
// attaching a new one stops and closes the previous pump so events never
// split across sockets.
type socketHandle struct {
	stop      chan struct{}
	closeConn func() error
}

func (h *Handlers) attachSocket(sid string, closeConn func() error) *socketHandle {
	sock := &socketHandle{stop: make(chan struct{}), closeConn: closeConn}
	h.socketsMu.Lock()
	prev := h.sockets[sid]
	h.sockets[sid] = sock
	h.socketsMu.Unlock()
	if prev != nil {
		close(prev.stop)
		_ = prev.closeConn()
	}
	return sock
}

func (h *Handlers) detachSocket(sid string, sock *socketHandle) {
	h.socketsMu.Lock()
	if h.sockets[sid] == sock {
		delete(h.sockets, sid)
	}
	h.socketsMu.Unlock()
}

// EventsHandler GET /api/ws — one socket per screen: session events go
// down, typing updates come up.
func (h *Handlers) EventsHandler(c *websocket.Conn) {
	s, ok := h.Sessions.Get(c.Cookies(sidCookie))
	if !ok {
		_ = c.Close()
		return
	}
	sock := h.attachSocket(s.SID, c.Close)
	defer h.detachSocket(s.SID, sock)
	go writePump(c, s, sock.stop)
	readPump(c, s)
}

func writePump(c *websocket.Conn, s *chat.Session, stop <-chan struct{}) {
	defer func() { _ = c.Close() }()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-s.Send:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func readPump(c *websocket.Conn, s *chat.Session) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("sid", s.SID).Msg("screen socket closed")
			return
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		if in.Kind == "typing" {
			s.Composer.SetDraft(in.Content)
		}
	}
}

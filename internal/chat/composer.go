package chat

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cnc-lab/talk.git/internal/backend"
)

// Composer builds and submits outgoing messages for the active room, and
// keeps the typing-presence marker in step with the draft.
type Composer struct {
	db        backend.RealtimeDB
	selection *Selection
	user      func() backend.User
	errors    *ErrorList

	mu    sync.Mutex
	draft string
	busy  bool
}

func NewComposer(db backend.RealtimeDB, selection *Selection, user func() backend.User, errs *ErrorList) *Composer {
	return &Composer{db: db, selection: selection, user: user, errors: errs}
}

// Submit appends text as a message under the active room, then removes the
// caller's typing-presence entry, then clears the draft. The append must be
// durable before the presence delete is attempted; if the delete fails the
// error still surfaces even though the message exists.
func (c *Composer) Submit(text string) error {
	if text == "" {
		c.errors.Push(ErrEmptyContent.Error())
		return ErrEmptyContent
	}
	room, ok := c.selection.Current()
	if !ok {
		c.errors.Push(ErrNoActiveRoom.Error())
		return ErrNoActiveRoom
	}

	// Duplicate-submission guard: one in-flight submit at a time.
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	me := c.user()
	key := c.db.GenerateKey(messagesPath(room.ID))
	if err := c.db.Write(messagesPath(room.ID)+"/"+key, newTextMessage(me, text)); err != nil {
		c.errors.Push(err.Error())
		return err
	}
	if err := c.db.Delete(typingPath(room.ID, me.UID)); err != nil {
		log.Warn().Err(err).Str("room", room.ID).Msg("typing presence delete failed after send")
		c.errors.Push(err.Error())
		return err
	}

	c.mu.Lock()
	c.draft = ""
	c.mu.Unlock()
	return nil
}

// SetDraft records the draft text and toggles typing presence: any
// non-empty draft upserts the marker, an empty one removes it. Presence is
// ephemeral, so every keystroke may write.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()

	room, ok := c.selection.Current()
	if !ok {
		return
	}
	me := c.user()
	if text != "" {
		if err := c.db.Write(typingPath(room.ID, me.UID), TypingPresence{UserUID: me.DisplayName}); err != nil {
			log.Warn().Err(err).Str("room", room.ID).Msg("typing presence write failed")
		}
	} else {
		if err := c.db.Delete(typingPath(room.ID, me.UID)); err != nil {
			log.Warn().Err(err).Str("room", room.ID).Msg("typing presence delete failed")
		}
	}
}

func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

package chat

import (
	"time"

	"github.com/cnc-lab/talk.git/internal/backend"
)

// Tree layout of the realtime database.
const (
	roomsPath    = "chatRooms"
	messagesRoot = "messages"
	typingRoot   = "typing"
	usersRoot    = "users"
)

func messagesPath(roomID string) string { return messagesRoot + "/" + roomID }

func typingPath(roomID, uid string) string { return typingRoot + "/" + roomID + "/" + uid }

// Creator identifies who created a room.
type Creator struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Room is a conversation channel. Public rooms get a generated id on
// creation; private rooms derive theirs from the two participant uids.
type Room struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	CreatedBy   Creator `json:"createdBy,omitempty"`
}

// Sender is the message author stamp.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Message carries either text content or an image URL, never both.
type Message struct {
	Timestamp int64  `json:"timestamp"` // milliseconds
	User      Sender `json:"user"`
	Content   string `json:"content,omitempty"`
	Image     string `json:"image,omitempty"`
}

func newTextMessage(u backend.User, content string) Message {
	return Message{
		Timestamp: time.Now().UnixMilli(),
		User:      Sender{ID: u.UID, Name: u.DisplayName, Image: u.PhotoURL},
		Content:   content,
	}
}

func newImageMessage(u backend.User, url string) Message {
	return Message{
		Timestamp: time.Now().UnixMilli(),
		User:      Sender{ID: u.UID, Name: u.DisplayName, Image: u.PhotoURL},
		Image:     url,
	}
}

func (m Message) IsImage() bool { return m.Image != "" && m.Content == "" }

func (m Message) IsMine(uid string) bool { return m.User.ID == uid }

// TypingPresence marks an in-progress draft, keyed by room and author uid.
type TypingPresence struct {
	UserUID string `json:"userUid"`
}

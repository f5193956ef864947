package chat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cnc-lab/talk.git/internal/backend"
)

var (
	// ErrEmptyContent rejects a submit with nothing typed.
	ErrEmptyContent = errors.New("type contents first")
	// ErrNoActiveRoom rejects an operation that needs a selected room.
	ErrNoActiveRoom = errors.New("no chat room selected")
	// ErrRoomForm rejects room creation without both name and description.
	ErrRoomForm = errors.New("room name and description are required")
	// ErrUnknownRoom is returned when a room id is not in the catalog.
	ErrUnknownRoom = errors.New("unknown chat room")
	// ErrUnknownFriend is returned when a peer uid is not in the friends list.
	ErrUnknownFriend = errors.New("unknown friend")
)

// UploadReason classifies a terminal upload failure.
type UploadReason string

const (
	UploadUnauthorized UploadReason = "unauthorized"
	UploadCancelled    UploadReason = "cancelled"
	UploadUnknown      UploadReason = "unknown"
)

// UploadError is surfaced for every failed upload, whatever the cause.
type UploadError struct {
	Reason UploadReason
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed (%s): %v", e.Reason, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

func classifyUpload(err error) *UploadError {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return &UploadError{Reason: UploadUnauthorized, Err: err}
	case errors.Is(err, backend.ErrCancelled):
		return &UploadError{Reason: UploadCancelled, Err: err}
	default:
		return &UploadError{Reason: UploadUnknown, Err: err}
	}
}

// ErrorList is the per-screen transient message list. Every push restarts
// the clear timer, so the whole list disappears ttl after the newest entry
// (last writer wins on the timeout).
type ErrorList struct {
	mu    sync.Mutex
	msgs  []string
	ttl   time.Duration
	timer *time.Timer
}

// DefaultErrorTTL matches the 5 second auto-clear of the screens.
const DefaultErrorTTL = 5 * time.Second

func NewErrorList(ttl time.Duration) *ErrorList {
	if ttl <= 0 {
		ttl = DefaultErrorTTL
	}
	return &ErrorList{ttl: ttl}
}

func (l *ErrorList) Push(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.ttl, l.clear)
}

func (l *ErrorList) clear() {
	l.mu.Lock()
	l.msgs = nil
	l.timer = nil
	l.mu.Unlock()
}

func (l *ErrorList) Current() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.msgs))
	copy(out, l.msgs)
	return out
}

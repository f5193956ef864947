package chat

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnc-lab/talk.git/internal/backend"
	"github.com/cnc-lab/talk.git/internal/backend/localauth"
	"github.com/cnc-lab/talk.git/internal/backend/localblob"
	"github.com/cnc-lab/talk.git/internal/backend/pebbletree"
)

func newTestSession(t *testing.T, name string) (*Session, *pebbletree.Store, *localauth.Provider) {
	t.Helper()
	db, err := pebbletree.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	blob, err := localblob.New(t.TempDir(), "/files")
	require.NoError(t, err)

	auth := localauth.New(db)
	u, sid, err := auth.SignIn(name)
	require.NoError(t, err)

	s := NewSession(sid, u, db, blob, auth)
	t.Cleanup(s.Close)
	return s, db, auth
}

func drain(s *Session) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-s.Send:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(evs []Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestFriendsExcludeSelf(t *testing.T) {
	s, db, _ := newTestSession(t, "alice")
	require.NoError(t, db.Write("users/u-bob", map[string]string{"name": "Bob"}))
	require.NoError(t, db.Write("users/u-carol", map[string]string{"name": "Carol"}))

	s.Start()
	list := s.Friends.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Bob", list[0].DisplayName)
	assert.Equal(t, "Carol", list[1].DisplayName)
	for _, u := range list {
		assert.NotEqual(t, s.User().UID, u.UID)
	}
}

func TestSelectFriendOpensSharedPrivateRoom(t *testing.T) {
	sa, dba, _ := newTestSession(t, "alice")
	require.NoError(t, dba.Write("users/u-bob", map[string]string{"name": "Bob"}))
	sa.Start()

	room, err := sa.SelectFriend("u-bob")
	require.NoError(t, err)
	assert.Equal(t, PrivateRoomID(sa.User().UID, "u-bob"), room.ID)
	assert.Equal(t, "Bob", room.Name)
	assert.True(t, sa.Selection.IsPrivate())

	_, err = sa.SelectFriend("nobody")
	assert.ErrorIs(t, err, ErrUnknownFriend)
}

func TestSelectRoomEmitsActiveRoomEvent(t *testing.T) {
	s, db, _ := newTestSession(t, "alice")
	require.NoError(t, db.Update("chatRooms/r1", map[string]any{"id": "r1", "name": "One"}))
	require.NoError(t, db.Update("chatRooms/r2", map[string]any{"id": "r2", "name": "Two"}))
	s.Start()
	drain(s)

	room, err := s.SelectRoom("r2")
	require.NoError(t, err)
	assert.Equal(t, "Two", room.Name)

	evs := drain(s)
	require.Len(t, evs, 1)
	assert.Equal(t, EventActiveRoom, evs[0].Kind)
	assert.Equal(t, "r2", evs[0].Room.ID)

	_, err = s.SelectRoom("missing")
	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestOpenThreadStreamsMessages(t *testing.T) {
	s, db, _ := newTestSession(t, "alice")
	require.NoError(t, db.Update("chatRooms/r1", map[string]any{"id": "r1", "name": "One"}))
	s.Start()

	require.NoError(t, db.Write("messages/r1/m1", newTextMessage(s.User(), "early")))
	drain(s)

	require.NoError(t, s.OpenThread())
	require.NoError(t, db.Write("messages/r1/m2", newTextMessage(s.User(), "late")))

	var texts []string
	for _, ev := range drain(s) {
		if ev.Kind == EventMessage {
			texts = append(texts, ev.Message.Content)
		}
	}
	assert.Equal(t, []string{"early", "late"}, texts, "replay then stream")

	msgs, err := s.Messages()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "early", msgs[0].Content)
}

func TestTypingEventsFollowPresence(t *testing.T) {
	s, db, _ := newTestSession(t, "alice")
	require.NoError(t, db.Update("chatRooms/r1", map[string]any{"id": "r1", "name": "One"}))
	s.Start()
	require.NoError(t, s.OpenThread())
	drain(s)

	require.NoError(t, db.Write("typing/r1/u-bob", TypingPresence{UserUID: "Bob"}))
	require.NoError(t, db.Delete("typing/r1/u-bob"))

	var counts []int
	for _, ev := range drain(s) {
		if ev.Kind == EventTyping {
			counts = append(counts, ev.Count)
		}
	}
	assert.Equal(t, []int{1, 0}, counts)
}

func TestBadgeEventsFlowFromTracker(t *testing.T) {
	s, db, _ := newTestSession(t, "alice")
	require.NoError(t, db.Update("chatRooms/r1", map[string]any{"id": "r1", "name": "One"}))
	require.NoError(t, db.Update("chatRooms/r2", map[string]any{"id": "r2", "name": "Two"}))
	s.Start()
	drain(s)

	require.NoError(t, db.Write("messages/r2/m1", newTextMessage(s.User(), "ping")))

	var badge *Event
	for _, ev := range drain(s) {
		if ev.Kind == EventBadge && ev.RoomID == "r2" {
			b := ev
			badge = &b
		}
	}
	require.NotNil(t, badge)
	assert.Equal(t, 1, badge.Count)
}

func TestUpdateAvatarPropagatesURL(t *testing.T) {
	s, db, auth := newTestSession(t, "alice")
	s.Start()
	drain(s)

	data := []byte("avatar bytes")
	handle := s.UpdateAvatar("image/png", bytes.NewReader(data), int64(len(data)))
	<-handle.Done()

	me := s.User()
	want := "/files/user_image/" + me.UID
	assert.Equal(t, want, me.PhotoURL)

	got, ok := auth.CurrentUser(s.SID)
	require.True(t, ok)
	assert.Equal(t, want, got.PhotoURL)

	kids, err := db.Children("users")
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Contains(t, string(kids[0].Raw), want)

	assert.Contains(t, kinds(drain(s)), EventProfile)
	assert.Empty(t, s.Errors.Current())
}

func TestCloseStopsEventsAndListeners(t *testing.T) {
	s, db, _ := newTestSession(t, "alice")
	require.NoError(t, db.Update("chatRooms/r1", map[string]any{"id": "r1", "name": "One"}))
	require.NoError(t, db.Update("chatRooms/r2", map[string]any{"id": "r2", "name": "Two"}))
	s.Start()
	require.NoError(t, s.OpenThread())

	s.Close()
	s.Close() // idempotent

	// Writes after close must not panic on the closed channel or badge.
	require.NoError(t, db.Write("messages/r2/m9", newTextMessage(s.User(), "ghost")))
	require.NoError(t, db.Update("chatRooms/r3", map[string]any{"id": "r3", "name": "Three"}))
	assert.Equal(t, 0, s.Tracker.Count("r2"), "a closed session stops counting")
	assert.Len(t, s.Catalog.Rooms(), 2, "a closed session stops discovering")
}

func TestSignOutEndsAuthSession(t *testing.T) {
	s, _, auth := newTestSession(t, "alice")
	s.Start()

	require.NoError(t, s.SignOut())
	_, ok := auth.CurrentUser(s.SID)
	assert.False(t, ok)
	assert.ErrorIs(t, s.SignOut(), backend.ErrNoSession)
}

func TestSessionsRegistry(t *testing.T) {
	reg := NewSessions()
	s, _, _ := newTestSession(t, "alice")
	reg.Add(s)

	got, ok := reg.Get(s.SID)
	require.True(t, ok)
	assert.Same(t, s, got)

	reg.Remove(s.SID)
	_, ok = reg.Get(s.SID)
	assert.False(t, ok)

	select {
	case _, open := <-s.Send:
		assert.False(t, open, "removal closes the session")
	case <-time.After(time.Second):
		t.Fatal("session channel still open")
	}
}

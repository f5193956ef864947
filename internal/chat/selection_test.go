package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnc-lab/talk.git/internal/backend"
)

func TestPrivateRoomIDIsCommutative(t *testing.T) {
	assert.Equal(t, PrivateRoomID("alice", "bob"), PrivateRoomID("bob", "alice"))
	assert.Equal(t, "bob/alice", PrivateRoomID("alice", "bob"))
	assert.Equal(t, "b/a", PrivateRoomID("b", "a"))
}

func TestSelectPrivateResolvesSameRoomForBothSides(t *testing.T) {
	alice := backend.User{UID: "alice", DisplayName: "Alice"}
	bob := backend.User{UID: "bob", DisplayName: "Bob"}

	sa := NewSelection()
	sb := NewSelection()
	ra := sa.SelectPrivate(alice, bob)
	rb := sb.SelectPrivate(bob, alice)

	assert.Equal(t, ra.ID, rb.ID)
	assert.Equal(t, "bob/alice", ra.ID)
	assert.Equal(t, "Bob", ra.Name, "the room carries the peer's name")
	assert.Equal(t, "Alice", rb.Name)
	assert.True(t, sa.IsPrivate())
}

func TestSelectResetsPrivateFlag(t *testing.T) {
	s := NewSelection()
	s.SelectPrivate(backend.User{UID: "a"}, backend.User{UID: "b"})
	require.True(t, s.IsPrivate())

	s.Select(Room{ID: "general", Name: "General"})
	assert.False(t, s.IsPrivate(), "catalog switches are always public")
	assert.Equal(t, "general", s.ActiveID())
}

func TestCurrentBeforeAnySelection(t *testing.T) {
	s := NewSelection()
	_, ok := s.Current()
	assert.False(t, ok)
	assert.Equal(t, "", s.ActiveID())
}

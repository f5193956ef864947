package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnc-lab/talk.git/internal/backend/pebbletree"
)

func newTestCatalog(t *testing.T) (*Catalog, *pebbletree.Store, *Tracker, *Selection) {
	t.Helper()
	db, err := pebbletree.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tr := NewTracker()
	sel := NewSelection()
	return NewCatalog(db, tr, sel), db, tr, sel
}

func writeRoom(t *testing.T, db *pebbletree.Store, id, name string) {
	t.Helper()
	require.NoError(t, db.Update(roomsPath+"/"+id, map[string]any{
		"id": id, "name": name, "description": name + " talk",
	}))
}

func TestCatalogKeepsDiscoveryOrder(t *testing.T) {
	c, db, _, _ := newTestCatalog(t)
	writeRoom(t, db, "r2", "Second")
	writeRoom(t, db, "r1", "First")

	c.Start(nil)
	defer c.Close()
	writeRoom(t, db, "r3", "Third")

	rooms := c.Rooms()
	require.Len(t, rooms, 3)
	assert.Equal(t, "r2", rooms[0].ID, "pre-existing rooms replay in arrival order")
	assert.Equal(t, "r1", rooms[1].ID)
	assert.Equal(t, "r3", rooms[2].ID)
}

func TestFirstDiscoveredRoomBecomesActive(t *testing.T) {
	c, db, _, sel := newTestCatalog(t)
	writeRoom(t, db, "general", "General")

	var discovered []string
	c.Start(func(r Room) { discovered = append(discovered, r.ID) })
	defer c.Close()

	assert.Equal(t, "general", sel.ActiveID())
	writeRoom(t, db, "random", "Random")
	assert.Equal(t, "general", sel.ActiveID(), "only the first discovery selects")
	assert.Equal(t, []string{"general", "random"}, discovered)
}

func TestFindLooksUpByID(t *testing.T) {
	c, db, _, _ := newTestCatalog(t)
	writeRoom(t, db, "r1", "One")
	c.Start(nil)
	defer c.Close()

	got, ok := c.Find("r1")
	require.True(t, ok)
	assert.Equal(t, "One", got.Name)
	_, ok = c.Find("missing")
	assert.False(t, ok)
}

func TestCreateValidatesForm(t *testing.T) {
	c, _, _, _ := newTestCatalog(t)
	_, err := c.Create("", "desc", alice)
	assert.ErrorIs(t, err, ErrRoomForm)
	_, err = c.Create("name", "   ", alice)
	assert.ErrorIs(t, err, ErrRoomForm)
}

func TestCreateWritesAndSelects(t *testing.T) {
	c, db, _, sel := newTestCatalog(t)
	c.Start(nil)
	defer c.Close()

	room, err := c.Create("  Lounge ", " Idle talk ", alice)
	require.NoError(t, err)
	assert.Equal(t, "Lounge", room.Name, "form fields are trimmed")
	assert.Equal(t, "Idle talk", room.Description)
	assert.Equal(t, alice.DisplayName, room.CreatedBy.Name)
	assert.Equal(t, room.ID, sel.ActiveID())

	kids, qerr := db.Children(roomsPath)
	require.NoError(t, qerr)
	require.Len(t, kids, 1)
	assert.Equal(t, room.ID, kids[0].Key)

	got, ok := c.Find(room.ID)
	require.True(t, ok, "the created room comes back through discovery")
	assert.Equal(t, "Lounge", got.Name)
}

func TestDiscoveredRoomsAreObservedForUnreads(t *testing.T) {
	c, db, tr, sel := newTestCatalog(t)
	writeRoom(t, db, "r1", "One")
	writeRoom(t, db, "r2", "Two")
	c.Start(nil)
	defer c.Close()
	require.Equal(t, "r1", sel.ActiveID())

	require.NoError(t, db.Write("messages/r2/m1", map[string]string{"content": "hi"}))
	require.NoError(t, db.Write("messages/r2/m2", map[string]string{"content": "yo"}))
	assert.Equal(t, 2, tr.Count("r2"))

	// Messages for the active room never badge.
	require.NoError(t, db.Write("messages/r1/m1", map[string]string{"content": "seen"}))
	assert.Equal(t, 0, tr.Count("r1"))
}

func TestCloseDetachesAllListeners(t *testing.T) {
	c, db, tr, _ := newTestCatalog(t)
	writeRoom(t, db, "r1", "One")
	writeRoom(t, db, "r2", "Two")
	c.Start(nil)

	require.NoError(t, db.Write("messages/r2/m1", map[string]string{"content": "hi"}))
	require.Equal(t, 1, tr.Count("r2"))

	c.Close()
	require.NoError(t, db.Write("messages/r2/m2", map[string]string{"content": "late"}))
	assert.Equal(t, 1, tr.Count("r2"), "a closed catalog stops counting")

	writeRoom(t, db, "r3", "Three")
	assert.Len(t, c.Rooms(), 2, "a closed catalog stops discovering")
}

func TestMalformedRoomRecordsAreSkipped(t *testing.T) {
	c, db, _, _ := newTestCatalog(t)
	require.NoError(t, db.Write(roomsPath+"/bad", map[string]any{"name": "no id"}))
	writeRoom(t, db, "good", "Good")
	c.Start(nil)
	defer c.Close()

	rooms := c.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "good", rooms[0].ID)
}

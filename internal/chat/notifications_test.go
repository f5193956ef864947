package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnc-lab/talk.git/internal/backend/pebbletree"
)

func TestFirstObservationNeverBadges(t *testing.T) {
	tr := NewTracker()
	tr.Record("room1", "other", 42)
	assert.Equal(t, 0, tr.Count("room1"), "the size at discovery is the baseline")
}

func TestCountGrowsRelativeToFirstObservation(t *testing.T) {
	tr := NewTracker()
	tr.Record("room1", "other", 3)

	prev := 0
	for _, size := range []int{4, 5, 5, 9, 12} {
		tr.Record("room1", "other", size)
		got := tr.Count("room1")
		assert.Equal(t, size-3, got)
		assert.GreaterOrEqual(t, got, prev, "count is monotonically non-decreasing")
		prev = got
	}
}

func TestActiveRoomNeverCounts(t *testing.T) {
	tr := NewTracker()
	tr.Record("room1", "room1", 3)
	for _, size := range []int{10, 20, 30} {
		tr.Record("room1", "room1", size)
	}
	assert.Equal(t, 0, tr.Count("room1"), "growth while active produces no badge")
}

func TestBadgeDoesNotResetOnViewing(t *testing.T) {
	tr := NewTracker()
	tr.Record("room1", "other", 0)
	tr.Record("room1", "other", 5)
	require.Equal(t, 5, tr.Count("room1"))

	// Viewing the room freezes the count but does not rebase it: the next
	// delivery while inactive counts from the discovery-time total again.
	tr.Record("room1", "room1", 6)
	assert.Equal(t, 5, tr.Count("room1"))
	tr.Record("room1", "other", 7)
	assert.Equal(t, 7, tr.Count("room1"))
}

func TestShrinkingSnapshotLeavesCountAlone(t *testing.T) {
	tr := NewTracker()
	tr.Record("room1", "other", 4)
	tr.Record("room1", "other", 6)
	require.Equal(t, 2, tr.Count("room1"))
	tr.Record("room1", "other", 5)
	assert.Equal(t, 2, tr.Count("room1"), "no growth means no change")
}

func TestUnknownRoomHasNoBadge(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, 0, tr.Count("nope"))
}

func TestObserveFeedsRecordFromValueListener(t *testing.T) {
	db, err := pebbletree.OpenMem()
	require.NoError(t, err)
	defer db.Close()

	tr := NewTracker()
	active := "elsewhere"
	unsub := tr.Observe(db, "room1", func() string { return active })
	defer unsub()

	require.NoError(t, db.Write("messages/room1/m1", map[string]string{"content": "hi"}))
	require.NoError(t, db.Write("messages/room1/m2", map[string]string{"content": "yo"}))
	assert.Equal(t, 2, tr.Count("room1"))

	active = "room1"
	require.NoError(t, db.Write("messages/room1/m3", map[string]string{"content": "mine"}))
	assert.Equal(t, 2, tr.Count("room1"), "deliveries while active do not badge")
}

func TestOnChangeFiresAfterEveryRecord(t *testing.T) {
	tr := NewTracker()
	var got []int
	tr.OnChange(func(roomID string, count int) { got = append(got, count) })

	tr.Record("room1", "other", 1)
	tr.Record("room1", "other", 3)
	assert.Equal(t, []int{0, 2}, got)
}

package reconcile

import (
	"testing"
	"time"

	"collab-relay/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(eventID string, key protocol.RoomKey, origin, content string) protocol.ConversationUpdate {
	return protocol.ConversationUpdate{
		RoomKey:            key,
		EventID:            eventID,
		OriginUserID:       origin,
		LastMessageAt:      time.Now(),
		LastMessageContent: content,
		UnreadDelta:        1,
	}
}

func TestConversationList_MovesRoomToFront(t *testing.T) {
	withBob := protocol.DirectRoom("alice", "bob")
	withCarol := protocol.DirectRoom("alice", "carol")
	c := NewConversationList("alice")

	c.ApplyUpdate(update("1", withBob, "bob", "hey"))
	c.ApplyUpdate(update("2", withCarol, "carol", "yo"))
	c.ApplyUpdate(update("3", withBob, "bob", "again"))

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, withBob, entries[0].RoomKey)
	assert.Equal(t, "again", entries[0].LastMessageContent)
	assert.Equal(t, 2, entries[0].Unread)
	assert.Equal(t, withCarol, entries[1].RoomKey)
}

func TestConversationList_DuplicateDoesNotDoubleCount(t *testing.T) {
	key := protocol.DirectRoom("alice", "bob")
	c := NewConversationList("alice")

	assert.True(t, c.ApplyUpdate(update("1", key, "bob", "hi")))
	assert.False(t, c.ApplyUpdate(update("1", key, "bob", "hi")))

	assert.Equal(t, 1, c.Unread(key))
	assert.Len(t, c.Entries(), 1)
}

func TestConversationList_OwnMessagesAndOpenRoomDoNotCount(t *testing.T) {
	key := protocol.TeamRoom("p1")
	c := NewConversationList("alice")

	c.ApplyUpdate(update("1", key, "alice", "mine"))
	assert.Equal(t, 0, c.Unread(key))

	c.ApplyUpdate(update("2", key, "bob", "theirs"))
	assert.Equal(t, 1, c.Unread(key))

	c.Open(key)
	assert.Equal(t, 0, c.Unread(key))
	c.ApplyUpdate(update("3", key, "bob", "while open"))
	assert.Equal(t, 0, c.Unread(key))

	c.Close(key)
	c.ApplyUpdate(update("4", key, "bob", "after close"))
	assert.Equal(t, 1, c.Unread(key))
}

func TestConversationList_ResetReplacesState(t *testing.T) {
	key := protocol.TeamRoom("p1")
	c := NewConversationList("alice")
	c.ApplyUpdate(update("1", key, "bob", "old"))

	c.Reset([]Summary{{RoomKey: key, LastEventID: "5", LastMessageContent: "fresh", Unread: 3}})

	assert.Equal(t, 3, c.Unread(key))
	assert.False(t, c.ApplyUpdate(update("5", key, "bob", "fresh")))
	assert.True(t, c.ApplyUpdate(update("1", key, "bob", "old id, new baseline")))
	assert.Equal(t, 4, c.Unread(key))
}

func TestConversationList_ClosingOneRoomKeepsOthersOpen(t *testing.T) {
	dm := protocol.DirectRoom("alice", "bob")
	team := protocol.TeamRoom("p1")
	c := NewConversationList("bob")

	c.Open(dm)
	c.Open(team)
	c.Close(team)
	assert.True(t, c.IsOpen(dm))
	assert.False(t, c.IsOpen(team))

	c.ApplyUpdate(update("1", dm, "alice", "hi"))
	assert.Equal(t, 0, c.Unread(dm))
	c.ApplyUpdate(update("2", team, "alice", "standup"))
	assert.Equal(t, 1, c.Unread(team))
}

func TestConversationList_ResetZeroesOpenRooms(t *testing.T) {
	dm := protocol.DirectRoom("alice", "bob")
	team := protocol.TeamRoom("p1")
	c := NewConversationList("bob")
	c.Open(dm)

	c.Reset([]Summary{
		{RoomKey: dm, LastEventID: "3", Unread: 2},
		{RoomKey: team, LastEventID: "4", Unread: 1},
	})

	assert.Equal(t, 0, c.Unread(dm))
	assert.Equal(t, 1, c.Unread(team))
}

package reconcile

import (
	"testing"
	"time"

	"collab-relay/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var room = protocol.DirectRoom("alice", "bob")

func event(id, origin, content string) protocol.Event {
	return protocol.Event{
		ID:           id,
		Kind:         protocol.EventMessageSent,
		RoomKey:      room,
		OriginUserID: origin,
		Content:      content,
		CreatedAt:    time.Now(),
	}
}

func TestMessageList_DuplicateEventIsDiscarded(t *testing.T) {
	l := NewMessageList("alice")

	assert.Equal(t, Appended, l.ApplyServerEvent(event("1", "bob", "hi")))
	assert.Equal(t, Duplicate, l.ApplyServerEvent(event("1", "bob", "hi")))

	assert.Equal(t, 1, l.Len())
}

func TestMessageList_OptimisticConfirmedInPlace(t *testing.T) {
	l := NewMessageList("alice")
	l.ApplyServerEvent(event("40", "bob", "before"))
	l.ApplyOptimistic("tmp-1", "hello")
	l.ApplyServerEvent(event("41", "bob", "after"))

	outcome := l.ApplyServerEvent(event("42", "alice", "hello"))

	assert.Equal(t, Confirmed, outcome)
	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "42", entries[1].ID)
	assert.False(t, entries[1].Pending)
	assert.Empty(t, entries[1].TempID)
	assert.Equal(t, 0, l.PendingCount())
}

func TestMessageList_OptimisticConfirmedByClientID(t *testing.T) {
	l := NewMessageList("alice")
	l.ApplyOptimistic("tmp-1", "same")
	l.ApplyOptimistic("tmp-2", "same")

	ev := event("7", "alice", "same")
	ev.ClientID = "tmp-2"
	assert.Equal(t, Confirmed, l.ApplyServerEvent(ev))

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Pending)
	assert.Equal(t, "tmp-1", entries[0].TempID)
	assert.Equal(t, "7", entries[1].ID)
}

func TestMessageList_ForeignClientIDIsAppended(t *testing.T) {
	// Same user, different tab: the echoed client id names a placeholder
	// this list never created.
	l := NewMessageList("alice")
	l.ApplyOptimistic("mine", "hi")

	ev := event("9", "alice", "hi")
	ev.ClientID = "other-tab"
	assert.Equal(t, Appended, l.ApplyServerEvent(ev))

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Pending)
	assert.Equal(t, 1, l.PendingCount())
}

func TestMessageList_IdenticalContentConfirmsOldestFirst(t *testing.T) {
	l := NewMessageList("alice")
	l.ApplyOptimistic("tmp-1", "ok")
	l.ApplyOptimistic("tmp-2", "ok")

	l.ApplyServerEvent(event("1", "alice", "ok"))

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "1", entries[0].ID)
	assert.Equal(t, "tmp-2", entries[1].TempID)
}

func TestMessageList_OtherUserSameContentDoesNotConfirm(t *testing.T) {
	l := NewMessageList("alice")
	l.ApplyOptimistic("tmp-1", "hello")

	assert.Equal(t, Appended, l.ApplyServerEvent(event("5", "bob", "hello")))
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 1, l.PendingCount())
}

func TestMessageList_FailRollsBack(t *testing.T) {
	l := NewMessageList("alice")
	l.ApplyOptimistic("tmp-1", "hello")

	assert.True(t, l.Fail("tmp-1"))
	assert.False(t, l.Fail("tmp-1"))
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, l.PendingCount())

	// A later event from another user with the same text is just appended.
	assert.Equal(t, Appended, l.ApplyServerEvent(event("8", "bob", "hello")))
	for _, e := range l.Entries() {
		assert.NotEqual(t, "tmp-1", e.TempID)
	}
}

func TestMessageList_FailAfterConfirmIsNoop(t *testing.T) {
	l := NewMessageList("alice")
	l.ApplyOptimistic("tmp-1", "hello")
	l.ApplyServerEvent(event("1", "alice", "hello"))

	assert.False(t, l.Fail("tmp-1"))
	assert.Equal(t, 1, l.Len())
}

func TestMessageList_ResetEstablishesBaseline(t *testing.T) {
	l := NewMessageList("alice")
	l.ApplyServerEvent(event("1", "bob", "a"))
	l.ApplyOptimistic("tmp-1", "b")

	l.Reset([]protocol.Event{event("1", "bob", "a"), event("2", "alice", "b"), event("2", "alice", "b")})

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[1].ID)
	assert.Equal(t, 0, l.PendingCount())
	assert.Equal(t, Duplicate, l.ApplyServerEvent(event("2", "alice", "b")))
	assert.Equal(t, Appended, l.ApplyServerEvent(event("3", "bob", "c")))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "confirmed", Confirmed.String())
	assert.Equal(t, "appended", Appended.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectRoom_IsCanonical(t *testing.T) {
	ab := DirectRoom("alice", "bob")
	ba := DirectRoom("bob", "alice")

	assert.Equal(t, ab, ba)
	assert.Equal(t, "direct:alice:bob", ab.String())
	assert.True(t, ab.Includes("bob"))
	assert.False(t, ab.Includes("carol"))
	assert.Equal(t, "alice", ab.Peer("bob"))
	assert.Equal(t, "bob", ab.Peer("alice"))
}

func TestParseRoomKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RoomKey
		wantErr bool
	}{
		{name: "team", input: "team:p1", want: TeamRoom("p1")},
		{name: "direct", input: "direct:a:b", want: DirectRoom("a", "b")},
		{name: "direct not canonical", input: "direct:b:a", wantErr: true},
		{name: "direct missing peer", input: "direct:a", wantErr: true},
		{name: "team with colon", input: "team:p:1", wantErr: true},
		{name: "unknown kind", input: "group:x", wantErr: true},
		{name: "no separator", input: "team", wantErr: true},
		{name: "empty id", input: "team:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRoomKey(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRoomKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvelope_RoomKeyJSON(t *testing.T) {
	env := Envelope{Type: MessageTypeJoinRoom, RoomKey: TeamRoom("p1")}

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join_room","roomKey":"team:p1"}`, string(data))

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, env, decoded)

	err = json.Unmarshal([]byte(`{"type":"join_room","roomKey":"direct:z:a"}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidRoomKey)
}

func TestEnvelope_EventKey(t *testing.T) {
	room := DirectRoom("a", "b")
	assert.Equal(t, room.String(), Envelope{Event: &Event{RoomKey: room}}.EventKey())
	assert.Equal(t, "team:p1", Envelope{Task: &TaskUpdate{ProjectID: "p1"}}.EventKey())
	assert.Equal(t, "", Envelope{Type: MessageTypeError}.EventKey())
	assert.Equal(t, "", Envelope{
		Type:         MessageTypeConversationUpdate,
		Conversation: &ConversationUpdate{RoomKey: room, UnreadDelta: 1},
	}.EventKey())
}

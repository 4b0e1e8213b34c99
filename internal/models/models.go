package models

import (
	"strconv"
	"time"

	"collab-relay/pkg/protocol"
)

type Message struct {
	ID        int64     `json:"id"`
	RoomKey   string    `json:"room_key"`
	SenderID  string    `json:"sender_id"`
	ClientID  string    `json:"client_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Event converts a persisted message into its wire form.
func (m *Message) Event() (protocol.Event, error) {
	key, err := protocol.ParseRoomKey(m.RoomKey)
	if err != nil {
		return protocol.Event{}, err
	}
	return protocol.Event{
		ID:           strconv.FormatInt(m.ID, 10),
		Kind:         protocol.EventMessageSent,
		RoomKey:      key,
		OriginUserID: m.SenderID,
		ClientID:     m.ClientID,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt,
	}, nil
}

type NewMessage struct {
	RoomKey  protocol.RoomKey
	SenderID string
	ClientID string
	Content  string
}

type Task struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	AssigneeID *string   `json:"assignee_id,omitempty"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ReadCursor struct {
	UserID     string    `json:"user_id"`
	RoomKey    string    `json:"room_key"`
	LastReadID int64     `json:"last_read_id"`
	ReadAt     time.Time `json:"read_at"`
}

// Conversation is the latest message of a room the user takes part in.
type Conversation struct {
	RoomKey       string    `json:"room_key"`
	LastMessageID int64     `json:"last_message_id"`
	LastSenderID  string    `json:"last_sender_id"`
	LastContent   string    `json:"last_content"`
	LastMessageAt time.Time `json:"last_message_at"`
}

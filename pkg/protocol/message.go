package protocol

import "time"

type MessageType string

const (
	// client -> server
	MessageTypeJoinRoom    MessageType = "join_room"
	MessageTypeLeaveRoom   MessageType = "leave_room"
	MessageTypeSendMessage MessageType = "send_message"

	// server -> client
	MessageTypeNewMessage             MessageType = "new_message"
	MessageTypeConversationUpdate     MessageType = "conversation_update"
	MessageTypeTeamConversationUpdate MessageType = "team_conversation_update"
	MessageTypeTaskUpdated            MessageType = "task_updated"
	MessageTypeMessagesRead           MessageType = "messages_read"
	MessageTypeRoomJoined             MessageType = "room_joined"
	MessageTypeError                  MessageType = "error"
)

type EventKind string

const (
	EventMessageSent            EventKind = "message_sent"
	EventTaskUpdated            EventKind = "task_updated"
	EventConversationUpdate     EventKind = "conversation_update"
	EventTeamConversationUpdate EventKind = "team_conversation_update"
	EventMessagesRead           EventKind = "messages_read"
)

// Event is a persisted happening. ID is the durable row id and is what
// clients de-duplicate on.
type Event struct {
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	RoomKey      RoomKey   `json:"roomKey"`
	OriginUserID string    `json:"originUserId"`
	ClientID     string    `json:"clientId,omitempty"`
	Content      string    `json:"content,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ConversationUpdate struct {
	RoomKey            RoomKey   `json:"roomKey"`
	EventID            string    `json:"eventId"`
	OriginUserID       string    `json:"originUserId"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	LastMessageContent string    `json:"lastMessageContent"`
	UnreadDelta        int       `json:"unreadDelta"`
}

// TaskPatch carries only the fields that changed.
type TaskPatch struct {
	Title      *string `json:"title,omitempty"`
	Status     *string `json:"status,omitempty"`
	AssigneeID *string `json:"assigneeId,omitempty"`
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.AssigneeID == nil
}

type TaskUpdate struct {
	TaskID       string    `json:"taskId"`
	ProjectID    string    `json:"projectId"`
	EventID      string    `json:"eventId"`
	OriginUserID string    `json:"originUserId"`
	Patch        TaskPatch `json:"patch"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type ReadReceipt struct {
	RoomKey    RoomKey   `json:"roomKey"`
	UserID     string    `json:"userId"`
	LastReadID string    `json:"lastReadId,omitempty"`
	ReadAt     time.Time `json:"readAt"`
}

// Envelope is the single frame shape exchanged over the socket.
type Envelope struct {
	Type         MessageType         `json:"type"`
	RoomKey      RoomKey             `json:"roomKey,omitzero"`
	Content      string              `json:"content,omitempty"`
	ClientID     string              `json:"clientId,omitempty"`
	Event        *Event              `json:"event,omitempty"`
	Conversation *ConversationUpdate `json:"conversation,omitempty"`
	Task         *TaskUpdate         `json:"task,omitempty"`
	Read         *ReadReceipt        `json:"read,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// EventKey returns the key an external stream should partition this
// envelope on, or "" when it carries no domain event. Conversation updates
// are per-user projections of a message event and are not streamed.
func (e Envelope) EventKey() string {
	switch {
	case e.Event != nil:
		return e.Event.RoomKey.String()
	case e.Task != nil:
		return TeamRoom(e.Task.ProjectID).String()
	case e.Read != nil:
		return e.Read.RoomKey.String()
	}
	return ""
}

// ConversationSummary is one row of the conversation list as served by a
// full refresh.
type ConversationSummary struct {
	RoomKey            RoomKey   `json:"roomKey"`
	LastEventID        string    `json:"lastEventId"`
	LastSenderID       string    `json:"lastSenderId"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	LastMessageContent string    `json:"lastMessageContent"`
	Unread             int       `json:"unread"`
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"collab-relay/internal/cache"
	"collab-relay/internal/database"
	"collab-relay/internal/models"
	"collab-relay/pkg/logger"
	"collab-relay/pkg/protocol"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	MaxContentLength    = 4000
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidContent = errors.New("invalid message content")
	ErrInvalidRoom    = errors.New("invalid room")
	ErrInvalidPatch   = errors.New("empty task patch")
	// ErrClientIDConflict means the client id already names a different
	// message of the same sender.
	ErrClientIDConflict = errors.New("client id already used for another message")
)

// Publisher is the slice of the relay the service needs.
type Publisher interface {
	Publish(ctx context.Context, env protocol.Envelope, keys ...protocol.RoomKey) int
	PublishToUsers(ctx context.Context, env protocol.Envelope, userIDs ...string) int
}

type MessageService struct {
	db        database.Database
	publisher Publisher
	unread    cache.UnreadCounter
	tracer    trace.Tracer
}

func NewMessageService(db database.Database, publisher Publisher, unread cache.UnreadCounter) *MessageService {
	return &MessageService{
		db:        db,
		publisher: publisher,
		unread:    unread,
		tracer:    otel.Tracer("collab-relay/services"),
	}
}

// CanJoin reports whether userID may subscribe to key.
func (s *MessageService) CanJoin(ctx context.Context, userID string, key protocol.RoomKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, ErrInvalidRoom
	}
	switch key.Kind {
	case protocol.RoomDirect:
		return key.Includes(userID), nil
	case protocol.RoomTeam:
		return s.db.IsProjectMember(ctx, userID, key.ID)
	}
	return false, ErrInvalidRoom
}

func (s *MessageService) authorize(ctx context.Context, userID string, key protocol.RoomKey) error {
	ok, err := s.CanJoin(ctx, userID, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// SendMessage persists a message and then fans it out: the event to the
// room, and a conversation update to every participant's connections.
// Repeating a clientID returns the originally stored event.
func (s *MessageService) SendMessage(ctx context.Context, senderID string, key protocol.RoomKey, content, clientID string) (protocol.Event, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.SendMessage",
		trace.WithAttributes(attribute.String("room.key", key.String())))
	defer span.End()

	if strings.TrimSpace(content) == "" || utf8.RuneCountInString(content) > MaxContentLength {
		return protocol.Event{}, ErrInvalidContent
	}
	if err := s.authorize(ctx, senderID, key); err != nil {
		return protocol.Event{}, err
	}

	saved, err := s.db.SaveMessage(ctx, &models.NewMessage{
		RoomKey:  key,
		SenderID: senderID,
		ClientID: clientID,
		Content:  content,
	})
	if err != nil {
		span.RecordError(err)
		return protocol.Event{}, fmt.Errorf("failed to save message: %w", err)
	}
	if saved.RoomKey != key.String() || saved.Content != content {
		return protocol.Event{}, ErrClientIDConflict
	}
	ev, err := saved.Event()
	if err != nil {
		return protocol.Event{}, err
	}

	// Counters move before any frame goes out, so a recipient that marks
	// the room read on receipt resets a count that already includes ev.
	participants, err := s.participants(ctx, key)
	if err != nil {
		logger.Error("Failed to resolve participants of %s: %v", key, err)
	}
	recipients := s.bumpUnread(ctx, ev, participants)

	s.publisher.Publish(ctx, protocol.Envelope{Type: protocol.MessageTypeNewMessage, RoomKey: key, Event: &ev}, key)
	if err == nil {
		s.notifyParticipants(ctx, ev, recipients)
	}

	return ev, nil
}

// bumpUnread increments the counter of every participant but the sender and
// returns those recipients.
func (s *MessageService) bumpUnread(ctx context.Context, ev protocol.Event, participants []string) []string {
	recipients := make([]string, 0, len(participants))
	for _, userID := range participants {
		if userID == ev.OriginUserID {
			continue
		}
		recipients = append(recipients, userID)
		if s.unread != nil {
			if _, err := s.unread.Incr(ctx, userID, ev.RoomKey); err != nil {
				logger.Warn("Failed to bump unread counter for %s: %v", userID, err)
			}
		}
	}
	return recipients
}

func (s *MessageService) participants(ctx context.Context, key protocol.RoomKey) ([]string, error) {
	if key.Kind == protocol.RoomDirect {
		ps := key.Participants()
		if ps[0] == ps[1] {
			return ps[:1], nil
		}
		return ps, nil
	}
	return s.db.ListProjectMembers(ctx, key.ID)
}

func (s *MessageService) notifyParticipants(ctx context.Context, ev protocol.Event, recipients []string) {
	msgType := protocol.MessageTypeConversationUpdate
	if ev.RoomKey.Kind == protocol.RoomTeam {
		msgType = protocol.MessageTypeTeamConversationUpdate
	}
	update := func(delta int) protocol.Envelope {
		return protocol.Envelope{
			Type:    msgType,
			RoomKey: ev.RoomKey,
			Conversation: &protocol.ConversationUpdate{
				RoomKey:            ev.RoomKey,
				EventID:            ev.ID,
				OriginUserID:       ev.OriginUserID,
				LastMessageAt:      ev.CreatedAt,
				LastMessageContent: ev.Content,
				UnreadDelta:        delta,
			},
		}
	}

	s.publisher.PublishToUsers(ctx, update(0), ev.OriginUserID)
	if len(recipients) > 0 {
		s.publisher.PublishToUsers(ctx, update(1), recipients...)
	}
}

// UpdateTask applies patch and announces it to the task's project room.
func (s *MessageService) UpdateTask(ctx context.Context, userID, taskID string, patch protocol.TaskPatch) (*models.Task, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.UpdateTask",
		trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	if patch.Empty() {
		return nil, ErrInvalidPatch
	}

	current, err := s.db.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, protocol.TeamRoom(current.ProjectID)); err != nil {
		return nil, err
	}

	task, err := s.db.UpdateTask(ctx, taskID, patch)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	room := protocol.TeamRoom(task.ProjectID)
	s.publisher.Publish(ctx, protocol.Envelope{
		Type:    protocol.MessageTypeTaskUpdated,
		RoomKey: room,
		Task: &protocol.TaskUpdate{
			TaskID:       task.ID,
			ProjectID:    task.ProjectID,
			EventID:      fmt.Sprintf("task:%s:%d", task.ID, task.Version),
			OriginUserID: userID,
			Patch:        patch,
			UpdatedAt:    task.UpdatedAt,
		},
	}, room)

	return task, nil
}

// MarkRead moves the user's read cursor to the latest message of key and
// clears the unread counter.
func (s *MessageService) MarkRead(ctx context.Context, userID string, key protocol.RoomKey) (*protocol.ReadReceipt, error) {
	if err := s.authorize(ctx, userID, key); err != nil {
		return nil, err
	}

	cursor, err := s.db.MarkRead(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if s.unread != nil {
		if err := s.unread.Reset(ctx, userID, key); err != nil {
			logger.Warn("Failed to reset unread counter for %s: %v", userID, err)
		}
	}

	receipt := &protocol.ReadReceipt{
		RoomKey: key,
		UserID:  userID,
		ReadAt:  cursor.ReadAt,
	}
	if cursor.LastReadID > 0 {
		receipt.LastReadID = strconv.FormatInt(cursor.LastReadID, 10)
	}
	s.publisher.Publish(ctx, protocol.Envelope{Type: protocol.MessageTypeMessagesRead, RoomKey: key, Read: receipt}, key)

	return receipt, nil
}

// History returns up to limit of the newest events of key, oldest first.
func (s *MessageService) History(ctx context.Context, userID string, key protocol.RoomKey, limit int) ([]protocol.Event, error) {
	if err := s.authorize(ctx, userID, key); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	messages, err := s.db.LoadRecentMessages(ctx, key, limit)
	if err != nil {
		return nil, err
	}

	events := make([]protocol.Event, 0, len(messages))
	for _, m := range messages {
		ev, err := m.Event()
		if err != nil {
			logger.Warn("Skipping message %d with bad room key %q", m.ID, m.RoomKey)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Conversations lists the user's rooms, most recent first, with unread
// counts.
func (s *MessageService) Conversations(ctx context.Context, userID string) ([]protocol.ConversationSummary, error) {
	convs, err := s.db.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	var counts map[string]int64
	if s.unread != nil {
		counts, err = s.unread.All(ctx, userID)
		if err != nil {
			logger.Warn("Failed to load unread counters for %s: %v", userID, err)
		}
	}

	summaries := make([]protocol.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		key, err := protocol.ParseRoomKey(c.RoomKey)
		if err != nil {
			continue
		}
		summaries = append(summaries, protocol.ConversationSummary{
			RoomKey:            key,
			LastEventID:        strconv.FormatInt(c.LastMessageID, 10),
			LastSenderID:       c.LastSenderID,
			LastMessageAt:      c.LastMessageAt,
			LastMessageContent: c.LastContent,
			Unread:             int(counts[c.RoomKey]),
		})
	}
	return summaries, nil
}

package database

import (
	"context"
	"errors"

	"collab-relay/internal/models"
	"collab-relay/pkg/protocol"
)

var ErrNotFound = errors.New("not found")

type MessageRepository interface {
	// SaveMessage is idempotent on (sender, client id): a repeated client id
	// returns the row stored the first time.
	SaveMessage(ctx context.Context, msg *models.NewMessage) (*models.Message, error)
	LoadRecentMessages(ctx context.Context, roomKey protocol.RoomKey, limit int) ([]*models.Message, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
}

type TaskRepository interface {
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	UpdateTask(ctx context.Context, taskID string, patch protocol.TaskPatch) (*models.Task, error)
}

type ProjectRepository interface {
	IsProjectMember(ctx context.Context, userID, projectID string) (bool, error)
	ListProjectMembers(ctx context.Context, projectID string) ([]string, error)
}

type ReadCursorRepository interface {
	MarkRead(ctx context.Context, userID string, roomKey protocol.RoomKey) (*models.ReadCursor, error)
}

type Database interface {
	MessageRepository
	TaskRepository
	ProjectRepository
	ReadCursorRepository
	Close() error
}

package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"collab-relay/internal/models"
	"collab-relay/pkg/logger"
	"collab-relay/pkg/protocol"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// Migrate creates the tables the relay reads and writes when missing.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, msg *models.NewMessage) (*models.Message, error) {
	// The no-op update on conflict makes RETURNING yield the existing row.
	query := `
		INSERT INTO messages (room_key, sender_id, client_id, content, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NOW())
		ON CONFLICT (sender_id, client_id)
		DO UPDATE SET client_id = EXCLUDED.client_id
		RETURNING id, room_key, sender_id, COALESCE(client_id, ''), content, created_at`

	saved := &models.Message{}
	err := db.pool.QueryRow(ctx, query, msg.RoomKey.String(), msg.SenderID, msg.ClientID, msg.Content).Scan(
		&saved.ID, &saved.RoomKey, &saved.SenderID, &saved.ClientID, &saved.Content, &saved.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	return saved, nil
}

func (db *PostgresDB) LoadRecentMessages(ctx context.Context, roomKey protocol.RoomKey, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, room_key, sender_id, COALESCE(client_id, ''), content, created_at
		FROM messages
		WHERE room_key = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, roomKey.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.RoomKey, &msg.SenderID, &msg.ClientID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (db *PostgresDB) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT room_key, id, sender_id, content, created_at FROM (
			SELECT DISTINCT ON (m.room_key) m.room_key, m.id, m.sender_id, m.content, m.created_at
			FROM messages m
			WHERE (m.room_key LIKE 'direct:%'
			       AND (split_part(m.room_key, ':', 2) = $1 OR split_part(m.room_key, ':', 3) = $1))
			   OR m.room_key IN (SELECT 'team:' || project_id FROM project_members WHERE user_id = $1)
			ORDER BY m.room_key, m.id DESC
		) latest
		ORDER BY created_at DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		c := &models.Conversation{}
		if err := rows.Scan(&c.RoomKey, &c.LastMessageID, &c.LastSenderID, &c.LastContent, &c.LastMessageAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}

// Task Repository Implementation
func (db *PostgresDB) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	query := `SELECT id, project_id, title, status, assignee_id, version, updated_at FROM tasks WHERE id = $1`

	task := &models.Task{}
	err := db.pool.QueryRow(ctx, query, taskID).Scan(
		&task.ID, &task.ProjectID, &task.Title, &task.Status, &task.AssigneeID, &task.Version, &task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return task, nil
}

func (db *PostgresDB) UpdateTask(ctx context.Context, taskID string, patch protocol.TaskPatch) (*models.Task, error) {
	query := `
		UPDATE tasks SET
			title = COALESCE($2, title),
			status = COALESCE($3, status),
			assignee_id = COALESCE($4, assignee_id),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING id, project_id, title, status, assignee_id, version, updated_at`

	task := &models.Task{}
	err := db.pool.QueryRow(ctx, query, taskID, patch.Title, patch.Status, patch.AssigneeID).Scan(
		&task.ID, &task.ProjectID, &task.Title, &task.Status, &task.AssigneeID, &task.Version, &task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	return task, nil
}

// Project Repository Implementation
func (db *PostgresDB) IsProjectMember(ctx context.Context, userID, projectID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM project_members WHERE user_id = $1 AND project_id = $2)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, userID, projectID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) ListProjectMembers(ctx context.Context, projectID string) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT user_id FROM project_members WHERE project_id = $1 ORDER BY user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Read Cursor Repository Implementation
func (db *PostgresDB) MarkRead(ctx context.Context, userID string, roomKey protocol.RoomKey) (*models.ReadCursor, error) {
	query := `
		INSERT INTO read_cursors (user_id, room_key, last_read_id, read_at)
		VALUES ($1, $2, COALESCE((SELECT MAX(id) FROM messages WHERE room_key = $2), 0), NOW())
		ON CONFLICT (user_id, room_key)
		DO UPDATE SET last_read_id = EXCLUDED.last_read_id, read_at = EXCLUDED.read_at
		RETURNING user_id, room_key, last_read_id, read_at`

	cursor := &models.ReadCursor{}
	err := db.pool.QueryRow(ctx, query, userID, roomKey.String()).Scan(
		&cursor.UserID, &cursor.RoomKey, &cursor.LastReadID, &cursor.ReadAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark read: %w", err)
	}

	return cursor, nil
}

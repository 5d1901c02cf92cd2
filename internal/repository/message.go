package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/qoshimcha/support-chat-go/internal/database"
	"github.com/qoshimcha/support-chat-go/internal/model"
)

type MessageRepository interface {
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.Message, error)
	CountUnread(ctx context.Context, sessionID string) (int, error)
	LatestContent(ctx context.Context, sessionID string) (string, error)
	MarkRead(ctx context.Context, sessionID string) (int64, error)
}

type messageRepo struct {
	db database.DBTX
}

func NewMessageRepository(db database.DBTX) MessageRepository {
	return &messageRepo{db: db}
}

// Create stores staff messages as already read; only visitor messages feed
// the unread badge.
func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO chat_messages (session_id, content, sender_type, staff_id, is_read)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.SessionID, params.Content, params.SenderType, params.StaffID,
		params.SenderType == model.SenderStaff)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Message, error) {
	msgs := []model.Message{}
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	return msgs, err
}

func (r *messageRepo) CountUnread(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM chat_messages
		WHERE session_id = $1 AND sender_type = 'visitor' AND is_read = FALSE
	`, sessionID)
	return count, err
}

func (r *messageRepo) LatestContent(ctx context.Context, sessionID string) (string, error) {
	var content string
	err := r.db.GetContext(ctx, &content, `
		SELECT content FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return content, err
}

func (r *messageRepo) MarkRead(ctx context.Context, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE chat_messages SET is_read = TRUE
		WHERE session_id = $1 AND sender_type = 'visitor' AND is_read = FALSE
	`, sessionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"askbase/internal/models"
)

const defaultConversationTitle = "New conversation"

// CreateConversation starts an empty conversation for the user.
func (s *Service) CreateConversation(ctx context.Context, userID int64, title string) (*models.Conversation, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultConversationTitle
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	return &models.Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// ListConversations returns the user's conversations, newest activity first.
func (s *Service) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Conversation fetches one conversation owned by the user.
func (s *Service) Conversation(ctx context.Context, userID, conversationID int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE id = ? AND user_id = ?`, conversationID, userID,
	)
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("conversation not found")
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &c, nil
}

// TouchConversation bumps the conversation's activity timestamp.
func (s *Service) TouchConversation(ctx context.Context, conversationID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

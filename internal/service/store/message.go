package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"askbase/internal/models"
	"askbase/internal/storage"
)

// AppendMessage persists one turn of an existing conversation the user owns.
func (s *Service) AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.UserID <= 0 {
		return nil, errors.New("user_id is required")
	}
	if msg.ConversationID <= 0 {
		return nil, errors.New("conversation_id is required")
	}
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" {
		return nil, errors.New("content cannot be empty")
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ? AND user_id = ?)`,
		msg.ConversationID, msg.UserID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("verify conversation: %w", err)
	}
	if !exists {
		return nil, errors.New("conversation not found")
	}
	return s.insertMessage(ctx, msg)
}

func (s *Service) insertMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	citations, err := marshalColumn(msg.Citations)
	if err != nil {
		return nil, fmt.Errorf("encode citations: %w", err)
	}
	matches, err := marshalColumn(msg.Matches)
	if err != nil {
		return nil, fmt.Errorf("encode matches: %w", err)
	}

	msg.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, conversation_id, role, content, citations, matches, generation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.UserID, msg.ConversationID, msg.Role, msg.Content,
		citations, matches, nullableString(msg.GenerationID), msg.CreatedAt,
	)
	if err != nil {
		return nil, storage.TranslateError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	msg.ID = id
	return &msg, nil
}

// Messages lists a conversation's turns in insertion order.
func (s *Service) Messages(ctx context.Context, userID, conversationID int64) ([]models.Message, error) {
	if _, err := s.Conversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, role, content, citations, matches, generation_id, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// MessageByID fetches a single message.
func (s *Service) MessageByID(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, conversation_id, role, content, citations, matches, generation_id, created_at
		 FROM messages WHERE id = ?`, id,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("message not found")
		}
		return nil, err
	}
	return msg, nil
}

// MessageByGeneration fetches the assistant message linked to a generation.
func (s *Service) MessageByGeneration(ctx context.Context, generationID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, conversation_id, role, content, citations, matches, generation_id, created_at
		 FROM messages WHERE generation_id = ?`, generationID,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("message not found")
		}
		return nil, err
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg          models.Message
		citations    sql.NullString
		matches      sql.NullString
		generationID sql.NullString
	)
	if err := row.Scan(&msg.ID, &msg.UserID, &msg.ConversationID, &msg.Role, &msg.Content,
		&citations, &matches, &generationID, &msg.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if citations.Valid && citations.String != "" {
		if err := json.Unmarshal([]byte(citations.String), &msg.Citations); err != nil {
			return nil, fmt.Errorf("decode citations: %w", err)
		}
	}
	if matches.Valid && matches.String != "" {
		if err := json.Unmarshal([]byte(matches.String), &msg.Matches); err != nil {
			return nil, fmt.Errorf("decode matches: %w", err)
		}
	}
	msg.GenerationID = generationID.String
	return &msg, nil
}

func marshalColumn(v interface{}) (sql.NullString, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case []models.MatchItem:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

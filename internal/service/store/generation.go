package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"askbase/internal/evidence"
	"askbase/internal/models"
	"askbase/internal/storage"
)

// ErrGenerationNotFound reports an unknown generation id.
var ErrGenerationNotFound = errors.New("generation not found")

// maxErrorMessageLen bounds the stored terminal error text.
const maxErrorMessageLen = 500

const generationColumns = `id, conversation_id, user_id, task_id, status, error_message,
	assistant_message_id, created_at, updated_at, completed_at, expires_at`

// CreateGeneration inserts a new generation row in processing state.
func (s *Service) CreateGeneration(ctx context.Context, gen *models.ChatGeneration) error {
	if gen.ID == "" {
		return errors.New("generation id is required")
	}
	now := time.Now().UTC()
	gen.Status = models.GenerationProcessing
	gen.CreatedAt = now
	gen.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_generations (id, conversation_id, user_id, task_id, status, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		gen.ID, gen.ConversationID, gen.UserID, nullableString(gen.TaskID),
		gen.Status, gen.CreatedAt, gen.UpdatedAt, gen.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create generation: %w", storage.TranslateError(err))
	}
	return nil
}

// Generation fetches one generation row by id.
func (s *Service) Generation(ctx context.Context, id string) (*models.ChatGeneration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM chat_generations WHERE id = ?`, id,
	)
	return scanGeneration(row)
}

// GenerationForUser fetches a generation only when the user owns it.
func (s *Service) GenerationForUser(ctx context.Context, userID int64, id string) (*models.ChatGeneration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM chat_generations WHERE id = ? AND user_id = ?`, id, userID,
	)
	return scanGeneration(row)
}

// LatestProcessing returns the newest in-flight generation for the
// conversation, or ErrGenerationNotFound when none is running.
func (s *Service) LatestProcessing(ctx context.Context, userID, conversationID int64) (*models.ChatGeneration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM chat_generations
		 WHERE conversation_id = ? AND user_id = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		conversationID, userID, models.GenerationProcessing,
	)
	return scanGeneration(row)
}

// ProcessingGenerations lists every non-terminal generation, oldest
// first. Used by the sweeper to recover monitors after a restart.
func (s *Service) ProcessingGenerations(ctx context.Context) ([]models.ChatGeneration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+generationColumns+` FROM chat_generations WHERE status = ? ORDER BY created_at ASC`,
		models.GenerationProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("list processing generations: %w", err)
	}
	defer rows.Close()

	var out []models.ChatGeneration
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *gen)
	}
	return out, rows.Err()
}

// SetGenerationTask records the upstream task handle. The write is a
// no-op once the generation has reached a terminal state.
func (s *Service) SetGenerationTask(ctx context.Context, id, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_generations SET task_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		taskID, time.Now().UTC(), id, models.GenerationProcessing,
	)
	if err != nil {
		return fmt.Errorf("set generation task: %w", err)
	}
	return nil
}

// MarkFailed moves a still-processing generation to failed. Terminal
// rows are left untouched.
func (s *Service) MarkFailed(ctx context.Context, id, message string) error {
	return s.markTerminal(ctx, id, models.GenerationFailed, message)
}

// MarkExpired moves a still-processing generation to expired.
func (s *Service) MarkExpired(ctx context.Context, id, message string) error {
	return s.markTerminal(ctx, id, models.GenerationExpired, message)
}

func (s *Service) markTerminal(ctx context.Context, id string, status models.GenerationStatus, message string) error {
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_generations SET status = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, message, time.Now().UTC(), id, models.GenerationProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark generation %s: %w", status, err)
	}
	return nil
}

// Complete persists the sanitized answer as the generation's assistant
// message and moves the row to completed. The unique generation link on
// messages makes this idempotent: when another path already persisted
// the answer, the existing message is reused instead of failing.
func (s *Service) Complete(ctx context.Context, gen *models.ChatGeneration, res *evidence.Result) (*models.Message, error) {
	msg, err := s.insertMessage(ctx, models.Message{
		UserID:         gen.UserID,
		ConversationID: gen.ConversationID,
		Role:           models.RoleAssistant,
		Content:        res.Answer,
		Citations:      res.Sources,
		Matches:        res.Matches,
		GenerationID:   gen.ID,
	})
	if err != nil {
		if !errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("persist assistant message: %w", err)
		}
		msg, err = s.MessageByGeneration(ctx, gen.ID)
		if err != nil {
			return nil, fmt.Errorf("load persisted message: %w", err)
		}
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE chat_generations SET status = ?, assistant_message_id = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.GenerationCompleted, msg.ID, now, now, gen.ID, models.GenerationProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("mark generation completed: %w", err)
	}
	_ = s.TouchConversation(ctx, gen.ConversationID)
	return msg, nil
}

func scanGeneration(row rowScanner) (*models.ChatGeneration, error) {
	var (
		gen         models.ChatGeneration
		taskID      sql.NullString
		errMsg      sql.NullString
		assistantID sql.NullInt64
		completedAt sql.NullTime
	)
	err := row.Scan(&gen.ID, &gen.ConversationID, &gen.UserID, &taskID, &gen.Status, &errMsg,
		&assistantID, &gen.CreatedAt, &gen.UpdatedAt, &completedAt, &gen.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	gen.TaskID = taskID.String
	gen.ErrorMessage = errMsg.String
	gen.AssistantMessageID = assistantID.Int64
	if completedAt.Valid {
		t := completedAt.Time
		gen.CompletedAt = &t
	}
	return &gen, nil
}

package models

import "time"

// GenerationStatus is the lifecycle state of a ChatGeneration. Transitions
// are monotonic: processing may move to exactly one terminal state and a
// terminal state never changes again. Writers enforce this by guarding
// every status update on the row still being in processing.
type GenerationStatus string

const (
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
	GenerationExpired    GenerationStatus = "expired"
)

// Terminal reports whether the status can never change again.
func (s GenerationStatus) Terminal() bool {
	switch s {
	case GenerationCompleted, GenerationFailed, GenerationExpired:
		return true
	}
	return false
}

// ChatGeneration tracks one backend answer generation from creation to a
// terminal state. TaskID is empty until an upstream async task handle is
// obtained (and stays empty on pure-streaming paths). ExpiresAt is fixed
// at creation and bounds both the background monitor and the read path's
// grace-period expiry check.
type ChatGeneration struct {
	ID                 string           `json:"id"`
	ConversationID     int64            `json:"conversation_id"`
	UserID             int64            `json:"user_id"`
	TaskID             string           `json:"task_id,omitempty"`
	Status             GenerationStatus `json:"status"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	AssistantMessageID int64            `json:"assistant_message_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	ExpiresAt          time.Time        `json:"expires_at"`
}

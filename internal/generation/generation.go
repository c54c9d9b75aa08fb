// Package generation supervises the lifecycle of backend answer
// generations: background polling with backoff, read-path
// reconciliation, and restart recovery.
package generation

import (
	"context"
	"errors"
	"time"

	"askbase/internal/evidence"
	"askbase/internal/models"
	"askbase/internal/upstream"
)

// ErrMissingAssistantMessage reports a completed generation whose
// assistant message link is gone. That combination must never exist, so
// it is surfaced as a server fault rather than a client failure.
var ErrMissingAssistantMessage = errors.New("completed generation has no assistant message")

// Store is the durable state the supervisor needs.
type Store interface {
	Generation(ctx context.Context, id string) (*models.ChatGeneration, error)
	ProcessingGenerations(ctx context.Context) ([]models.ChatGeneration, error)
	SetGenerationTask(ctx context.Context, id, taskID string) error
	MarkFailed(ctx context.Context, id, message string) error
	MarkExpired(ctx context.Context, id, message string) error
	Complete(ctx context.Context, gen *models.ChatGeneration, res *evidence.Result) (*models.Message, error)
	MessageByID(ctx context.Context, id int64) (*models.Message, error)
}

// Poller is the slice of the backend client used for task polling.
type Poller interface {
	PollTask(ctx context.Context, taskID string) (*upstream.TaskStatus, error)
}

// Options tunes the supervisor. Zero fields fall back to usable
// defaults so tests can set only what they exercise.
type Options struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	BackoffFactor   float64
	GracePeriod     time.Duration
	StallThreshold  time.Duration
	Capacity        int
}

func (o *Options) normalize() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxPollInterval < o.PollInterval {
		o.MaxPollInterval = 15 * time.Second
	}
	if o.BackoffFactor <= 1 {
		o.BackoffFactor = 1.6
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 2 * time.Minute
	}
	if o.StallThreshold <= 0 {
		o.StallThreshold = 90 * time.Second
	}
	if o.Capacity <= 0 {
		o.Capacity = 256
	}
}

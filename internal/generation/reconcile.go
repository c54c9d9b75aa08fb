package generation

import (
	"context"
	"fmt"

	"askbase/internal/evidence"
	"askbase/internal/logger"
	"askbase/internal/models"
	"askbase/internal/upstream"
)

// View is the reconciled client-facing state of one generation.
type View struct {
	Status         models.GenerationStatus
	Message        *models.Message
	Error          string
	ThinkingStatus string
	ThinkingSteps  []string
	Mode           string
	RoutingReason  string
}

// Reconcile resolves what a caller should currently see for the
// generation. For live generations it re-arms the background monitor
// (idempotent) and performs a one-shot upstream poll so progress shows
// up without waiting for the monitor's cadence; it also catches
// generations whose monitor died silently and expires them rather than
// letting them hang forever.
func (s *Supervisor) Reconcile(ctx context.Context, gen *models.ChatGeneration) (*View, error) {
	switch gen.Status {
	case models.GenerationCompleted:
		if gen.AssistantMessageID == 0 {
			return nil, fmt.Errorf("generation %s: %w", gen.ID, ErrMissingAssistantMessage)
		}
		msg, err := s.store.MessageByID(ctx, gen.AssistantMessageID)
		if err != nil {
			return nil, fmt.Errorf("generation %s: %w", gen.ID, ErrMissingAssistantMessage)
		}
		return &View{Status: models.GenerationCompleted, Message: msg}, nil

	case models.GenerationFailed, models.GenerationExpired:
		return &View{Status: gen.Status, Error: gen.ErrorMessage}, nil
	}

	now := s.now()
	if now.Sub(gen.ExpiresAt) > s.opts.GracePeriod {
		const msg = "generation window elapsed"
		if err := s.store.MarkExpired(ctx, gen.ID, msg); err != nil {
			logger.Errorf("reconcile %s: mark expired: %v", gen.ID, err)
		}
		return &View{Status: models.GenerationExpired, Error: msg}, nil
	}

	s.Watch(gen.ID)

	if gen.TaskID == "" {
		return &View{Status: models.GenerationProcessing}, nil
	}

	status := s.progress.Get(ctx, gen.ID)
	if status == nil {
		var err error
		status, err = s.poller.PollTask(ctx, gen.TaskID)
		if err != nil {
			if now.Sub(gen.CreatedAt) > s.opts.StallThreshold {
				const msg = "stalled, please retry"
				if markErr := s.store.MarkExpired(ctx, gen.ID, msg); markErr != nil {
					logger.Errorf("reconcile %s: mark stalled: %v", gen.ID, markErr)
				}
				return &View{Status: models.GenerationExpired, Error: msg}, nil
			}
			// Too young to call stalled; the monitor keeps retrying.
			return &View{Status: models.GenerationProcessing}, nil
		}
		s.progress.Put(ctx, gen.ID, status)
	}

	switch status.Status {
	case upstream.TaskFailed:
		detail := status.Detail
		if detail == "" {
			detail = "generation failed"
		}
		if err := s.store.MarkFailed(ctx, gen.ID, detail); err != nil {
			logger.Errorf("reconcile %s: mark failed: %v", gen.ID, err)
		}
		return &View{Status: models.GenerationFailed, Error: detail}, nil

	case upstream.TaskPending, upstream.TaskProcessing:
		return &View{
			Status:         models.GenerationProcessing,
			ThinkingStatus: status.ThinkingStatus,
			ThinkingSteps:  status.ThinkingSteps,
			Mode:           status.Mode,
			RoutingReason:  status.RoutingReason,
		}, nil
	}

	// The task already finished upstream; settle it here instead of
	// waiting for the monitor (it may have been dropped at capacity).
	res, ok := evidence.Sanitize(status.Answer, status.Matches)
	if !ok {
		const msg = "missing answer"
		if err := s.store.MarkFailed(ctx, gen.ID, msg); err != nil {
			logger.Errorf("reconcile %s: mark failed: %v", gen.ID, err)
		}
		return &View{Status: models.GenerationFailed, Error: msg}, nil
	}
	msg, err := s.store.Complete(ctx, gen, &res)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: persist answer: %w", gen.ID, err)
	}
	s.progress.Forget(ctx, gen.ID)
	return &View{Status: models.GenerationCompleted, Message: msg}, nil
}

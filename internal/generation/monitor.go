package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"askbase/internal/evidence"
	"askbase/internal/logger"
	"askbase/internal/models"
	"askbase/internal/upstream"
)

// Supervisor owns the monitor registry: at most one background poller
// per generation id, bounded by a fixed capacity.
type Supervisor struct {
	store    Store
	poller   Poller
	opts     Options
	progress *ProgressCache

	mu     sync.Mutex
	active map[string]struct{}

	// Overridable in tests.
	now   func() time.Time
	sleep func(d time.Duration)
}

// NewSupervisor builds a supervisor. The progress cache is optional.
func NewSupervisor(store Store, poller Poller, progress *ProgressCache, opts Options) *Supervisor {
	opts.normalize()
	return &Supervisor{
		store:    store,
		poller:   poller,
		opts:     opts,
		progress: progress,
		active:   make(map[string]struct{}),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Watch starts a background monitor for the generation unless one is
// already running. At capacity the request is dropped, not queued; the
// read path's fallback poll still makes progress for dropped ids.
// Returns whether a monitor is running for the id after the call.
func (s *Supervisor) Watch(generationID string) bool {
	if generationID == "" {
		return false
	}
	s.mu.Lock()
	if _, running := s.active[generationID]; running {
		s.mu.Unlock()
		return true
	}
	if len(s.active) >= s.opts.Capacity {
		s.mu.Unlock()
		logger.Warnf("monitor registry full (%d), dropping generation %s", s.opts.Capacity, generationID)
		return false
	}
	s.active[generationID] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, generationID)
			s.mu.Unlock()
		}()
		s.run(generationID)
	}()
	return true
}

// Watching reports whether a monitor is currently registered for the id.
func (s *Supervisor) Watching(generationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[generationID]
	return ok
}

// run polls the upstream task until the generation reaches a terminal
// state or its absolute deadline. Every write is conditioned on the row
// still being in processing, so racing writers stay safe.
func (s *Supervisor) run(generationID string) {
	ctx := context.Background()
	delay := s.opts.PollInterval

	for {
		gen, err := s.store.Generation(ctx, generationID)
		if err != nil {
			logger.Errorf("monitor %s: reload failed: %v", generationID, err)
			return
		}
		if gen.Status.Terminal() {
			return
		}
		if !s.now().Before(gen.ExpiresAt) {
			if err := s.store.MarkExpired(ctx, generationID, "monitor timeout"); err != nil {
				logger.Errorf("monitor %s: mark expired: %v", generationID, err)
			}
			return
		}

		// The orchestrator may not have stamped the task id yet.
		if gen.TaskID == "" {
			s.sleep(delay)
			continue
		}

		status, err := s.poller.PollTask(ctx, gen.TaskID)
		if err != nil {
			if !upstream.IsRetryable(err) {
				msg := err.Error()
				if errors.Is(err, upstream.ErrTaskNotFound) {
					msg = "task not found"
				}
				if markErr := s.store.MarkFailed(ctx, generationID, msg); markErr != nil {
					logger.Errorf("monitor %s: mark failed: %v", generationID, markErr)
				}
				return
			}
			logger.Warnf("monitor %s: transient poll error: %v", generationID, err)
			delay = s.backoff(delay)
			continue
		}

		switch status.Status {
		case upstream.TaskPending, upstream.TaskProcessing:
			s.progress.Put(ctx, generationID, status)
			delay = s.backoff(delay)
		case upstream.TaskFailed:
			detail := status.Detail
			if detail == "" {
				detail = "generation failed"
			}
			if err := s.store.MarkFailed(ctx, generationID, detail); err != nil {
				logger.Errorf("monitor %s: mark failed: %v", generationID, err)
			}
			return
		default:
			if status.Status != upstream.TaskCompleted {
				logger.Warnf("monitor %s: unknown task status %q, treating as completed", generationID, status.Status)
			}
			s.finish(ctx, gen, status)
			return
		}
	}
}

func (s *Supervisor) finish(ctx context.Context, gen *models.ChatGeneration, status *upstream.TaskStatus) {
	res, ok := evidence.Sanitize(status.Answer, status.Matches)
	if !ok {
		if err := s.store.MarkFailed(ctx, gen.ID, "missing answer"); err != nil {
			logger.Errorf("monitor %s: mark failed: %v", gen.ID, err)
		}
		return
	}
	if _, err := s.store.Complete(ctx, gen, &res); err != nil {
		logger.Errorf("monitor %s: persist answer: %v", gen.ID, err)
		return
	}
	s.progress.Forget(ctx, gen.ID)
}

// backoff sleeps at the current interval and returns the next one,
// grown multiplicatively up to the configured cap.
func (s *Supervisor) backoff(delay time.Duration) time.Duration {
	s.sleep(delay)
	next := time.Duration(float64(delay) * s.opts.BackoffFactor)
	if next > s.opts.MaxPollInterval {
		next = s.opts.MaxPollInterval
	}
	if next < delay {
		next = delay
	}
	return next
}

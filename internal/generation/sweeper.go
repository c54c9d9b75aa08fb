package generation

import (
	"context"
	"time"

	"askbase/internal/logger"
)

// StartSweeper runs a periodic pass over non-terminal generations:
// clock-expired rows are settled, live rows with a task handle get
// their monitor re-armed. This is what recovers in-flight generations
// after a process restart. Stops when ctx is done.
func (s *Supervisor) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		// One pass right away so a restart doesn't wait a full tick.
		s.sweep(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Supervisor) sweep(ctx context.Context) {
	gens, err := s.store.ProcessingGenerations(ctx)
	if err != nil {
		logger.Errorf("sweep: list generations: %v", err)
		return
	}
	now := s.now()
	recovered := 0
	for i := range gens {
		gen := &gens[i]
		if now.Sub(gen.ExpiresAt) > s.opts.GracePeriod {
			if err := s.store.MarkExpired(ctx, gen.ID, "generation window elapsed"); err != nil {
				logger.Errorf("sweep: expire %s: %v", gen.ID, err)
			}
			continue
		}
		if gen.TaskID == "" {
			// Streaming-path generations have no pollable handle; the
			// grace expiry above is their only sweep action.
			continue
		}
		if !s.Watching(gen.ID) && s.Watch(gen.ID) {
			recovered++
		}
	}
	if recovered > 0 {
		logger.Infof("sweep: re-armed %d generation monitor(s)", recovered)
	}
}

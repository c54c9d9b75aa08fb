package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"askbase/internal/evidence"
	"askbase/internal/models"
	"askbase/internal/upstream"
)

var sanitizedResult = evidence.Result{
	Answer:  "Costs fell by 8% [Source #01].",
	Sources: []string{"Source #01"},
	Matches: []models.MatchItem{{ID: "m-1", Score: 0.66, Source: "Source #01"}},
}

// occupy marks the id as already monitored so Reconcile's Watch call is
// a no-op and the test controls every poll itself.
func occupy(s *Supervisor, id string) {
	s.mu.Lock()
	s.active[id] = struct{}{}
	s.mu.Unlock()
}

func TestReconcileCompletedLoadsMessage(t *testing.T) {
	store := newFakeStore()
	gen := processingGen("g1", "t1")
	store.add(gen)
	stored, _ := store.Generation(context.Background(), "g1")
	if _, err := store.Complete(context.Background(), stored, &sanitizedResult); err != nil {
		t.Fatalf("seed complete: %v", err)
	}
	s, _ := newTestSupervisor(store, &fakePoller{steps: []pollStep{{}}}, Options{})

	reloaded := store.get("g1")
	view, err := s.Reconcile(context.Background(), &reloaded)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != models.GenerationCompleted || view.Message == nil {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Message.Content != sanitizedResult.Answer {
		t.Fatalf("message content = %q", view.Message.Content)
	}
}

func TestReconcileCompletedWithoutMessageIsFatal(t *testing.T) {
	store := newFakeStore()
	gen := processingGen("g1", "t1")
	gen.Status = models.GenerationCompleted
	gen.AssistantMessageID = 99
	store.add(gen)
	s, _ := newTestSupervisor(store, &fakePoller{steps: []pollStep{{}}}, Options{})

	reloaded := store.get("g1")
	if _, err := s.Reconcile(context.Background(), &reloaded); !errors.Is(err, ErrMissingAssistantMessage) {
		t.Fatalf("expected ErrMissingAssistantMessage, got %v", err)
	}
}

func TestReconcileTerminalFailure(t *testing.T) {
	store := newFakeStore()
	gen := processingGen("g1", "t1")
	gen.Status = models.GenerationFailed
	gen.ErrorMessage = "backend said no"
	store.add(gen)
	s, _ := newTestSupervisor(store, &fakePoller{steps: []pollStep{{}}}, Options{})

	reloaded := store.get("g1")
	view, err := s.Reconcile(context.Background(), &reloaded)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != models.GenerationFailed || view.Error != "backend said no" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestReconcileGraceExpiry(t *testing.T) {
	store := newFakeStore()
	gen := processingGen("g1", "t1")
	gen.ExpiresAt = time.Now().UTC().Add(-5 * time.Minute)
	store.add(gen)
	s, _ := newTestSupervisor(store, &fakePoller{steps: []pollStep{{}}}, Options{
		GracePeriod: 2 * time.Minute,
	})

	reloaded := store.get("g1")
	view, err := s.Reconcile(context.Background(), &reloaded)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != models.GenerationExpired {
		t.Fatalf("unexpected view: %+v", view)
	}
	if got := store.get("g1"); got.Status != models.GenerationExpired {
		t.Fatalf("row not expired: %+v", got)
	}
}

func TestReconcileWithinGraceStaysProcessing(t *testing.T) {
	store := newFakeStore()
	gen := processingGen("g1", "")
	gen.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	store.add(gen)
	s, _ := newTestSupervisor(store, &fakePoller{steps: []pollStep{{}}}, Options{
		GracePeriod: 2 * time.Minute,
	})
	occupy(s, "g1")

	reloaded := store.get("g1")
	view, err := s.Reconcile(context.Background(), &reloaded)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != models.GenerationProcessing {
		t.Fatalf("still within grace, got %+v", view)
	}
}

func TestReconcileSurfacesLiveProgress(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{
		{status: &upstream.TaskStatus{
			Status:         upstream.TaskProcessing,
			ThinkingStatus: "retrieving",
			ThinkingSteps:  []string{"query expansion", "ranking"},
			Mode:           "heavy",
			RoutingReason:  "long document context",
		}},
	}}
	s, _ := newTestSupervisor(store, poller, Options{})
	occupy(s, "g1")

	reloaded := store.get("g1")
	view, err := s.Reconcile(context.Background(), &reloaded)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != models.GenerationProcessing {
		t.Fatalf("unexpected status: %+v", view)
	}
	if view.ThinkingStatus != "retrieving" || len(view.ThinkingSteps) != 2 || view.Mode != "heavy" {
		t.Fatalf("progress fields lost: %+v", view)
	}
}

func TestReconcileFailedPollSettlesImmediately(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{
		{status: &upstream.TaskStatus{Status: upstream.TaskFailed, Detail: "bad context"}},
	}}
	s, _ := newTestSupervisor(store, poller, Options{})
	occupy(s, "g1")

	reloaded := store.get("g1")
	view, err := s.Reconcile(context.Background(), &reloaded)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != models.GenerationFailed || view.Error != "bad context" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if got := store.get("g1"); got.Status != models.GenerationFailed {
		t.Fatalf("row not failed: %+v", got)
	}
}

func TestReconcileStalledGeneration(t *testing.T) {
	store := newFakeStore()
	gen := processingGen("g1", "t1")
	gen.CreatedAt = time.Now().UTC().Add(-3 * time.Minute)
	store.add(gen)
	poller := &fakePoller{steps: []pollStep{{err: upstream.ErrTaskNotFound}}}
	s, _ := newTestSupervisor(store, poller, Options{
		StallThreshold: 90 * time.Second,
	})
	occupy(s, "g1")

	reloaded := store.get("g1")
	view, err := s.Reconcile(context.Background(), &reloaded)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != models.GenerationExpired || view.Error != "stalled, please retry" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestReconcileYoungUnreachableStaysProcessing(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{{err: errors.New("connection refused")}}}
	s, _ := newTestSupervisor(store, poller, Options{
		StallThreshold: 90 * time.Second,
	})
	occupy(s, "g1")

	reloaded := store.get("g1")
	view, err := s.Reconcile(context.Background(), &reloaded)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != models.GenerationProcessing {
		t.Fatalf("fresh generation must not be stalled: %+v", view)
	}
	if got := store.get("g1"); got.Status != models.GenerationProcessing {
		t.Fatalf("row must stay processing: %+v", got)
	}
}

func TestReconcileCompletesFinishedTask(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{
		{status: &upstream.TaskStatus{Status: upstream.TaskCompleted, Answer: sanitizedResult.Answer}},
	}}
	s, _ := newTestSupervisor(store, poller, Options{})
	occupy(s, "g1")

	reloaded := store.get("g1")
	view, err := s.Reconcile(context.Background(), &reloaded)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != models.GenerationCompleted || view.Message == nil {
		t.Fatalf("unexpected view: %+v", view)
	}
	if got := store.get("g1"); got.Status != models.GenerationCompleted {
		t.Fatalf("row not completed: %+v", got)
	}
}

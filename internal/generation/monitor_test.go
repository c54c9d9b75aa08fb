package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"askbase/internal/evidence"
	"askbase/internal/models"
	"askbase/internal/upstream"
)

type fakeStore struct {
	mu       sync.Mutex
	gens     map[string]*models.ChatGeneration
	messages map[string]*models.Message
	nextMsg  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		gens:     make(map[string]*models.ChatGeneration),
		messages: make(map[string]*models.Message),
	}
}

func (f *fakeStore) add(gen *models.ChatGeneration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *gen
	f.gens[gen.ID] = &cp
}

func (f *fakeStore) get(id string) models.ChatGeneration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.gens[id]
}

func (f *fakeStore) Generation(_ context.Context, id string) (*models.ChatGeneration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gen, ok := f.gens[id]
	if !ok {
		return nil, errors.New("generation not found")
	}
	cp := *gen
	return &cp, nil
}

func (f *fakeStore) ProcessingGenerations(context.Context) ([]models.ChatGeneration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatGeneration
	for _, gen := range f.gens {
		if gen.Status == models.GenerationProcessing {
			out = append(out, *gen)
		}
	}
	return out, nil
}

func (f *fakeStore) SetGenerationTask(_ context.Context, id, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen, ok := f.gens[id]; ok && gen.Status == models.GenerationProcessing {
		gen.TaskID = taskID
	}
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id, message string) error {
	return f.markTerminal(id, models.GenerationFailed, message)
}

func (f *fakeStore) MarkExpired(_ context.Context, id, message string) error {
	return f.markTerminal(id, models.GenerationExpired, message)
}

func (f *fakeStore) markTerminal(id string, status models.GenerationStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	gen, ok := f.gens[id]
	if !ok {
		return errors.New("generation not found")
	}
	if gen.Status != models.GenerationProcessing {
		return nil
	}
	gen.Status = status
	gen.ErrorMessage = message
	return nil
}

func (f *fakeStore) Complete(_ context.Context, gen *models.ChatGeneration, res *evidence.Result) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[gen.ID]
	if !ok {
		f.nextMsg++
		msg = &models.Message{
			ID:             f.nextMsg,
			UserID:         gen.UserID,
			ConversationID: gen.ConversationID,
			Role:           models.RoleAssistant,
			Content:        res.Answer,
			Citations:      res.Sources,
			Matches:        res.Matches,
			GenerationID:   gen.ID,
		}
		f.messages[gen.ID] = msg
	}
	if stored, exists := f.gens[gen.ID]; exists && stored.Status == models.GenerationProcessing {
		stored.Status = models.GenerationCompleted
		stored.AssistantMessageID = msg.ID
	}
	return msg, nil
}

func (f *fakeStore) MessageByID(_ context.Context, id int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, errors.New("message not found")
}

type pollStep struct {
	status *upstream.TaskStatus
	err    error
}

type fakePoller struct {
	mu    sync.Mutex
	steps []pollStep
	calls int
}

func (f *fakePoller) PollTask(context.Context, string) (*upstream.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.steps[len(f.steps)-1]
	if f.calls < len(f.steps) {
		step = f.steps[f.calls]
	}
	f.calls++
	return step.status, step.err
}

func newTestSupervisor(store Store, poller Poller, opts Options) (*Supervisor, *[]time.Duration) {
	s := NewSupervisor(store, poller, nil, opts)
	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }
	return s, &slept
}

func processingGen(id, taskID string) *models.ChatGeneration {
	now := time.Now().UTC()
	return &models.ChatGeneration{
		ID:             id,
		ConversationID: 1,
		UserID:         1,
		TaskID:         taskID,
		Status:         models.GenerationProcessing,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(10 * time.Minute),
	}
}

func TestMonitorCompletesGeneration(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{
		{status: &upstream.TaskStatus{Status: upstream.TaskPending}},
		{status: &upstream.TaskStatus{Status: upstream.TaskProcessing}},
		{status: &upstream.TaskStatus{
			Status:  upstream.TaskCompleted,
			Answer:  "Growth held [a.md].",
			Matches: []evidence.RawMatch{{Source: "a.md", Score: 0.7}},
		}},
	}}
	s, slept := newTestSupervisor(store, poller, Options{})

	s.run("g1")

	gen := store.get("g1")
	if gen.Status != models.GenerationCompleted {
		t.Fatalf("status = %s", gen.Status)
	}
	msg, err := store.MessageByID(context.Background(), gen.AssistantMessageID)
	if err != nil {
		t.Fatalf("assistant message missing: %v", err)
	}
	if msg.Content != "Growth held [Source #01]." {
		t.Fatalf("answer not sanitized: %q", msg.Content)
	}
	if len(*slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(*slept))
	}
}

func TestMonitorBackoffGrowsAndCaps(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	steps := make([]pollStep, 0, 12)
	for i := 0; i < 11; i++ {
		steps = append(steps, pollStep{status: &upstream.TaskStatus{Status: upstream.TaskPending}})
	}
	steps = append(steps, pollStep{status: &upstream.TaskStatus{Status: upstream.TaskFailed, Detail: "done"}})
	poller := &fakePoller{steps: steps}
	s, slept := newTestSupervisor(store, poller, Options{
		PollInterval:    2 * time.Second,
		MaxPollInterval: 15 * time.Second,
		BackoffFactor:   1.6,
	})

	s.run("g1")

	sleeps := *slept
	if len(sleeps) != 11 {
		t.Fatalf("expected 11 sleeps, got %d", len(sleeps))
	}
	if sleeps[0] != 2*time.Second {
		t.Fatalf("first sleep = %s", sleeps[0])
	}
	for i := 1; i < len(sleeps); i++ {
		if sleeps[i] < sleeps[i-1] {
			t.Fatalf("backoff decreased at %d: %s -> %s", i, sleeps[i-1], sleeps[i])
		}
		if sleeps[i] > 15*time.Second {
			t.Fatalf("backoff exceeded cap: %s", sleeps[i])
		}
	}
	if sleeps[len(sleeps)-1] != 15*time.Second {
		t.Fatalf("backoff should reach the cap, got %s", sleeps[len(sleeps)-1])
	}
}

func TestMonitorTaskNotFoundFailsImmediately(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{{err: upstream.ErrTaskNotFound}}}
	s, slept := newTestSupervisor(store, poller, Options{})

	s.run("g1")

	gen := store.get("g1")
	if gen.Status != models.GenerationFailed || gen.ErrorMessage != "task not found" {
		t.Fatalf("unexpected state: %+v", gen)
	}
	if len(*slept) != 0 {
		t.Fatalf("404 must not be retried")
	}
}

func TestMonitorRetriesTransientErrors(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{
		{err: &upstream.StatusError{Code: http.StatusServiceUnavailable}},
		{err: fmt.Errorf("dial tcp: connection refused")},
		{status: &upstream.TaskStatus{
			Status:  upstream.TaskCompleted,
			Answer:  "answer",
			Matches: nil,
		}},
	}}
	s, slept := newTestSupervisor(store, poller, Options{})

	s.run("g1")

	if gen := store.get("g1"); gen.Status != models.GenerationCompleted {
		t.Fatalf("status = %s (%s)", gen.Status, gen.ErrorMessage)
	}
	if len(*slept) != 2 {
		t.Fatalf("expected 2 retry sleeps, got %d", len(*slept))
	}
}

func TestMonitorNonRetryableStatusFails(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{
		{err: &upstream.StatusError{Code: http.StatusBadRequest, Body: "bad mode"}},
	}}
	s, _ := newTestSupervisor(store, poller, Options{})

	s.run("g1")

	if gen := store.get("g1"); gen.Status != models.GenerationFailed {
		t.Fatalf("status = %s", gen.Status)
	}
}

func TestMonitorUpstreamFailedStatus(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{
		{status: &upstream.TaskStatus{Status: upstream.TaskFailed, Detail: "model overloaded"}},
	}}
	s, _ := newTestSupervisor(store, poller, Options{})

	s.run("g1")

	gen := store.get("g1")
	if gen.Status != models.GenerationFailed || gen.ErrorMessage != "model overloaded" {
		t.Fatalf("unexpected state: %+v", gen)
	}
}

func TestMonitorMissingAnswer(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{
		{status: &upstream.TaskStatus{Status: upstream.TaskCompleted, Answer: "   "}},
	}}
	s, _ := newTestSupervisor(store, poller, Options{})

	s.run("g1")

	gen := store.get("g1")
	if gen.Status != models.GenerationFailed || gen.ErrorMessage != "missing answer" {
		t.Fatalf("unexpected state: %+v", gen)
	}
}

func TestMonitorExpiresAtDeadline(t *testing.T) {
	store := newFakeStore()
	gen := processingGen("g1", "t1")
	gen.ExpiresAt = time.Now().UTC().Add(-time.Second)
	store.add(gen)
	poller := &fakePoller{steps: []pollStep{{status: &upstream.TaskStatus{Status: upstream.TaskPending}}}}
	s, _ := newTestSupervisor(store, poller, Options{})

	s.run("g1")

	got := store.get("g1")
	if got.Status != models.GenerationExpired || got.ErrorMessage != "monitor timeout" {
		t.Fatalf("unexpected state: %+v", got)
	}
	if poller.calls != 0 {
		t.Fatalf("expired generation must not be polled")
	}
}

func TestMonitorTreatsUnknownStatusAsCompleted(t *testing.T) {
	store := newFakeStore()
	store.add(processingGen("g1", "t1"))
	poller := &fakePoller{steps: []pollStep{
		{status: &upstream.TaskStatus{Status: "finished", Answer: "ok"}},
	}}
	s, _ := newTestSupervisor(store, poller, Options{})

	s.run("g1")

	if gen := store.get("g1"); gen.Status != models.GenerationCompleted {
		t.Fatalf("status = %s", gen.Status)
	}
}

func TestWatchIsIdempotent(t *testing.T) {
	store := newFakeStore()
	poller := &fakePoller{steps: []pollStep{{status: &upstream.TaskStatus{Status: upstream.TaskPending}}}}
	s, _ := newTestSupervisor(store, poller, Options{})

	s.mu.Lock()
	s.active["g1"] = struct{}{}
	s.mu.Unlock()

	if !s.Watch("g1") {
		t.Fatalf("watching an active id should report true")
	}
	if poller.calls != 0 {
		t.Fatalf("second watch must not start another poller")
	}
}

func TestWatchDropsAtCapacity(t *testing.T) {
	store := newFakeStore()
	poller := &fakePoller{steps: []pollStep{{status: &upstream.TaskStatus{Status: upstream.TaskPending}}}}
	s, _ := newTestSupervisor(store, poller, Options{Capacity: 2})

	s.mu.Lock()
	s.active["g1"] = struct{}{}
	s.active["g2"] = struct{}{}
	s.mu.Unlock()

	if s.Watch("g3") {
		t.Fatalf("watch at capacity must be dropped")
	}
	if s.Watching("g3") {
		t.Fatalf("dropped id must not be registered")
	}
}

func TestWatchRejectsEmptyID(t *testing.T) {
	s, _ := newTestSupervisor(newFakeStore(), &fakePoller{steps: []pollStep{{}}}, Options{})
	if s.Watch("") {
		t.Fatalf("empty id must not register")
	}
}

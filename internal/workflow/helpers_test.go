package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"imaginer/internal/config"
	"imaginer/internal/hostmem"
	"imaginer/internal/logging"
	"imaginer/internal/notifications"
	"imaginer/internal/queue"
	"imaginer/internal/testsupport"
	"imaginer/internal/workflow"
)

const waitTimeout = 5 * time.Second

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Events() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

func stubProbe(context.Context) hostmem.Sample {
	return hostmem.Sample{TotalBytes: 100, AvailableBytes: 50}
}

type harness struct {
	cfg      *config.Config
	store    queue.Store
	worker   *testsupport.Worker
	notifier *recordingNotifier
	mgr      *workflow.Manager
}

func newHarness(t *testing.T, worker *testsupport.Worker, opts ...workflow.ManagerOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if worker == nil {
		worker = &testsupport.Worker{}
	}
	notifier := &recordingNotifier{}
	base := []workflow.ManagerOption{
		workflow.WithNotifier(notifier),
		workflow.WithMemoryProbe(stubProbe),
		workflow.WithPollInterval(10 * time.Millisecond),
		workflow.WithIdleDelay(0),
	}
	mgr := workflow.NewManager(cfg, store, worker, logging.NewNop(), append(base, opts...)...)
	t.Cleanup(mgr.Stop)
	return &harness{cfg: cfg, store: store, worker: worker, notifier: notifier, mgr: mgr}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) enqueue(t *testing.T, prompt string) string {
	t.Helper()
	return h.enqueueParams(t, params(prompt))
}

func (h *harness) enqueueParams(t *testing.T, p queue.Params) string {
	t.Helper()
	id, err := h.mgr.Enqueue(context.Background(), p)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func (h *harness) waitCompleted(t *testing.T, count int) queue.Snapshot {
	t.Helper()
	var snap queue.Snapshot
	testsupport.WaitFor(t, waitTimeout, fmt.Sprintf("%d finished jobs", count), func() bool {
		snap = h.mgr.List()
		return len(snap.Completed) >= count && snap.Active == nil
	})
	return snap
}

func params(prompt string) queue.Params {
	return queue.Params{Prompt: prompt, Width: 64, Height: 64, Steps: 1, CFG: 1, FilePrefix: "img"}
}

func submittedIDs(worker *testsupport.Worker) []string {
	var ids []string
	for _, req := range worker.Requests() {
		ids = append(ids, req.JobID)
	}
	return ids
}

func countEvents(events []notifications.Event, want notifications.Event) int {
	count := 0
	for _, event := range events {
		if event == want {
			count++
		}
	}
	return count
}

// slowNotifier blocks every publish for delay, like an unreachable ntfy host.
type slowNotifier struct {
	delay time.Duration
	recordingNotifier
}

func (n *slowNotifier) Publish(ctx context.Context, event notifications.Event, payload notifications.Payload) error {
	select {
	case <-time.After(n.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	_ = n.recordingNotifier.Publish(ctx, event, payload)
	return errors.New("ntfy unreachable")
}

// flakyStore fails the first failures saves and records every snapshot it accepts.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	saved    []queue.Snapshot
}

func (s *flakyStore) Load(context.Context) (queue.Snapshot, error) {
	return queue.Snapshot{}, nil
}

func (s *flakyStore) Save(_ context.Context, snapshot queue.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: disk full", queue.ErrPersistence)
	}
	s.saved = append(s.saved, snapshot.Clone())
	return nil
}

func (s *flakyStore) Close() error { return nil }

func (s *flakyStore) Saved() []queue.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.Snapshot(nil), s.saved...)
}

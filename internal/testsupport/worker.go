package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"imaginer/internal/workflow"
)

// Worker is an in-memory workflow.Worker that records every call in order.
type Worker struct {
	// SubmitFunc replaces the default behaviour of writing a tiny PNG stub.
	SubmitFunc func(ctx context.Context, req workflow.Request) (workflow.Result, error)
	// ReclaimErr is returned from every Reclaim call when set.
	ReclaimErr error

	mu          sync.Mutex
	events      []string
	requests    []workflow.Request
	reclaimsAt  []time.Time
	inFlight    int
	maxInFlight int
	interrupts  int
}

// Submit records the request and runs SubmitFunc or the default writer.
func (w *Worker) Submit(ctx context.Context, req workflow.Request) (workflow.Result, error) {
	w.mu.Lock()
	w.events = append(w.events, "submit:"+req.JobID)
	w.requests = append(w.requests, req)
	w.inFlight++
	if w.inFlight > w.maxInFlight {
		w.maxInFlight = w.inFlight
	}
	submit := w.SubmitFunc
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.inFlight--
		w.mu.Unlock()
	}()

	if submit != nil {
		return submit(ctx, req)
	}
	data := []byte("\x89PNG\r\n\x1a\n")
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return workflow.Result{}, err
	}
	if err := os.WriteFile(req.OutputPath, data, 0o644); err != nil {
		return workflow.Result{}, err
	}
	return workflow.Result{RelativePath: req.RelativePath, Bytes: int64(len(data))}, nil
}

// Reclaim records the call time.
func (w *Worker) Reclaim(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, "reclaim")
	w.reclaimsAt = append(w.reclaimsAt, time.Now())
	return w.ReclaimErr
}

// Interrupt counts the call.
func (w *Worker) Interrupt(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, "interrupt")
	w.interrupts++
	return nil
}

// Events returns the ordered call log ("submit:<id>", "reclaim", "interrupt").
func (w *Worker) Events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}

// Requests returns every submitted request in order.
func (w *Worker) Requests() []workflow.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]workflow.Request(nil), w.requests...)
}

// ReclaimTimes returns when each Reclaim call happened.
func (w *Worker) ReclaimTimes() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Time(nil), w.reclaimsAt...)
}

// MaxInFlight reports the highest number of concurrent Submit calls observed.
func (w *Worker) MaxInFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxInFlight
}

// Interrupts reports how many Interrupt calls were made.
func (w *Worker) Interrupts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interrupts
}

// WaitFor polls cond until it returns true or the timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

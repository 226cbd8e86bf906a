package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"imaginer/internal/logging"
	"imaginer/internal/notifications"
	"imaginer/internal/queue"
	"imaginer/internal/testsupport"
	"imaginer/internal/workflow"
)

func TestDispatchesInArrivalOrder(t *testing.T) {
	h := newHarness(t, nil)
	ids := []string{h.enqueue(t, "a"), h.enqueue(t, "b"), h.enqueue(t, "c")}
	h.start(t)

	snap := h.waitCompleted(t, 3)

	if got := submittedIDs(h.worker); fmt.Sprint(got) != fmt.Sprint(ids) {
		t.Fatalf("dispatch order %v, want %v", got, ids)
	}
	// History is newest-first.
	if snap.Completed[0].ID != ids[2] || snap.Completed[2].ID != ids[0] {
		t.Fatalf("unexpected history order: %s..%s", snap.Completed[0].ID, snap.Completed[2].ID)
	}
	for _, job := range snap.Completed {
		if job.Status != queue.StatusCompleted || job.CompletedAt == nil || job.ResultRef == "" {
			t.Fatalf("unexpected finished job: %+v", job)
		}
		if job.Params.Seed == nil {
			t.Fatalf("seed not recorded on %s", job.ID)
		}
	}
}

func TestOnlyOneJobGeneratesAtATime(t *testing.T) {
	var h *harness
	violations := make(chan string, 16)
	worker := &testsupport.Worker{}
	worker.SubmitFunc = func(ctx context.Context, req workflow.Request) (workflow.Result, error) {
		snap := h.mgr.List()
		generating := 0
		if snap.Active != nil && snap.Active.Status == queue.StatusGenerating {
			generating++
		}
		for _, job := range append(snap.Pending, snap.Completed...) {
			if job.Status == queue.StatusGenerating {
				generating++
			}
		}
		if generating != 1 || snap.Active == nil || snap.Active.ID != req.JobID {
			violations <- fmt.Sprintf("job %s saw %d generating", req.JobID, generating)
		}
		time.Sleep(5 * time.Millisecond)
		return workflow.Result{RelativePath: req.RelativePath}, nil
	}
	h = newHarness(t, worker)
	for i := 0; i < 5; i++ {
		h.enqueue(t, fmt.Sprintf("p%d", i))
	}
	h.start(t)
	h.waitCompleted(t, 5)

	close(violations)
	for v := range violations {
		t.Fatal(v)
	}
	if worker.MaxInFlight() != 1 {
		t.Fatalf("expected single-flight, saw %d concurrent submits", worker.MaxInFlight())
	}
}

func TestCancelPendingAndRejectActive(t *testing.T) {
	release := make(chan struct{})
	worker := &testsupport.Worker{}
	worker.SubmitFunc = func(ctx context.Context, req workflow.Request) (workflow.Result, error) {
		<-release
		return workflow.Result{RelativePath: req.RelativePath}, nil
	}
	h := newHarness(t, worker)
	a := h.enqueue(t, "a")
	b := h.enqueue(t, "b")

	if err := h.mgr.Cancel(context.Background(), b); err != nil {
		t.Fatalf("Cancel pending: %v", err)
	}
	h.start(t)
	testsupport.WaitFor(t, waitTimeout, "a to become active", func() bool {
		active := h.mgr.List().Active
		return active != nil && active.ID == a
	})

	if err := h.mgr.Cancel(context.Background(), a); !errors.Is(err, queue.ErrRejectedActive) {
		t.Fatalf("expected ErrRejectedActive, got %v", err)
	}
	if err := h.mgr.Cancel(context.Background(), "does-not-exist"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	close(release)
	h.waitCompleted(t, 1)

	if err := h.mgr.Cancel(context.Background(), a); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("cancelling a finished job should be not found, got %v", err)
	}
	if got := submittedIDs(h.worker); len(got) != 1 || got[0] != a {
		t.Fatalf("expected only %s dispatched, got %v", a, got)
	}
}

func TestClearPendingLeavesActiveAndHistory(t *testing.T) {
	release := make(chan struct{})
	worker := &testsupport.Worker{}
	worker.SubmitFunc = func(ctx context.Context, req workflow.Request) (workflow.Result, error) {
		<-release
		return workflow.Result{RelativePath: req.RelativePath}, nil
	}
	h := newHarness(t, worker)
	first := h.enqueue(t, "first")
	h.start(t)
	testsupport.WaitFor(t, waitTimeout, "first active", func() bool { return h.mgr.List().Active != nil })
	h.enqueue(t, "second")
	h.enqueue(t, "third")

	if removed := h.mgr.ClearPending(context.Background()); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	snap := h.mgr.List()
	if snap.Active == nil || snap.Active.ID != first || len(snap.Pending) != 0 {
		t.Fatalf("unexpected snapshot after clear: %+v", snap)
	}
	close(release)
	h.waitCompleted(t, 1)
}

func TestHistoryKeepsMostRecentFifty(t *testing.T) {
	h := newHarness(t, nil)
	var first string
	for i := 0; i < 51; i++ {
		id := h.enqueue(t, fmt.Sprintf("job %d", i))
		if i == 0 {
			first = id
		}
	}
	h.start(t)
	testsupport.WaitFor(t, waitTimeout, "all 51 submitted", func() bool {
		snap := h.mgr.List()
		return len(h.worker.Requests()) == 51 && snap.Active == nil && len(snap.Pending) == 0
	})

	snap := h.mgr.List()
	if len(snap.Completed) != 50 {
		t.Fatalf("expected 50 retained, got %d", len(snap.Completed))
	}
	for _, job := range snap.Completed {
		if job.ID == first {
			t.Fatal("earliest completed job should have been evicted")
		}
	}
}

func TestIdleReclaimFiresOnceAfterDelay(t *testing.T) {
	const delay = 300 * time.Millisecond
	const poll = 10 * time.Millisecond
	h := newHarness(t, nil, workflow.WithIdleDelay(delay), workflow.WithPollInterval(poll))
	h.enqueue(t, "warmup")
	h.start(t)

	snap := h.waitCompleted(t, 1)
	completedAt := *snap.Completed[0].CompletedAt

	testsupport.WaitFor(t, waitTimeout, "idle reclaim", func() bool { return len(h.worker.ReclaimTimes()) >= 1 })
	firedAfter := h.worker.ReclaimTimes()[0].Sub(completedAt)
	if firedAfter < delay || firedAfter > delay+poll+150*time.Millisecond {
		t.Fatalf("reclaim fired %s after completion, want within [%s, %s]", firedAfter, delay, delay+poll+150*time.Millisecond)
	}

	time.Sleep(2 * delay)
	if n := len(h.worker.ReclaimTimes()); n != 1 {
		t.Fatalf("expected exactly one idle reclaim while suppressed, got %d", n)
	}
	status := h.mgr.Status()
	if !status.Suppressed || !status.ModelsUnloaded || status.TimerActive {
		t.Fatalf("unexpected status after reclaim: %+v", status)
	}

	h.enqueue(t, "next")
	h.waitCompleted(t, 2)
	testsupport.WaitFor(t, waitTimeout, "second idle reclaim", func() bool { return len(h.worker.ReclaimTimes()) == 2 })
}

func TestModeSwitchReclaimsBeforeSubmit(t *testing.T) {
	h := newHarness(t, nil)
	plain := h.enqueueParams(t, params("plain"))
	withRef := params("with reference")
	withRef.UseReferenceImage = true
	withRef.ReferenceImage = "/tmp/ref.png"
	ref := h.enqueueParams(t, withRef)
	same := params("again")
	same.UseReferenceImage = true
	same.ReferenceImage = "/tmp/ref.png"
	h.enqueueParams(t, same)
	h.start(t)
	h.waitCompleted(t, 3)

	events := h.worker.Events()
	want := []string{"submit:" + plain, "reclaim", "submit:" + ref}
	if len(events) < 4 || fmt.Sprint(events[:3]) != fmt.Sprint(want) {
		t.Fatalf("unexpected call order %v", events)
	}
	reclaims := 0
	for _, event := range events {
		if event == "reclaim" {
			reclaims++
		}
	}
	if reclaims != 1 {
		t.Fatalf("expected exactly one mode-switch reclaim, got %d (%v)", reclaims, events)
	}
	if h.mgr.Status().LastReclaim.Reason != workflow.ReclaimModeSwitch {
		t.Fatalf("unexpected reclaim reason: %+v", h.mgr.Status().LastReclaim)
	}
}

func TestModeSwitchReclaimFailureIsNotFatal(t *testing.T) {
	worker := &testsupport.Worker{ReclaimErr: errors.New("comfyui offline")}
	h := newHarness(t, worker)
	h.enqueueParams(t, params("plain"))
	withRef := params("ref")
	withRef.UseReferenceImage = true
	withRef.ReferenceImage = "/tmp/ref.png"
	h.enqueueParams(t, withRef)
	h.start(t)

	snap := h.waitCompleted(t, 2)
	for _, job := range snap.Completed {
		if job.Status != queue.StatusCompleted {
			t.Fatalf("reclaim failure should not fail the job: %+v", job)
		}
	}
}

func TestRestartRestoresPendingButNotActive(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	worker := &testsupport.Worker{}
	worker.SubmitFunc = func(ctx context.Context, req workflow.Request) (workflow.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return workflow.Result{}, ctx.Err()
		}
		return workflow.Result{RelativePath: req.RelativePath}, nil
	}
	h := newHarness(t, worker)
	active := h.enqueue(t, "in flight")
	var pending []queue.Params
	var pendingIDs []string
	for i := 0; i < 3; i++ {
		p := params(fmt.Sprintf("pending %d", i))
		seed := uint32(i + 10)
		p.Seed = &seed
		p.Toggles = map[string]bool{"upscale": i%2 == 0}
		pending = append(pending, p)
		pendingIDs = append(pendingIDs, h.enqueueParams(t, p))
	}
	h.start(t)
	testsupport.WaitFor(t, waitTimeout, "first job active", func() bool {
		a := h.mgr.List().Active
		return a != nil && a.ID == active
	})

	reopened := testsupport.MustOpenStore(t, h.cfg)
	restarted := workflow.NewManager(h.cfg, reopened, &testsupport.Worker{}, logging.NewNop(),
		workflow.WithMemoryProbe(stubProbe), workflow.WithIdleDelay(0))
	if err := restarted.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	snap := restarted.List()
	if snap.Active != nil {
		t.Fatalf("active job must not be restored: %+v", snap.Active)
	}
	if len(snap.Pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(snap.Pending))
	}
	for idx, job := range snap.Pending {
		if job.ID != pendingIDs[idx] {
			t.Fatalf("pending[%d] id %s, want %s", idx, job.ID, pendingIDs[idx])
		}
		if job.Params.Prompt != pending[idx].Prompt || *job.Params.Seed != *pending[idx].Seed ||
			job.Params.Toggles["upscale"] != pending[idx].Toggles["upscale"] {
			t.Fatalf("pending[%d] params changed: %+v", idx, job.Params)
		}
		if job.ID == active {
			t.Fatal("previously active job was re-queued")
		}
	}
}

func TestWorkerPanicAndErrorAreRecordedAsFailures(t *testing.T) {
	calls := 0
	worker := &testsupport.Worker{}
	worker.SubmitFunc = func(ctx context.Context, req workflow.Request) (workflow.Result, error) {
		calls++
		switch calls {
		case 1:
			panic("decoder exploded")
		case 2:
			return workflow.Result{}, errors.New("history timeout")
		}
		return workflow.Result{RelativePath: req.RelativePath}, nil
	}
	h := newHarness(t, worker)
	panicked := h.enqueue(t, "panics")
	errored := h.enqueue(t, "errors")
	ok := h.enqueue(t, "succeeds")
	h.start(t)

	snap := h.waitCompleted(t, 3)
	byID := map[string]*queue.Job{}
	for _, job := range snap.Completed {
		byID[job.ID] = job
	}
	if job := byID[panicked]; job.Status != queue.StatusFailed || !strings.Contains(job.Error, "decoder exploded") || job.FailedAt == nil {
		t.Fatalf("panicking job not recorded as failed: %+v", job)
	}
	if job := byID[errored]; job.Status != queue.StatusFailed || job.Error != "history timeout" || job.ResultRef != "" {
		t.Fatalf("erroring job not recorded as failed: %+v", job)
	}
	if job := byID[ok]; job.Status != queue.StatusCompleted {
		t.Fatalf("dispatcher did not continue after failures: %+v", job)
	}
	if status := h.mgr.Status(); status.Active != nil || !strings.Contains(status.LastError, "history timeout") {
		t.Fatalf("unexpected status: %+v", status)
	}
	testsupport.WaitFor(t, waitTimeout, "two failure notifications", func() bool {
		return countEvents(h.notifier.Events(), notifications.EventJobFailed) == 2
	})
}

func TestManualReclaimSuppressesIdleTimer(t *testing.T) {
	h := newHarness(t, nil, workflow.WithIdleDelay(100*time.Millisecond))
	h.start(t)

	if err := h.mgr.RequestReclaimNow(context.Background()); err != nil {
		t.Fatalf("RequestReclaimNow: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := len(h.worker.ReclaimTimes()); n != 1 {
		t.Fatalf("expected only the manual reclaim, got %d", n)
	}
	status := h.mgr.Status()
	if !status.Suppressed || status.TimerActive || !status.ModelsUnloaded {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.LastReclaim == nil || status.LastReclaim.Reason != workflow.ReclaimManual {
		t.Fatalf("unexpected last reclaim: %+v", status.LastReclaim)
	}
}

func TestStatusReportsCountdown(t *testing.T) {
	h := newHarness(t, nil, workflow.WithIdleDelay(time.Minute))
	h.start(t)

	testsupport.WaitFor(t, waitTimeout, "countdown to start", func() bool { return h.mgr.Status().TimerActive })
	status := h.mgr.Status()
	if !status.QueueEmpty || !status.AutoUnloadEnabled || status.UnloadDelaySeconds != 60 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.SecondsRemaining <= 0 || status.SecondsRemaining > 60 {
		t.Fatalf("unexpected seconds remaining: %d", status.SecondsRemaining)
	}
	if !status.Running {
		t.Fatal("expected running dispatcher")
	}
}

func TestEnqueueRejectsInvalidParams(t *testing.T) {
	h := newHarness(t, nil)
	bad := params("x")
	bad.Width = 0
	if _, err := h.mgr.Enqueue(context.Background(), bad); !errors.Is(err, queue.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(h.mgr.List().Pending) != 0 {
		t.Fatal("invalid job entered the queue")
	}
}

func TestStopFailsInFlightJobWithDaemonReason(t *testing.T) {
	worker := &testsupport.Worker{}
	worker.SubmitFunc = func(ctx context.Context, req workflow.Request) (workflow.Result, error) {
		<-ctx.Done()
		return workflow.Result{}, ctx.Err()
	}
	h := newHarness(t, worker)
	id := h.enqueue(t, "long")
	h.start(t)
	testsupport.WaitFor(t, waitTimeout, "job active", func() bool { return h.mgr.List().Active != nil })

	h.mgr.Stop()

	snap := h.mgr.List()
	if snap.Active != nil || len(snap.Completed) != 1 {
		t.Fatalf("unexpected snapshot after stop: %+v", snap)
	}
	if job := snap.Completed[0]; job.ID != id || job.Error != queue.DaemonStopReason {
		t.Fatalf("unexpected stopped job: %+v", job)
	}
	persisted, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if persisted.Active != nil || len(persisted.Completed) != 1 {
		t.Fatalf("shutdown outcome not persisted: %+v", persisted)
	}
}

func TestOutputNamesAreIndexedPerSubfolder(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 2; i++ {
		p := params("cat")
		p.FilePrefix = "cat"
		p.Subfolder = "animals"
		h.enqueueParams(t, p)
	}
	h.start(t)
	h.waitCompleted(t, 2)

	for idx, req := range h.worker.Requests() {
		want := filepath.Join("animals", fmt.Sprintf("cat%04d.png", idx))
		if req.RelativePath != want {
			t.Fatalf("request %d path %q, want %q", idx, req.RelativePath, want)
		}
		if _, err := os.Stat(filepath.Join(h.cfg.Paths.OutputDir, want)); err != nil {
			t.Fatalf("expected output file: %v", err)
		}
	}
}

func TestForgetRemovesFinishedJob(t *testing.T) {
	h := newHarness(t, nil)
	id := h.enqueue(t, "x")
	h.start(t)
	h.waitCompleted(t, 1)

	if err := h.mgr.Forget(context.Background(), id); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if len(h.mgr.List().Completed) != 0 {
		t.Fatal("job still in history")
	}
	if err := h.mgr.Forget(context.Background(), id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMetricsAndDrainNotification(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := workflow.NewMetrics(reg)
	worker := &testsupport.Worker{}
	calls := 0
	worker.SubmitFunc = func(ctx context.Context, req workflow.Request) (workflow.Result, error) {
		calls++
		if calls == 2 {
			return workflow.Result{}, errors.New("oom")
		}
		return workflow.Result{RelativePath: req.RelativePath}, nil
	}
	h := newHarness(t, worker, workflow.WithMetrics(metrics))
	h.enqueue(t, "a")
	h.enqueue(t, "b")
	h.start(t)
	h.waitCompleted(t, 2)

	testsupport.WaitFor(t, waitTimeout, "drain notification", func() bool {
		for _, event := range h.notifier.Events() {
			if event == notifications.EventQueueCompleted {
				return true
			}
		}
		return false
	})
	finished := gatherSeries(t, reg, "imaginer_queue_jobs_finished_total")
	if len(finished) != 2 {
		t.Fatalf("expected completed and failed series, got %d", len(finished))
	}
	for _, metric := range finished {
		if metric.GetCounter().GetValue() != 1 {
			t.Fatalf("unexpected counter %v", metric)
		}
	}
	pending := gatherSeries(t, reg, "imaginer_queue_pending_jobs")
	if len(pending) != 1 || pending[0].GetGauge().GetValue() != 0 {
		t.Fatalf("expected empty pending gauge, got %v", pending)
	}
}

func gatherSeries(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return nil
}

func TestInterruptRequiresActiveJob(t *testing.T) {
	worker := &testsupport.Worker{}
	worker.SubmitFunc = func(ctx context.Context, req workflow.Request) (workflow.Result, error) {
		<-ctx.Done()
		return workflow.Result{}, ctx.Err()
	}
	h := newHarness(t, worker)
	if _, err := h.mgr.Interrupt(context.Background()); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound while idle, got %v", err)
	}

	id := h.enqueue(t, "long")
	h.start(t)
	testsupport.WaitFor(t, waitTimeout, "job active", func() bool { return h.mgr.List().Active != nil })

	got, err := h.mgr.Interrupt(context.Background())
	if err != nil || got != id {
		t.Fatalf("Interrupt = %q, %v; want %q", got, err, id)
	}
	if worker.Interrupts() != 1 {
		t.Fatalf("expected worker interrupt, got %d", worker.Interrupts())
	}
}

func TestSlowNotifierDoesNotStallDispatch(t *testing.T) {
	var mu sync.Mutex
	var submitted []time.Time
	worker := &testsupport.Worker{}
	worker.SubmitFunc = func(ctx context.Context, req workflow.Request) (workflow.Result, error) {
		mu.Lock()
		submitted = append(submitted, time.Now())
		first := len(submitted) == 1
		mu.Unlock()
		if first {
			return workflow.Result{}, errors.New("sampler crashed")
		}
		return workflow.Result{RelativePath: req.RelativePath}, nil
	}
	notifier := &slowNotifier{delay: 2 * time.Second}
	h := newHarness(t, worker, workflow.WithNotifier(notifier))
	h.enqueue(t, "fails")
	h.enqueue(t, "follows")
	h.start(t)
	h.waitCompleted(t, 2)

	mu.Lock()
	defer mu.Unlock()
	if len(submitted) != 2 {
		t.Fatalf("expected two submissions, got %d", len(submitted))
	}
	if gap := submitted[1].Sub(submitted[0]); gap > 500*time.Millisecond {
		t.Fatalf("second job dispatched %s after the first; notification publish blocked the dispatcher", gap)
	}
}

func TestPersistFailureIsReportedAndRetried(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := &flakyStore{failures: 1}
	mgr := workflow.NewManager(cfg, store, &testsupport.Worker{}, logging.NewNop(),
		workflow.WithNotifier(&recordingNotifier{}),
		workflow.WithMemoryProbe(stubProbe),
		workflow.WithIdleDelay(0),
	)

	first, err := mgr.Enqueue(context.Background(), params("first"))
	if err != nil || first == "" {
		t.Fatalf("Enqueue with failing store = %q, %v", first, err)
	}
	if len(store.Saved()) != 0 {
		t.Fatalf("expected no accepted saves, got %d", len(store.Saved()))
	}
	if status := mgr.Status(); !strings.Contains(status.LastError, "disk full") {
		t.Fatalf("expected persistence failure in status, got %q", status.LastError)
	}
	if pending := mgr.List().Pending; len(pending) != 1 || pending[0].ID != first {
		t.Fatalf("in-memory queue lost the job: %+v", pending)
	}

	second := mustEnqueue(t, mgr, "second")
	saved := store.Saved()
	if len(saved) != 1 {
		t.Fatalf("expected the next mutation to save, got %d saves", len(saved))
	}
	var ids []string
	for _, job := range saved[0].Pending {
		ids = append(ids, job.ID)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != second {
		t.Fatalf("saved pending = %v, want [%s %s]", ids, first, second)
	}
	if status := mgr.Status(); status.LastError != "" {
		t.Fatalf("expected recovered save to clear the error, got %q", status.LastError)
	}
}

func mustEnqueue(t *testing.T, mgr *workflow.Manager, prompt string) string {
	t.Helper()
	id, err := mgr.Enqueue(context.Background(), params(prompt))
	if err != nil {
		t.Fatalf("Enqueue %s: %v", prompt, err)
	}
	return id
}

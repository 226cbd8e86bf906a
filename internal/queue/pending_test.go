package queue_test

import (
	"fmt"
	"testing"

	"imaginer/internal/queue"
)

func TestPendingIsFIFO(t *testing.T) {
	var pending queue.Pending
	for _, id := range []string{"a", "b", "c"} {
		pending.Push(&queue.Job{ID: id})
	}
	if !pending.Remove("b") {
		t.Fatal("expected b to be removed")
	}
	pending.Push(&queue.Job{ID: "d"})

	var order []string
	for job := pending.PopOldest(); job != nil; job = pending.PopOldest() {
		order = append(order, job.ID)
	}
	if fmt.Sprint(order) != "[a c d]" {
		t.Fatalf("unexpected dispatch order %v", order)
	}
	if pending.Remove("missing") {
		t.Fatal("expected missing id to report false")
	}
}

func TestPendingSnapshotCopies(t *testing.T) {
	var pending queue.Pending
	pending.Push(&queue.Job{ID: "a", Params: queue.Params{Prompt: "orig"}})

	snap := pending.Snapshot()
	snap[0].Params.Prompt = "changed"

	if pending.Snapshot()[0].Params.Prompt != "orig" {
		t.Fatal("snapshot exposed live job")
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	history := queue.NewHistory(50)
	for i := 0; i < 51; i++ {
		history.PushFront(&queue.Job{ID: fmt.Sprintf("job-%02d", i)})
	}
	if history.Len() != 50 {
		t.Fatalf("expected 50 retained, got %d", history.Len())
	}
	if history.Contains("job-00") {
		t.Fatal("earliest job should have been evicted")
	}
	snap := history.Snapshot()
	if snap[0].ID != "job-50" || snap[49].ID != "job-01" {
		t.Fatalf("unexpected ordering: first=%s last=%s", snap[0].ID, snap[49].ID)
	}
}

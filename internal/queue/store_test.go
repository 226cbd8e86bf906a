package queue_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"imaginer/internal/config"
	"imaginer/internal/queue"
	"imaginer/internal/testsupport"
)

func sampleSnapshot() queue.Snapshot {
	added := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := added.Add(time.Minute)
	seed := uint32(4294967295)
	return queue.Snapshot{
		Pending: []*queue.Job{
			{ID: "p1", Status: queue.StatusQueued, AddedAt: added, Params: queue.Params{Prompt: "one", Width: 64, Height: 64, Steps: 1, FilePrefix: "x", Toggles: map[string]bool{"hires": true}}},
			{ID: "p2", Status: queue.StatusQueued, AddedAt: added.Add(time.Second), Params: queue.Params{Prompt: "two", Width: 64, Height: 64, Steps: 1, FilePrefix: "x", Seed: &seed}},
		},
		Active: &queue.Job{ID: "a1", Status: queue.StatusGenerating, AddedAt: added, StartedAt: &added, Params: queue.Params{Prompt: "active"}},
		Completed: []*queue.Job{
			{ID: "c2", Status: queue.StatusFailed, AddedAt: added, FailedAt: &finished, Error: "boom"},
			{ID: "c1", Status: queue.StatusCompleted, AddedAt: added, CompletedAt: &finished, ResultRef: "x0000.png"},
		},
	}
}

func assertSnapshotEqual(t *testing.T, got, want queue.Snapshot) {
	t.Helper()
	if len(got.Pending) != len(want.Pending) || len(got.Completed) != len(want.Completed) {
		t.Fatalf("unexpected sizes: pending=%d completed=%d", len(got.Pending), len(got.Completed))
	}
	for idx := range want.Pending {
		g, w := got.Pending[idx], want.Pending[idx]
		if g.ID != w.ID || g.Params.Prompt != w.Params.Prompt || !g.AddedAt.Equal(w.AddedAt) {
			t.Fatalf("pending[%d] mismatch: got %+v want %+v", idx, g, w)
		}
	}
	if got.Pending[0].Params.Toggles["hires"] != true {
		t.Fatal("toggles not preserved")
	}
	if got.Pending[1].Params.Seed == nil || *got.Pending[1].Params.Seed != 4294967295 {
		t.Fatal("seed not preserved")
	}
	if got.Active == nil || got.Active.ID != "a1" {
		t.Fatalf("active not stored: %+v", got.Active)
	}
	if got.Completed[0].ID != "c2" || got.Completed[0].Error != "boom" || got.Completed[0].FailedAt == nil {
		t.Fatalf("completed[0] mismatch: %+v", got.Completed[0])
	}
	if got.Completed[1].ResultRef != "x0000.png" || got.Completed[1].CompletedAt == nil {
		t.Fatalf("completed[1] mismatch: %+v", got.Completed[1])
	}
}

func TestStoresRoundTripSnapshot(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendJSON} {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend))
			store := testsupport.MustOpenStore(t, cfg)
			ctx := context.Background()

			empty, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load on fresh store: %v", err)
			}
			if len(empty.Pending) != 0 || empty.Active != nil {
				t.Fatalf("expected empty snapshot, got %+v", empty)
			}

			want := sampleSnapshot()
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			// A second save must replace rather than append.
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save again: %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			reopened := testsupport.MustOpenStore(t, cfg)
			got, err := reopened.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertSnapshotEqual(t, got, want)

			checker, ok := reopened.(queue.HealthChecker)
			if !ok {
				t.Fatal("expected store to implement HealthChecker")
			}
			health, err := checker.CheckHealth(ctx)
			if err != nil {
				t.Fatalf("CheckHealth: %v", err)
			}
			if !health.Exists || !health.Readable || health.Jobs != 5 {
				t.Fatalf("unexpected health: %+v", health)
			}
		})
	}
}

func TestFileStoreRejectsCorruptState(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBackend(config.BackendJSON))
	store := testsupport.MustOpenStore(t, cfg)
	if err := os.WriteFile(cfg.QueueStatePath(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, queue.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestOpenSQLiteDetectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	store, err := queue.OpenSQLite(cfg.QueueStatePath())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := store.Save(context.Background(), queue.Snapshot{}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	bumpSchemaVersion(t, cfg.QueueStatePath())

	if _, err := queue.OpenSQLite(cfg.QueueStatePath()); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

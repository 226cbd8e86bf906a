package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"imaginer/internal/logging"
	"imaginer/internal/queue"
)

// Restore loads the persisted snapshot. The previously active job is dropped
// rather than resumed. Call before Start.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	snapshot, err := m.store.Load(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	m.mu.Lock()
	m.pending.Clear()
	m.history = queue.NewHistory(m.history.Limit())
	for _, job := range snapshot.Pending {
		if job == nil || job.ID == "" {
			continue
		}
		if _, dup := seen[job.ID]; dup {
			continue
		}
		seen[job.ID] = struct{}{}
		job.Status = queue.StatusQueued
		m.pending.Push(job)
	}
	// Completed is newest-first; push oldest first so the order survives.
	for idx := len(snapshot.Completed) - 1; idx >= 0; idx-- {
		job := snapshot.Completed[idx]
		if job == nil || job.ID == "" {
			continue
		}
		if _, dup := seen[job.ID]; dup {
			continue
		}
		seen[job.ID] = struct{}{}
		m.history.PushFront(job)
	}
	pendingCount := m.pending.Len()
	completedCount := m.history.Len()
	m.mu.Unlock()

	if snapshot.Active != nil {
		logging.WarnWithContext(m.logger, "discarding job that was generating at shutdown", "active_discarded",
			logging.String(logging.FieldJobID, snapshot.Active.ID),
			logging.String(logging.FieldImpact, "the interrupted prompt is not re-queued"),
			logging.String(logging.FieldErrorHint, "re-submit the prompt if the image is still needed"),
		)
		m.persist(ctx)
	}
	m.metrics.setDepth(pendingCount, false)
	m.logger.Info("queue restored",
		logging.Int("pending", pendingCount),
		logging.Int("completed", completedCount),
	)
	return nil
}

// Enqueue validates params and appends a new job at the tail of the queue.
func (m *Manager) Enqueue(ctx context.Context, params queue.Params) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	job := &queue.Job{
		ID:      uuid.NewString(),
		Status:  queue.StatusQueued,
		Params:  params.Clone(),
		AddedAt: m.now(),
	}

	m.mu.Lock()
	m.pending.Push(job)
	m.idle.rearm()
	position := m.pending.Len()
	m.mu.Unlock()

	m.persist(ctx)
	m.signal()
	logging.WithContext(ctx, m.logger).Info("job queued",
		logging.String(logging.FieldEventType, "job_queued"),
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("position", position),
	)
	return job.ID, nil
}

// List returns copies of the pending queue, the active job, and the history.
func (m *Manager) List() queue.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Cancel removes a pending job. It returns queue.ErrRejectedActive for the
// in-flight job and queue.ErrNotFound for unknown or finished ids.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.active != nil && m.active.ID == id {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", queue.ErrRejectedActive, id)
	}
	removed := m.pending.Remove(id)
	m.mu.Unlock()

	if !removed {
		return fmt.Errorf("%w: %s", queue.ErrNotFound, id)
	}
	m.persist(ctx)
	m.signal()
	logging.WithContext(ctx, m.logger).Info("job cancelled", logging.String(logging.FieldJobID, id))
	return nil
}

// ClearPending drops every pending job and returns how many were removed.
// The active job and history are untouched.
func (m *Manager) ClearPending(ctx context.Context) int {
	m.mu.Lock()
	count := m.pending.Clear()
	m.mu.Unlock()

	if count > 0 {
		m.persist(ctx)
		m.signal()
	}
	logging.WithContext(ctx, m.logger).Info("pending queue cleared", logging.Int("removed", count))
	return count
}

// Forget removes a finished job from history.
func (m *Manager) Forget(ctx context.Context, id string) error {
	m.mu.Lock()
	removed := m.history.Remove(id)
	m.mu.Unlock()

	if !removed {
		return fmt.Errorf("%w: %s", queue.ErrNotFound, id)
	}
	m.persist(ctx)
	return nil
}

package workflow

import (
	"context"
	"fmt"
	"time"

	"imaginer/internal/hostmem"
	"imaginer/internal/logging"
	"imaginer/internal/notifications"
	"imaginer/internal/queue"
)

// ReclaimReason records what triggered a resource reclamation.
type ReclaimReason string

const (
	ReclaimIdle       ReclaimReason = "idle"
	ReclaimModeSwitch ReclaimReason = "mode_switch"
	ReclaimManual     ReclaimReason = "manual"
)

// ReclaimRecord describes the most recent reclamation call.
type ReclaimRecord struct {
	Reason ReclaimReason  `json:"reason"`
	At     time.Time      `json:"at"`
	Error  string         `json:"error,omitempty"`
	Before hostmem.Sample `json:"before"`
	After  hostmem.Sample `json:"after"`
}

// RequestReclaimNow releases worker resources immediately and suppresses idle
// reclamation until the next job arrives.
func (m *Manager) RequestReclaimNow(ctx context.Context) error {
	m.mu.Lock()
	m.idle.suppress()
	m.mu.Unlock()
	return m.reclaim(ctx, ReclaimManual)
}

// Interrupt asks the worker to abort the in-flight generation and returns the
// interrupted job id. The aborted job is recorded as failed by the dispatcher
// like any other worker error. It returns queue.ErrNotFound when idle.
func (m *Manager) Interrupt(ctx context.Context) (string, error) {
	m.mu.Lock()
	var activeID string
	if m.active != nil {
		activeID = m.active.ID
	}
	m.mu.Unlock()
	if activeID == "" {
		return "", fmt.Errorf("%w: no active job", queue.ErrNotFound)
	}

	if err := m.worker.Interrupt(ctx); err != nil {
		logging.WarnWithContext(m.logger, "interrupt request failed", "interrupt_failed",
			logging.Error(err),
			logging.String(logging.FieldJobID, activeID),
			logging.String(logging.FieldImpact, "active generation keeps running"),
		)
		return activeID, err
	}
	m.logger.Info("interrupt requested", logging.String(logging.FieldJobID, activeID))
	return activeID, nil
}

// reclaim calls the worker outside the manager lock. Failures are logged and
// returned but never stop the dispatcher.
func (m *Manager) reclaim(ctx context.Context, reason ReclaimReason) error {
	before := m.memProbe(ctx)
	err := m.worker.Reclaim(ctx)
	after := m.memProbe(ctx)

	record := &ReclaimRecord{Reason: reason, At: m.now(), Before: before, After: after}
	if err != nil {
		record.Error = err.Error()
	}
	m.mu.Lock()
	m.lastReclaim = record
	if err == nil && reason != ReclaimModeSwitch {
		m.unloaded = true
	}
	m.mu.Unlock()
	m.metrics.observeReclaim(reason, err)

	if err != nil {
		logging.WarnWithContext(m.logger, "resource reclamation failed", "reclaim_failed",
			logging.String(logging.FieldReason, string(reason)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify the ComfyUI server is reachable"),
			logging.String(logging.FieldImpact, "models stay loaded in GPU memory"),
		)
		return err
	}
	m.logger.Info("resources reclaimed",
		logging.String(logging.FieldEventType, "reclaim"),
		logging.String(logging.FieldReason, string(reason)),
		logging.Uint64("host_available_before", before.AvailableBytes),
		logging.Uint64("host_available_after", after.AvailableBytes),
	)
	if reason != ReclaimModeSwitch {
		m.publish(notification{
			event:   notifications.EventResourcesReclaimed,
			payload: notifications.Payload{"reason": string(reason)},
		})
	}
	return nil
}

package workflow

import (
	"math"

	"imaginer/internal/queue"
)

// StatusSummary is the dispatcher and idle timer state read under one lock.
type StatusSummary struct {
	Running            bool
	QueueEmpty         bool
	TimerActive        bool
	SecondsRemaining   int
	Suppressed         bool
	AutoUnloadEnabled  bool
	UnloadDelaySeconds int
	ModelsUnloaded     bool
	PendingCount       int
	CompletedCount     int
	Active             *queue.Job
	LastError          string
	LastReclaim        *ReclaimRecord
}

// Status returns the latest dispatcher information.
func (m *Manager) Status() StatusSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining, timerActive := m.idle.remaining(m.now())
	summary := StatusSummary{
		Running:            m.running,
		QueueEmpty:         m.pending.Len() == 0 && m.active == nil,
		TimerActive:        timerActive,
		SecondsRemaining:   int(math.Ceil(remaining.Seconds())),
		Suppressed:         m.idle.suppressed,
		AutoUnloadEnabled:  m.idle.delay > 0,
		UnloadDelaySeconds: int(m.idle.delay.Seconds()),
		ModelsUnloaded:     m.unloaded,
		PendingCount:       m.pending.Len(),
		CompletedCount:     m.history.Len(),
		Active:             m.active.Clone(),
	}
	// An unsaved queue outranks the last job failure until a save succeeds.
	switch {
	case m.persistErr != nil:
		summary.LastError = m.persistErr.Error()
	case m.lastErr != nil:
		summary.LastError = m.lastErr.Error()
	}
	if m.lastReclaim != nil {
		record := *m.lastReclaim
		summary.LastReclaim = &record
	}
	return summary
}

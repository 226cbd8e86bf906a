package workflow

import (
	"context"
	"errors"
	"time"

	"imaginer/internal/logging"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	if m.worker == nil {
		m.mu.Unlock()
		return errors.New("dispatcher worker not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(2)
	m.mu.Unlock()

	go m.loop(runCtx)
	go m.sendLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for the in-flight job to
// be finalized.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	m.logger.Info("dispatcher started",
		logging.Duration("poll_interval", m.pollInterval),
		logging.Duration("idle_unload_delay", m.idle.delay),
	)
	for {
		if ctx.Err() != nil {
			m.logger.Info("dispatcher stopped")
			return
		}

		job, modeSwitch := m.claimNext(ctx)
		if job != nil {
			m.dispatch(ctx, job, modeSwitch)
			continue
		}

		if m.observeIdle() {
			_ = m.reclaim(ctx, ReclaimIdle)
		}
		m.waitForWork(ctx)
	}
}

// observeIdle advances the idle timer while nothing is pending or active.
func (m *Manager) observeIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending.Len() > 0 || m.active != nil {
		return false
	}
	return m.idle.observe(m.now())
}

func (m *Manager) waitForWork(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-time.After(m.pollInterval):
	}
}

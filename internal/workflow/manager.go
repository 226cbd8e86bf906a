package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"imaginer/internal/config"
	"imaginer/internal/hostmem"
	"imaginer/internal/logging"
	"imaginer/internal/notifications"
	"imaginer/internal/queue"
)

// Manager owns the generation queue and its single dispatcher loop.
type Manager struct {
	outputDir    string
	store        queue.Store
	worker       Worker
	logger       *slog.Logger
	notifier     notifications.Service
	metrics      *Metrics
	memProbe     hostmem.Probe
	now          func() time.Time
	pollInterval time.Duration

	mu          sync.Mutex
	pending     queue.Pending
	active      *queue.Job
	history     *queue.History
	idle        idleTimer
	hasPrev     bool
	prevRefMode bool
	unloaded    bool
	running     bool
	cancel      context.CancelFunc
	lastErr     error
	persistErr  error
	lastReclaim *ReclaimRecord
	run         queueRun

	// persistMu orders snapshot+save pairs so an older snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex
	wake      chan struct{}
	outbox    chan notification
	wg        sync.WaitGroup
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier overrides the notification service built from config.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithMetrics records dispatcher metrics.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock replaces time.Now for timestamps and the idle countdown.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIdleDelay overrides queue.idle_unload_seconds. Zero disables idle reclaim.
func WithIdleDelay(delay time.Duration) ManagerOption {
	return func(m *Manager) {
		m.idle.delay = delay
	}
}

// WithPollInterval overrides queue.poll_interval_ms.
func WithPollInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithMemoryProbe replaces the host memory sampler used around reclamation.
func WithMemoryProbe(probe hostmem.Probe) ManagerOption {
	return func(m *Manager) {
		if probe != nil {
			m.memProbe = probe
		}
	}
}

// NewManager constructs a dispatcher. Call Restore before Start to reload
// persisted state.
func NewManager(cfg *config.Config, store queue.Store, worker Worker, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		outputDir:    cfg.Paths.OutputDir,
		store:        store,
		worker:       worker,
		logger:       logging.NewComponentLogger(logger, "dispatcher"),
		notifier:     notifications.NewService(cfg),
		memProbe:     hostmem.Read,
		now:          time.Now,
		pollInterval: cfg.PollInterval(),
		history:      queue.NewHistory(cfg.Queue.HistoryLimit),
		idle:         idleTimer{delay: cfg.IdleUnloadDelay()},
		wake:         make(chan struct{}, 1),
		outbox:       make(chan notification, outboxSize),
	}
	if m.pollInterval <= 0 {
		m.pollInterval = 500 * time.Millisecond
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// signal wakes the dispatcher without blocking.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) snapshotLocked() queue.Snapshot {
	return queue.Snapshot{
		Pending:   m.pending.Snapshot(),
		Active:    m.active.Clone(),
		Completed: m.history.Snapshot(),
	}
}

// persist saves the current snapshot. Failures are logged and retried
// implicitly by the next mutation.
func (m *Manager) persist(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	snapshot := m.snapshotLocked()
	pendingCount := m.pending.Len()
	hasActive := m.active != nil
	m.mu.Unlock()

	m.metrics.setDepth(pendingCount, hasActive)
	if m.store == nil {
		return
	}
	err := m.store.Save(ctx, snapshot)
	m.mu.Lock()
	m.persistErr = err
	m.mu.Unlock()
	if err != nil {
		m.metrics.observePersistFailure()
		logging.WarnWithContext(m.logger, "queue snapshot not saved", "persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions in paths.state_dir"),
			logging.String(logging.FieldImpact, "queue changes since the last save are lost if the daemon crashes"),
		)
	}
}

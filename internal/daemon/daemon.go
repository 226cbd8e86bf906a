package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"imaginer/internal/api"
	"imaginer/internal/config"
	"imaginer/internal/fileutil"
	"imaginer/internal/hostmem"
	"imaginer/internal/logging"
	"imaginer/internal/notifications"
	"imaginer/internal/queue"
	"imaginer/internal/workflow"
)

// Daemon coordinates the dispatcher and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    queue.Store
	workflow *workflow.Manager
	notifier notifications.Service
	gatherer prometheus.Gatherer
	memProbe hostmem.Probe
	defaults queue.Defaults
	logPath  string

	lockPath string
	lock     *flock.Flock
	http     *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(d *Daemon) {
		if gatherer != nil {
			d.gatherer = gatherer
		}
	}
}

// WithNotifier overrides the notification service used by TestNotification.
func WithNotifier(notifier notifications.Service) Option {
	return func(d *Daemon) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// WithMemoryProbe replaces the host memory sampler used by Status.
func WithMemoryProbe(probe hostmem.Probe) Option {
	return func(d *Daemon) {
		if probe != nil {
			d.memProbe = probe
		}
	}
}

// WithLogPath records the daemon log file served by LogPath.
func WithLogPath(path string) Option {
	return func(d *Daemon) {
		d.logPath = path
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		notifier: notifications.NewService(cfg),
		gatherer: prometheus.DefaultGatherer,
		memProbe: hostmem.Read,
		defaults: queue.DefaultsFrom(cfg),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.http = newAPIServer(cfg.Paths.MetricsBind, cfg.Paths.CORSOrigins, d, logger)
	return d, nil
}

// Start acquires the daemon lock, starts the dispatcher, and opens the
// metrics listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another imaginer daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := d.http.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("imaginer daemon started",
		logging.String("lock", d.lockPath),
		logging.String("comfyui", d.cfg.ComfyUI.Address),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock. The
// in-flight job, if any, is recorded as failed before Stop returns.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.http.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next start may report another instance"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("imaginer daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// MetricsAddr returns the bound metrics listener address, if any.
func (d *Daemon) MetricsAddr() string {
	return d.http.addr()
}

// Enqueue applies the configured defaults and adds the job to the queue.
func (d *Daemon) Enqueue(ctx context.Context, req api.JobRequest) (string, error) {
	return d.workflow.Enqueue(ctx, req.Params(d.defaults))
}

// ListQueue returns copies of the pending queue, active job, and history.
func (d *Daemon) ListQueue() api.QueueSnapshot {
	return api.FromSnapshot(d.workflow.List())
}

// Cancel removes a pending job and reports the outcome.
func (d *Daemon) Cancel(ctx context.Context, id string) (api.CancelOutcome, error) {
	id = strings.TrimSpace(id)
	err := d.workflow.Cancel(ctx, id)
	switch {
	case err == nil:
		return api.CancelRemoved, nil
	case errors.Is(err, queue.ErrRejectedActive):
		return api.CancelRejectedActive, nil
	case errors.Is(err, queue.ErrNotFound):
		return api.CancelNotFound, nil
	default:
		return "", err
	}
}

// ClearPending drops every pending job.
func (d *Daemon) ClearPending(ctx context.Context) int {
	return d.workflow.ClearPending(ctx)
}

// Forget removes a finished job from history. It reports false for unknown ids.
func (d *Daemon) Forget(ctx context.Context, id string) (bool, error) {
	err := d.workflow.Forget(ctx, strings.TrimSpace(id))
	if errors.Is(err, queue.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Reclaim releases backend resources now and suppresses idle reclaim until
// the next job arrives.
func (d *Daemon) Reclaim(ctx context.Context) error {
	return d.workflow.RequestReclaimNow(ctx)
}

// Interrupt aborts the active generation. It reports an empty id when idle.
func (d *Daemon) Interrupt(ctx context.Context) (string, error) {
	id, err := d.workflow.Interrupt(ctx)
	if errors.Is(err, queue.ErrNotFound) {
		return "", nil
	}
	return id, err
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the aggregated daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		LockFilePath:   d.lockPath,
		OutputDir:      d.cfg.Paths.OutputDir,
		ComfyUIAddress: d.cfg.ComfyUI.Address,
		HostMemory:     api.FromMemory(d.memProbe(ctx)),
		Workflow:       api.FromStatusSummary(d.workflow.Status()),
	}
	if free, err := fileutil.FreeBytes(d.cfg.Paths.OutputDir); err == nil {
		status.OutputFreeBytes = free
	}
	status.Store = d.storeHealth(ctx)
	return status
}

func (d *Daemon) storeHealth(ctx context.Context) api.StoreHealth {
	checker, ok := d.store.(queue.HealthChecker)
	if !ok {
		return api.StoreHealth{Backend: d.cfg.Queue.Backend, Path: d.cfg.QueueStatePath()}
	}
	health, err := checker.CheckHealth(ctx)
	if err != nil && health.Error == "" {
		health.Error = err.Error()
	}
	return api.FromHealth(health)
}

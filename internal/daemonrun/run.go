package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"imaginer/internal/comfyui"
	"imaginer/internal/config"
	"imaginer/internal/daemon"
	"imaginer/internal/ipc"
	"imaginer/internal/logging"
	"imaginer/internal/notifications"
	"imaginer/internal/queue"
	"imaginer/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the imaginer daemon and blocks until a signal or the Stop RPC.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open queue store", "queue_open_failed",
			logging.Error(err),
			logging.String("path", cfg.QueueStatePath()),
			logging.String(logging.FieldErrorHint, "move the queue state aside to start with an empty queue"),
		)
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	worker := comfyui.NewClient(comfyui.ConfigFrom(cfg))
	logBackendSnapshot(signalCtx, logger, cfg, worker)

	notifier := notifications.NewService(cfg)
	manager := workflow.NewManager(cfg, store, worker, logger,
		workflow.WithNotifier(notifier),
		workflow.WithMetrics(workflow.NewMetrics(registry)),
	)
	if err := manager.Restore(signalCtx); err != nil {
		if errors.Is(err, queue.ErrSchemaMismatch) {
			_ = store.Close()
			return fmt.Errorf("restore queue: %w", err)
		}
		logging.WarnWithContext(logger, "queue restore failed; starting empty", "queue_restore_failed",
			logging.Error(err),
			logging.String("path", cfg.QueueStatePath()),
			logging.String(logging.FieldImpact, "previously pending jobs are not re-queued"),
			logging.String(logging.FieldErrorHint, "inspect or remove "+cfg.QueueStatePath()),
		)
	}

	d, err := daemon.New(cfg, store, logger, manager,
		daemon.WithGatherer(registry),
		daemon.WithNotifier(notifier),
		daemon.WithLogPath(cfg.LogPath()),
	)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger, ipc.WithShutdown(cancel))
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("imaginer daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// logBackendSnapshot records whether ComfyUI answered at startup. The daemon
// starts either way; jobs fail individually while the backend is down.
func logBackendSnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config, client *comfyui.Client) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	stats, err := client.SystemStats(probeCtx)
	attrs := []logging.Attr{
		logging.String("comfyui_url", client.BaseURL()),
		logging.String("workflow_path", cfg.ComfyUI.WorkflowPath),
		logging.Bool("reference_workflow", strings.TrimSpace(cfg.ComfyUI.ReferenceWorkflowPath) != ""),
		logging.Bool("comfyui_reachable", err == nil),
	}
	if err != nil {
		attrs = append(attrs, logging.String(logging.FieldErrorHint, "start ComfyUI or fix comfyui.address"), logging.Error(err))
		logging.WarnWithContext(logger, "backend snapshot", "backend_unreachable", attrs...)
		return
	}
	if system, ok := stats["system"].(map[string]any); ok {
		if version, ok := system["comfyui_version"].(string); ok {
			attrs = append(attrs, logging.String("comfyui_version", version))
		}
	}
	attrs = append(attrs, logging.String(logging.FieldEventType, "backend_snapshot"))
	logger.LogAttrs(ctx, slog.LevelInfo, "backend snapshot", attrs...)
}

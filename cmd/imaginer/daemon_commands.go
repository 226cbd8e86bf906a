package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"imaginer/internal/api"
	"imaginer/internal/daemonctl"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the imaginer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx, startLogLevel),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the imaginer daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			} else {
				fmt.Fprintln(stdout, "Stopping daemon...")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the imaginer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx, restartLogLevel),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show system, idle timer and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snapshot)
			}
			renderStatus(cmd.OutOrStdout(), snapshot, time.Now())
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit the status snapshot as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func renderStatus(stdout io.Writer, snapshot *daemonctl.StatusSnapshot, now time.Time) {
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("System Status", colorize) {
		fmt.Fprintln(stdout, line)
	}
	for _, line := range snapshot.SystemChecks {
		fmt.Fprintln(stdout, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
	}

	if snapshot.Daemon != nil {
		fmt.Fprintln(stdout)
		for _, line := range renderSectionHeader("Workflow", colorize) {
			fmt.Fprintln(stdout, line)
		}
		for _, line := range workflowLines(*snapshot.Daemon, now, colorize) {
			fmt.Fprintln(stdout, line)
		}
	}

	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Queue Status", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if snapshot.QueueSource == "store" {
		fmt.Fprintln(stdout, "Daemon offline; showing persisted queue")
	}
	jobs := make([]api.Job, 0, len(snapshot.Queue.Pending)+len(snapshot.Queue.Completed)+1)
	if snapshot.Queue.Active != nil {
		jobs = append(jobs, *snapshot.Queue.Active)
	}
	jobs = append(jobs, snapshot.Queue.Pending...)
	jobs = append(jobs, snapshot.Queue.Completed...)
	if len(jobs) == 0 {
		fmt.Fprintln(stdout, "Queue is empty")
		return
	}
	fmt.Fprint(stdout, renderTable(jobColumns, buildJobRows(jobs, now)))
}

func workflowLines(status api.DaemonStatus, now time.Time, colorize bool) []string {
	wf := status.Workflow
	lines := make([]string, 0, 8)

	switch {
	case wf.Active != nil:
		lines = append(lines, renderStatusLine("Dispatcher", statusOK, fmt.Sprintf("Generating %s", promptLabel(wf.Active.Params)), colorize))
	case wf.Running:
		lines = append(lines, renderStatusLine("Dispatcher", statusOK, "Idle", colorize))
	default:
		lines = append(lines, renderStatusLine("Dispatcher", statusWarn, "Stopped", colorize))
	}
	lines = append(lines, renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d pending, %d finished", wf.PendingCount, wf.CompletedCount), colorize))

	if !wf.AutoUnloadEnabled {
		lines = append(lines, renderStatusLine("Idle unload", statusInfo, "Disabled", colorize))
	} else {
		var detail string
		switch {
		case wf.TimerActive && wf.Suppressed:
			detail = fmt.Sprintf("Suppressed (%ds remaining)", wf.SecondsRemaining)
		case wf.TimerActive:
			detail = fmt.Sprintf("Unloading in %ds", wf.SecondsRemaining)
		default:
			detail = fmt.Sprintf("Armed after %ds idle", wf.UnloadDelaySeconds)
		}
		lines = append(lines, renderStatusLine("Idle unload", statusInfo, detail, colorize))
	}
	lines = append(lines, renderStatusLine("Models unloaded", statusInfo, yesNo(wf.ModelsUnloaded), colorize))

	if reclaim := wf.LastReclaim; reclaim != nil {
		kind := statusOK
		detail := fmt.Sprintf("%s %s", titleLabel(reclaim.Reason), relativeTime(reclaim.At, now))
		if reclaim.Error != "" {
			kind = statusWarn
			detail = fmt.Sprintf("%s (%s)", detail, reclaim.Error)
		} else if reclaim.Before.AvailableBytes > 0 || reclaim.After.AvailableBytes > 0 {
			detail = fmt.Sprintf("%s, available %s -> %s", detail,
				formatBytes(reclaim.Before.AvailableBytes), formatBytes(reclaim.After.AvailableBytes))
		}
		lines = append(lines, renderStatusLine("Last reclaim", kind, detail, colorize))
	}
	if strings.TrimSpace(wf.LastError) != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, wf.LastError, colorize))
	}

	mem := status.HostMemory
	if mem.TotalBytes > 0 {
		lines = append(lines, renderStatusLine("Host memory", statusInfo,
			fmt.Sprintf("%s free of %s (%.0f%% used)", formatBytes(mem.AvailableBytes), formatBytes(mem.TotalBytes), mem.UsedPercent), colorize))
	}
	if status.OutputFreeBytes > 0 {
		lines = append(lines, renderStatusLine("Output disk", statusInfo, fmt.Sprintf("%s free", formatBytes(status.OutputFreeBytes)), colorize))
	}
	return lines
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configFlagValue(),
		LogLevel:   strings.TrimSpace(logLevel),
	}
}
